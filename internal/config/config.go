// Package config loads the gateway's environment-driven configuration,
// validates the Java/JDT toolchain eagerly at startup, and builds the
// per-language command vectors the Supervisor spawns.
//
// Grounded on the original Python Config class (JAVA_HOME/JDT_HOME/
// WORKSPACE env vars, launcher-jar glob, fail-fast path validation) and
// the teacher's config_env_overrides.go (${VAR} expansion convention,
// per-language -Xmx override pattern), generalized from Java-only to the
// general per-language command-template mechanism.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GlobalConfig is the process-wide configuration, loaded once at startup.
type GlobalConfig struct {
	JavaHome     string
	JDTHome      string
	WorkspaceDir string
	PythonLSPCmd []string

	JDTConfigDir string
	JDTPlugins   string
	jdtLauncher  string

	JavaXmx string
}

// Load reads configuration from the environment, applying the same
// defaults the original Python Config used.
func Load() *GlobalConfig {
	javaHome := envOr("JAVA_HOME", "/app/lsp/java/jdk-21")
	jdtHome := envOr("JDT_HOME", "/app/lsp/java/jdt-language-server-1.36.0")
	workspace := envOr("WORKSPACE_DIR", "/app/workspace")

	cfg := &GlobalConfig{
		JavaHome:     javaHome,
		JDTHome:      jdtHome,
		WorkspaceDir: workspace,
		PythonLSPCmd: []string{"pylsp"},
		JDTConfigDir: filepath.Join(jdtHome, "config_linux"),
		JDTPlugins:   filepath.Join(jdtHome, "plugins"),
		JavaXmx:      strings.TrimSpace(os.Getenv("GATEWAY_JAVA_XMX")),
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

// Validate checks every required path exists and is readable, and
// resolves the JDT launcher jar. Fails fast, mirroring
// Config._validate_paths / _find_launcher_jar: the process should refuse
// to start rather than fail every session later with a cryptic spawn
// error.
func (c *GlobalConfig) Validate() error {
	launcher, err := c.findLauncherJar()
	if err != nil {
		return err
	}
	c.jdtLauncher = launcher

	required := []struct {
		path string
		desc string
	}{
		{filepath.Join(c.JavaHome, "bin", "java"), "Java executable"},
		{c.JDTHome, "JDT Language Server"},
		{c.JDTConfigDir, "JDT config directory"},
		{c.jdtLauncher, "JDT launcher JAR"},
	}

	for _, r := range required {
		info, err := os.Stat(r.path)
		if err != nil {
			return fmt.Errorf("%s not found at %s: %w", r.desc, r.path, err)
		}
		if info.IsDir() {
			continue
		}
		f, err := os.Open(r.path)
		if err != nil {
			return fmt.Errorf("no read access to %s (%s): %w", r.path, r.desc, err)
		}
		f.Close()
	}
	return nil
}

func (c *GlobalConfig) findLauncherJar() (string, error) {
	matches, err := filepath.Glob(filepath.Join(c.JDTPlugins, "org.eclipse.equinox.launcher_*.jar"))
	if err != nil {
		return "", fmt.Errorf("globbing JDT launcher jar: %w", err)
	}
	if len(matches) == 0 {
		return "", fmt.Errorf("no JDT launcher JAR found in %s", c.JDTPlugins)
	}
	return matches[0], nil
}

// CommandFor returns the command vector for the given language tag,
// rooted at workspaceDir. Supported tags: "java", "python".
func (c *GlobalConfig) CommandFor(language, workspaceDir string) (string, []string, error) {
	switch language {
	case "java":
		return c.javaCommand(workspaceDir)
	case "python":
		return c.PythonLSPCmd[0], expandEnvVars(c.PythonLSPCmd[1:]), nil
	default:
		return "", nil, fmt.Errorf("unsupported language %q", language)
	}
}

func (c *GlobalConfig) javaCommand(workspaceDir string) (string, []string, error) {
	if c.jdtLauncher == "" {
		launcher, err := c.findLauncherJar()
		if err != nil {
			return "", nil, err
		}
		c.jdtLauncher = launcher
	}

	args := []string{
		"-Declipse.application=org.eclipse.jdt.ls.core.id1",
		"-Dosgi.bundles.defaultStartLevel=4",
		"-Declipse.product=org.eclipse.jdt.ls.core.product",
		"-Dlog.level=ALL",
		"-Xms1G",
		"-Xmx2G",
		"-jar", c.jdtLauncher,
		"-configuration", c.JDTConfigDir,
		"-data", workspaceDir,
		"--add-modules=ALL-SYSTEM",
		"--add-opens", "java.base/java.util=ALL-UNNAMED",
		"--add-opens", "java.base/java.lang=ALL-UNNAMED",
	}
	args = setJavaXmx(args, c.JavaXmx)
	args = expandEnvVars(args)

	return filepath.Join(c.JavaHome, "bin", "java"), args, nil
}

// expandEnvVars replaces ${VAR_NAME} placeholders in args with
// environment variable values, leaving the placeholder untouched when the
// variable is unset.
func expandEnvVars(args []string) []string {
	out := make([]string, len(args))
	for i, arg := range args {
		out[i] = os.Expand(arg, func(key string) string {
			if val, ok := os.LookupEnv(key); ok {
				return val
			}
			return "${" + key + "}"
		})
	}
	return out
}

// setJavaXmx inserts or replaces a -Xmx flag before -jar, where JVM
// options must appear.
func setJavaXmx(args []string, xmx string) []string {
	xmx = strings.TrimSpace(xmx)
	if xmx == "" {
		return args
	}
	if !strings.HasPrefix(xmx, "-Xmx") {
		xmx = "-Xmx" + xmx
	}

	clean := make([]string, 0, len(args)+1)
	for _, a := range args {
		if strings.HasPrefix(a, "-Xmx") {
			continue
		}
		clean = append(clean, a)
	}

	for i, a := range clean {
		if a == "-jar" {
			out := make([]string, 0, len(clean)+1)
			out = append(out, clean[:i]...)
			out = append(out, xmx)
			out = append(out, clean[i:]...)
			return out
		}
	}
	return append([]string{xmx}, clean...)
}

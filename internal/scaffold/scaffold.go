// Package scaffold materializes the minimal project descriptor each
// language server needs to treat a session's workspace as a real project
// root rather than an empty directory it refuses to index.
//
// The Java layout (.project/.classpath + src/Main.java) follows the
// Eclipse JDT-LS project descriptor convention; the original Python
// source scaffolded a Maven pom.xml instead, but JDT-LS only requires the
// Eclipse descriptors, so this is the leaner of the two and the one named
// explicitly for this gateway. Python needs no descriptor at all — pylsp
// is happy to index a bare directory.
package scaffold

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const mainJavaTemplate = `public class Main {
    public static void main(String[] args) {
    }
}
`

const pythonMainTemplate = `def main():
    pass


if __name__ == "__main__":
    main()
`

const dotProjectTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<projectDescription>
	<name>%s</name>
	<comment></comment>
	<projects>
	</projects>
	<buildSpec>
		<buildCommand>
			<name>org.eclipse.jdt.core.javabuilder</name>
			<arguments>
			</arguments>
		</buildCommand>
	</buildSpec>
	<natures>
		<nature>org.eclipse.jdt.core.javanature</nature>
	</natures>
</projectDescription>
`

const dotClasspathTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<classpath>
	<classpathentry kind="src" path="src"/>
	<classpathentry kind="con" path="org.eclipse.jdt.launching.JRE_CONTAINER"/>
	<classpathentry kind="output" path="bin"/>
</classpath>
`

// Java materializes a minimal Eclipse-project layout under workspaceDir:
// src/Main.java, .project (named uniquely per session to avoid JDT-LS
// workspace-cache collisions across sessions sharing a data directory),
// and .classpath.
func Java(workspaceDir, sessionID string) error {
	srcDir := filepath.Join(workspaceDir, "src")
	if err := os.MkdirAll(srcDir, 0o755); err != nil {
		return fmt.Errorf("scaffold: creating src dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(srcDir, "Main.java"), []byte(mainJavaTemplate), 0o644); err != nil {
		return fmt.Errorf("scaffold: writing Main.java: %w", err)
	}

	projectName, err := uniqueProjectName(sessionID)
	if err != nil {
		return err
	}
	dotProject := fmt.Sprintf(dotProjectTemplate, projectName)
	if err := os.WriteFile(filepath.Join(workspaceDir, ".project"), []byte(dotProject), 0o644); err != nil {
		return fmt.Errorf("scaffold: writing .project: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspaceDir, ".classpath"), []byte(dotClasspathTemplate), 0o644); err != nil {
		return fmt.Errorf("scaffold: writing .classpath: %w", err)
	}
	return nil
}

// Python materializes a bare main.py; pylsp needs no project descriptor.
func Python(workspaceDir string) error {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return fmt.Errorf("scaffold: creating workspace dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(workspaceDir, "main.py"), []byte(pythonMainTemplate), 0o644); err != nil {
		return fmt.Errorf("scaffold: writing main.py: %w", err)
	}
	return nil
}

// uniqueProjectName derives an Eclipse project name from the session id
// plus a short random hex suffix, so two sessions whose ids happen to
// collide in a truncated log line never collide in JDT-LS's workspace
// project-name cache.
func uniqueProjectName(sessionID string) (string, error) {
	suffix := make([]byte, 4)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("scaffold: generating project suffix: %w", err)
	}
	return fmt.Sprintf("session-%s-%s", sessionID, hex.EncodeToString(suffix)), nil
}

// For builds the scaffold appropriate for language, returning an error
// for unsupported languages.
func For(language, workspaceDir, sessionID string) error {
	switch language {
	case "java":
		return Java(workspaceDir, sessionID)
	case "python":
		return Python(workspaceDir)
	default:
		return fmt.Errorf("scaffold: unsupported language %q", language)
	}
}

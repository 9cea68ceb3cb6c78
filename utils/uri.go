package utils

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
)

// FileURIToPath converts a file:// URI into a local OS path, decoding any
// percent-escapes. This is the one URI operation WorkspaceGuard needs:
// every client-supplied textDocument.uri arrives as a file:// URI and
// must become a path before it can be checked against the workspace root
// or passed to os.ReadFile/os.WriteFile.
func FileURIToPath(uri string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("invalid uri: %w", err)
	}
	if u.Scheme != "file" {
		return "", fmt.Errorf("not a file uri: %s", u.Scheme)
	}

	p, err := url.PathUnescape(u.Path)
	if err != nil {
		return "", fmt.Errorf("invalid uri path escape: %w", err)
	}

	// Windows drive-letter file URI: file:///C:/path -> /C:/path -> C:/path.
	// Editors on Windows hosts send these even when the gateway itself
	// runs in a Linux container, so this normalization is unconditional.
	if strings.HasPrefix(p, "/") && len(p) >= 3 && p[2] == ':' {
		p = p[1:]
	}

	return filepath.FromSlash(p), nil
}

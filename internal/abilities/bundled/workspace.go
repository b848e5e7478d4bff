package bundled

import (
	"fmt"
	"path/filepath"
	"strings"
)

// resolveUnderWorkspace confines a caller-supplied, possibly relative
// path to baseDir, the same way internal/tools/builtin's
// resolveWorkspacePath confines file_read/file_write: it rejects any
// path whose resolved absolute form isn't baseDir itself or a true
// descendant of it, guarding against a sibling directory whose name
// merely starts with baseDir's (e.g. "workspace-secrets" next to
// "workspace").
func resolveUnderWorkspace(baseDir, path string) (string, error) {
	clean := filepath.Clean(path)
	var full string
	if filepath.IsAbs(clean) {
		full = clean
	} else {
		full = filepath.Join(baseDir, clean)
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", err
	}
	absFull, err := filepath.Abs(full)
	if err != nil {
		return "", err
	}
	if absFull != absBase && !strings.HasPrefix(absFull, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes the workspace root", path)
	}
	return absFull, nil
}

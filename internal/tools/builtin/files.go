package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

const maxFileReadBytes = 512 * 1024

func resolveWorkspacePath(baseDir, path string) (string, error) {
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

// NewFileReadTool builds the file_read tool, confined to baseDir.
func NewFileReadTool(baseDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "file_read",
		Description: "Reads a text file within the workspace root. Max 512KB.",
		Parameters: &tools.JSONSchema{
			Type:       "object",
			Properties: map[string]*tools.JSONSchema{"path": {Type: "string", Description: "Path relative to the workspace root"}},
			Required:   []string{"path"},
		},
		RequiresAccessLevel: agent.AccessFamily,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			full, err := resolveWorkspacePath(baseDir, path)
			if err != nil {
				return "", err
			}
			info, err := os.Stat(full)
			if err != nil {
				return "", fmt.Errorf("file not found: %s", path)
			}
			if info.IsDir() {
				return "", fmt.Errorf("%s is a directory, not a file", path)
			}
			if info.Size() > maxFileReadBytes {
				return "", fmt.Errorf("file too large (%d bytes, max %d)", info.Size(), maxFileReadBytes)
			}
			data, err := os.ReadFile(full)
			if err != nil {
				return "", fmt.Errorf("read %s: %w", path, err)
			}
			return string(data), nil
		},
	}
}

// NewFileWriteTool builds the file_write tool, confined to baseDir and
// gated behind interactive approval — writes are the one built-in
// filesystem mutation.
func NewFileWriteTool(baseDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "file_write",
		Description: "Writes (creating or overwriting) a text file within the workspace root.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"path":    {Type: "string", Description: "Path relative to the workspace root"},
				"content": {Type: "string", Description: "Full file content to write"},
			},
			Required: []string{"path", "content"},
		},
		RequiresAccessLevel: agent.AccessFamily,
		RequiresApproval:    true,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			content, _ := args["content"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			full, err := resolveWorkspacePath(baseDir, path)
			if err != nil {
				return "", err
			}
			if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
				return "", fmt.Errorf("create parent directory: %w", err)
			}
			if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
				return "", fmt.Errorf("write %s: %w", path, err)
			}
			return fmt.Sprintf("wrote %d bytes to %s", len(content), path), nil
		},
	}
}

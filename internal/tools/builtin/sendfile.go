package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

const maxSendFileBytes = 50 * 1024 * 1024 // Telegram Bot API document/photo limit

// NewSendFileTool builds the owner-only send_file tool. Rather than
// delivering bytes itself, it emits the "MEDIA: <path>" protocol string the
// channel layer already understands (Telegram sends it as a photo or
// document, the CLI channel prints the path) — grounded on the original
// Python implementation's send_file tool and the channel MEDIA: protocol.
func NewSendFileTool(baseDir string) *tools.Tool {
	return &tools.Tool{
		Name:        "send_file",
		Description: "Sends a file from the workspace to the current chat. Images are sent as photos, other files as documents. Max 50MB.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"path":    {Type: "string", Description: "Path to the file, relative to the workspace root"},
				"caption": {Type: "string", Description: "Optional caption"},
			},
			Required: []string{"path"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			path, _ := args["path"].(string)
			if path == "" {
				return "", fmt.Errorf("path is required")
			}
			caption, _ := args["caption"].(string)

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
			if info.Size() == 0 {
				return "", fmt.Errorf("file is empty: %s", path)
			}
			if info.Size() > maxSendFileBytes {
				return "", fmt.Errorf("file too large (%.1f MB, max 50 MB)", float64(info.Size())/(1024*1024))
			}

			if caption != "" {
				return fmt.Sprintf("%s\n\nMEDIA: %s", caption, full), nil
			}
			return fmt.Sprintf("%s (%s)\n\nMEDIA: %s", filepath.Base(full), humanSize(info.Size()), full), nil
		},
	}
}

func humanSize(n int64) string {
	switch {
	case n < 1024:
		return fmt.Sprintf("%d B", n)
	case n < 1024*1024:
		return fmt.Sprintf("%.1f KB", float64(n)/1024)
	default:
		return fmt.Sprintf("%.1f MB", float64(n)/(1024*1024))
	}
}

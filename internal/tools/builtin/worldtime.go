package builtin

import (
	"context"
	"fmt"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// NewWorldTimeTool builds the world_time tool — the canonical example tool
// walked through end-to-end in the E2E scenarios: stdlib time plus the IANA
// zone database already linked into the Go runtime, no network call needed.
func NewWorldTimeTool() *tools.Tool {
	return &tools.Tool{
		Name:        "world_time",
		Description: "Returns the current time in a given IANA timezone (e.g. 'America/New_York', 'Asia/Tokyo').",
		Parameters: &tools.JSONSchema{
			Type:       "object",
			Properties: map[string]*tools.JSONSchema{"timezone": {Type: "string", Description: "IANA timezone name"}},
			Required:   []string{"timezone"},
		},
		RequiresAccessLevel: agent.AccessPublic,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			tz, _ := args["timezone"].(string)
			if tz == "" {
				return "", fmt.Errorf("timezone is required")
			}
			loc, err := time.LoadLocation(tz)
			if err != nil {
				return "", fmt.Errorf("unknown timezone %q: %w", tz, err)
			}
			now := time.Now().In(loc)
			return now.Format("Monday, 2006-01-02 15:04:05 MST"), nil
		},
	}
}

package builtin

import (
	"context"
	"fmt"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// SubagentSpawner is the narrow slice of the Sub-Agent Manager the
// spawn_subagent tool needs.
type SubagentSpawner interface {
	Spawn(ctx context.Context, parentSessionID int64, task string, model string) (runID string, err error)
}

// NewSpawnSubagentTool builds the owner-only spawn_subagent tool, which
// hands a task off to an isolated background worker. One instance is
// registered process-wide; the parent session id is read
// per-call from the context the Conversation Engine attaches via
// tools.WithSessionID, not baked in at construction.
func NewSpawnSubagentTool(spawner SubagentSpawner) *tools.Tool {
	return &tools.Tool{
		Name:        "spawn_subagent",
		Description: "Spawns a background sub-agent to work on a task independently, reporting back when done.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"task":  {Type: "string", Description: "The task for the sub-agent to accomplish"},
				"model": {Type: "string", Description: "Optional model override for the sub-agent"},
			},
			Required: []string{"task"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             spawner != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			task, _ := args["task"].(string)
			if task == "" {
				return "", fmt.Errorf("task is required")
			}
			model, _ := args["model"].(string)

			parentSessionID, ok := tools.SessionIDFromContext(ctx)
			if !ok {
				return "", fmt.Errorf("no parent session in context")
			}

			runID, err := spawner.Spawn(ctx, parentSessionID, task, model)
			if err != nil {
				return "", fmt.Errorf("spawn sub-agent: %w", err)
			}
			return fmt.Sprintf("sub-agent spawned, run_id=%s", runID), nil
		},
	}
}

package tools

import (
	"context"
	"fmt"

	"github.com/riyogarta/synebot/internal/agent"
)

// ScrubLevel controls how aggressively a tool's raw result is cleaned
// before it is handed back to the model — large binary blobs, secrets-like
// strings, and oversized payloads are the usual targets.
type ScrubLevel string

const (
	ScrubNone       ScrubLevel = "none"
	ScrubSafe       ScrubLevel = "safe"
	ScrubAggressive ScrubLevel = "aggressive"
)

// Result is the outcome of a tool execution returned to the conversation
// engine for insertion as a tool-role message.
type Result struct {
	Content string
	IsError bool
}

// Error wraps a tool-execution failure with a stable, user-facing reason
// separate from the underlying Go error's message.
type Error struct {
	Reason string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *Error) Unwrap() error { return e.Err }

// Approver is consulted before a tool marked as requiring interactive
// approval runs. Registries without an approver skip this step entirely.
type Approver interface {
	Approve(ctx context.Context, callerID int64, toolName string, args map[string]interface{}) (bool, error)
}

// Handler is the executable body of a Tool.
type Handler func(ctx context.Context, args map[string]interface{}) (string, error)

// Tool is a single statically registered capability. Grounded on the
// teacher's shuttle.Tool, extended with the access-tier and scrub fields
// the family-assistant domain requires.
type Tool struct {
	Name                string
	Description         string
	Parameters          *JSONSchema
	Handler             Handler
	RequiresAccessLevel agent.AccessLevel
	RequiresApproval    bool
	ScrubLevel          ScrubLevel
	Enabled             bool
}

// Schema renders the tool's OpenAI/Anthropic-compatible function schema.
func (t *Tool) Schema() FunctionSchema {
	return FunctionSchema{
		Type: "function",
		Function: FunctionSpec{
			Name:        t.Name,
			Description: t.Description,
			Parameters:  NormalizeSchema(t.Parameters),
		},
	}
}

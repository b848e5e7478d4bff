package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

func TestIsThinkingModel(t *testing.T) {
	cases := map[string]bool{
		"claude-sonnet-4-5-20250929": true,
		"claude-opus-4-1-20250805":   true,
		"claude-3-5-haiku-20241022":  false,
	}
	for model, want := range cases {
		assert.Equal(t, want, isThinkingModel(model), "isThinkingModel(%q)", model)
	}
}

func TestCapabilitiesReflectsThinkingSupport(t *testing.T) {
	a := New("", "claude-sonnet-4-5-20250929")
	caps := a.Capabilities()
	assert.True(t, caps.SupportsThinking, "expected sonnet-4 to support thinking")
	assert.True(t, caps.SupportsVision, "expected vision support for the anthropic adapter")
	assert.Equal(t, contextWindow, caps.ContextWindow)
}

func TestToAnthropicMessagesSkipsSystemRole(t *testing.T) {
	msgs := []agent.Message{
		{Role: agent.RoleSystem, Content: "system prompt text"},
		{Role: agent.RoleUser, Content: "hello"},
	}
	out := toAnthropicMessages(msgs)
	require.Len(t, out, 1, "expected system message to be excluded from the turn sequence")
}

func TestToAnthropicToolsDropsInvalidSchemas(t *testing.T) {
	valid := tools.FunctionSchema{
		Type: "function",
		Function: tools.FunctionSpec{
			Name:        "world_time",
			Description: "tells the time",
			Parameters: &tools.JSONSchema{
				Type:       "object",
				Properties: map[string]*tools.JSONSchema{"timezone": {Type: "string"}},
			},
		},
	}
	invalid := tools.FunctionSchema{Type: "function", Function: tools.FunctionSpec{Name: ""}}

	out := toAnthropicTools([]tools.FunctionSchema{valid, invalid})
	require.Len(t, out, 1, "expected only the valid schema to survive")
}

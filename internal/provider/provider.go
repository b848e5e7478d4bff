// Package provider defines the LLM Provider Port: the normalized
// message/tool-call shape every backend adapter translates to and from,
// conversation sanitization, and the Hybrid composition of a chat backend
// with an independent embedding backend: a provider-agnostic surface
// every concrete backend adapter (anthropic, bedrock, ollama) implements.
package provider

import (
	"context"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// Usage reports token accounting for a single Chat call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// ChatResponse is the normalized result of a Chat call.
type ChatResponse struct {
	Content      string
	Thinking     string
	ToolCalls    []agent.ToolCallRequest
	Usage        Usage
	AuthFailed   bool
	StopReason   string
}

// ChatOptions carries per-call tuning that isn't part of the message
// sequence itself.
type ChatOptions struct {
	Model            string
	MaxTokens        int
	Temperature      float64
	Tools            []tools.FunctionSchema
	ThinkingBudget   *int // nil = model default, 0 = disabled
	SystemPrompt     string
}

// Capabilities describes what a backend can do, consulted by the Context
// Manager (window size) and the Conversation Engine (vision/thinking
// gating).
type Capabilities struct {
	Name                 string
	SupportsVision       bool
	SupportsThinking     bool
	ContextWindow        int
	ReservedOutputTokens int
}

// ChatProvider is the normalized chat-completion surface every concrete
// backend adapter implements.
type ChatProvider interface {
	Chat(ctx context.Context, messages []agent.Message, opts ChatOptions) (ChatResponse, error)
	Capabilities() Capabilities
}

// EmbeddingProvider is the normalized embedding surface.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbeddingDimension() int
}

// Provider is the full port: a chat backend plus an embedding backend,
// which may or may not be the same concrete adapter.
type Provider interface {
	ChatProvider
	EmbeddingProvider
}

// AuthFailedError distinguishes an authentication failure from an ordinary
// request error so the engine can emit a single user-visible notice and
// clear the flag rather than retrying indefinitely.
type AuthFailedError struct {
	Backend string
	Err     error
}

func (e *AuthFailedError) Error() string {
	return "authentication failed for " + e.Backend + ": " + e.Err.Error()
}

func (e *AuthFailedError) Unwrap() error { return e.Err }

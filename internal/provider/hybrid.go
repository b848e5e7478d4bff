package provider

import (
	"context"
	"fmt"

	"github.com/riyogarta/synebot/internal/agent"
)

// Hybrid composes an independently chosen chat backend with an
// independently chosen embedding backend into a single Provider. This is
// how a deployment can, for example, chat through Anthropic while
// embedding through a local Ollama model — the two concerns are wired by
// config, not hardcoded into one adapter.
type Hybrid struct {
	chat  ChatProvider
	embed EmbeddingProvider
}

// NewHybrid returns a Provider backed by the given chat and embedding
// adapters. Either may be nil if that half of the port is never exercised
// by the caller's configuration; invoking the corresponding method in that
// case returns an error rather than panicking.
func NewHybrid(chat ChatProvider, embed EmbeddingProvider) *Hybrid {
	return &Hybrid{chat: chat, embed: embed}
}

func (h *Hybrid) Chat(ctx context.Context, messages []agent.Message, opts ChatOptions) (ChatResponse, error) {
	if h.chat == nil {
		return ChatResponse{}, fmt.Errorf("hybrid provider: no chat backend configured")
	}
	return h.chat.Chat(ctx, Sanitize(messages), opts)
}

func (h *Hybrid) Capabilities() Capabilities {
	if h.chat == nil {
		return Capabilities{}
	}
	return h.chat.Capabilities()
}

func (h *Hybrid) Embed(ctx context.Context, text string) ([]float32, error) {
	if h.embed == nil {
		return nil, fmt.Errorf("hybrid provider: no embedding backend configured")
	}
	return h.embed.Embed(ctx, text)
}

func (h *Hybrid) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if h.embed == nil {
		return nil, fmt.Errorf("hybrid provider: no embedding backend configured")
	}
	return h.embed.EmbedBatch(ctx, texts)
}

func (h *Hybrid) EmbeddingDimension() int {
	if h.embed == nil {
		return 0
	}
	return h.embed.EmbeddingDimension()
}

var _ Provider = (*Hybrid)(nil)

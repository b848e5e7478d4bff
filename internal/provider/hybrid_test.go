package provider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riyogarta/synebot/internal/agent"
)

type stubChat struct {
	caps Capabilities
	last []agent.Message
}

func (s *stubChat) Chat(ctx context.Context, messages []agent.Message, opts ChatOptions) (ChatResponse, error) {
	s.last = messages
	return ChatResponse{Content: "ok"}, nil
}

func (s *stubChat) Capabilities() Capabilities { return s.caps }

type stubEmbed struct {
	dim int
}

func (s *stubEmbed) Embed(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func (s *stubEmbed) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, s.dim)
	}
	return out, nil
}

func (s *stubEmbed) EmbeddingDimension() int { return s.dim }

func TestHybridChatSanitizesBeforeDelegating(t *testing.T) {
	chat := &stubChat{caps: Capabilities{Name: "stub"}}
	h := NewHybrid(chat, &stubEmbed{dim: 4})

	msgs := []agent.Message{
		{Role: agent.RoleUser, Content: "a"},
		{Role: agent.RoleUser, Content: "b"},
	}
	resp, err := h.Chat(context.Background(), msgs, ChatOptions{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	require.Len(t, chat.last, 1, "expected sanitize to merge consecutive user turns")
}

func TestHybridEmbedReturnsErrorWithoutBackend(t *testing.T) {
	h := NewHybrid(&stubChat{}, nil)
	_, err := h.Embed(context.Background(), "x")
	assert.Error(t, err, "expected error with no embedding backend configured")
}

func TestHybridEmbeddingDimension(t *testing.T) {
	h := NewHybrid(&stubChat{}, &stubEmbed{dim: 1536})
	assert.Equal(t, 1536, h.EmbeddingDimension())
}

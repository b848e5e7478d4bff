package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
)

func TestChatSendsMessagesAndParsesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" {
			t.Fatalf("unexpected path: %s", r.URL.Path)
		}
		var req ollamaChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 {
			t.Fatalf("expected system + user message, got %d", len(req.Messages))
		}
		resp := ollamaChatResponse{Done: true}
		resp.Message.Role = "assistant"
		resp.Message.Content = "hello there"
		resp.PromptEvalCount = 10
		resp.EvalCount = 5
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	a := New(srv.URL, "", "")
	out, err := a.Chat(context.Background(), []agent.Message{
		{Role: agent.RoleUser, Content: "hi"},
	}, provider.ChatOptions{SystemPrompt: "be terse"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Content != "hello there" {
		t.Errorf("unexpected content: %q", out.Content)
	}
	if out.Usage.InputTokens != 10 || out.Usage.OutputTokens != 5 {
		t.Errorf("unexpected usage: %+v", out.Usage)
	}
}

func TestEmbedReturnsFirstVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embeddings: [][]float32{{0.1, 0.2, 0.3}}})
	}))
	defer srv.Close()

	a := New(srv.URL, "", "")
	vec, err := a.Embed(context.Background(), "some text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != 3 {
		t.Errorf("expected 3-dimensional vector, got %d", len(vec))
	}
}

func TestEmbeddingDimensionKnownModel(t *testing.T) {
	a := New("", "", "qwen3-embedding:0.6b")
	if a.EmbeddingDimension() != 1024 {
		t.Errorf("expected known dimension 1024, got %d", a.EmbeddingDimension())
	}
}

func TestPostSurfacesHTTPStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer srv.Close()

	a := New(srv.URL, "", "")
	_, err := a.Embed(context.Background(), "x")
	if err == nil {
		t.Fatal("expected error from 500 response")
	}
}

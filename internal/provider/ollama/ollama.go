// Package ollama adapts the Provider Port onto a local Ollama server over
// plain net/http — no official Go SDK exists, so this talks the documented
// REST API directly, unlike the SDK-based anthropic and bedrock adapters.
// It is the third concrete adapter: local-model chat
// and embeddings, exercising provider.Hybrid (paired with a cloud chat
// backend for embeddings, or vice versa) and the no-vision/no-thinking
// capability branch. Grounded on the original Python OllamaProvider
// (embedding-only, /api/embed, httpx.AsyncClient with a timeout) — chat
// support is added here against Ollama's documented /api/chat endpoint
// since this module's Ollama backend is not embedding-only.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
)

const (
	defaultBaseURL        = "http://localhost:11434"
	defaultChatModel      = "qwen3:8b"
	defaultEmbeddingModel = "qwen3-embedding:0.6b"
	defaultContextWindow  = 32_768
	reservedOutput        = 2048
	requestTimeout        = 60 * time.Second
)

// Adapter implements both provider.ChatProvider and provider.EmbeddingProvider
// against a single Ollama server, so it can serve as the whole Provider on
// its own, or as either half of a provider.Hybrid.
type Adapter struct {
	baseURL        string
	chatModel      string
	embeddingModel string
	embeddingDim   int
	httpClient     *http.Client
}

// knownEmbeddingDimensions lists the vector width of embedding models this
// deployment is likely to run locally, so EmbeddingDimension can answer
// without a round trip. An unrecognized model falls back to 0 (unknown),
// for which the Memory Engine skips its dimension-change check.
var knownEmbeddingDimensions = map[string]int{
	"qwen3-embedding:0.6b": 1024,
	"nomic-embed-text":     768,
	"mxbai-embed-large":    1024,
}

// New builds an adapter against the Ollama server at baseURL (defaults to
// http://localhost:11434, overridable for a non-default deployment).
func New(baseURL, chatModel, embeddingModel string) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if chatModel == "" {
		chatModel = defaultChatModel
	}
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}
	return &Adapter{
		baseURL:        strings.TrimRight(baseURL, "/"),
		chatModel:      chatModel,
		embeddingModel: embeddingModel,
		embeddingDim:   knownEmbeddingDimensions[embeddingModel],
		httpClient:     &http.Client{Timeout: requestTimeout},
	}
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Name:                 "ollama:" + a.chatModel,
		SupportsVision:       false,
		SupportsThinking:     false,
		ContextWindow:        defaultContextWindow,
		ReservedOutputTokens: reservedOutput,
	}
}

type ollamaChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int  `json:"prompt_eval_count"`
	EvalCount       int  `json:"eval_count"`
	Done            bool `json:"done"`
}

func (a *Adapter) Chat(ctx context.Context, messages []agent.Message, opts provider.ChatOptions) (provider.ChatResponse, error) {
	model := a.chatModel
	if opts.Model != "" {
		model = opts.Model
	}

	req := ollamaChatRequest{
		Model:    model,
		Messages: toOllamaMessages(messages, opts.SystemPrompt),
		Stream:   false,
	}
	if opts.Temperature != 0 {
		req.Options = map[string]any{"temperature": opts.Temperature}
	}

	var decoded ollamaChatResponse
	err := provider.WithAdapterRetry(ctx, "ollama", func() error {
		return a.post(ctx, "/api/chat", req, &decoded)
	})
	if err != nil {
		return provider.ChatResponse{}, err
	}

	return provider.ChatResponse{
		Content: decoded.Message.Content,
		Usage: provider.Usage{
			InputTokens:  decoded.PromptEvalCount,
			OutputTokens: decoded.EvalCount,
		},
		StopReason: "end_turn",
	}, nil
}

func toOllamaMessages(messages []agent.Message, systemPrompt string) []ollamaChatMessage {
	out := make([]ollamaChatMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, ollamaChatMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range messages {
		role := string(m.Role)
		if m.Role == agent.RoleTool {
			// Ollama's /api/chat has no distinct tool-result role; fold it
			// into a user turn labeled with the originating tool.
			role = "user"
		}
		content := m.Content
		if m.Role == agent.RoleTool && m.Metadata != nil {
			content = fmt.Sprintf("[%s result] %s", m.Metadata.ToolName, content)
		}
		out = append(out, ollamaChatMessage{Role: role, Content: content})
	}
	return out
}

type ollamaEmbedRequest struct {
	Model string `json:"model"`
	Input any    `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("ollama: embed returned no vectors")
	}
	return vectors[0], nil
}

func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return a.embed(ctx, texts)
}

func (a *Adapter) embed(ctx context.Context, texts []string) ([][]float32, error) {
	req := ollamaEmbedRequest{Model: a.embeddingModel, Input: texts}

	var decoded ollamaEmbedResponse
	err := provider.WithAdapterRetry(ctx, "ollama", func() error {
		return a.post(ctx, "/api/embed", req, &decoded)
	})
	if err != nil {
		return nil, err
	}
	return decoded.Embeddings, nil
}

// EmbeddingDimension reports the configured embedding model's vector
// width from the known-model table, or 0 if the model isn't recognized —
// in which case the Memory Engine skips its dimension-change check.
func (a *Adapter) EmbeddingDimension() int {
	return a.embeddingDim
}

func (a *Adapter) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal ollama request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build ollama request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("ollama request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read ollama response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return &provider.HTTPStatusError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode ollama response: %w", err)
	}
	return nil
}

var (
	_ provider.ChatProvider      = (*Adapter)(nil)
	_ provider.EmbeddingProvider = (*Adapter)(nil)
)

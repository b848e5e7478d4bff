// Package anthropic adapts the Provider Port onto Anthropic's Messages
// API. It is the reference adapter: native extended-thinking and vision
// support, and strict tool_use/tool_result pairing that is exactly what
// provider.Sanitize exists to keep intact. Grounded on a streaming-
// accumulation, content-block type-switching style client (Thread) and
// a retry-wrapper policy borrowed wholesale into internal/provider so
// every adapter shares it.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
	"github.com/riyogarta/synebot/internal/tools"
)

const (
	defaultModel     = "claude-sonnet-4-5-20250929"
	defaultMaxTokens = 8192
	contextWindow    = 200_000
	reservedOutput   = 8192
)

// thinkingModels lists the model prefixes that accept extended thinking.
var thinkingModels = []string{
	"claude-sonnet-4",
	"claude-opus-4",
}

// Adapter implements provider.ChatProvider against the Anthropic API.
// It does not implement provider.EmbeddingProvider — Anthropic has no
// embedding endpoint, so a deployment wanting embeddings pairs this with
// another backend through provider.Hybrid.
type Adapter struct {
	client anthropic.Client
	model  string
}

// New builds an adapter. apiKey may be empty to defer to the SDK's usual
// ANTHROPIC_API_KEY environment lookup.
func New(apiKey, model string) *Adapter {
	opts := []option.RequestOption{}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = defaultModel
	}
	if isThinkingModel(model) {
		opts = append(opts, option.WithHeaderAdd("anthropic-beta", "interleaved-thinking-2025-05-14"))
	}
	return &Adapter{
		client: anthropic.NewClient(opts...),
		model:  model,
	}
}

func isThinkingModel(model string) bool {
	for _, prefix := range thinkingModels {
		if len(model) >= len(prefix) && model[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Name:                 "anthropic:" + a.model,
		SupportsVision:       true,
		SupportsThinking:     isThinkingModel(a.model),
		ContextWindow:        contextWindow,
		ReservedOutputTokens: reservedOutput,
	}
}

func (a *Adapter) Chat(ctx context.Context, messages []agent.Message, opts provider.ChatOptions) (provider.ChatResponse, error) {
	model := opts.Model
	if model == "" {
		model = a.model
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  toAnthropicMessages(messages),
	}
	if opts.SystemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.SystemPrompt}}
	}
	if len(opts.Tools) > 0 {
		params.Tools = toAnthropicTools(opts.Tools)
	}
	if opts.ThinkingBudget != nil && *opts.ThinkingBudget > 0 && isThinkingModel(model) {
		params.Thinking = anthropic.ThinkingConfigParamUnion{
			OfEnabled: &anthropic.ThinkingConfigEnabledParam{
				Type:         "enabled",
				BudgetTokens: int64(*opts.ThinkingBudget),
			},
		}
	}

	var message anthropic.Message
	err := provider.WithAdapterRetry(ctx, "anthropic", func() error {
		stream := a.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		message = anthropic.Message{}
		for stream.Next() {
			if accErr := message.Accumulate(stream.Current()); accErr != nil {
				return fmt.Errorf("accumulate anthropic stream event: %w", accErr)
			}
		}
		return stream.Err()
	})
	if err != nil {
		return provider.ChatResponse{}, err
	}

	resp := provider.ChatResponse{
		Usage: provider.Usage{
			InputTokens:  int(message.Usage.InputTokens),
			OutputTokens: int(message.Usage.OutputTokens),
		},
		StopReason: string(message.StopReason),
	}

	for _, block := range message.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			resp.Content += variant.Text
		case anthropic.ThinkingBlock:
			resp.Thinking += variant.Thinking
		case anthropic.ToolUseBlock:
			args := map[string]interface{}{}
			if raw := variant.JSON.Input.Raw(); raw != "" {
				if err := json.Unmarshal([]byte(raw), &args); err != nil {
					args = map[string]interface{}{}
				}
			}
			resp.ToolCalls = append(resp.ToolCalls, agent.ToolCallRequest{
				ID:   variant.ID,
				Name: variant.Name,
				Args: args,
			})
		}
	}

	return resp, nil
}

func toAnthropicMessages(messages []agent.Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			// System messages are carried in MessageNewParams.System, not
			// the turn sequence; callers pass them via ChatOptions.
			continue
		case agent.RoleUser:
			out = append(out, anthropic.NewUserMessage(userContentBlocks(m)...))
		case agent.RoleAssistant:
			out = append(out, assistantMessage(m))
		case agent.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.Metadata.ToolCallID, m.Content, false),
			))
		}
	}
	return out
}

func userContentBlocks(m agent.Message) []anthropic.ContentBlockParamUnion {
	blocks := []anthropic.ContentBlockParamUnion{}
	if m.Metadata != nil && m.Metadata.Kind == agent.MetaImage && m.Metadata.Image != nil {
		blocks = append(blocks, anthropic.NewImageBlock(anthropic.Base64ImageSourceParam{
			Data:      m.Metadata.Image.Base64,
			MediaType: anthropic.Base64ImageSourceMediaType(m.Metadata.Image.MIME),
		}))
	}
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	return blocks
}

func assistantMessage(m agent.Message) anthropic.MessageParam {
	blocks := []anthropic.ContentBlockParamUnion{}
	if m.Content != "" {
		blocks = append(blocks, anthropic.NewTextBlock(m.Content))
	}
	if m.Metadata != nil && m.Metadata.Kind == agent.MetaToolCalls {
		for _, tc := range m.Metadata.ToolCalls {
			blocks = append(blocks, anthropic.ContentBlockParamUnion{
				OfToolUse: &anthropic.ToolUseBlockParam{
					ID:    tc.ID,
					Name:  tc.Name,
					Input: tc.Args,
				},
			})
		}
	}
	return anthropic.NewAssistantMessage(blocks...)
}

func toAnthropicTools(schemas []tools.FunctionSchema) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, s := range schemas {
		if !s.Valid() {
			continue
		}
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        s.Function.Name,
				Description: anthropic.String(s.Function.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties: s.Function.Parameters.Properties,
				},
			},
		})
	}
	return out
}

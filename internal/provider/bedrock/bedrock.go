// Package bedrock adapts the Provider Port onto Amazon Bedrock's Converse
// API — a second chat backend proving the port abstracts over wire-protocol
// differences from Anthropic's native API, and exercising STS-style
// credential refresh through provider.TokenCache (ChatConverse,
// convertMessagesToConverse, convertToolsToConverse), adapted to this
// module's tools.FunctionSchema input shape.
package bedrock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	bedrocktypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
	"github.com/riyogarta/synebot/internal/tools"
)

const (
	defaultModelID   = "us.anthropic.claude-sonnet-4-5-20250929-v1:0"
	defaultRegion    = "us-west-2"
	defaultMaxTokens = 4096
	contextWindow    = 200_000
	reservedOutput   = 4096
)

// Config configures the Bedrock adapter. Credentials are resolved through
// the default AWS chain (env vars, shared config, IAM role) unless
// StaticCredentials is set, in which case those are wrapped in a
// provider.TokenCache so a caller rotating short-lived STS credentials
// gets TokenCache's 30-second-cache/5-minute-buffer refresh behavior.
type Config struct {
	Region            string
	ModelID           string
	MaxTokens         int
	Temperature       float64
	StaticCredentials provider.TokenRefresher
}

// Adapter implements provider.ChatProvider against Bedrock's Converse API.
// Like the Anthropic adapter, it carries no EmbeddingProvider — Bedrock's
// embedding models (Titan, Cohere) are a separate product surface this
// deployment would reach through a dedicated adapter wired into a Hybrid.
type Adapter struct {
	client  *bedrockruntime.Client
	modelID string
	maxTok  int
	temp    float64

	// toolNameMap reverses the ^[a-zA-Z0-9_-]{1,64}$ sanitization Bedrock
	// requires of tool names, so a colon-namespaced name round-trips.
	toolNameMap map[string]string
}

// New builds an adapter from cfg, loading AWS credentials via the default
// chain (or cfg.StaticCredentials if provided).
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	if cfg.ModelID == "" {
		cfg.ModelID = defaultModelID
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 1.0
	}

	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.StaticCredentials != nil {
		cache := provider.NewTokenCache(cfg.StaticCredentials)
		opts = append(opts, awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(
			func(ctx context.Context) (aws.Credentials, error) {
				tok, err := cache.Get(ctx)
				if err != nil {
					return aws.Credentials{}, fmt.Errorf("refresh bedrock credentials: %w", err)
				}
				return credentials.NewStaticCredentialsProvider(tok.Value, "", "").Retrieve(ctx)
			},
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &Adapter{
		client:      bedrockruntime.NewFromConfig(awsCfg),
		modelID:     cfg.ModelID,
		maxTok:      cfg.MaxTokens,
		temp:        cfg.Temperature,
		toolNameMap: make(map[string]string),
	}, nil
}

func (a *Adapter) Capabilities() provider.Capabilities {
	return provider.Capabilities{
		Name:                 "bedrock:" + a.modelID,
		SupportsVision:       true,
		SupportsThinking:     false,
		ContextWindow:        contextWindow,
		ReservedOutputTokens: reservedOutput,
	}
}

func (a *Adapter) Chat(ctx context.Context, messages []agent.Message, opts provider.ChatOptions) (provider.ChatResponse, error) {
	modelID := a.modelID
	if opts.Model != "" {
		modelID = opts.Model
	}
	maxTokens := a.maxTok
	if opts.MaxTokens != 0 {
		maxTokens = opts.MaxTokens
	}

	systemBlocks, converseMessages := a.toConverseMessages(messages, opts.SystemPrompt)
	if len(converseMessages) == 0 {
		return provider.ChatResponse{}, fmt.Errorf("bedrock: no valid messages to send")
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(modelID),
		Messages: converseMessages,
		InferenceConfig: &bedrocktypes.InferenceConfiguration{
			MaxTokens:   aws.Int32(int32(maxTokens)),
			Temperature: aws.Float32(float32(a.temp)),
		},
	}
	if len(systemBlocks) > 0 {
		input.System = systemBlocks
	}
	if len(opts.Tools) > 0 {
		input.ToolConfig = a.toConverseTools(opts.Tools)
	}

	var output *bedrockruntime.ConverseOutput
	err := provider.WithAdapterRetry(ctx, "bedrock", func() error {
		out, callErr := a.client.Converse(ctx, input)
		if callErr != nil {
			if isUnauthorized(callErr) {
				return &provider.AuthFailedError{Backend: "bedrock", Err: callErr}
			}
			return callErr
		}
		output = out
		return nil
	})
	if err != nil {
		return provider.ChatResponse{}, err
	}

	resp := provider.ChatResponse{StopReason: string(output.StopReason)}
	if output.Usage != nil {
		resp.Usage = provider.Usage{
			InputTokens:  int(aws.ToInt32(output.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
		}
	}

	if msg, ok := output.Output.(*bedrocktypes.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			switch b := block.(type) {
			case *bedrocktypes.ContentBlockMemberText:
				resp.Content += b.Value
			case *bedrocktypes.ContentBlockMemberToolUse:
				name := aws.ToString(b.Value.Name)
				if original, ok := a.toolNameMap[name]; ok {
					name = original
				}
				args := map[string]interface{}{}
				if b.Value.Input != nil {
					if raw, err := json.Marshal(b.Value.Input); err == nil {
						_ = json.Unmarshal(raw, &args)
					}
				}
				resp.ToolCalls = append(resp.ToolCalls, agent.ToolCallRequest{
					ID:   aws.ToString(b.Value.ToolUseId),
					Name: name,
					Args: args,
				})
			}
		}
	}

	return resp, nil
}

// sanitizeToolName enforces Bedrock's ^[a-zA-Z0-9_-]{1,64}$ tool-name
// constraint; names outside it (e.g. ability-namespaced "calendar:list")
// are rewritten and the mapping kept so responses translate back.
func sanitizeToolName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 64 {
		out = out[:64]
	}
	return out
}

func (a *Adapter) toConverseMessages(messages []agent.Message, systemPrompt string) ([]bedrocktypes.SystemContentBlock, []bedrocktypes.Message) {
	var systemBlocks []bedrocktypes.SystemContentBlock
	if systemPrompt != "" {
		systemBlocks = append(systemBlocks, &bedrocktypes.SystemContentBlockMemberText{Value: systemPrompt})
	}

	var converseMessages []bedrocktypes.Message
	var pendingToolResults []bedrocktypes.ContentBlock

	flush := func() {
		if len(pendingToolResults) > 0 {
			converseMessages = append(converseMessages, bedrocktypes.Message{
				Role:    bedrocktypes.ConversationRoleUser,
				Content: pendingToolResults,
			})
			pendingToolResults = nil
		}
	}

	for _, m := range messages {
		switch m.Role {
		case agent.RoleSystem:
			if m.Content != "" {
				systemBlocks = append(systemBlocks, &bedrocktypes.SystemContentBlockMemberText{Value: m.Content})
			}

		case agent.RoleUser:
			flush()
			var blocks []bedrocktypes.ContentBlock
			if m.Metadata != nil && m.Metadata.Kind == agent.MetaImage && m.Metadata.Image != nil {
				blocks = append(blocks, &bedrocktypes.ContentBlockMemberImage{
					Value: bedrocktypes.ImageBlock{
						Format: bedrocktypes.ImageFormat(strings.TrimPrefix(m.Metadata.Image.MIME, "image/")),
						Source: &bedrocktypes.ImageSourceMemberBytes{Value: []byte(m.Metadata.Image.Base64)},
					},
				})
			}
			if m.Content != "" {
				blocks = append(blocks, &bedrocktypes.ContentBlockMemberText{Value: m.Content})
			}
			if len(blocks) > 0 {
				converseMessages = append(converseMessages, bedrocktypes.Message{Role: bedrocktypes.ConversationRoleUser, Content: blocks})
			}

		case agent.RoleAssistant:
			flush()
			var blocks []bedrocktypes.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &bedrocktypes.ContentBlockMemberText{Value: m.Content})
			}
			if m.Metadata != nil && m.Metadata.Kind == agent.MetaToolCalls {
				for _, tc := range m.Metadata.ToolCalls {
					input := tc.Args
					if input == nil {
						input = map[string]interface{}{}
					}
					sanitized := sanitizeToolName(tc.Name)
					a.toolNameMap[sanitized] = tc.Name
					blocks = append(blocks, &bedrocktypes.ContentBlockMemberToolUse{
						Value: bedrocktypes.ToolUseBlock{
							ToolUseId: aws.String(tc.ID),
							Name:      aws.String(sanitized),
							Input:     document.NewLazyDocument(input),
						},
					})
				}
			}
			if len(blocks) > 0 {
				converseMessages = append(converseMessages, bedrocktypes.Message{Role: bedrocktypes.ConversationRoleAssistant, Content: blocks})
			}

		case agent.RoleTool:
			var content bedrocktypes.ToolResultContentBlock
			var parsed interface{}
			if err := json.Unmarshal([]byte(m.Content), &parsed); err == nil {
				content = &bedrocktypes.ToolResultContentBlockMemberJson{Value: document.NewLazyDocument(parsed)}
			} else {
				content = &bedrocktypes.ToolResultContentBlockMemberText{Value: m.Content}
			}
			toolUseID := ""
			if m.Metadata != nil {
				toolUseID = m.Metadata.ToolCallID
			}
			pendingToolResults = append(pendingToolResults, &bedrocktypes.ContentBlockMemberToolResult{
				Value: bedrocktypes.ToolResultBlock{
					ToolUseId: aws.String(toolUseID),
					Content:   []bedrocktypes.ToolResultContentBlock{content},
				},
			})
		}
	}
	flush()

	return systemBlocks, converseMessages
}

func (a *Adapter) toConverseTools(schemas []tools.FunctionSchema) *bedrocktypes.ToolConfiguration {
	a.toolNameMap = make(map[string]string)
	var converseTools []bedrocktypes.Tool

	for _, s := range schemas {
		if !s.Valid() {
			continue
		}
		sanitized := sanitizeToolName(s.Function.Name)
		a.toolNameMap[sanitized] = s.Function.Name

		schemaMap := map[string]interface{}{
			"type":       "object",
			"properties": s.Function.Parameters.Properties,
		}
		if len(s.Function.Parameters.Required) > 0 {
			schemaMap["required"] = s.Function.Parameters.Required
		}

		converseTools = append(converseTools, &bedrocktypes.ToolMemberToolSpec{
			Value: bedrocktypes.ToolSpecification{
				Name:        aws.String(sanitized),
				Description: aws.String(s.Function.Description),
				InputSchema: &bedrocktypes.ToolInputSchemaMemberJson{
					Value: document.NewLazyDocument(schemaMap),
				},
			},
		})
	}

	return &bedrocktypes.ToolConfiguration{Tools: converseTools}
}

// isUnauthorized reports whether err looks like an AWS auth/permission
// rejection rather than a transient failure, so WithAdapterRetry doesn't
// burn its attempt budget retrying a credential that will never validate.
func isUnauthorized(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UnrecognizedClientException") ||
		strings.Contains(msg, "AccessDeniedException") ||
		strings.Contains(msg, "ExpiredTokenException") ||
		strings.Contains(msg, "InvalidSignatureException")
}

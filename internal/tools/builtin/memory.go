package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// MemoryBackend is the narrow slice of the Memory Engine the memory_search
// and memory_store tools need. Declared here (rather than importing
// internal/memory directly) so this package stays a leaf in the dependency
// graph; internal/memory satisfies it.
type MemoryBackend interface {
	Recall(ctx context.Context, callerID int64, level agent.AccessLevel, query string, topK int) ([]agent.Recalled, error)
	StoreIfNew(ctx context.Context, callerID int64, content string, category agent.MemoryCategory, importance float64, permanent bool) (agent.Memory, bool, error)
}

// NewMemorySearchTool builds the memory_search tool.
func NewMemorySearchTool(backend MemoryBackend) *tools.Tool {
	return &tools.Tool{
		Name:        "memory_search",
		Description: "Searches stored memories (facts, preferences, events) relevant to a query.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"query": {Type: "string", Description: "What to search for"},
				"top_k": {Type: "integer", Description: "Number of memories to return, default 5"},
			},
			Required: []string{"query"},
		},
		RequiresAccessLevel: agent.AccessPublic,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             backend != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			query, _ := args["query"].(string)
			if query == "" {
				return "", fmt.Errorf("query is required")
			}
			topK := 5
			if k, ok := args["top_k"].(float64); ok && k > 0 {
				topK = int(k)
			}

			callerID, level, _ := tools.CallerFromContext(ctx)

			recalled, err := backend.Recall(ctx, callerID, level, query, topK)
			if err != nil {
				return "", fmt.Errorf("recall memories: %w", err)
			}
			if len(recalled) == 0 {
				return "no matching memories", nil
			}

			var sb strings.Builder
			for i, r := range recalled {
				fmt.Fprintf(&sb, "%d. [%s, similarity %.2f] %s\n", i+1, r.Memory.Category, r.Similarity, r.Memory.Content)
			}
			return sb.String(), nil
		},
	}
}

// NewMemoryStoreTool builds the memory_store tool.
func NewMemoryStoreTool(backend MemoryBackend) *tools.Tool {
	return &tools.Tool{
		Name:        "memory_store",
		Description: "Explicitly stores a fact, preference, or event for later recall.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"content":    {Type: "string", Description: "The memory content to store"},
				"category":   {Type: "string", Description: "One of: fact, preference, event, lesson, decision, health, relationship, config", Enum: []interface{}{"fact", "preference", "event", "lesson", "decision", "health", "relationship", "config"}},
				"importance": {Type: "number", Description: "Importance from 0.1 to 1.0, default 0.5"},
				"permanent":  {Type: "boolean", Description: "Whether this memory should never be pruned, default false"},
			},
			Required: []string{"content", "category"},
		},
		RequiresAccessLevel: agent.AccessPublic,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             backend != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			content, _ := args["content"].(string)
			if content == "" {
				return "", fmt.Errorf("content is required")
			}
			category, _ := args["category"].(string)
			if category == "" {
				category = string(agent.CategoryFact)
			}
			importance := 0.5
			if v, ok := args["importance"].(float64); ok {
				importance = v
			}
			permanent, _ := args["permanent"].(bool)
			callerID, _, _ := tools.CallerFromContext(ctx)

			_, created, err := backend.StoreIfNew(ctx, callerID, content, agent.MemoryCategory(category), agent.ClampImportance(importance), permanent)
			if err != nil {
				return "", fmt.Errorf("store memory: %w", err)
			}
			if !created {
				return "memory already known; existing entry updated", nil
			}
			return "memory stored", nil
		},
	}
}

// Package contextwindow tracks approximate token usage against a
// backend's context window and decides what to trim. Grounded on the
// teacher's pkg/agent.TokenCounter/TokenBudget — the same
// chars-per-token heuristic with an optional tiktoken refinement, and the
// same used/reserved/max budget bookkeeping, generalized from a single
// fixed Claude budget to the three named sub-budgets this system splits
// the window into.
package contextwindow

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/riyogarta/synebot/internal/agent"
)

// charsPerToken is the fallback heuristic when no exact encoding is known
// for the active model.
const charsPerToken = 3.5

// perMessageOverhead approximates the token cost of role/formatting
// metadata tiktoken doesn't see when counting content alone.
const perMessageOverhead = 4

// Budget ratios of (max_context - reserved_output), the three named
// sub-budgets the Conversation Engine composes a prompt from.
const (
	SystemBudgetRatio  = 0.15
	MemoryBudgetRatio  = 0.10
	HistoryBudgetRatio = 0.65
)

// compactionTriggerRatio is the fraction of the available window at which
// ShouldCompact signals the engine should run a pre-flight compaction pass.
const compactionTriggerRatio = 0.90

// Counter estimates token counts for text and message sequences, using
// tiktoken-go's cl100k_base encoding when available and falling back to
// a char heuristic otherwise, since no single encoding is exactly right
// for every backend this system talks to.
type Counter struct {
	mu      sync.Mutex
	encoder *tiktoken.Tiktoken
}

// NewCounter builds a Counter, attempting to load the cl100k_base
// encoding. If that fails the Counter silently falls back to the char
// heuristic for every call — callers never need to check for this.
func NewCounter() *Counter {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return &Counter{encoder: nil}
	}
	return &Counter{encoder: enc}
}

// CountText estimates the token count of a single string.
func (c *Counter) CountText(text string) int {
	if c.encoder == nil {
		return int(float64(len(text))/charsPerToken) + 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages estimates the token count of a message sequence,
// including per-message formatting overhead.
func (c *Counter) CountMessages(messages []agent.Message) int {
	total := 0
	for _, m := range messages {
		total += perMessageOverhead
		total += c.CountText(m.Content)
		if m.Metadata != nil && m.Metadata.Kind == agent.MetaToolCalls {
			for _, tc := range m.Metadata.ToolCalls {
				total += c.CountText(tc.Name)
				for k, v := range tc.Args {
					total += c.CountText(k) + c.CountText(toText(v))
				}
			}
		}
	}
	return total
}

func toText(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

// Budget tracks used/available tokens against a fixed window: total
// window, tokens reserved for model output, and a running used count.
type Budget struct {
	mu         sync.RWMutex
	maxContext int
	reserved   int
	used       int
}

// NewBudget creates a Budget for a backend whose capabilities report the
// given context window and reserved-output size.
func NewBudget(maxContext, reservedOutput int) *Budget {
	return &Budget{maxContext: maxContext, reserved: reservedOutput}
}

// Available returns the remaining token budget for new content.
func (b *Budget) Available() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.maxContext - b.reserved - b.used
}

// Use records tokens as consumed. Returns false (and records nothing) if
// doing so would exceed the available budget.
func (b *Budget) Use(tokens int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tokens > b.maxContext-b.reserved-b.used {
		return false
	}
	b.used += tokens
	return true
}

// Reset zeroes the used count, e.g. after a successful compaction.
func (b *Budget) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.used = 0
}

// Usage reports used/available/total for display or logging.
type Usage struct {
	Used      int
	Available int
	Total     int
}

// GetUsage returns the current usage snapshot.
func (b *Budget) GetUsage() Usage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Usage{
		Used:      b.used,
		Available: b.maxContext - b.reserved - b.used,
		Total:     b.maxContext,
	}
}

// ShouldCompact reports whether used tokens have crossed
// compactionTriggerRatio of the available (non-reserved) window.
func (b *Budget) ShouldCompact() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	available := b.maxContext - b.reserved
	if available <= 0 {
		return true
	}
	return float64(b.used)/float64(available) >= compactionTriggerRatio
}

// SubBudgets splits (maxContext - reservedOutput) into the system/memory/
// history token allotments the Conversation Engine composes a prompt
// from.
type SubBudgets struct {
	System  int
	Memory  int
	History int
}

// Split computes SubBudgets for a backend with the given context window
// and reserved-output size.
func Split(maxContext, reservedOutput int) SubBudgets {
	available := maxContext - reservedOutput
	if available < 0 {
		available = 0
	}
	return SubBudgets{
		System:  int(float64(available) * SystemBudgetRatio),
		Memory:  int(float64(available) * MemoryBudgetRatio),
		History: int(float64(available) * HistoryBudgetRatio),
	}
}

// TrimContext keeps the leading system message(s), the final user turn,
// and as many of the most recent remaining history turns as fit within
// historyBudget, dropping from the oldest history backward. If the system
// prompt alone exceeds systemBudget, it is truncated to its
// char-equivalent rather than dropped.
func TrimContext(counter *Counter, messages []agent.Message, systemBudget, historyBudget int) []agent.Message {
	if len(messages) == 0 {
		return messages
	}

	var systemMsgs, rest []agent.Message
	for i, m := range messages {
		if m.Role == agent.RoleSystem {
			systemMsgs = append(systemMsgs, truncateToSystemBudget(counter, m, systemBudget))
			continue
		}
		rest = messages[i:]
		break
	}

	if len(rest) == 0 {
		return systemMsgs
	}

	lastUser := rest[len(rest)-1]
	middle := rest[:len(rest)-1]

	kept := make([]agent.Message, 0, len(middle))
	used := 0
	for i := len(middle) - 1; i >= 0; i-- {
		cost := perMessageOverhead + counter.CountText(middle[i].Content)
		if used+cost > historyBudget {
			break
		}
		used += cost
		kept = append([]agent.Message{middle[i]}, kept...)
	}

	out := make([]agent.Message, 0, len(systemMsgs)+len(kept)+1)
	out = append(out, systemMsgs...)
	out = append(out, kept...)
	out = append(out, lastUser)
	return out
}

func truncateToSystemBudget(counter *Counter, m agent.Message, budget int) agent.Message {
	if counter.CountText(m.Content) <= budget {
		return m
	}
	maxChars := int(float64(budget) * charsPerToken)
	if maxChars < 0 {
		maxChars = 0
	}
	if maxChars >= len(m.Content) {
		return m
	}
	truncated := m
	truncated.Content = m.Content[:maxChars]
	return truncated
}

// Package compactor summarizes the oldest span of a session's message
// history into a single system message once the session has grown past a
// threshold, freeing context window without losing factual continuity.
// The exact keep/threshold/truncation numbers are grounded on the Python
// original's compaction.compact_session.
package compactor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
)

const (
	// DefaultKeepRecent is the number of most recent messages left
	// untouched by a compaction pass.
	DefaultKeepRecent = 20

	// thresholdSlack is how far past keepRecent the total message count
	// must grow before compaction is worth running at all.
	thresholdSlack = 10

	perMessageTruncateChars = 500
	totalInputCharCap       = 30_000

	compactionTemperature  = 0.1
	compactionMaxOutputTok = 2000
)

const compactionPrompt = `Summarize this conversation into a concise summary that preserves:
1. Key decisions made
2. Important facts learned about the user
3. Tasks completed or in progress
4. Any commitments or promises made
5. Critical context needed for future conversations

Rules:
- Be factual. Only include what was explicitly stated or confirmed by the user.
- Do NOT include assistant suggestions that weren't confirmed.
- Do NOT include greetings, small talk, or filler.
- Do NOT make assumptions about user preferences.
- If the user corrected something, use the corrected version.

Format as bullet points grouped by topic.`

// Store is the narrow slice of the persistence port compaction needs. It
// is satisfied by internal/storage's session/message store without this
// package importing it directly.
type Store interface {
	CountMessages(ctx context.Context, sessionID int64) (int, error)
	OldestMessages(ctx context.Context, sessionID int64, limit int) ([]agent.Message, error)
	// ReplaceWithSummary deletes the messages named by ids and inserts a
	// single compaction_summary system message in their place, timestamped
	// at the earliest of the deleted messages, updating the session's
	// stored summary and message count in the same operation.
	ReplaceWithSummary(ctx context.Context, sessionID int64, ids []int64, summary string, newMessageCount int) error
}

// Result describes a completed compaction pass.
type Result struct {
	MessagesCompacted int
	Summary           string
}

// Compactor runs compaction passes against a Store using a chat provider
// to produce the summary text.
type Compactor struct {
	store      Store
	chat       provider.ChatProvider
	keepRecent int
}

// New builds a Compactor. keepRecent <= 0 selects DefaultKeepRecent.
func New(store Store, chat provider.ChatProvider, keepRecent int) *Compactor {
	if keepRecent <= 0 {
		keepRecent = DefaultKeepRecent
	}
	return &Compactor{store: store, chat: chat, keepRecent: keepRecent}
}

// ShouldCompact reports whether a session has grown past the
// keepRecent+threshold slack that makes compaction worthwhile.
func (c *Compactor) ShouldCompact(ctx context.Context, sessionID int64) (bool, error) {
	total, err := c.store.CountMessages(ctx, sessionID)
	if err != nil {
		return false, fmt.Errorf("compactor: count messages: %w", err)
	}
	return total > c.keepRecent+thresholdSlack, nil
}

// Compact summarizes the oldest span of sessionID's messages, replacing
// them with a single compaction_summary system message. Returns a nil
// Result (and nil error) if the session is below the compaction
// threshold — this makes repeated calls idempotent no-ops.
func (c *Compactor) Compact(ctx context.Context, sessionID int64) (*Result, error) {
	total, err := c.store.CountMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("compactor: count messages: %w", err)
	}
	if total <= c.keepRecent+thresholdSlack {
		return nil, nil
	}

	toSummarize := total - c.keepRecent
	old, err := c.store.OldestMessages(ctx, sessionID, toSummarize)
	if err != nil {
		return nil, fmt.Errorf("compactor: fetch oldest messages: %w", err)
	}
	if len(old) == 0 {
		return nil, nil
	}

	convText := buildConversationText(old)

	resp, err := c.chat.Chat(ctx, []agent.Message{
		{Role: agent.RoleSystem, Content: compactionPrompt},
		{Role: agent.RoleUser, Content: convText},
	}, provider.ChatOptions{
		Temperature: compactionTemperature,
		MaxTokens:   compactionMaxOutputTok,
	})
	if err != nil {
		return nil, fmt.Errorf("compactor: summarize: %w", err)
	}

	ids := make([]int64, len(old))
	for i, m := range old {
		ids[i] = m.ID
	}

	newCount := c.keepRecent + 1 // recent + summary
	if err := c.store.ReplaceWithSummary(ctx, sessionID, ids, resp.Content, newCount); err != nil {
		return nil, fmt.Errorf("compactor: replace with summary: %w", err)
	}

	return &Result{MessagesCompacted: len(old), Summary: resp.Content}, nil
}

func buildConversationText(messages []agent.Message) string {
	lines := make([]string, 0, len(messages))
	for _, m := range messages {
		content := m.Content
		if len(content) > perMessageTruncateChars {
			content = content[:perMessageTruncateChars] + "..."
		}
		lines = append(lines, fmt.Sprintf("%s: %s", strings.ToUpper(string(m.Role)), content))
	}
	text := strings.Join(lines, "\n\n")
	if len(text) > totalInputCharCap {
		text = text[:totalInputCharCap] + "\n\n[...truncated...]"
	}
	return text
}

// SummaryMessage builds the synthesized system message a store should
// insert in place of a compacted span, timestamped at t (the earliest
// timestamp among the replaced messages).
func SummaryMessage(summary string, t time.Time) agent.Message {
	return agent.Message{
		Role:      agent.RoleSystem,
		Content:   "# Previous Conversation Summary\n" + summary,
		Metadata:  &agent.Metadata{Kind: agent.MetaCompactionSummary},
		CreatedAt: t,
	}
}

package provider

import "github.com/riyogarta/synebot/internal/agent"

const orphanToolCallsNotice = "[tool calls without results — trimmed]"

// Sanitize repairs a message stream before it is handed to a strict
// backend that rejects unmatched tool_use/tool_result pairs — the kind of
// damage trimming or compaction can introduce by cutting a history span
// mid-round. It is idempotent: Sanitize(Sanitize(x)) == Sanitize(x).
//
// Steps, in order:
//  1. Pair each assistant tool_use block with the immediately following
//     tool message sharing the same tool_call_id.
//  2. Demote orphan assistant tool_use messages (no matching tool result
//     follows) to plain text.
//  3. Drop orphan tool_result messages (no preceding tool_use).
//  4. Merge consecutive same-role messages into one.
func Sanitize(messages []agent.Message) []agent.Message {
	paired := demoteOrphanToolCalls(messages)
	paired = dropOrphanToolResults(paired)
	return mergeConsecutiveSameRole(paired)
}

func demoteOrphanToolCalls(messages []agent.Message) []agent.Message {
	out := make([]agent.Message, 0, len(messages))
	for i, m := range messages {
		if m.Role != agent.RoleAssistant || m.Metadata == nil || m.Metadata.Kind != agent.MetaToolCalls {
			out = append(out, m)
			continue
		}

		pending := make(map[string]agent.ToolCallRequest, len(m.Metadata.ToolCalls))
		for _, tc := range m.Metadata.ToolCalls {
			pending[tc.ID] = tc
		}
		for j := i + 1; j < len(messages) && len(pending) > 0; j++ {
			next := messages[j]
			if next.Role != agent.RoleTool || next.Metadata == nil || next.Metadata.Kind != agent.MetaToolResult {
				break
			}
			delete(pending, next.Metadata.ToolCallID)
		}

		if len(pending) == 0 {
			out = append(out, m)
			continue
		}

		demoted := m
		content := m.Content
		if content != "" {
			content += "\n"
		}
		content += orphanToolCallsNotice
		demoted.Content = content
		demoted.Metadata = nil
		out = append(out, demoted)
	}
	return out
}

func dropOrphanToolResults(messages []agent.Message) []agent.Message {
	open := make(map[string]bool)
	out := make([]agent.Message, 0, len(messages))

	for _, m := range messages {
		if m.Role == agent.RoleAssistant && m.Metadata != nil && m.Metadata.Kind == agent.MetaToolCalls {
			for _, tc := range m.Metadata.ToolCalls {
				open[tc.ID] = true
			}
			out = append(out, m)
			continue
		}
		if m.Role == agent.RoleTool && m.Metadata != nil && m.Metadata.Kind == agent.MetaToolResult {
			if !open[m.Metadata.ToolCallID] {
				continue // orphan, drop
			}
			delete(open, m.Metadata.ToolCallID)
			out = append(out, m)
			continue
		}
		out = append(out, m)
	}
	return out
}

func mergeConsecutiveSameRole(messages []agent.Message) []agent.Message {
	if len(messages) == 0 {
		return messages
	}
	out := make([]agent.Message, 0, len(messages))
	out = append(out, messages[0])

	for _, m := range messages[1:] {
		last := &out[len(out)-1]
		if last.Role == m.Role && mergeable(last) && mergeable(&m) {
			last.Content = joinContent(last.Content, m.Content)
			continue
		}
		out = append(out, m)
	}
	return out
}

// mergeable reports whether a message may be folded into a neighbor of the
// same role. Tool-call/tool-result metadata carries identity that would be
// lost by a naive content-only merge, so such messages are never merged.
func mergeable(m *agent.Message) bool {
	return m.Metadata == nil || m.Metadata.Kind == agent.MetaNone
}

func joinContent(a, b string) string {
	if a == "" {
		return b
	}
	if b == "" {
		return a
	}
	return a + "\n" + b
}

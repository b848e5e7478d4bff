package conversation

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/access"
	"github.com/riyogarta/synebot/internal/agent"
)

// defaultRecallLimit bounds how many memories Recall contributes to a
// single turn's system message.
const defaultRecallLimit = 5

// BuildBasePrompt assembles the persistent portion of a session's system
// prompt: the stored rules (the "soul"/identity layer a manage_rule call
// edits), the ability guide section, and — in a group chat — the access
// degradation notice. Rebuilt by RefreshSystemPrompts whenever rules,
// abilities, or config change, so no restart is required to pick up an
// edit.
func BuildBasePrompt(ctx context.Context, store Store, abilityRegistry *abilities.Registry, isGroup bool) (string, error) {
	rules, err := store.ListRules(ctx)
	if err != nil {
		return "", fmt.Errorf("conversation: load rules: %w", err)
	}

	var b strings.Builder
	writeRuleSection(&b, rules)

	if abilityRegistry != nil {
		guide := abilityRegistry.Guide()
		if len(guide) > 0 {
			b.WriteString("\n\n# Abilities\n")
			b.WriteString(strings.Join(guide, "\n"))
		}
	}

	if isGroup {
		b.WriteString("\n\n")
		b.WriteString(access.GroupRestrictionNotice)
	}

	return b.String(), nil
}

// writeRuleSection renders every persisted rule, core identity rules
// first (by the access.ProtectedRulePrefixes convention), then the rest
// in name order for determinism.
func writeRuleSection(b *strings.Builder, rules map[string]string) {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		pi, pj := access.IsProtectedRule(names[i]), access.IsProtectedRule(names[j])
		if pi != pj {
			return pi
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		content := strings.TrimSpace(rules[name])
		if content == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(content)
	}
}

// renderMemories formats a turn's recalled memories for inclusion in the
// system message the Engine builds per turn.
func renderMemories(recalled []agent.Recalled) string {
	if len(recalled) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\n# Relevant memories\n")
	for _, r := range recalled {
		b.WriteString(fmt.Sprintf("- (%s) %s\n", r.Memory.Category, r.Memory.Content))
	}
	return b.String()
}

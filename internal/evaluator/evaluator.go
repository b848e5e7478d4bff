// Package evaluator implements the auto-capture Memory Evaluator: a
// low-temperature classification call that decides whether a user message
// is worth turning into a long-term memory. Grounded on the Python
// original's evaluator.py — the prompt, quick-filter set, and STORE|...
// wire format are carried over verbatim; the "local model variant" the
// original wired as a bespoke Ollama HTTP call is instead just another
// provider.ChatProvider here, since internal/provider/ollama already
// implements that interface.
package evaluator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/provider"
)

const evaluatePrompt = `You are a memory evaluator. Analyze the user's message and determine if it contains information worth storing as a long-term memory.

STORE when the user states:
- Personal facts (name, age, job, location, family)
- Preferences (likes, dislikes, habits)
- Important events or milestones
- Decisions or commitments
- Lessons learned
- Configuration or technical setup notes
- Health information
- Relationships (friends, family, colleagues)

DO NOT STORE:
- Casual greetings ("hi", "thanks", "ok")
- Questions without new information ("what time is it?")
- Temporary/transient info ("I'm going to the store now")
- Assistant suggestions (only store what USER confirms)
- Things that are already common knowledge
- Vague statements without concrete info
- Commands or instructions to the assistant ("check this", "do that")
- Task-level requests ("make a PDF", "fix this bug", "update the code")
- File names, code fixes, or debugging details (these are session-specific, not long-term facts)
- Technical troubleshooting steps ("run sudo apt install X", "restart the service")
- One-time confirmations ("that works now", "send_file confirmed working")
- Scheduler/cron task details (times, reminders) — these belong in the scheduler, not memory

IMPORTANT — conflict resolution:
When the user states something that UPDATES previous info (e.g. "I moved to Bandung" when we stored "lives in Jakarta"), extract the LATEST fact. The storage engine will automatically find and update the old memory. Just extract the new content accurately.

Reply with EXACTLY one line:
- SKIP
- STORE|category|importance|content

Categories: fact, preference, event, lesson, decision, health, relationship, config
Importance: 0.3 (low) to 0.9 (critical)`

const (
	minMessageChars    = 12
	maxBareQuestionLen = 6
)

var skipPhrases = map[string]bool{
	"ok": true, "oke": true, "okay": true, "thanks": true, "thank you": true,
	"terima kasih": true, "makasih": true, "hi": true, "halo": true,
	"hello": true, "hey": true, "lanjut": true, "next": true, "yes": true,
	"no": true, "ya": true, "tidak": true, "gak": true, "nggak": true,
	"yep": true, "nope": true, "good": true, "nice": true, "cool": true,
	"bagus": true, "sip": true,
}

var explicitRememberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b(ingat|inget|catat|simpan|remember|memorize|store|save)\b.*\b(ini|this|it|itu)\b`),
	regexp.MustCompile(`\b(ini|this)\b.*\b(ingat|inget|catat|simpan|remember|memorize)\b`),
	regexp.MustCompile(`^(ingat|inget|catat|simpan|remember|memorize)[:\s]`),
	regexp.MustCompile(`\bjangan (lupa|lupakan)\b`),
	regexp.MustCompile(`\bdon.?t forget\b`),
	regexp.MustCompile(`\bnote that\b`),
}

// Result is a classified message worth storing.
type Result struct {
	Category   string
	Importance float64
	Content    string
	Permanent  bool
}

// Evaluator classifies user messages via a chat backend. Any
// provider.ChatProvider works, including internal/provider/ollama — so
// a local-model deployment is just an Evaluator built over a different
// backend, not a special code path.
type Evaluator struct {
	chat provider.ChatProvider
}

// New builds an Evaluator over the given classification backend.
func New(chat provider.ChatProvider) *Evaluator {
	return &Evaluator{chat: chat}
}

// Evaluate classifies userMessage. Returns (nil, nil) for SKIP — whether
// from a quick filter or the classifier itself — and a non-nil error only
// for a failed classification call; a malformed classifier reply is
// treated as SKIP, not an error.
func (e *Evaluator) Evaluate(ctx context.Context, userMessage string) (*Result, error) {
	if quickSkip(userMessage) {
		return nil, nil
	}

	resp, err := e.chat.Chat(ctx, []agent.Message{
		{Role: agent.RoleSystem, Content: evaluatePrompt},
		{Role: agent.RoleUser, Content: fmt.Sprintf("User message: %q", userMessage)},
	}, provider.ChatOptions{Temperature: 0.1})
	if err != nil {
		return nil, fmt.Errorf("evaluator: classify: %w", err)
	}

	result := parseClassification(resp.Content)
	if result == nil {
		return nil, nil
	}
	result.Permanent = isExplicitRemember(userMessage)
	return result, nil
}

func quickSkip(message string) bool {
	stripped := strings.ToLower(strings.TrimSpace(message))
	if len(stripped) < minMessageChars {
		return true
	}
	if skipPhrases[stripped] {
		return true
	}
	if strings.HasSuffix(stripped, "?") {
		if len(strings.Fields(stripped)) <= maxBareQuestionLen {
			return true
		}
	}
	return false
}

func parseClassification(raw string) *Result {
	line := strings.TrimSpace(raw)
	if strings.HasPrefix(line, "SKIP") {
		return nil
	}
	if !strings.HasPrefix(line, "STORE|") {
		return nil
	}

	parts := strings.SplitN(line, "|", 4)
	if len(parts) != 4 {
		return nil
	}

	importance, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
	if err != nil {
		importance = 0.5
	}
	importance = agent.ClampImportance(importance)

	content := strings.TrimSpace(parts[3])
	if content == "" {
		return nil
	}

	return &Result{
		Category:   strings.TrimSpace(parts[1]),
		Importance: importance,
		Content:    content,
	}
}

func isExplicitRemember(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range explicitRememberPatterns {
		if p.MatchString(lower) {
			return true
		}
	}
	return false
}

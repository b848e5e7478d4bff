package contextwindow

import (
	"strings"
	"testing"

	"github.com/riyogarta/synebot/internal/agent"
)

func TestCountTextFallsBackToCharHeuristicWithoutEncoder(t *testing.T) {
	c := &Counter{encoder: nil}
	got := c.CountText(strings.Repeat("a", 35))
	want := int(35.0/charsPerToken) + 1
	if got != want {
		t.Errorf("CountText() = %d, want %d", got, want)
	}
}

func TestCountMessagesIncludesPerMessageOverhead(t *testing.T) {
	c := &Counter{encoder: nil}
	msgs := []agent.Message{
		{Role: agent.RoleUser, Content: "hi"},
	}
	got := c.CountMessages(msgs)
	want := perMessageOverhead + c.CountText("hi")
	if got != want {
		t.Errorf("CountMessages() = %d, want %d", got, want)
	}
}

func TestBudgetUseRespectsAvailableSpace(t *testing.T) {
	b := NewBudget(100, 10)
	if !b.Use(80) {
		t.Fatal("expected Use(80) to succeed within a 90-token available budget")
	}
	if b.Use(20) {
		t.Fatal("expected Use(20) to fail once only 10 tokens remain")
	}
	if b.Available() != 10 {
		t.Errorf("Available() = %d, want 10", b.Available())
	}
}

func TestBudgetResetZeroesUsed(t *testing.T) {
	b := NewBudget(100, 0)
	b.Use(50)
	b.Reset()
	if b.GetUsage().Used != 0 {
		t.Errorf("expected used to reset to 0, got %d", b.GetUsage().Used)
	}
}

func TestBudgetShouldCompactAtNinetyPercent(t *testing.T) {
	b := NewBudget(100, 0)
	b.Use(89)
	if b.ShouldCompact() {
		t.Fatal("expected ShouldCompact false below 90%")
	}
	b.Use(1)
	if !b.ShouldCompact() {
		t.Fatal("expected ShouldCompact true at 90%")
	}
}

func TestSplitDividesAvailableIntoRatios(t *testing.T) {
	sub := Split(1000, 0)
	if sub.System != 150 {
		t.Errorf("System = %d, want 150", sub.System)
	}
	if sub.Memory != 100 {
		t.Errorf("Memory = %d, want 100", sub.Memory)
	}
	if sub.History != 650 {
		t.Errorf("History = %d, want 650", sub.History)
	}
}

func TestTrimContextKeepsSystemAndLastUserWhenHistoryOverflows(t *testing.T) {
	c := &Counter{encoder: nil}
	msgs := []agent.Message{
		{Role: agent.RoleSystem, Content: "be helpful"},
		{Role: agent.RoleUser, Content: strings.Repeat("old ", 200)},
		{Role: agent.RoleAssistant, Content: strings.Repeat("old reply ", 200)},
		{Role: agent.RoleUser, Content: "final question"},
	}

	out := TrimContext(c, msgs, 1000, 0)

	if len(out) != 2 {
		t.Fatalf("expected system + final user only, got %d messages", len(out))
	}
	if out[0].Role != agent.RoleSystem {
		t.Errorf("expected first kept message to be system, got %v", out[0].Role)
	}
	if out[len(out)-1].Content != "final question" {
		t.Errorf("expected last message preserved verbatim, got %q", out[len(out)-1].Content)
	}
}

func TestTrimContextTruncatesOversizedSystemPrompt(t *testing.T) {
	c := &Counter{encoder: nil}
	longSystem := strings.Repeat("x", 1000)
	msgs := []agent.Message{
		{Role: agent.RoleSystem, Content: longSystem},
		{Role: agent.RoleUser, Content: "hi"},
	}

	out := TrimContext(c, msgs, 10, 1000)

	if len(out[0].Content) >= len(longSystem) {
		t.Errorf("expected system prompt to be truncated, got length %d", len(out[0].Content))
	}
}

func TestTrimContextKeepsRecentHistoryThatFits(t *testing.T) {
	c := &Counter{encoder: nil}
	msgs := []agent.Message{
		{Role: agent.RoleSystem, Content: "sys"},
		{Role: agent.RoleUser, Content: "first"},
		{Role: agent.RoleAssistant, Content: "second"},
		{Role: agent.RoleUser, Content: "third"},
	}

	out := TrimContext(c, msgs, 1000, 1000)

	if len(out) != 4 {
		t.Fatalf("expected all messages to fit within a generous budget, got %d", len(out))
	}
}

package telegram

import (
	"testing"

	"github.com/go-telegram/bot/models"
)

func TestSplitMediaSuffix(t *testing.T) {
	cases := []struct {
		name         string
		in           string
		wantCaption  string
		wantMediaPth string
	}{
		{"no media", "just plain text", "just plain text", ""},
		{"trailing media", "here's your chart\n\nMEDIA: /tmp/chart.png", "here's your chart", "/tmp/chart.png"},
		{"bare media", "MEDIA: /tmp/report.pdf", "", "/tmp/report.pdf"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			caption, path := splitMediaSuffix(tc.in)
			if caption != tc.wantCaption || path != tc.wantMediaPth {
				t.Errorf("splitMediaSuffix(%q) = (%q, %q), want (%q, %q)", tc.in, caption, path, tc.wantCaption, tc.wantMediaPth)
			}
		})
	}
}

func TestIsImageExt(t *testing.T) {
	for _, ext := range []string{".png", ".jpg", ".jpeg", ".gif", ".webp"} {
		if !isImageExt(ext) {
			t.Errorf("expected %q to be treated as an image extension", ext)
		}
	}
	for _, ext := range []string{".pdf", ".txt", ".zip", ""} {
		if isImageExt(ext) {
			t.Errorf("expected %q to not be treated as an image extension", ext)
		}
	}
}

func TestSplitForTelegram(t *testing.T) {
	short := "hello world"
	if got := splitForTelegram(short, 4096); len(got) != 1 || got[0] != short {
		t.Errorf("expected short text to pass through as a single chunk, got %v", got)
	}

	long := ""
	for i := 0; i < 500; i++ {
		long += "word "
	}
	chunks := splitForTelegram(long, 100)
	if len(chunks) < 2 {
		t.Fatalf("expected long text to be split into multiple chunks, got %d", len(chunks))
	}
	for _, c := range chunks {
		if len(c) > 100 {
			t.Errorf("chunk exceeds max length: %d > 100", len(c))
		}
	}
	reassembled := ""
	for i, c := range chunks {
		if i > 0 {
			reassembled += " "
		}
		reassembled += c
	}
	if got, want := len(reassembled), len(long); got < want-len(chunks) {
		t.Errorf("reassembled text lost more than whitespace: got %d chars, want around %d", got, want)
	}
}

func TestCheckAndStripMention(t *testing.T) {
	mentioned, stripped := checkAndStripMention("hey @mybot what's the weather", "mybot", "")
	if !mentioned {
		t.Error("expected @username mention to be detected")
	}
	if stripped != "hey what's the weather" {
		t.Errorf("unexpected stripped text: %q", stripped)
	}

	mentioned, stripped = checkAndStripMention("synebot, what time is it?", "", "synebot")
	if !mentioned {
		t.Error("expected trigger name mention to be detected")
	}
	if stripped != "what time is it?" {
		t.Errorf("unexpected stripped text: %q", stripped)
	}

	mentioned, stripped = checkAndStripMention("no mention here", "mybot", "synebot")
	if mentioned {
		t.Error("expected no mention to be detected")
	}
	if stripped != "no mention here" {
		t.Errorf("unexpected stripped text for no-mention case: %q", stripped)
	}
}

func TestIsGroupChat(t *testing.T) {
	if !isGroupChat(models.Chat{Type: "group"}) {
		t.Error("expected a group chat to be detected")
	}
	if !isGroupChat(models.Chat{Type: "supergroup"}) {
		t.Error("expected a supergroup chat to be detected")
	}
	if isGroupChat(models.Chat{Type: "private"}) {
		t.Error("expected a private chat to not be detected as a group")
	}
}

func TestIsReplyToBot(t *testing.T) {
	me := &models.User{ID: 42}
	reply := &models.Message{ReplyToMessage: &models.Message{From: &models.User{ID: 42}}}
	if !isReplyToBot(reply, me) {
		t.Error("expected a reply to the bot's own message to be detected")
	}

	notReply := &models.Message{}
	if isReplyToBot(notReply, me) {
		t.Error("expected a message with no reply-to to not be treated as a reply to the bot")
	}

	replyToOther := &models.Message{ReplyToMessage: &models.Message{From: &models.User{ID: 99}}}
	if isReplyToBot(replyToOther, me) {
		t.Error("expected a reply to a different user to not be treated as a reply to the bot")
	}
}

func TestDisplayFallback(t *testing.T) {
	if got := displayFallback(&models.User{FirstName: "Ada"}); got != "Ada" {
		t.Errorf("expected first name to take priority, got %q", got)
	}
	if got := displayFallback(&models.User{Username: "adalovelace"}); got != "adalovelace" {
		t.Errorf("expected username fallback, got %q", got)
	}
	if got := displayFallback(&models.User{ID: 7}); got != "7" {
		t.Errorf("expected numeric id fallback, got %q", got)
	}
}

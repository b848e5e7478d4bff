package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/riyogarta/synebot/internal/agent"
)

type fakeStore struct {
	users      map[string]agent.User
	nextUserID int64
	levels     map[int64]agent.AccessLevel
	rules      map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:  make(map[string]agent.User),
		levels: make(map[int64]agent.AccessLevel),
		rules:  make(map[string]string),
	}
}

func (s *fakeStore) GetOrCreateUser(ctx context.Context, platform, platformID, name string) (agent.User, bool, error) {
	key := platform + ":" + platformID
	if u, ok := s.users[key]; ok {
		return u, false, nil
	}
	s.nextUserID++
	u := agent.User{ID: s.nextUserID, Platform: platform, PlatformID: platformID, Name: name, AccessLevel: agent.AccessPublic}
	s.users[key] = u
	return u, true, nil
}

func (s *fakeStore) CountUsers(ctx context.Context) (int, error) {
	return len(s.users), nil
}

func (s *fakeStore) SetAccessLevel(ctx context.Context, userID int64, level agent.AccessLevel) error {
	s.levels[userID] = level
	for key, u := range s.users {
		if u.ID == userID {
			u.AccessLevel = level
			s.users[key] = u
		}
	}
	return nil
}

func (s *fakeStore) ListRules(ctx context.Context) (map[string]string, error) {
	return s.rules, nil
}

func TestEnsureUser_FirstUserPromotedToOwner(t *testing.T) {
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local"}

	user, err := r.ensureUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.AccessLevel != agent.AccessOwner {
		t.Errorf("expected the first user to be promoted to owner, got %v", user.AccessLevel)
	}
}

func TestEnsureUser_SecondUserStaysPublic(t *testing.T) {
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local"}

	if _, err := r.ensureUser(context.Background(), "alice"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.ensureUser(context.Background(), "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.AccessLevel != agent.AccessPublic {
		t.Errorf("expected the second user to remain public, got %v", second.AccessLevel)
	}
}

func TestEnsureUser_ReusesExistingUser(t *testing.T) {
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local"}

	first, err := r.ensureUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := r.ensureUser(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same user row to be reused, got ids %d and %d", first.ID, second.ID)
	}
}

func TestHandleCommand_Help(t *testing.T) {
	var out bytes.Buffer
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local", out: &out}

	if done := r.handleCommand(context.Background(), "/help"); done {
		t.Error("expected /help to not end the REPL")
	}
	if !strings.Contains(out.String(), "/status") {
		t.Errorf("expected help text to list commands, got %q", out.String())
	}
}

func TestHandleCommand_Exit(t *testing.T) {
	var out bytes.Buffer
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local", out: &out}

	if done := r.handleCommand(context.Background(), "/exit"); !done {
		t.Error("expected /exit to end the REPL")
	}
}

func TestHandleCommand_IdentityWithNoRules(t *testing.T) {
	var out bytes.Buffer
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local", out: &out}

	r.handleCommand(context.Background(), "/identity")
	if !strings.Contains(out.String(), "No identity rules") {
		t.Errorf("expected a no-rules notice, got %q", out.String())
	}
}

func TestHandleCommand_IdentityWithRules(t *testing.T) {
	var out bytes.Buffer
	store := newFakeStore()
	store.rules["core_purpose"] = "help the user"
	r := &REPL{store: store, chatID: "local", out: &out}

	r.handleCommand(context.Background(), "/identity")
	if !strings.Contains(out.String(), "core_purpose") {
		t.Errorf("expected identity output to list rule names, got %q", out.String())
	}
}

func TestHandleCommand_Unknown(t *testing.T) {
	var out bytes.Buffer
	store := newFakeStore()
	r := &REPL{store: store, chatID: "local", out: &out}

	r.handleCommand(context.Background(), "/bogus")
	if !strings.Contains(out.String(), "Unknown command") {
		t.Errorf("expected an unknown-command notice, got %q", out.String())
	}
}

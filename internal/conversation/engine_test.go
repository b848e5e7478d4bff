package conversation

import (
	"context"
	"fmt"
	"testing"

	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/config"
	"github.com/riyogarta/synebot/internal/contextwindow"
	"github.com/riyogarta/synebot/internal/provider"
	"github.com/riyogarta/synebot/internal/tools"
)

// fakeStore is a minimal in-memory conversation.Store, enough to drive a
// full turn without a real database.
type fakeStore struct {
	sessions map[int64]agent.SessionRecord
	byChat   map[string]int64
	messages map[int64][]agent.Message
	users    map[int64]agent.User
	rules    map[string]string
	config   map[string]string
	nextID   int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: map[int64]agent.SessionRecord{},
		byChat:   map[string]int64{},
		messages: map[int64][]agent.Message{},
		users:    map[int64]agent.User{},
		rules:    map[string]string{},
		config:   map[string]string{},
	}
}

func (s *fakeStore) GetOrCreateSession(ctx context.Context, platform, platformChatID string, userID int64) (agent.SessionRecord, error) {
	key := platform + ":" + platformChatID
	if id, ok := s.byChat[key]; ok {
		return s.sessions[id], nil
	}
	s.nextID++
	rec := agent.SessionRecord{ID: s.nextID, Platform: platform, PlatformChatID: platformChatID, UserID: userID, Status: agent.SessionActive}
	s.sessions[rec.ID] = rec
	s.byChat[key] = rec.ID
	return rec, nil
}

func (s *fakeStore) GetSession(ctx context.Context, id int64) (agent.SessionRecord, bool, error) {
	rec, ok := s.sessions[id]
	return rec, ok, nil
}

func (s *fakeStore) LoadMessages(ctx context.Context, sessionID int64) ([]agent.Message, error) {
	return append([]agent.Message{}, s.messages[sessionID]...), nil
}

func (s *fakeStore) AppendMessage(ctx context.Context, sessionID int64, msg agent.Message) (int64, error) {
	s.messages[sessionID] = append(s.messages[sessionID], msg)
	return int64(len(s.messages[sessionID])), nil
}

func (s *fakeStore) ArchiveSession(ctx context.Context, sessionID int64) error {
	rec := s.sessions[sessionID]
	rec.Status = agent.SessionArchived
	s.sessions[sessionID] = rec
	return nil
}

func (s *fakeStore) GetOrCreateUser(ctx context.Context, platform, platformID, name string) (agent.User, bool, error) {
	for _, u := range s.users {
		if u.Platform == platform && u.PlatformID == platformID {
			return u, false, nil
		}
	}
	id := int64(len(s.users) + 1)
	u := agent.User{ID: id, Platform: platform, PlatformID: platformID, Name: name, AccessLevel: agent.AccessPublic}
	s.users[id] = u
	return u, true, nil
}

func (s *fakeStore) GetUser(ctx context.Context, id int64) (agent.User, bool, error) {
	u, ok := s.users[id]
	return u, ok, nil
}

func (s *fakeStore) GetOrCreateGroup(ctx context.Context, platform, platformGroupID string) (agent.Group, bool, error) {
	return agent.Group{}, false, nil
}

func (s *fakeStore) GetGroup(ctx context.Context, id int64) (agent.Group, bool, error) {
	return agent.Group{}, false, nil
}

func (s *fakeStore) GetRule(ctx context.Context, name string) (string, bool, error) {
	v, ok := s.rules[name]
	return v, ok, nil
}

func (s *fakeStore) ListRules(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.rules))
	for k, v := range s.rules {
		out[k] = v
	}
	return out, nil
}

func (s *fakeStore) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	v, ok := s.config[key]
	return v, ok, nil
}

func (s *fakeStore) AllConfigValues(ctx context.Context) (map[string]string, error) {
	out := make(map[string]string, len(s.config))
	for k, v := range s.config {
		out[k] = v
	}
	return out, nil
}

// fakeAbilityStore is the minimal abilities.Store a test Registry needs.
// No test in this package registers an ability, so these are never
// actually exercised, but abilities.New requires a non-nil Store.
type fakeAbilityStore struct{}

func (fakeAbilityStore) InsertAbility(ctx context.Context, a agent.AbilityRecord) (int64, error) {
	return 1, nil
}
func (fakeAbilityStore) ListAbilities(ctx context.Context) ([]agent.AbilityRecord, error) {
	return nil, nil
}
func (fakeAbilityStore) GetAbilityByName(ctx context.Context, name string) (agent.AbilityRecord, bool, error) {
	return agent.AbilityRecord{}, false, nil
}
func (fakeAbilityStore) SetAbilityEnabled(ctx context.Context, name string, enabled bool) error {
	return nil
}
func (fakeAbilityStore) RecordAbilityFailure(ctx context.Context, name string) (agent.AbilityRecord, error) {
	return agent.AbilityRecord{}, nil
}
func (fakeAbilityStore) ResetAbilityFailures(ctx context.Context, name string) error { return nil }

// fakeChat is a scriptable provider.ChatProvider: each call to Chat pops
// the next entry off responses, or repeats the last one if it runs out.
type fakeChat struct {
	responses []provider.ChatResponse
	calls     int
	caps      provider.Capabilities
}

func (f *fakeChat) Chat(ctx context.Context, messages []agent.Message, opts provider.ChatOptions) (provider.ChatResponse, error) {
	idx := f.calls
	if idx >= len(f.responses) {
		idx = len(f.responses) - 1
	}
	f.calls++
	if idx < 0 {
		return provider.ChatResponse{}, fmt.Errorf("fakeChat: no scripted response")
	}
	return f.responses[idx], nil
}

func (f *fakeChat) Capabilities() provider.Capabilities {
	if f.caps.ContextWindow == 0 {
		return provider.Capabilities{Name: "fake", ContextWindow: 100000, ReservedOutputTokens: 4000}
	}
	return f.caps
}

func testRuntimeConfig(store Store) *RuntimeConfig {
	return NewRuntimeConfig(store, &config.Config{
		Session:   config.SessionConfig{MaxToolRounds: 4},
		Subagents: config.SubagentsConfig{},
		Memory:    config.MemoryConfig{AutoCapture: false},
	})
}

func newTestEngine(store *fakeStore, chat *fakeChat, toolReg *tools.Registry) *Engine {
	if toolReg == nil {
		toolReg = tools.NewRegistry(nil, nil)
	}
	abilityReg := abilities.New(fakeAbilityStore{}, zap.NewNop())
	return NewEngine(
		store,
		chat,
		toolReg,
		abilityReg,
		contextwindow.NewCounter(),
		nil, // compactor
		nil, // memory engine
		nil, // evaluator
		testRuntimeConfig(store),
		zap.NewNop(),
	)
}

func newTestSession(store *fakeStore, id int64) *agent.Session {
	return agent.NewSession(agent.SessionRecord{ID: id, Platform: "cli", PlatformChatID: "c1", Status: agent.SessionActive})
}

func TestHandleTurn_NoToolCalls(t *testing.T) {
	store := newFakeStore()
	chat := &fakeChat{responses: []provider.ChatResponse{{Content: "hello there"}}}
	eng := newTestEngine(store, chat, nil)
	sess := newTestSession(store, 1)
	user := agent.User{ID: 1, AccessLevel: agent.AccessFamily}

	reply, err := eng.HandleTurn(context.Background(), sess, user, false, "hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "hello there" {
		t.Errorf("expected %q, got %q", "hello there", reply)
	}
	if chat.calls != 1 {
		t.Errorf("expected exactly one chat call, got %d", chat.calls)
	}
	if got := len(store.messages[sess.Record.ID]); got != 2 {
		t.Errorf("expected 2 persisted messages (user + assistant), got %d", got)
	}
}

func TestHandleTurn_OneToolRoundThenCompletion(t *testing.T) {
	store := newFakeStore()
	toolReg := tools.NewRegistry(nil, nil)
	toolReg.Register(&tools.Tool{
		Name:        "echo",
		Description: "echoes",
		Parameters:  &tools.JSONSchema{Type: "object", Properties: map[string]*tools.JSONSchema{"text": {Type: "string"}}},
		ScrubLevel:  tools.ScrubNone,
		Enabled:     true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "echoed: " + args["text"].(string), nil
		},
	})

	chat := &fakeChat{responses: []provider.ChatResponse{
		{
			Content:   "calling echo",
			ToolCalls: []agent.ToolCallRequest{{ID: "call1", Name: "echo", Args: map[string]interface{}{"text": "ping"}}},
		},
		{Content: "done: echoed: ping"},
	}}
	eng := newTestEngine(store, chat, toolReg)
	sess := newTestSession(store, 2)
	user := agent.User{ID: 1, AccessLevel: agent.AccessFamily}

	reply, err := eng.HandleTurn(context.Background(), sess, user, false, "please echo ping", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "done: echoed: ping" {
		t.Errorf("unexpected reply: %q", reply)
	}
	if chat.calls != 2 {
		t.Errorf("expected 2 chat calls (one round + completion), got %d", chat.calls)
	}

	msgs := store.messages[sess.Record.ID]
	if len(msgs) != 4 {
		t.Fatalf("expected 4 persisted messages (user, assistant-tool-call, tool-result, assistant), got %d", len(msgs))
	}
	if msgs[2].Role != agent.RoleTool || msgs[2].Content != "echoed: ping" {
		t.Errorf("unexpected tool result message: %+v", msgs[2])
	}
}

func TestHandleTurn_RoundExhaustionForcesSummary(t *testing.T) {
	store := newFakeStore()
	toolReg := tools.NewRegistry(nil, nil)
	toolReg.Register(&tools.Tool{
		Name:        "loop",
		Description: "never satisfied",
		Parameters:  &tools.JSONSchema{Type: "object"},
		ScrubLevel:  tools.ScrubNone,
		Enabled:     true,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			return "still working", nil
		},
	})

	loopingCall := provider.ChatResponse{
		Content:   "working on it",
		ToolCalls: []agent.ToolCallRequest{{ID: "call", Name: "loop", Args: map[string]interface{}{}}},
	}
	chat := &fakeChat{responses: []provider.ChatResponse{loopingCall, loopingCall, loopingCall, loopingCall, loopingCall, {Content: "here is what I found"}}}
	eng := newTestEngine(store, chat, toolReg)
	sess := newTestSession(store, 3)
	user := agent.User{ID: 1, AccessLevel: agent.AccessOwner}

	reply, err := eng.HandleTurn(context.Background(), sess, user, false, "keep looping", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != "here is what I found"+roundExhaustionNotice {
		t.Errorf("expected forced-summary reply with notice suffix, got %q", reply)
	}
}

func TestHandleTurn_AuthFailureShortCircuits(t *testing.T) {
	store := newFakeStore()
	chat := &fakeChat{responses: []provider.ChatResponse{{AuthFailed: true}}}
	eng := newTestEngine(store, chat, nil)
	sess := newTestSession(store, 4)
	user := agent.User{ID: 1, AccessLevel: agent.AccessOwner}

	reply, err := eng.HandleTurn(context.Background(), sess, user, false, "hi", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply != authFailedNotice {
		t.Errorf("expected auth-failed notice, got %q", reply)
	}

	msgs := store.messages[sess.Record.ID]
	if len(msgs) != 2 || msgs[1].Content != authFailedNotice {
		t.Fatalf("expected the auth-failed notice to be persisted as the assistant turn, got %+v", msgs)
	}
}

func TestSplitSystemMessages(t *testing.T) {
	in := []agent.Message{
		{Role: agent.RoleSystem, Content: "part one"},
		{Role: agent.RoleUser, Content: "hi"},
		{Role: agent.RoleSystem, Content: "part two"},
		{Role: agent.RoleAssistant, Content: "hello"},
	}
	rest, system := splitSystemMessages(in)
	if len(rest) != 2 {
		t.Fatalf("expected 2 non-system messages, got %d", len(rest))
	}
	if system != "part one\n\npart two" {
		t.Errorf("unexpected joined system content: %q", system)
	}
}

func TestExtractMediaPath(t *testing.T) {
	cases := map[string]string{
		"plain text":                   "",
		"here it is\n\nMEDIA: /a/b.png": "/a/b.png",
		"MEDIA: /only/this.png":         "/only/this.png",
	}
	for in, want := range cases {
		if got := extractMediaPath(in); got != want {
			t.Errorf("extractMediaPath(%q) = %q, want %q", in, got, want)
		}
	}
}

package agent

import (
	"sync"
	"time"
)

// SessionStatus is the lifecycle state of a Session.
type SessionStatus string

const (
	SessionActive   SessionStatus = "active"
	SessionArchived SessionStatus = "archived"
)

// SessionRecord is the persisted shape of a session row.
type SessionRecord struct {
	ID             int64
	Platform       string
	PlatformChatID string
	UserID         int64
	Status         SessionStatus
	MessageCount   int
	Summary        string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Session is the in-memory, mutex-guarded conversation state owned
// exclusively by the Conversation Engine. It is the sole owner of its
// message cache and its ThinkingBudget setting; the Conversation Manager
// holds only a reference to it.
type Session struct {
	mu sync.Mutex

	Record SessionRecord

	// cache is the in-memory mirror of persisted messages for this session.
	// Eagerly loaded on first access; appended to as turns are persisted.
	cache []Message

	// ThinkingBudget is the stored per-session extended-thinking token
	// budget. nil means "model default", 0 means "off".
	ThinkingBudget *int
}

// NewSession wraps a freshly loaded or created session record.
func NewSession(record SessionRecord) *Session {
	return &Session{Record: record}
}

// Lock/Unlock expose the session's mutex to the Conversation Engine so a
// full turn can run under a single critical section, guaranteeing no
// intra-turn parallelism and strict message ordering.
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Cache returns a copy of the in-memory message list.
func (s *Session) Cache() []Message {
	out := make([]Message, len(s.cache))
	copy(out, s.cache)
	return out
}

// SetCache replaces the in-memory message list wholesale (used after a
// fresh load from storage, e.g. post-compaction).
func (s *Session) SetCache(msgs []Message) {
	s.cache = msgs
}

// AppendCache appends a message to the in-memory cache. Callers must already
// hold the session lock.
func (s *Session) AppendCache(m Message) {
	s.cache = append(s.cache, m)
}

// CacheLen reports the number of messages currently cached.
func (s *Session) CacheLen() int {
	return len(s.cache)
}

// User is a registered caller of the bot, at some access tier.
type User struct {
	ID           int64
	Name         string
	Platform     string
	PlatformID   string
	AccessLevel  AccessLevel
	DisplayName  string
	Aliases      map[string]string // group_id -> alias; "" key is the default alias
	Preferences  map[string]string
	CreatedAt    time.Time
}

// Alias resolves the display alias for a user in a given group context,
// falling back to the default alias, then DisplayName, then Name.
func (u *User) Alias(groupID string) string {
	if alias, ok := u.Aliases[groupID]; ok && alias != "" {
		return alias
	}
	if alias, ok := u.Aliases[""]; ok && alias != "" {
		return alias
	}
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Name
}

// GroupPolicy gates whether unregistered groups may interact with the bot.
type GroupPolicy string

const (
	GroupPolicyAllowlist GroupPolicy = "allowlist"
	GroupPolicyOpen      GroupPolicy = "open"
)

// GroupAllowFrom restricts which users within an allowed group may trigger
// the agent.
type GroupAllowFrom string

const (
	AllowFromAll        GroupAllowFrom = "all"
	AllowFromRegistered GroupAllowFrom = "registered"
)

// Group is a chat group the bot has been added to.
type Group struct {
	ID              int64
	Platform        string
	PlatformGroupID string
	Enabled         bool
	RequireMention  bool
	AllowFrom       GroupAllowFrom
}

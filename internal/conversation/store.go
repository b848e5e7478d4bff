// Package conversation implements the Conversation Engine's turn loop,
// the Memory Evaluator's auto-capture hook, and the Conversation
// Manager that owns every live session and fans out channel-agnostic
// callbacks: a per-conversation mutex serializes a turn end to end, a
// sync.Map holds the live session registry, and every suspension point
// (provider calls, DB calls, tool/ability execution) takes a
// context.Context.
package conversation

import (
	"context"

	"github.com/riyogarta/synebot/internal/agent"
)

// Store is the slice of the persistence port the Engine and Manager need
// directly. It is declared narrowly, matching every other package's own
// convention, but its method set is exactly a subset of
// internal/storage.Store's signatures, so any concrete backend already
// satisfies it with no adapter.
type Store interface {
	GetOrCreateSession(ctx context.Context, platform, platformChatID string, userID int64) (agent.SessionRecord, error)
	GetSession(ctx context.Context, id int64) (agent.SessionRecord, bool, error)
	LoadMessages(ctx context.Context, sessionID int64) ([]agent.Message, error)
	AppendMessage(ctx context.Context, sessionID int64, msg agent.Message) (int64, error)
	ArchiveSession(ctx context.Context, sessionID int64) error

	GetOrCreateUser(ctx context.Context, platform, platformID, name string) (agent.User, bool, error)
	GetUser(ctx context.Context, id int64) (agent.User, bool, error)

	GetOrCreateGroup(ctx context.Context, platform, platformGroupID string) (agent.Group, bool, error)
	GetGroup(ctx context.Context, id int64) (agent.Group, bool, error)

	GetRule(ctx context.Context, name string) (content string, found bool, err error)
	ListRules(ctx context.Context) (map[string]string, error)

	GetConfigValue(ctx context.Context, key string) (value string, found bool, err error)
	AllConfigValues(ctx context.Context) (map[string]string, error)
}

// Package storage defines the persistence port: the full set of
// operations every other package needs from durable storage, assembled
// from the narrow per-consumer interfaces each package already declares
// (internal/compactor.Store, internal/memory.Store, internal/scheduler.Store,
// internal/subagent.Store, internal/tools/builtin's Config/User/Group/RuleStore)
// plus the session/user/group/ability CRUD the Conversation Engine and
// Manager need directly: one interface, two concrete backends (sqlite,
// postgres) behind it, rather than a third-party ORM or migration
// framework.
package storage

import (
	"context"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/compactor"
	"github.com/riyogarta/synebot/internal/memory"
	"github.com/riyogarta/synebot/internal/scheduler"
	"github.com/riyogarta/synebot/internal/subagent"
	"github.com/riyogarta/synebot/internal/tools/builtin"
)

// Store is the full persistence port. Every concrete backend
// (storage/sqlite, storage/postgres) implements this in full.
type Store interface {
	compactor.Store
	memory.Store
	scheduler.Store
	subagent.Store
	builtin.ConfigStore
	builtin.UserStore
	builtin.GroupStore
	builtin.RuleStore

	// Sessions. A session is keyed by (platform, platform chat id);
	// GetOrCreateSession is idempotent across restarts.
	GetOrCreateSession(ctx context.Context, platform, platformChatID string, userID int64) (agent.SessionRecord, error)
	GetSession(ctx context.Context, id int64) (agent.SessionRecord, bool, error)
	LoadMessages(ctx context.Context, sessionID int64) ([]agent.Message, error)
	AppendMessage(ctx context.Context, sessionID int64, msg agent.Message) (int64, error)
	ArchiveSession(ctx context.Context, sessionID int64) error

	// Users.
	GetOrCreateUser(ctx context.Context, platform, platformID, name string) (user agent.User, created bool, err error)
	GetUser(ctx context.Context, id int64) (agent.User, bool, error)
	CountUsers(ctx context.Context) (int, error)
	SetUserPreference(ctx context.Context, userID int64, key, value string) error

	// Groups.
	GetOrCreateGroup(ctx context.Context, platform, platformGroupID string) (group agent.Group, created bool, err error)
	GetGroup(ctx context.Context, id int64) (agent.Group, bool, error)

	// Config. SetConfig comes from builtin.ConfigStore; these round it out.
	GetConfigValue(ctx context.Context, key string) (value string, found bool, err error)
	AllConfigValues(ctx context.Context) (map[string]string, error)

	// Rules / soul / identity. SetRule/DeleteRule come from builtin.RuleStore.
	GetRule(ctx context.Context, name string) (content string, found bool, err error)
	ListRules(ctx context.Context) (map[string]string, error)

	// Abilities.
	InsertAbility(ctx context.Context, a agent.AbilityRecord) (int64, error)
	ListAbilities(ctx context.Context) ([]agent.AbilityRecord, error)
	GetAbilityByName(ctx context.Context, name string) (agent.AbilityRecord, bool, error)
	SetAbilityEnabled(ctx context.Context, name string, enabled bool) error
	RecordAbilityFailure(ctx context.Context, name string) (agent.AbilityRecord, error)
	ResetAbilityFailures(ctx context.Context, name string) error

	// Scheduled tasks. CreateTask/DueTasks/UpdateAfterRun/SetEnabled/Delete
	// come from scheduler.Store; ListTasks rounds it out for the task admin
	// CLI, which needs to see tasks regardless of enabled/due state.
	ListTasks(ctx context.Context) ([]scheduler.Task, error)

	// Close releases the underlying connection pool.
	Close() error
}

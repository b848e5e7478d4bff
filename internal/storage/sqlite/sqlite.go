// Package sqlite is the SQLite implementation of storage.Store, using
// modernc.org/sqlite (a pure-Go build with no cgo) behind database/sql,
// migrated by Migrator on Open.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"time"

	_ "modernc.org/sqlite"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/scheduler"
	"github.com/riyogarta/synebot/internal/subagent"
)

// Backend is the SQLite-backed storage.Store.
type Backend struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at dsn and applies
// all pending migrations.
func Open(ctx context.Context, dsn string) (*Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid SQLITE_BUSY races

	migrator, err := NewMigrator(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := migrator.MigrateUp(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}

	return &Backend{db: db}, nil
}

// Close releases the underlying connection pool.
func (b *Backend) Close() error {
	return b.db.Close()
}

// Query runs a single statement and returns its result set as strings,
// satisfying builtin.QueryRunner for the owner-only db_query tool. The
// caller is responsible for restricting sqlText to read-only statements.
func (b *Backend) Query(ctx context.Context, sqlText string) ([]string, [][]string, error) {
	rows, err := b.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, err
	}

	var out [][]string
	for rows.Next() {
		raw := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, err
		}
		row := make([]string, len(columns))
		for i, v := range raw {
			row[i] = stringifyCell(v)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, out, nil
}

func stringifyCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(t)
	default:
		return fmt.Sprint(t)
	}
}

// --- sessions ---------------------------------------------------------

func (b *Backend) GetOrCreateSession(ctx context.Context, platform, platformChatID string, userID int64) (agent.SessionRecord, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_chat_id, user_id, status, message_count, summary, created_at, updated_at
		 FROM sessions WHERE platform = ? AND platform_chat_id = ?`, platform, platformChatID)

	rec, err := scanSession(row)
	if err == nil {
		return rec, nil
	}
	if err != sql.ErrNoRows {
		return agent.SessionRecord{}, fmt.Errorf("sqlite: get session: %w", err)
	}

	now := time.Now()
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO sessions (platform, platform_chat_id, user_id, status, message_count, summary, created_at, updated_at)
		 VALUES (?, ?, ?, 'active', 0, '', ?, ?)`,
		platform, platformChatID, userID, now.Unix(), now.Unix())
	if err != nil {
		return agent.SessionRecord{}, fmt.Errorf("sqlite: create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return agent.SessionRecord{}, fmt.Errorf("sqlite: create session: %w", err)
	}
	return agent.SessionRecord{
		ID:             id,
		Platform:       platform,
		PlatformChatID: platformChatID,
		UserID:         userID,
		Status:         agent.SessionActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func (b *Backend) GetSession(ctx context.Context, id int64) (agent.SessionRecord, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_chat_id, user_id, status, message_count, summary, created_at, updated_at
		 FROM sessions WHERE id = ?`, id)
	rec, err := scanSession(row)
	if err == sql.ErrNoRows {
		return agent.SessionRecord{}, false, nil
	}
	if err != nil {
		return agent.SessionRecord{}, false, fmt.Errorf("sqlite: get session: %w", err)
	}
	return rec, true, nil
}

func scanSession(row *sql.Row) (agent.SessionRecord, error) {
	var rec agent.SessionRecord
	var status string
	var created, updated int64
	if err := row.Scan(&rec.ID, &rec.Platform, &rec.PlatformChatID, &rec.UserID, &status,
		&rec.MessageCount, &rec.Summary, &created, &updated); err != nil {
		return agent.SessionRecord{}, err
	}
	rec.Status = agent.SessionStatus(status)
	rec.CreatedAt = time.Unix(created, 0)
	rec.UpdatedAt = time.Unix(updated, 0)
	return rec, nil
}

func (b *Backend) ArchiveSession(ctx context.Context, sessionID int64) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE sessions SET status = 'archived', updated_at = ? WHERE id = ?`,
		time.Now().Unix(), sessionID)
	return err
}

// --- messages -----------------------------------------------------------

func (b *Backend) LoadMessages(ctx context.Context, sessionID int64) ([]agent.Message, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, metadata, created_at FROM messages
		 WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load messages: %w", err)
	}
	defer rows.Close()

	var out []agent.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *Backend) AppendMessage(ctx context.Context, sessionID int64, msg agent.Message) (int64, error) {
	metaJSON, err := agent.MarshalMetadata(msg.Metadata)
	if err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}
	content := agent.StripNulBytes(msg.Content)
	now := time.Now()

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(msg.Role), content, metaJSON, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = message_count + 1, updated_at = ? WHERE id = ?`,
		now.Unix(), sessionID); err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("sqlite: append message: %w", err)
	}
	return id, nil
}

func (b *Backend) CountMessages(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM messages WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

func (b *Backend) OldestMessages(ctx context.Context, sessionID int64, limit int) ([]agent.Message, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, metadata, created_at FROM messages
		 WHERE session_id = ? ORDER BY id ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: oldest messages: %w", err)
	}
	defer rows.Close()

	var out []agent.Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan message: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceWithSummary deletes the named messages and inserts a single
// compaction_summary system message in their place, within one transaction.
func (b *Backend) ReplaceWithSummary(ctx context.Context, sessionID int64, ids []int64, summary string, newMessageCount int) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: replace with summary: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	var earliest int64
	if err := tx.QueryRowContext(ctx,
		`SELECT MIN(created_at) FROM messages WHERE id IN (`+placeholders(len(ids))+`)`,
		int64Args(ids)...,
	).Scan(&earliest); err != nil {
		return fmt.Errorf("sqlite: replace with summary: find earliest: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE id IN (`+placeholders(len(ids))+`)`, int64Args(ids)...,
	); err != nil {
		return fmt.Errorf("sqlite: replace with summary: delete: %w", err)
	}

	meta := &agent.Metadata{Kind: agent.MetaCompactionSummary}
	metaJSON, err := agent.MarshalMetadata(meta)
	if err != nil {
		return fmt.Errorf("sqlite: replace with summary: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO messages (session_id, role, content, metadata, created_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, string(agent.RoleSystem), summary, metaJSON, earliest,
	); err != nil {
		return fmt.Errorf("sqlite: replace with summary: insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET message_count = ?, summary = ?, updated_at = ? WHERE id = ?`,
		newMessageCount, summary, time.Now().Unix(), sessionID,
	); err != nil {
		return fmt.Errorf("sqlite: replace with summary: update session: %w", err)
	}

	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(rows rowScanner) (agent.Message, error) {
	var m agent.Message
	var role, metaRaw string
	var created int64
	if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &metaRaw, &created); err != nil {
		return agent.Message{}, err
	}
	m.Role = agent.Role(role)
	m.CreatedAt = time.Unix(created, 0)
	meta, err := agent.UnmarshalMetadata(metaRaw)
	if err != nil {
		return agent.Message{}, err
	}
	m.Metadata = meta
	return m, nil
}

// --- users ----------------------------------------------------------------

func (b *Backend) GetOrCreateUser(ctx context.Context, platform, platformID, name string) (agent.User, bool, error) {
	u, found, err := b.getUserByPlatformID(ctx, platform, platformID)
	if err != nil {
		return agent.User{}, false, err
	}
	if found {
		return u, false, nil
	}

	now := time.Now()
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO users (platform, platform_id, name, preferences, created_at) VALUES (?, ?, ?, '{}', ?)`,
		platform, platformID, name, now.Unix())
	if err != nil {
		return agent.User{}, false, fmt.Errorf("sqlite: create user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return agent.User{}, false, fmt.Errorf("sqlite: create user: %w", err)
	}
	return agent.User{
		ID:          id,
		Name:        name,
		Platform:    platform,
		PlatformID:  platformID,
		AccessLevel: agent.AccessPublic,
		Preferences: map[string]string{},
		Aliases:     map[string]string{},
		CreatedAt:   now,
	}, true, nil
}

func (b *Backend) getUserByPlatformID(ctx context.Context, platform, platformID string) (agent.User, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_id, name, display_name, access_level, preferences, created_at
		 FROM users WHERE platform = ? AND platform_id = ?`, platform, platformID)
	u, err := b.scanUser(ctx, row)
	if err == sql.ErrNoRows {
		return agent.User{}, false, nil
	}
	if err != nil {
		return agent.User{}, false, fmt.Errorf("sqlite: get user: %w", err)
	}
	return u, true, nil
}

func (b *Backend) GetUser(ctx context.Context, id int64) (agent.User, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_id, name, display_name, access_level, preferences, created_at
		 FROM users WHERE id = ?`, id)
	u, err := b.scanUser(ctx, row)
	if err == sql.ErrNoRows {
		return agent.User{}, false, nil
	}
	if err != nil {
		return agent.User{}, false, fmt.Errorf("sqlite: get user: %w", err)
	}
	return u, true, nil
}

func (b *Backend) scanUser(ctx context.Context, row *sql.Row) (agent.User, error) {
	var u agent.User
	var prefsRaw string
	var created int64
	var level int
	if err := row.Scan(&u.ID, &u.Platform, &u.PlatformID, &u.Name, &u.DisplayName, &level, &prefsRaw, &created); err != nil {
		return agent.User{}, err
	}
	u.AccessLevel = agent.AccessLevel(level)
	u.CreatedAt = time.Unix(created, 0)
	u.Preferences = map[string]string{}
	if prefsRaw != "" {
		_ = json.Unmarshal([]byte(prefsRaw), &u.Preferences)
	}

	aliases, err := b.loadAliases(ctx, u.ID)
	if err != nil {
		return agent.User{}, err
	}
	u.Aliases = aliases
	return u, nil
}

func (b *Backend) loadAliases(ctx context.Context, userID int64) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT group_id, alias FROM user_aliases WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load aliases: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var groupID, alias string
		if err := rows.Scan(&groupID, &alias); err != nil {
			return nil, err
		}
		out[groupID] = alias
	}
	return out, rows.Err()
}

func (b *Backend) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, err
}

func (b *Backend) SetAccessLevel(ctx context.Context, userID int64, level agent.AccessLevel) error {
	_, err := b.db.ExecContext(ctx, `UPDATE users SET access_level = ? WHERE id = ?`, int(level), userID)
	return err
}

func (b *Backend) SetAlias(ctx context.Context, userID int64, groupID string, alias string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO user_aliases (user_id, group_id, alias) VALUES (?, ?, ?)
		 ON CONFLICT (user_id, group_id) DO UPDATE SET alias = excluded.alias`,
		userID, groupID, alias)
	return err
}

func (b *Backend) SetUserPreference(ctx context.Context, userID int64, key, value string) error {
	u, found, err := b.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("sqlite: set preference: user %d not found", userID)
	}
	if u.Preferences == nil {
		u.Preferences = map[string]string{}
	}
	u.Preferences[key] = value
	raw, err := json.Marshal(u.Preferences)
	if err != nil {
		return fmt.Errorf("sqlite: set preference: %w", err)
	}
	_, err = b.db.ExecContext(ctx, `UPDATE users SET preferences = ? WHERE id = ?`, string(raw), userID)
	return err
}

// --- groups -----------------------------------------------------------

func (b *Backend) GetOrCreateGroup(ctx context.Context, platform, platformGroupID string) (agent.Group, bool, error) {
	g, found, err := b.GetGroupByPlatformID(ctx, platform, platformGroupID)
	if err != nil {
		return agent.Group{}, false, err
	}
	if found {
		return g, false, nil
	}

	res, err := b.db.ExecContext(ctx,
		`INSERT INTO groups (platform, platform_group_id, enabled, require_mention, allow_from) VALUES (?, ?, 0, 1, 'all')`,
		platform, platformGroupID)
	if err != nil {
		return agent.Group{}, false, fmt.Errorf("sqlite: create group: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return agent.Group{}, false, fmt.Errorf("sqlite: create group: %w", err)
	}
	return agent.Group{
		ID:              id,
		Platform:        platform,
		PlatformGroupID: platformGroupID,
		Enabled:         false,
		RequireMention:  true,
		AllowFrom:       agent.AllowFromAll,
	}, true, nil
}

func (b *Backend) GetGroupByPlatformID(ctx context.Context, platform, platformGroupID string) (agent.Group, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_group_id, enabled, require_mention, allow_from
		 FROM groups WHERE platform = ? AND platform_group_id = ?`, platform, platformGroupID)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return agent.Group{}, false, nil
	}
	if err != nil {
		return agent.Group{}, false, fmt.Errorf("sqlite: get group: %w", err)
	}
	return g, true, nil
}

func (b *Backend) GetGroup(ctx context.Context, id int64) (agent.Group, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, platform, platform_group_id, enabled, require_mention, allow_from
		 FROM groups WHERE id = ?`, id)
	g, err := scanGroup(row)
	if err == sql.ErrNoRows {
		return agent.Group{}, false, nil
	}
	if err != nil {
		return agent.Group{}, false, fmt.Errorf("sqlite: get group: %w", err)
	}
	return g, true, nil
}

func scanGroup(row *sql.Row) (agent.Group, error) {
	var g agent.Group
	var allowFrom string
	if err := row.Scan(&g.ID, &g.Platform, &g.PlatformGroupID, &g.Enabled, &g.RequireMention, &allowFrom); err != nil {
		return agent.Group{}, err
	}
	g.AllowFrom = agent.GroupAllowFrom(allowFrom)
	return g, nil
}

func (b *Backend) SetGroupEnabled(ctx context.Context, groupID int64, enabled bool) error {
	_, err := b.db.ExecContext(ctx, `UPDATE groups SET enabled = ? WHERE id = ?`, enabled, groupID)
	return err
}

func (b *Backend) SetGroupPolicy(ctx context.Context, groupID int64, requireMention bool, allowFrom agent.GroupAllowFrom) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE groups SET require_mention = ?, allow_from = ? WHERE id = ?`,
		requireMention, string(allowFrom), groupID)
	return err
}

// --- config -----------------------------------------------------------

func (b *Backend) SetConfig(ctx context.Context, key string, value interface{}) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		key, fmt.Sprintf("%v", value))
	return err
}

func (b *Backend) GetConfigValue(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get config: %w", err)
	}
	return value, true, nil
}

func (b *Backend) AllConfigValues(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list config: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// --- rules / soul / identity -------------------------------------------

func (b *Backend) SetRule(ctx context.Context, name, content string) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO rules (name, content) VALUES (?, ?) ON CONFLICT (name) DO UPDATE SET content = excluded.content`,
		name, content)
	return err
}

func (b *Backend) DeleteRule(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM rules WHERE name = ?`, name)
	return err
}

func (b *Backend) GetRule(ctx context.Context, name string) (string, bool, error) {
	var content string
	err := b.db.QueryRowContext(ctx, `SELECT content FROM rules WHERE name = ?`, name).Scan(&content)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get rule: %w", err)
	}
	return content, true, nil
}

func (b *Backend) ListRules(ctx context.Context) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT name, content FROM rules`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list rules: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, content string
		if err := rows.Scan(&name, &content); err != nil {
			return nil, err
		}
		out[name] = content
	}
	return out, rows.Err()
}

// --- abilities ----------------------------------------------------------

func (b *Backend) InsertAbility(ctx context.Context, a agent.AbilityRecord) (int64, error) {
	cfgJSON, err := json.Marshal(a.Config)
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert ability: %w", err)
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO abilities (name, description, version, source, module_path, config, enabled, requires_access_level, consecutive_failures, broken, broken_reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0, '')`,
		a.Name, a.Description, a.Version, string(a.Source), a.ModulePath, string(cfgJSON), a.Enabled, int(a.RequiresAccessLevel))
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert ability: %w", err)
	}
	return res.LastInsertId()
}

func (b *Backend) ListAbilities(ctx context.Context) ([]agent.AbilityRecord, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, description, version, source, module_path, config, enabled, requires_access_level, consecutive_failures, broken, broken_reason FROM abilities`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list abilities: %w", err)
	}
	defer rows.Close()

	var out []agent.AbilityRecord
	for rows.Next() {
		a, err := scanAbility(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (b *Backend) GetAbilityByName(ctx context.Context, name string) (agent.AbilityRecord, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT id, name, description, version, source, module_path, config, enabled, requires_access_level, consecutive_failures, broken, broken_reason
		 FROM abilities WHERE name = ?`, name)
	a, err := scanAbilityRow(row)
	if err == sql.ErrNoRows {
		return agent.AbilityRecord{}, false, nil
	}
	if err != nil {
		return agent.AbilityRecord{}, false, fmt.Errorf("sqlite: get ability: %w", err)
	}
	return a, true, nil
}

func (b *Backend) SetAbilityEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := b.db.ExecContext(ctx, `UPDATE abilities SET enabled = ? WHERE name = ?`, enabled, name)
	return err
}

// RecordAbilityFailure increments the consecutive-failure counter and, if
// it crosses agent.AutoDisableThreshold for a non-bundled ability, marks
// it broken and disables it in the same update.
func (b *Backend) RecordAbilityFailure(ctx context.Context, name string) (agent.AbilityRecord, error) {
	a, found, err := b.GetAbilityByName(ctx, name)
	if err != nil {
		return agent.AbilityRecord{}, err
	}
	if !found {
		return agent.AbilityRecord{}, fmt.Errorf("sqlite: record failure: ability %q not found", name)
	}

	a.ConsecutiveFailures++
	broken := a.Broken
	brokenReason := a.BrokenReason
	enabled := a.Enabled
	if a.CanAutoDisable() && a.ConsecutiveFailures >= agent.AutoDisableThreshold {
		broken = true
		brokenReason = fmt.Sprintf("auto-disabled after %d consecutive failures", a.ConsecutiveFailures)
		enabled = false
	}

	_, err = b.db.ExecContext(ctx,
		`UPDATE abilities SET consecutive_failures = ?, broken = ?, broken_reason = ?, enabled = ? WHERE name = ?`,
		a.ConsecutiveFailures, broken, brokenReason, enabled, name)
	if err != nil {
		return agent.AbilityRecord{}, fmt.Errorf("sqlite: record failure: %w", err)
	}

	a.Broken = broken
	a.BrokenReason = brokenReason
	a.Enabled = enabled
	return a, nil
}

func (b *Backend) ResetAbilityFailures(ctx context.Context, name string) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE abilities SET consecutive_failures = 0, broken = 0, broken_reason = '' WHERE name = ?`, name)
	return err
}

func scanAbility(rows *sql.Rows) (agent.AbilityRecord, error) {
	return scanAbilityFields(rows)
}

func scanAbilityRow(row *sql.Row) (agent.AbilityRecord, error) {
	return scanAbilityFields(row)
}

func scanAbilityFields(s rowScanner) (agent.AbilityRecord, error) {
	var a agent.AbilityRecord
	var source, cfgRaw string
	var level int
	if err := s.Scan(&a.ID, &a.Name, &a.Description, &a.Version, &source, &a.ModulePath, &cfgRaw,
		&a.Enabled, &level, &a.ConsecutiveFailures, &a.Broken, &a.BrokenReason); err != nil {
		return agent.AbilityRecord{}, err
	}
	a.Source = agent.AbilitySource(source)
	a.RequiresAccessLevel = agent.AccessLevel(level)
	if cfgRaw != "" {
		_ = json.Unmarshal([]byte(cfgRaw), &a.Config)
	}
	return a, nil
}

// --- memory -------------------------------------------------------------

func (b *Backend) InsertMemory(ctx context.Context, m agent.Memory) (int64, error) {
	now := time.Now()
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO memory (user_id, content, category, importance, permanent, source, embedding, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.UserID, m.Content, string(m.Category), m.Importance, m.Permanent, m.Source,
		encodeEmbedding(m.Embedding), now.Unix(), now.Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: insert memory: %w", err)
	}
	return res.LastInsertId()
}

func (b *Backend) UpdateMemory(ctx context.Context, id int64, content string, importance float64, embedding []float32) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE memory SET content = ?, importance = ?, embedding = ?, updated_at = ? WHERE id = ?`,
		content, importance, encodeEmbedding(embedding), time.Now().Unix(), id)
	return err
}

func (b *Backend) SimilarCandidates(ctx context.Context, userID int64, category agent.MemoryCategory) ([]agent.Memory, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, user_id, content, category, importance, permanent, source, embedding, created_at, updated_at
		 FROM memory WHERE user_id = ? AND category = ?`, userID, string(category))
	if err != nil {
		return nil, fmt.Errorf("sqlite: similar candidates: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func (b *Backend) RecallCandidates(ctx context.Context, limit int) ([]agent.Memory, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, user_id, content, category, importance, permanent, source, embedding, created_at, updated_at
		 FROM memory ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite: recall candidates: %w", err)
	}
	defer rows.Close()
	return scanMemories(rows)
}

func scanMemories(rows *sql.Rows) ([]agent.Memory, error) {
	var out []agent.Memory
	for rows.Next() {
		var m agent.Memory
		var category string
		var embRaw []byte
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &category, &m.Importance, &m.Permanent,
			&m.Source, &embRaw, &created, &updated); err != nil {
			return nil, err
		}
		m.Category = agent.MemoryCategory(category)
		m.Embedding = decodeEmbedding(embRaw)
		m.CreatedAt = time.Unix(created, 0)
		m.UpdatedAt = time.Unix(updated, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

func (b *Backend) GetEmbeddingDimension(ctx context.Context) (int, bool, error) {
	raw, found, err := b.GetConfigValue(ctx, "memory.embedding_dimension")
	if err != nil || !found {
		return 0, false, err
	}
	var dim int
	if _, err := fmt.Sscanf(raw, "%d", &dim); err != nil {
		return 0, false, nil
	}
	return dim, true, nil
}

func (b *Backend) SetEmbeddingDimension(ctx context.Context, dim int) error {
	return b.SetConfig(ctx, "memory.embedding_dimension", dim)
}

func (b *Backend) WipeMemories(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM memory`)
	if err != nil {
		return 0, fmt.Errorf("sqlite: wipe memories: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// encodeEmbedding/decodeEmbedding pack a []float32 into a little-endian
// BLOB — SQLite has no native vector type, and cosine scoring happens in
// Go (internal/memory), so the on-disk format only needs to round-trip.
func encodeEmbedding(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeEmbedding(raw []byte) []float32 {
	if len(raw) == 0 {
		return nil
	}
	vec := make([]float32, len(raw)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return vec
}

// --- scheduled tasks ------------------------------------------------------

func (b *Backend) CreateTask(ctx context.Context, t scheduler.Task) (int64, error) {
	var nextRun interface{}
	if !t.NextRun.IsZero() {
		nextRun = t.NextRun.Unix()
	}
	res, err := b.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (name, schedule_type, schedule_value, payload, created_by, parent_session_id, enabled, next_run, run_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`,
		t.Name, string(t.ScheduleType), t.ScheduleValue, t.Payload, t.CreatedBy, t.ParentSessionID, t.Enabled, nextRun)
	if err != nil {
		return 0, fmt.Errorf("sqlite: create task: %w", err)
	}
	return res.LastInsertId()
}

func (b *Backend) DueTasks(ctx context.Context, now time.Time) ([]scheduler.Task, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, schedule_type, schedule_value, payload, created_by, parent_session_id, enabled, next_run, last_run, run_count
		 FROM scheduled_tasks WHERE enabled = 1 AND next_run IS NOT NULL AND next_run <= ?`, now.Unix())
	if err != nil {
		return nil, fmt.Errorf("sqlite: due tasks: %w", err)
	}
	defer rows.Close()

	var out []scheduler.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanTask(rows *sql.Rows) (scheduler.Task, error) {
	var t scheduler.Task
	var scheduleType string
	var nextRun, lastRun sql.NullInt64
	if err := rows.Scan(&t.ID, &t.Name, &scheduleType, &t.ScheduleValue, &t.Payload, &t.CreatedBy,
		&t.ParentSessionID, &t.Enabled, &nextRun, &lastRun, &t.RunCount); err != nil {
		return scheduler.Task{}, err
	}
	t.ScheduleType = scheduler.ScheduleType(scheduleType)
	if nextRun.Valid {
		nr := time.Unix(nextRun.Int64, 0)
		t.NextRun = nr
	}
	if lastRun.Valid {
		lr := time.Unix(lastRun.Int64, 0)
		t.LastRun = &lr
	}
	return t, nil
}

// ListTasks returns every scheduled task regardless of enabled/due state,
// for the task admin CLI.
func (b *Backend) ListTasks(ctx context.Context) ([]scheduler.Task, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT id, name, schedule_type, schedule_value, payload, created_by, parent_session_id, enabled, next_run, last_run, run_count
		 FROM scheduled_tasks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list tasks: %w", err)
	}
	defer rows.Close()

	var out []scheduler.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (b *Backend) UpdateAfterRun(ctx context.Context, id int64, lastRun time.Time, runCount int, nextRun time.Time, enabled bool) error {
	var nextRunVal interface{}
	if !nextRun.IsZero() {
		nextRunVal = nextRun.Unix()
	}
	_, err := b.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET last_run = ?, run_count = ?, next_run = ?, enabled = ? WHERE id = ?`,
		lastRun.Unix(), runCount, nextRunVal, enabled, id)
	return err
}

func (b *Backend) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	_, err := b.db.ExecContext(ctx, `UPDATE scheduled_tasks SET enabled = ? WHERE id = ?`, enabled, id)
	return err
}

func (b *Backend) Delete(ctx context.Context, id int64) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	return err
}

// --- sub-agent runs -------------------------------------------------------

func (b *Backend) InsertRun(ctx context.Context, run subagent.Run) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO subagent_runs (run_id, parent_session_id, task, model, status, result, error, started_at, input_tokens, output_tokens)
		 VALUES (?, ?, ?, ?, ?, '', '', ?, 0, 0)`,
		run.RunID, run.ParentSessionID, run.Task, run.Model, string(run.Status), run.StartedAt.Unix())
	return err
}

func (b *Backend) CompleteRun(ctx context.Context, runID string, status subagent.Status, result, errMsg string, inputTokens, outputTokens int, completedAt time.Time) error {
	_, err := b.db.ExecContext(ctx,
		`UPDATE subagent_runs SET status = ?, result = ?, error = ?, input_tokens = ?, output_tokens = ?, completed_at = ? WHERE run_id = ?`,
		string(status), result, errMsg, inputTokens, outputTokens, completedAt.Unix(), runID)
	return err
}

func (b *Backend) GetRun(ctx context.Context, runID string) (subagent.Run, bool, error) {
	row := b.db.QueryRowContext(ctx,
		`SELECT run_id, parent_session_id, task, model, status, result, error, started_at, completed_at, input_tokens, output_tokens
		 FROM subagent_runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return subagent.Run{}, false, nil
	}
	if err != nil {
		return subagent.Run{}, false, fmt.Errorf("sqlite: get run: %w", err)
	}
	return run, true, nil
}

func (b *Backend) ListActive(ctx context.Context) ([]subagent.Run, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT run_id, parent_session_id, task, model, status, result, error, started_at, completed_at, input_tokens, output_tokens
		 FROM subagent_runs WHERE status = 'running'`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list active runs: %w", err)
	}
	defer rows.Close()

	var out []subagent.Run
	for rows.Next() {
		run, err := scanRunRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	return out, rows.Err()
}

func (b *Backend) SweepStaleRunning(ctx context.Context) (int, error) {
	res, err := b.db.ExecContext(ctx,
		`UPDATE subagent_runs SET status = 'failed', error = 'bot restarted', completed_at = ? WHERE status = 'running'`,
		time.Now().Unix())
	if err != nil {
		return 0, fmt.Errorf("sqlite: sweep stale runs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func scanRun(row *sql.Row) (subagent.Run, error) {
	return scanRunFields(row)
}

func scanRunRows(rows *sql.Rows) (subagent.Run, error) {
	return scanRunFields(rows)
}

func scanRunFields(s rowScanner) (subagent.Run, error) {
	var run subagent.Run
	var status string
	var started int64
	var completed sql.NullInt64
	if err := s.Scan(&run.RunID, &run.ParentSessionID, &run.Task, &run.Model, &status, &run.Result, &run.Error,
		&started, &completed, &run.InputTokens, &run.OutputTokens); err != nil {
		return subagent.Run{}, err
	}
	run.Status = subagent.Status(status)
	run.StartedAt = time.Unix(started, 0)
	if completed.Valid {
		c := time.Unix(completed.Int64, 0)
		run.CompletedAt = &c
	}
	return run, nil
}

// --- helpers ---------------------------------------------------------

func placeholders(n int) string {
	s := make([]byte, 0, n*2)
	for i := 0; i < n; i++ {
		if i > 0 {
			s = append(s, ',')
		}
		s = append(s, '?')
	}
	return string(s)
}

func int64Args(ids []int64) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

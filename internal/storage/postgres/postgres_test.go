//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/scheduler"
	"github.com/riyogarta/synebot/internal/subagent"
)

// newTestBackend connects to the integration test PostgreSQL instance named
// by TEST_POSTGRES_URL and runs migrations. It is skipped outside an
// environment that sets that variable, since there is no in-memory
// PostgreSQL equivalent to SQLite's "file::memory:".
func newTestBackend(t *testing.T) *Backend {
	t.Helper()

	dsn := os.Getenv("TEST_POSTGRES_URL")
	if dsn == "" {
		t.Skip("TEST_POSTGRES_URL not set; skipping PostgreSQL integration test")
	}

	ctx := context.Background()
	b, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOpenAppliesMigrations(t *testing.T) {
	b := newTestBackend(t)
	var n int
	if err := b.db.QueryRow(`SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'sessions'`).Scan(&n); err != nil {
		t.Fatalf("check sessions table: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected sessions table to exist after migration, got count %d", n)
	}
}

func TestUserRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, created, err := b.GetOrCreateUser(ctx, "telegram", "12345", "Ada")
	if err != nil {
		t.Fatalf("get or create user: %v", err)
	}
	if !created {
		t.Fatal("expected a new user to be created")
	}
	if u.AccessLevel != agent.AccessPublic {
		t.Fatalf("expected default access level public, got %v", u.AccessLevel)
	}

	again, created2, err := b.GetOrCreateUser(ctx, "telegram", "12345", "Ada")
	if err != nil {
		t.Fatalf("get or create user (2nd): %v", err)
	}
	if created2 {
		t.Fatal("expected the second call to find the existing user")
	}
	if again.ID != u.ID {
		t.Fatalf("expected same user ID, got %d vs %d", again.ID, u.ID)
	}

	if err := b.SetAccessLevel(ctx, u.ID, agent.AccessAdmin); err != nil {
		t.Fatalf("set access level: %v", err)
	}
	if err := b.SetAlias(ctx, u.ID, "group-1", "The Professor"); err != nil {
		t.Fatalf("set alias: %v", err)
	}

	loaded, found, err := b.GetUser(ctx, u.ID)
	if err != nil || !found {
		t.Fatalf("get user: found=%v err=%v", found, err)
	}
	if loaded.AccessLevel != agent.AccessAdmin {
		t.Fatalf("expected access level admin, got %v", loaded.AccessLevel)
	}
	if loaded.Aliases["group-1"] != "The Professor" {
		t.Fatalf("expected alias to round-trip, got %q", loaded.Aliases["group-1"])
	}
}

func TestSessionAndMessageRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, err := b.GetOrCreateUser(ctx, "telegram", "99", "Grace")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := b.GetOrCreateSession(ctx, "telegram", "chat-1", u.ID)
	if err != nil {
		t.Fatalf("get or create session: %v", err)
	}
	if sess.Status != agent.SessionActive {
		t.Fatalf("expected new session to be active, got %v", sess.Status)
	}

	id, err := b.AppendMessage(ctx, sess.ID, agent.Message{
		Role:    agent.RoleUser,
		Content: "hello there",
	})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero message ID")
	}

	msgs, err := b.LoadMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello there" {
		t.Fatalf("unexpected messages: %+v", msgs)
	}

	reloaded, found, err := b.GetSession(ctx, sess.ID)
	if err != nil || !found {
		t.Fatalf("get session: found=%v err=%v", found, err)
	}
	if reloaded.MessageCount != 1 {
		t.Fatalf("expected message count 1, got %d", reloaded.MessageCount)
	}

	if err := b.ArchiveSession(ctx, sess.ID); err != nil {
		t.Fatalf("archive session: %v", err)
	}
	archived, _, err := b.GetSession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get session after archive: %v", err)
	}
	if archived.Status != agent.SessionArchived {
		t.Fatalf("expected archived status, got %v", archived.Status)
	}
}

func TestReplaceWithSummaryCompactsMessages(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "u1", "Hopper")
	sess, _ := b.GetOrCreateSession(ctx, "cli", "c1", u.ID)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := b.AppendMessage(ctx, sess.ID, agent.Message{Role: agent.RoleUser, Content: "msg"})
		if err != nil {
			t.Fatalf("append message: %v", err)
		}
		ids = append(ids, id)
	}

	if err := b.ReplaceWithSummary(ctx, sess.ID, ids, "summarized three messages", 1); err != nil {
		t.Fatalf("replace with summary: %v", err)
	}

	msgs, err := b.LoadMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after compaction, got %d", len(msgs))
	}
	if msgs[0].Metadata == nil || msgs[0].Metadata.Kind != agent.MetaCompactionSummary {
		t.Fatalf("expected compaction summary metadata, got %+v", msgs[0].Metadata)
	}
}

func TestMemoryRoundTripWithEmbedding(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "u2", "Lovelace")
	embedding := []float32{0.1, 0.2, 0.3, -0.4}

	id, err := b.InsertMemory(ctx, agent.Memory{
		UserID:     u.ID,
		Content:    "prefers dark mode",
		Category:   agent.CategoryPreference,
		Importance: 0.6,
		Embedding:  embedding,
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}
	if id == 0 {
		t.Fatal("expected nonzero memory ID")
	}

	candidates, err := b.SimilarCandidates(ctx, u.ID, agent.CategoryPreference)
	if err != nil {
		t.Fatalf("similar candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(candidates))
	}
	for i, v := range candidates[0].Embedding {
		if v != embedding[i] {
			t.Fatalf("embedding mismatch at %d: got %v want %v", i, v, embedding[i])
		}
	}

	if err := b.UpdateMemory(ctx, id, "prefers dark mode, strongly", 0.9, embedding); err != nil {
		t.Fatalf("update memory: %v", err)
	}
	recalled, err := b.RecallCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("recall candidates: %v", err)
	}
	if len(recalled) == 0 || recalled[0].Importance != 0.9 {
		t.Fatalf("expected updated importance, got %+v", recalled)
	}
}

func TestEmbeddingDimensionTracking(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, known, err := b.GetEmbeddingDimension(ctx)
	if err != nil {
		t.Fatalf("get embedding dimension: %v", err)
	}
	if known {
		t.Fatal("expected embedding dimension to be unknown on a fresh schema")
	}

	if err := b.SetEmbeddingDimension(ctx, 1536); err != nil {
		t.Fatalf("set embedding dimension: %v", err)
	}
	dim, known, err := b.GetEmbeddingDimension(ctx)
	if err != nil || !known {
		t.Fatalf("get embedding dimension: known=%v err=%v", known, err)
	}
	if dim != 1536 {
		t.Fatalf("expected dimension 1536, got %d", dim)
	}
}

func TestScheduledTaskRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "u3", "Turing")
	sess, _ := b.GetOrCreateSession(ctx, "cli", "c3", u.ID)

	now := time.Now().Truncate(time.Second)
	id, err := b.CreateTask(ctx, scheduler.Task{
		Name:            "daily-briefing",
		ScheduleType:    scheduler.ScheduleInterval,
		ScheduleValue:   "24h",
		Payload:         "give me the news",
		CreatedBy:       u.ID,
		ParentSessionID: sess.ID,
		Enabled:         true,
		NextRun:         now,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	due, err := b.DueTasks(ctx, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("due tasks: %v", err)
	}
	found := false
	for _, task := range due {
		if task.ID == id {
			found = true
		}
	}
	if !found {
		t.Fatal("expected created task to be due")
	}

	next := now.Add(24 * time.Hour)
	if err := b.UpdateAfterRun(ctx, id, now, 1, next, true); err != nil {
		t.Fatalf("update after run: %v", err)
	}

	if err := b.SetEnabled(ctx, id, false); err != nil {
		t.Fatalf("set enabled: %v", err)
	}
	stillDue, err := b.DueTasks(ctx, next.Add(time.Minute))
	if err != nil {
		t.Fatalf("due tasks: %v", err)
	}
	for _, task := range stillDue {
		if task.ID == id {
			t.Fatal("expected disabled task to not be due")
		}
	}

	if err := b.Delete(ctx, id); err != nil {
		t.Fatalf("delete task: %v", err)
	}
}

func TestSubagentRunRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "u4", "Curie")
	sess, _ := b.GetOrCreateSession(ctx, "cli", "c4", u.ID)

	run := subagent.Run{
		RunID:           "run-1",
		ParentSessionID: sess.ID,
		Task:            "research radioactivity",
		Model:           "claude-opus",
		Status:          subagent.StatusRunning,
		StartedAt:       time.Now(),
	}
	if err := b.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	active, err := b.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 active run, got %d", len(active))
	}

	if err := b.CompleteRun(ctx, run.RunID, subagent.StatusCompleted, "found two elements", "", 100, 200, time.Now()); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	loaded, found, err := b.GetRun(ctx, run.RunID)
	if err != nil || !found {
		t.Fatalf("get run: found=%v err=%v", found, err)
	}
	if loaded.Status != subagent.StatusCompleted || loaded.Result != "found two elements" {
		t.Fatalf("unexpected loaded run: %+v", loaded)
	}
}

func TestSweepStaleRunning(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "u5", "Hamilton")
	sess, _ := b.GetOrCreateSession(ctx, "cli", "c5", u.ID)

	if err := b.InsertRun(ctx, subagent.Run{
		RunID:           "run-stale",
		ParentSessionID: sess.ID,
		Task:            "leftover from a crash",
		Status:          subagent.StatusRunning,
		StartedAt:       time.Now(),
	}); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	n, err := b.SweepStaleRunning(ctx)
	if err != nil {
		t.Fatalf("sweep stale running: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected to sweep 1 stale run, got %d", n)
	}

	run, _, err := b.GetRun(ctx, "run-stale")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != subagent.StatusFailed {
		t.Fatalf("expected swept run to be failed, got %v", run.Status)
	}
}

func TestConfigAndRuleRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.SetConfig(ctx, "memory.auto_capture", true); err != nil {
		t.Fatalf("set config: %v", err)
	}
	val, found, err := b.GetConfigValue(ctx, "memory.auto_capture")
	if err != nil || !found || val != "true" {
		t.Fatalf("get config: val=%q found=%v err=%v", val, found, err)
	}

	if err := b.SetRule(ctx, "tone", "be concise"); err != nil {
		t.Fatalf("set rule: %v", err)
	}
	content, found, err := b.GetRule(ctx, "tone")
	if err != nil || !found || content != "be concise" {
		t.Fatalf("get rule: content=%q found=%v err=%v", content, found, err)
	}

	if err := b.DeleteRule(ctx, "tone"); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	_, found, err = b.GetRule(ctx, "tone")
	if err != nil {
		t.Fatalf("get rule after delete: %v", err)
	}
	if found {
		t.Fatal("expected rule to be gone after delete")
	}
}

func TestAbilityAutoDisableOnConsecutiveFailures(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, err := b.InsertAbility(ctx, agent.AbilityRecord{
		Name:    "flaky_tool",
		Source:  agent.AbilitySourceInstalled,
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("insert ability: %v", err)
	}

	var last agent.AbilityRecord
	for i := 0; i < agent.AutoDisableThreshold; i++ {
		last, err = b.RecordAbilityFailure(ctx, "flaky_tool")
		if err != nil {
			t.Fatalf("record failure %d: %v", i, err)
		}
	}
	if !last.Broken || last.Enabled {
		t.Fatalf("expected ability to be auto-disabled after %d failures, got %+v", agent.AutoDisableThreshold, last)
	}

	if err := b.ResetAbilityFailures(ctx, "flaky_tool"); err != nil {
		t.Fatalf("reset ability failures: %v", err)
	}
	reloaded, found, err := b.GetAbilityByName(ctx, "flaky_tool")
	if err != nil || !found {
		t.Fatalf("get ability: found=%v err=%v", found, err)
	}
	if reloaded.Broken || reloaded.ConsecutiveFailures != 0 {
		t.Fatalf("expected reset ability record, got %+v", reloaded)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	g, created, err := b.GetOrCreateGroup(ctx, "telegram", "group-xyz")
	if err != nil {
		t.Fatalf("get or create group: %v", err)
	}
	if !created {
		t.Fatal("expected new group to be created")
	}

	if err := b.SetGroupEnabled(ctx, g.ID, true); err != nil {
		t.Fatalf("set group enabled: %v", err)
	}
	if err := b.SetGroupPolicy(ctx, g.ID, false, agent.AllowFromRegistered); err != nil {
		t.Fatalf("set group policy: %v", err)
	}

	loaded, found, err := b.GetGroup(ctx, g.ID)
	if err != nil || !found {
		t.Fatalf("get group: found=%v err=%v", found, err)
	}
	if !loaded.Enabled || loaded.RequireMention || loaded.AllowFrom != agent.AllowFromRegistered {
		t.Fatalf("unexpected group state: %+v", loaded)
	}
}

package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/scheduler"
	"github.com/riyogarta/synebot/internal/subagent"
)

func newTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := Open(context.Background(), "file::memory:")
	if err != nil {
		t.Fatalf("open backend: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestOpenAppliesMigrations(t *testing.T) {
	b := newTestBackend(t)
	migrator, err := NewMigrator(b.db)
	if err != nil {
		t.Fatalf("new migrator: %v", err)
	}
	version, err := migrator.CurrentVersion(context.Background())
	if err != nil {
		t.Fatalf("current version: %v", err)
	}
	if version != 1 {
		t.Errorf("expected schema version 1, got %d", version)
	}
}

func TestUserRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, created, err := b.GetOrCreateUser(ctx, "telegram", "12345", "alice")
	if err != nil {
		t.Fatalf("get or create user: %v", err)
	}
	if !created {
		t.Error("expected a freshly created user")
	}

	again, created2, err := b.GetOrCreateUser(ctx, "telegram", "12345", "alice")
	if err != nil {
		t.Fatalf("get or create user (second time): %v", err)
	}
	if created2 {
		t.Error("expected the second call to find the existing user")
	}
	if again.ID != u.ID {
		t.Errorf("expected same user id, got %d and %d", u.ID, again.ID)
	}

	if err := b.SetAccessLevel(ctx, u.ID, agent.AccessOwner); err != nil {
		t.Fatalf("set access level: %v", err)
	}
	if err := b.SetAlias(ctx, u.ID, "group-1", "Al"); err != nil {
		t.Fatalf("set alias: %v", err)
	}

	reloaded, found, err := b.GetUser(ctx, u.ID)
	if err != nil || !found {
		t.Fatalf("get user: found=%v err=%v", found, err)
	}
	if reloaded.AccessLevel != agent.AccessOwner {
		t.Errorf("expected access level owner, got %v", reloaded.AccessLevel)
	}
	if reloaded.Aliases["group-1"] != "Al" {
		t.Errorf("expected alias Al, got %q", reloaded.Aliases["group-1"])
	}
}

func TestSessionAndMessageRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, err := b.GetOrCreateUser(ctx, "cli", "local", "bob")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	sess, err := b.GetOrCreateSession(ctx, "cli", "local-session", u.ID)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	again, err := b.GetOrCreateSession(ctx, "cli", "local-session", u.ID)
	if err != nil {
		t.Fatalf("get session again: %v", err)
	}
	if again.ID != sess.ID {
		t.Errorf("expected idempotent session id, got %d and %d", sess.ID, again.ID)
	}

	id, err := b.AppendMessage(ctx, sess.ID, agent.Message{Role: agent.RoleUser, Content: "hello"})
	if err != nil {
		t.Fatalf("append message: %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero message id")
	}

	msgs, err := b.LoadMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hello" {
		t.Errorf("unexpected messages: %+v", msgs)
	}

	count, err := b.CountMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("count messages: %v", err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}

	reloaded, found, err := b.GetSession(ctx, sess.ID)
	if err != nil || !found {
		t.Fatalf("get session: found=%v err=%v", found, err)
	}
	if reloaded.MessageCount != 1 {
		t.Errorf("expected message_count 1, got %d", reloaded.MessageCount)
	}
}

func TestReplaceWithSummaryCompactsMessages(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "x", "x")
	sess, _ := b.GetOrCreateSession(ctx, "cli", "sess", u.ID)

	var ids []int64
	for i := 0; i < 3; i++ {
		id, err := b.AppendMessage(ctx, sess.ID, agent.Message{Role: agent.RoleUser, Content: "msg"})
		if err != nil {
			t.Fatalf("append message: %v", err)
		}
		ids = append(ids, id)
	}

	if err := b.ReplaceWithSummary(ctx, sess.ID, ids, "summary text", 1); err != nil {
		t.Fatalf("replace with summary: %v", err)
	}

	msgs, err := b.LoadMessages(ctx, sess.ID)
	if err != nil {
		t.Fatalf("load messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message after compaction, got %d", len(msgs))
	}
	if msgs[0].Content != "summary text" {
		t.Errorf("expected summary content, got %q", msgs[0].Content)
	}
	if msgs[0].Metadata == nil || msgs[0].Metadata.Kind != agent.MetaCompactionSummary {
		t.Errorf("expected compaction_summary metadata, got %+v", msgs[0].Metadata)
	}

	reloaded, _, _ := b.GetSession(ctx, sess.ID)
	if reloaded.MessageCount != 1 {
		t.Errorf("expected session message_count 1, got %d", reloaded.MessageCount)
	}
	if reloaded.Summary != "summary text" {
		t.Errorf("expected session summary updated, got %q", reloaded.Summary)
	}
}

func TestMemoryRoundTripWithEmbedding(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	u, _, _ := b.GetOrCreateUser(ctx, "cli", "m", "m")
	vec := []float32{0.1, -0.2, 0.3}

	id, err := b.InsertMemory(ctx, agent.Memory{
		UserID:     u.ID,
		Content:    "likes coffee",
		Category:   agent.CategoryPreference,
		Importance: 0.7,
		Embedding:  vec,
	})
	if err != nil {
		t.Fatalf("insert memory: %v", err)
	}

	candidates, err := b.SimilarCandidates(ctx, u.ID, agent.CategoryPreference)
	if err != nil {
		t.Fatalf("similar candidates: %v", err)
	}
	if len(candidates) != 1 || candidates[0].ID != id {
		t.Fatalf("unexpected candidates: %+v", candidates)
	}
	for i, v := range vec {
		if candidates[0].Embedding[i] != v {
			t.Errorf("embedding mismatch at %d: got %v want %v", i, candidates[0].Embedding[i], v)
		}
	}

	if err := b.UpdateMemory(ctx, id, "loves coffee", 0.9, vec); err != nil {
		t.Fatalf("update memory: %v", err)
	}

	recalled, err := b.RecallCandidates(ctx, 10)
	if err != nil {
		t.Fatalf("recall candidates: %v", err)
	}
	if len(recalled) != 1 || recalled[0].Content != "loves coffee" {
		t.Fatalf("unexpected recall candidates: %+v", recalled)
	}
}

func TestEmbeddingDimensionTracking(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	_, known, err := b.GetEmbeddingDimension(ctx)
	if err != nil {
		t.Fatalf("get dimension: %v", err)
	}
	if known {
		t.Error("expected dimension to be unknown before first set")
	}

	if err := b.SetEmbeddingDimension(ctx, 768); err != nil {
		t.Fatalf("set dimension: %v", err)
	}
	dim, known, err := b.GetEmbeddingDimension(ctx)
	if err != nil || !known {
		t.Fatalf("get dimension: known=%v err=%v", known, err)
	}
	if dim != 768 {
		t.Errorf("expected dimension 768, got %d", dim)
	}
}

func TestScheduledTaskRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()

	id, err := b.CreateTask(ctx, scheduler.Task{
		Name:            "reminder",
		ScheduleType:    scheduler.ScheduleOnce,
		ScheduleValue:   now.Format(time.RFC3339),
		Payload:         "wake up",
		CreatedBy:       1,
		ParentSessionID: 1,
		Enabled:         true,
		NextRun:         now.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	due, err := b.DueTasks(ctx, now)
	if err != nil {
		t.Fatalf("due tasks: %v", err)
	}
	if len(due) != 1 || due[0].ID != id {
		t.Fatalf("expected task to be due, got %+v", due)
	}

	if err := b.UpdateAfterRun(ctx, id, now, 1, time.Time{}, false); err != nil {
		t.Fatalf("update after run: %v", err)
	}

	due2, err := b.DueTasks(ctx, now)
	if err != nil {
		t.Fatalf("due tasks after disable: %v", err)
	}
	if len(due2) != 0 {
		t.Errorf("expected no due tasks after disabling, got %+v", due2)
	}
}

func TestSubagentRunRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()
	now := time.Now()

	run := subagent.Run{
		RunID:           "run-1",
		ParentSessionID: 42,
		Task:            "summarize logs",
		Model:           "claude",
		Status:          subagent.StatusRunning,
		StartedAt:       now,
	}
	if err := b.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	active, err := b.ListActive(ctx)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 || active[0].RunID != "run-1" {
		t.Fatalf("unexpected active runs: %+v", active)
	}

	if err := b.CompleteRun(ctx, "run-1", subagent.StatusCompleted, "done", "", 10, 20, now); err != nil {
		t.Fatalf("complete run: %v", err)
	}

	got, found, err := b.GetRun(ctx, "run-1")
	if err != nil || !found {
		t.Fatalf("get run: found=%v err=%v", found, err)
	}
	if got.Status != subagent.StatusCompleted || got.Result != "done" {
		t.Errorf("unexpected completed run: %+v", got)
	}
}

func TestSweepStaleRunning(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.InsertRun(ctx, subagent.Run{RunID: "stale-1", Status: subagent.StatusRunning, StartedAt: time.Now()}); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	n, err := b.SweepStaleRunning(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 swept run, got %d", n)
	}

	got, _, err := b.GetRun(ctx, "stale-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.Status != subagent.StatusFailed || got.Error != "bot restarted" {
		t.Errorf("unexpected swept run: %+v", got)
	}
}

func TestConfigAndRuleRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	if err := b.SetConfig(ctx, "memory.auto_capture", false); err != nil {
		t.Fatalf("set config: %v", err)
	}
	v, found, err := b.GetConfigValue(ctx, "memory.auto_capture")
	if err != nil || !found || v != "false" {
		t.Fatalf("unexpected config value: %q found=%v err=%v", v, found, err)
	}

	if err := b.SetRule(ctx, "identity", "You are Syne."); err != nil {
		t.Fatalf("set rule: %v", err)
	}
	content, found, err := b.GetRule(ctx, "identity")
	if err != nil || !found || content != "You are Syne." {
		t.Fatalf("unexpected rule: %q found=%v err=%v", content, found, err)
	}

	if err := b.DeleteRule(ctx, "identity"); err != nil {
		t.Fatalf("delete rule: %v", err)
	}
	_, found, err = b.GetRule(ctx, "identity")
	if err != nil {
		t.Fatalf("get rule after delete: %v", err)
	}
	if found {
		t.Error("expected rule to be gone after delete")
	}
}

func TestAbilityAutoDisableOnConsecutiveFailures(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	id, err := b.InsertAbility(ctx, agent.AbilityRecord{
		Name:    "flaky_ability",
		Source:  agent.AbilitySourceInstalled,
		Enabled: true,
	})
	if err != nil {
		t.Fatalf("insert ability: %v", err)
	}
	if id == 0 {
		t.Fatal("expected non-zero ability id")
	}

	var last agent.AbilityRecord
	for i := 0; i < agent.AutoDisableThreshold; i++ {
		last, err = b.RecordAbilityFailure(ctx, "flaky_ability")
		if err != nil {
			t.Fatalf("record failure: %v", err)
		}
	}
	if !last.Broken || last.Enabled {
		t.Errorf("expected ability to be broken and disabled after threshold failures, got %+v", last)
	}

	if err := b.ResetAbilityFailures(ctx, "flaky_ability"); err != nil {
		t.Fatalf("reset failures: %v", err)
	}
	reset, found, err := b.GetAbilityByName(ctx, "flaky_ability")
	if err != nil || !found {
		t.Fatalf("get ability: found=%v err=%v", found, err)
	}
	if reset.Broken || reset.ConsecutiveFailures != 0 {
		t.Errorf("expected reset ability, got %+v", reset)
	}
}

func TestGroupRoundTrip(t *testing.T) {
	b := newTestBackend(t)
	ctx := context.Background()

	g, created, err := b.GetOrCreateGroup(ctx, "telegram", "-100500")
	if err != nil {
		t.Fatalf("get or create group: %v", err)
	}
	if !created {
		t.Error("expected a freshly created group")
	}
	if g.Enabled {
		t.Error("expected a new group to start disabled (allowlist default)")
	}

	if err := b.SetGroupEnabled(ctx, g.ID, true); err != nil {
		t.Fatalf("set group enabled: %v", err)
	}
	if err := b.SetGroupPolicy(ctx, g.ID, false, agent.AllowFromRegistered); err != nil {
		t.Fatalf("set group policy: %v", err)
	}

	reloaded, found, err := b.GetGroup(ctx, g.ID)
	if err != nil || !found {
		t.Fatalf("get group: found=%v err=%v", found, err)
	}
	if !reloaded.Enabled || reloaded.RequireMention || reloaded.AllowFrom != agent.AllowFromRegistered {
		t.Errorf("unexpected group state: %+v", reloaded)
	}
}

// Package subagent implements background workers spawned via the
// spawn_subagent tool, bounded by a concurrency cap and a per-run
// timeout, that run the same tool-calling loop as the main Conversation
// Engine under worker privileges (the admin-tier tools, minus
// configuration, management, and self-spawn) and report back to their parent session
// through a completion callback.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is a sub-agent run's lifecycle state.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

const (
	DefaultMaxConcurrent  = 2
	DefaultTimeoutSeconds = 900
	DefaultMaxToolRounds  = 25
)

// ErrDisabled is returned by Spawn when subagents.enabled is false.
var ErrDisabled = errors.New("subagent: sub-agents are disabled")

// ErrMaxConcurrent is returned by Spawn when the concurrency cap is hit.
var ErrMaxConcurrent = errors.New("subagent: max concurrent sub-agents reached")

// Run is a persisted sub-agent run record.
type Run struct {
	RunID           string
	ParentSessionID int64
	Task            string
	Model           string
	Status          Status
	Result          string
	Error           string
	StartedAt       time.Time
	CompletedAt     *time.Time
	InputTokens     int
	OutputTokens    int
}

// Store is the narrow persistence surface the Manager needs.
type Store interface {
	InsertRun(ctx context.Context, run Run) error
	CompleteRun(ctx context.Context, runID string, status Status, result, errMsg string, inputTokens, outputTokens int, completedAt time.Time) error
	GetRun(ctx context.Context, runID string) (Run, bool, error)
	ListActive(ctx context.Context) ([]Run, error)
	// SweepStaleRunning marks any still-"running" records as failed with
	// reason "bot restarted" — called once at startup — and returns how
	// many were swept.
	SweepStaleRunning(ctx context.Context) (int, error)
}

// Config supplies the runtime-tunable knobs, backed by the update_config
// tool's persisted settings.
type Config interface {
	SubagentsEnabled(ctx context.Context) bool
	MaxConcurrent(ctx context.Context) int
	TimeoutSeconds(ctx context.Context) int
}

// WorkResult is a completed worker invocation's output and token usage.
type WorkResult struct {
	Content      string
	InputTokens  int
	OutputTokens int
}

// Worker executes one sub-agent task end to end — the same tool-calling
// round loop as the main Conversation Engine, but under worker
// privileges and a smaller round cap — and returns its final text
// response. Implemented by the Conversation Engine so this package never
// imports it, avoiding a cycle (the engine in turn depends on Manager to
// spawn sub-agents).
type Worker interface {
	Work(ctx context.Context, systemPrompt, task, model string) (WorkResult, error)
}

// CompletionCallback is invoked once a run finishes, in any terminal
// state, with the output to deliver to the user (the result on success,
// "Error: <message>" otherwise).
type CompletionCallback func(ctx context.Context, runID string, status Status, output string, parentSessionID int64)

// Manager spawns, tracks, and completes sub-agent runs.
type Manager struct {
	store      Store
	worker     Worker
	basePrompt string
	config     Config
	onComplete CompletionCallback

	mu     sync.Mutex
	active map[string]context.CancelFunc

	newID func() string
	now   func() time.Time
}

// New builds a Manager. basePrompt is the main agent's system prompt,
// extended per-run with the worker-privileges stanza.
func New(store Store, worker Worker, basePrompt string, config Config, onComplete CompletionCallback) *Manager {
	return &Manager{
		store:      store,
		worker:     worker,
		basePrompt: basePrompt,
		config:     config,
		onComplete: onComplete,
		active:     make(map[string]context.CancelFunc),
		newID:      func() string { return uuid.New().String() },
		now:        time.Now,
	}
}

// ActiveCount reports how many runs are currently executing.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Spawn allocates a run_id, persists the record, and starts the worker
// in a background goroutine bounded by the configured timeout.
func (m *Manager) Spawn(ctx context.Context, parentSessionID int64, task, model string) (string, error) {
	if !m.config.SubagentsEnabled(ctx) {
		return "", ErrDisabled
	}

	maxConcurrent := m.config.MaxConcurrent(ctx)
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if m.ActiveCount() >= maxConcurrent {
		return "", fmt.Errorf("%w (%d)", ErrMaxConcurrent, maxConcurrent)
	}

	runID := m.newID()
	run := Run{
		RunID:           runID,
		ParentSessionID: parentSessionID,
		Task:            task,
		Model:           model,
		Status:          StatusRunning,
		StartedAt:       m.now(),
	}
	if err := m.store.InsertRun(ctx, run); err != nil {
		return "", fmt.Errorf("subagent: persist run: %w", err)
	}

	timeoutSeconds := m.config.TimeoutSeconds(ctx)
	if timeoutSeconds <= 0 {
		timeoutSeconds = DefaultTimeoutSeconds
	}
	workCtx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSeconds)*time.Second)

	m.mu.Lock()
	m.active[runID] = cancel
	m.mu.Unlock()

	go m.run(workCtx, cancel, runID, parentSessionID, task, model)

	return runID, nil
}

func (m *Manager) run(ctx context.Context, cancel context.CancelFunc, runID string, parentSessionID int64, task, model string) {
	defer cancel()

	result, err := m.safeWork(ctx, buildSubagentPrompt(m.basePrompt), task, model)
	if errors.Is(ctx.Err(), context.Canceled) {
		// Only Cancel cancels this context early; it records the run as
		// cancelled and delivers it.
		return
	}

	status := StatusCompleted
	output := result.Content
	errMsg := ""

	switch {
	case err != nil && ctx.Err() == context.DeadlineExceeded:
		status = StatusFailed
		errMsg = fmt.Sprintf("sub-agent timed out after %ds", m.config.TimeoutSeconds(context.Background()))
		output = ""
	case err != nil:
		status = StatusFailed
		errMsg = err.Error()
		output = ""
	}

	m.complete(runID, status, output, errMsg, result.InputTokens, result.OutputTokens, parentSessionID)
}

// safeWork recovers a panicking Worker so a single bad run never takes
// down the process or the parent session.
func (m *Manager) safeWork(ctx context.Context, systemPrompt, task, model string) (result WorkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sub-agent panicked: %v", r)
		}
	}()
	return m.worker.Work(ctx, systemPrompt, task, model)
}

func (m *Manager) complete(runID string, status Status, output, errMsg string, inputTokens, outputTokens int, parentSessionID int64) {
	ctx := context.Background()
	completedAt := m.now()

	result := output
	if status != StatusCompleted {
		result = ""
	}
	if err := m.store.CompleteRun(ctx, runID, status, result, errMsg, inputTokens, outputTokens, completedAt); err != nil {
		// Best-effort: the run still completes in memory, and the
		// completion callback still fires, even if persistence failed.
		_ = err
	}

	m.mu.Lock()
	delete(m.active, runID)
	m.mu.Unlock()

	if m.onComplete == nil {
		return
	}
	deliver := output
	if status != StatusCompleted {
		deliver = fmt.Sprintf("Error: %s", errMsg)
	}
	m.onComplete(ctx, runID, status, deliver, parentSessionID)
}

// Cancel cancels a running sub-agent's context and marks it cancelled.
// Reports false if runID is not currently active.
func (m *Manager) Cancel(runID string) bool {
	m.mu.Lock()
	cancel, ok := m.active[runID]
	m.mu.Unlock()
	if !ok {
		return false
	}
	cancel()

	ctx := context.Background()
	run, found, _ := m.store.GetRun(ctx, runID)
	parentSessionID := int64(0)
	if found {
		parentSessionID = run.ParentSessionID
	}
	m.complete(runID, StatusCancelled, "", "cancelled by user", 0, 0, parentSessionID)
	return true
}

// CancelAll cancels every currently active run.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	runIDs := make([]string, 0, len(m.active))
	for id := range m.active {
		runIDs = append(runIDs, id)
	}
	m.mu.Unlock()

	for _, id := range runIDs {
		m.Cancel(id)
	}
}

// CleanupStaleRuns sweeps any "running" records left over from a prior
// process — called once at startup, before any new run is spawned.
func (m *Manager) CleanupStaleRuns(ctx context.Context) (int, error) {
	return m.store.SweepStaleRunning(ctx)
}

// GetRun returns a run by ID for introspection (e.g. a /status command).
func (m *Manager) GetRun(ctx context.Context, runID string) (Run, bool, error) {
	return m.store.GetRun(ctx, runID)
}

// ListActive returns all runs the store considers "running".
func (m *Manager) ListActive(ctx context.Context) ([]Run, error) {
	return m.store.ListActive(ctx)
}

const subagentStanza = `
# SUB-AGENT CONTEXT
You are running as a SUB-AGENT in a background session.

## Task Guidelines
- Complete the task thoroughly.
- Be concise but complete in your response.
- You CANNOT spawn other sub-agents.
- You CANNOT interact with the user directly — your result is delivered
  to the main session once you finish.

## Your capabilities (worker privileges)
You can use all tools available to the main session: shell execution,
memory search/store, file read/write, web search/fetch, and any enabled
abilities.

## What you cannot use
Configuration and management tools are blocked: update_config,
manage_user, manage_group, manage_rule, spawn_subagent (no nesting).

You are a worker who can do tasks, but cannot change policy.`

func buildSubagentPrompt(basePrompt string) string {
	return basePrompt + "\n" + subagentStanza
}

// Package scheduler implements once/interval/cron scheduled tasks whose
// payload is delivered as a synthetic user turn into a parent session.
// Built on github.com/robfig/cron/v3 for classical 5-field cron parsing
// and next-run computation, wrapped in a mutex-guarded Scheduler rather
// than bare *cron.Cron; firing is driven by a single poll loop over
// persisted due tasks rather than per-schedule cron.Entry callbacks,
// since a task here may be 'once' or 'interval' as well as 'cron' and
// the store is the single source of truth for next_run across a
// process restart.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ScheduleType names the three schedule kinds a task may use.
type ScheduleType string

const (
	ScheduleOnce     ScheduleType = "once"
	ScheduleInterval ScheduleType = "interval"
	ScheduleCron     ScheduleType = "cron"
)

const defaultPollInterval = 15 * time.Second

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Task is a persisted scheduled task.
type Task struct {
	ID              int64
	Name            string
	ScheduleType    ScheduleType
	ScheduleValue   string
	Payload         string
	CreatedBy       int64
	ParentSessionID int64
	Enabled         bool
	NextRun         time.Time
	LastRun         *time.Time
	RunCount        int
}

// Store is the narrow persistence surface the Scheduler needs.
type Store interface {
	CreateTask(ctx context.Context, t Task) (int64, error)
	// DueTasks returns enabled tasks whose next_run is at or before now.
	DueTasks(ctx context.Context, now time.Time) ([]Task, error)
	UpdateAfterRun(ctx context.Context, id int64, lastRun time.Time, runCount int, nextRun time.Time, enabled bool) error
	SetEnabled(ctx context.Context, id int64, enabled bool) error
	Delete(ctx context.Context, id int64) error
}

// Deliverer injects a scheduled task's payload as a synthetic user turn
// into its parent session — satisfied by the Conversation Manager without
// this package importing it directly.
type Deliverer interface {
	Deliver(ctx context.Context, parentSessionID int64, payload string) error
}

// Scheduler polls a Store for due tasks and fires them through a
// Deliverer.
type Scheduler struct {
	store        Store
	deliver      Deliverer
	logger       *zap.Logger
	pollInterval time.Duration
	stop         chan struct{}
	done         chan struct{}
}

// New builds a Scheduler. pollInterval <= 0 selects defaultPollInterval.
func New(store Store, deliver Deliverer, logger *zap.Logger, pollInterval time.Duration) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		store:        store,
		deliver:      deliver,
		logger:       logger,
		pollInterval: pollInterval,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// CreateTask validates the schedule (parse errors fail closed) and
// persists the task with a computed initial next_run.
func (s *Scheduler) CreateTask(ctx context.Context, name string, scheduleType ScheduleType, scheduleValue, payload string, createdBy, parentSessionID int64) (Task, error) {
	nextRun, err := computeNextRun(scheduleType, scheduleValue, time.Now())
	if err != nil {
		return Task{}, fmt.Errorf("scheduler: invalid schedule: %w", err)
	}

	t := Task{
		Name:            name,
		ScheduleType:    scheduleType,
		ScheduleValue:   scheduleValue,
		Payload:         payload,
		CreatedBy:       createdBy,
		ParentSessionID: parentSessionID,
		Enabled:         true,
		NextRun:         nextRun,
	}

	id, err := s.store.CreateTask(ctx, t)
	if err != nil {
		return Task{}, fmt.Errorf("scheduler: persist task: %w", err)
	}
	t.ID = id
	return t, nil
}

// Enable/Disable/Delete are immediate — in-flight firings are unaffected.
func (s *Scheduler) Enable(ctx context.Context, id int64) error  { return s.store.SetEnabled(ctx, id, true) }
func (s *Scheduler) Disable(ctx context.Context, id int64) error { return s.store.SetEnabled(ctx, id, false) }
func (s *Scheduler) Delete(ctx context.Context, id int64) error  { return s.store.Delete(ctx, id) }

// Run polls for due tasks every pollInterval until ctx is cancelled or
// Stop is called.
func (s *Scheduler) Run(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.pollOnce(ctx)
		}
	}
}

// Stop signals Run to exit and blocks until it does.
func (s *Scheduler) Stop() {
	close(s.stop)
	<-s.done
}

func (s *Scheduler) pollOnce(ctx context.Context) {
	now := time.Now()
	due, err := s.store.DueTasks(ctx, now)
	if err != nil {
		s.logger.Error("scheduler: list due tasks", zap.Error(err))
		return
	}
	for _, t := range due {
		if err := s.fire(ctx, t, now); err != nil {
			s.logger.Error("scheduler: fire task",
				zap.Int64("task_id", t.ID), zap.String("name", t.Name), zap.Error(err))
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, t Task, now time.Time) error {
	if err := s.deliver.Deliver(ctx, t.ParentSessionID, t.Payload); err != nil {
		return fmt.Errorf("deliver: %w", err)
	}

	runCount := t.RunCount + 1
	enabled := true
	nextRun := t.NextRun

	if t.ScheduleType == ScheduleOnce {
		enabled = false
	} else {
		next, err := computeNextRun(t.ScheduleType, t.ScheduleValue, now)
		if err != nil {
			s.logger.Warn("scheduler: recompute next run failed, disabling task",
				zap.Int64("task_id", t.ID), zap.Error(err))
			enabled = false
		} else {
			nextRun = next
		}
	}

	return s.store.UpdateAfterRun(ctx, t.ID, now, runCount, nextRun, enabled)
}

// computeNextRun validates scheduleValue for scheduleType and returns the
// next fire time after `after`.
func computeNextRun(scheduleType ScheduleType, scheduleValue string, after time.Time) (time.Time, error) {
	switch scheduleType {
	case ScheduleOnce:
		t, err := time.Parse(time.RFC3339, scheduleValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("once: expected ISO-8601 timestamp: %w", err)
		}
		return t, nil
	case ScheduleInterval:
		seconds, err := strconv.Atoi(scheduleValue)
		if err != nil || seconds <= 0 {
			return time.Time{}, fmt.Errorf("interval: expected a positive integer number of seconds")
		}
		return after.Add(time.Duration(seconds) * time.Second), nil
	case ScheduleCron:
		schedule, err := cronParser.Parse(scheduleValue)
		if err != nil {
			return time.Time{}, fmt.Errorf("cron: %w", err)
		}
		return schedule.Next(after), nil
	default:
		return time.Time{}, fmt.Errorf("unknown schedule type %q", scheduleType)
	}
}

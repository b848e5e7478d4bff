package conversation

import (
	"context"
	"strconv"

	"github.com/riyogarta/synebot/internal/config"
)

// RuntimeConfig resolves a tunable against the config table first,
// falling back to the value the process was started with, so that
// update_config mutations take effect without a restart. It also
// directly satisfies internal/subagent.Config, so the Manager can hand
// it to subagent.New without an adapter.
type RuntimeConfig struct {
	store Store
	base  *config.Config
}

// NewRuntimeConfig builds a RuntimeConfig over base's defaults.
func NewRuntimeConfig(store Store, base *config.Config) *RuntimeConfig {
	return &RuntimeConfig{store: store, base: base}
}

func (r *RuntimeConfig) getString(ctx context.Context, key, fallback string) string {
	if v, found, err := r.store.GetConfigValue(ctx, key); err == nil && found {
		return v
	}
	return fallback
}

func (r *RuntimeConfig) getInt(ctx context.Context, key string, fallback int) int {
	if v, found, err := r.store.GetConfigValue(ctx, key); err == nil && found {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func (r *RuntimeConfig) getBool(ctx context.Context, key string, fallback bool) bool {
	if v, found, err := r.store.GetConfigValue(ctx, key); err == nil && found {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// MaxToolRounds is the main-loop round cap, default 100.
func (r *RuntimeConfig) MaxToolRounds(ctx context.Context) int {
	n := r.getInt(ctx, "session.max_tool_rounds", r.base.Session.MaxToolRounds)
	if n <= 0 {
		return 100
	}
	return n
}

// ThinkingBudget reports the configured session.thinking_budget; 0 means
// off. Nothing in this module copies it onto a session: a new Session's
// ThinkingBudget stays nil (model default).
func (r *RuntimeConfig) ThinkingBudget(ctx context.Context) int {
	return r.getInt(ctx, "session.thinking_budget", r.base.Session.ThinkingBudget)
}

// AutoCaptureMemory reports whether the Memory Evaluator runs after each
// assistant turn.
func (r *RuntimeConfig) AutoCaptureMemory(ctx context.Context) bool {
	return r.getBool(ctx, "memory.auto_capture", r.base.Memory.AutoCapture)
}

// SubagentsEnabled satisfies internal/subagent.Config.
func (r *RuntimeConfig) SubagentsEnabled(ctx context.Context) bool {
	return r.getBool(ctx, "subagents.enabled", r.base.Subagents.Enabled)
}

// MaxConcurrent satisfies internal/subagent.Config.
func (r *RuntimeConfig) MaxConcurrent(ctx context.Context) int {
	return r.getInt(ctx, "subagents.max_concurrent", r.base.Subagents.MaxConcurrent)
}

// TimeoutSeconds satisfies internal/subagent.Config.
func (r *RuntimeConfig) TimeoutSeconds(ctx context.Context) int {
	return r.getInt(ctx, "subagents.timeout_seconds", r.base.Subagents.TimeoutSeconds)
}

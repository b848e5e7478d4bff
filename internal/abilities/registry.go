package abilities

import (
	"context"
	"fmt"
	"plugin"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// executeTimeout bounds a single Execute call: a hung ability must never
// block the turn indefinitely.
const executeTimeout = 120 * time.Second

// Store is the narrow persistence surface the Registry needs, satisfied
// by internal/storage's SQLite and Postgres backends.
type Store interface {
	InsertAbility(ctx context.Context, a agent.AbilityRecord) (int64, error)
	ListAbilities(ctx context.Context) ([]agent.AbilityRecord, error)
	GetAbilityByName(ctx context.Context, name string) (agent.AbilityRecord, bool, error)
	SetAbilityEnabled(ctx context.Context, name string, enabled bool) error
	RecordAbilityFailure(ctx context.Context, name string) (agent.AbilityRecord, error)
	ResetAbilityFailures(ctx context.Context, name string) error
}

type registeredAbility struct {
	instance  Ability
	record    agent.AbilityRecord
	knownToDB bool
}

// Registry tracks every loaded ability (bundled and dynamically loaded),
// mirrors enabled/config/access-level state to and from the Store, and
// mediates execution the same way internal/tools.Registry mediates tool
// calls: existence/enabled, access tier, then a timeout-bounded call with
// failure tracking feeding the auto-disable threshold.
type Registry struct {
	mu        sync.RWMutex
	abilities map[string]*registeredAbility
	store     Store
	logger    *zap.Logger
}

// New builds an empty Registry. logger may be nil, in which case a no-op
// logger is used.
func New(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		abilities: make(map[string]*registeredAbility),
		store:     store,
		logger:    logger,
	}
}

// RegisterBundled registers a compiled-in ability with explicit code —
// never via dynamic discovery — defaulting to enabled at family tier
// until SyncBundled reconciles it against persisted state.
func (r *Registry) RegisterBundled(a Ability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.abilities[a.Name()] = &registeredAbility{
		instance: a,
		record: agent.AbilityRecord{
			Name:                a.Name(),
			Description:         a.Description(),
			Version:             a.Version(),
			Source:              agent.AbilitySourceBundled,
			ModulePath:          "bundled/" + a.Name(),
			Config:              map[string]interface{}{},
			Enabled:             true,
			RequiresAccessLevel: agent.AccessFamily,
		},
	}
}

// SyncBundled ensures every registered bundled ability has a row in the
// store, then pulls the store's enabled/config/access-level back into
// the in-memory record — the store is the source of truth for anything
// a user has changed, so syncing preserves user-owned fields.
func (r *Registry) SyncBundled(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name, ra := range r.abilities {
		if ra.record.Source != agent.AbilitySourceBundled {
			continue
		}
		existing, found, err := r.store.GetAbilityByName(ctx, name)
		if err != nil {
			return fmt.Errorf("abilities: sync %q: %w", name, err)
		}
		if !found {
			id, err := r.store.InsertAbility(ctx, ra.record)
			if err != nil {
				return fmt.Errorf("abilities: insert %q: %w", name, err)
			}
			ra.record.ID = id
			ra.knownToDB = true
			continue
		}
		ra.record.ID = existing.ID
		ra.record.Enabled = existing.Enabled
		ra.record.Config = existing.Config
		ra.record.RequiresAccessLevel = existing.RequiresAccessLevel
		ra.record.ConsecutiveFailures = existing.ConsecutiveFailures
		ra.record.Broken = existing.Broken
		ra.record.BrokenReason = existing.BrokenReason
		ra.knownToDB = true
	}
	return nil
}

// LoadDynamic loads every persisted non-bundled ability from its
// module_path as a Go plugin. An ability that fails to load is recorded
// as broken rather than failing the whole registry startup.
func (r *Registry) LoadDynamic(ctx context.Context) error {
	records, err := r.store.ListAbilities(ctx)
	if err != nil {
		return fmt.Errorf("abilities: list for dynamic load: %w", err)
	}
	for _, rec := range records {
		if rec.Source == agent.AbilitySourceBundled {
			continue
		}
		instance, loadErr := loadPlugin(rec.ModulePath)
		r.mu.Lock()
		if loadErr != nil {
			r.logger.Warn("abilities: plugin failed to load, marking broken",
				zap.String("name", rec.Name), zap.String("module_path", rec.ModulePath), zap.Error(loadErr))
			rec.Broken = true
			rec.BrokenReason = loadErr.Error()
			r.abilities[rec.Name] = &registeredAbility{instance: nil, record: rec, knownToDB: true}
			r.mu.Unlock()
			continue
		}
		rec.Broken = false
		rec.BrokenReason = ""
		r.abilities[rec.Name] = &registeredAbility{instance: instance, record: rec, knownToDB: true}
		r.mu.Unlock()
	}
	return nil
}

// loadPlugin opens a precompiled Go plugin and resolves its exported
// "New" symbol, which must have the shape func() Ability. Go cannot
// safely interpret or dlopen arbitrary source across platforms, so
// installed/self-created
// abilities ship as plugin.Open-able .so files built ahead of time.
func loadPlugin(modulePath string) (Ability, error) {
	p, err := plugin.Open(modulePath)
	if err != nil {
		return nil, fmt.Errorf("plugin.Open: %w", err)
	}
	sym, err := p.Lookup("New")
	if err != nil {
		return nil, fmt.Errorf("lookup New: %w", err)
	}
	constructor, ok := sym.(func() Ability)
	if !ok {
		return nil, fmt.Errorf("exported New has wrong shape (want func() Ability)")
	}
	instance := constructor()
	if instance == nil {
		return nil, fmt.Errorf("New() returned nil")
	}
	if instance.Name() == "" || instance.Description() == "" {
		return nil, fmt.Errorf("ability has empty name or description")
	}
	if err := validateSchema(instance); err != nil {
		return nil, err
	}
	return instance, nil
}

// validateSchema checks a freshly loaded ability's declared schema,
// recovering from a panicking GetSchema rather
// than letting one bad plugin take down the registry.
func validateSchema(a Ability) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("GetSchema panicked: %v", rec)
		}
	}()
	schema := a.GetSchema()
	if !schema.Valid() {
		return fmt.Errorf("GetSchema returned an invalid function schema")
	}
	return nil
}

// List returns every registered ability's current record, in no
// particular order.
func (r *Registry) List() []agent.AbilityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.AbilityRecord, 0, len(r.abilities))
	for _, ra := range r.abilities {
		out = append(out, ra.record)
	}
	return out
}

// ListEnabled returns the abilities enabled and reachable at level.
func (r *Registry) ListEnabled(level agent.AccessLevel) []agent.AbilityRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []agent.AbilityRecord
	for _, ra := range r.abilities {
		if ra.record.Enabled && !ra.record.Broken && level.AtLeast(ra.record.RequiresAccessLevel) {
			out = append(out, ra.record)
		}
	}
	return out
}

// PriorityAbilities returns the enabled, reachable abilities that opt
// into ability-first pre-processing, for the Conversation Engine's turn
// step 1 to offer raw input to before calling the model.
func (r *Registry) PriorityAbilities(level agent.AccessLevel) []Ability {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Ability
	for _, ra := range r.abilities {
		if ra.instance == nil || !ra.record.Enabled || ra.record.Broken {
			continue
		}
		if !level.AtLeast(ra.record.RequiresAccessLevel) {
			continue
		}
		if ra.instance.Priority() {
			out = append(out, ra.instance)
		}
	}
	return out
}

// HandlesInputType reports whether the named, currently enabled ability
// declares it can consume raw input of kind — used by the Conversation
// Engine to decide whether a function-call arguments map should have the
// turn's still-cached raw input auto-injected into it.
func (r *Registry) HandlesInputType(name string, kind InputKind) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ra, ok := r.abilities[name]
	if !ok || ra.instance == nil || !ra.record.Enabled || ra.record.Broken {
		return false
	}
	return ra.instance.HandlesInputType(kind)
}

// ToSchemas returns the function-calling schemas for every enabled,
// reachable, schema-valid ability, exactly mirroring the malformed-schema
// drop-and-log behavior of internal/tools.Registry.ToOpenAISchema.
func (r *Registry) ToSchemas(level agent.AccessLevel) []tools.FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]tools.FunctionSchema, 0, len(r.abilities))
	for name, ra := range r.abilities {
		if ra.instance == nil || !ra.record.Enabled || ra.record.Broken {
			continue
		}
		if !level.AtLeast(ra.record.RequiresAccessLevel) {
			continue
		}
		schema := ra.instance.GetSchema()
		if !schema.Valid() {
			r.logger.Error("abilities: skipping malformed schema", zap.String("name", name))
			continue
		}
		out = append(out, schema)
	}
	return out
}

// Guide renders the "# Abilities" system-prompt section: every
// registered ability's own GetGuide, in name order for determinism is
// not required — the engine concatenates whatever order List returns.
func (r *Registry) Guide() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, ra := range r.abilities {
		if ra.instance == nil {
			continue
		}
		out = append(out, ra.instance.GetGuide(ra.record.Enabled, ra.record.Config))
	}
	return out
}

// PreProcessInput offers raw input of the given kind to the first
// enabled, reachable, priority ability whose
// HandlesInputType matches; candidates are tried in no defined order
// (they come from the registry's map). A declining ability
// (empty result, no error) is skipped in favor of the next candidate; an
// erroring one is logged and skipped the same way. ok is false if no
// ability produced a non-empty result, signaling the caller to fall back
// to native provider capability.
func (r *Registry) PreProcessInput(ctx context.Context, kind InputKind, data, prompt string, level agent.AccessLevel) (result string, ok bool) {
	r.mu.RLock()
	var candidates []*registeredAbility
	for _, ra := range r.abilities {
		if ra.instance == nil || !ra.record.Enabled || ra.record.Broken {
			continue
		}
		if !level.AtLeast(ra.record.RequiresAccessLevel) {
			continue
		}
		if !ra.instance.Priority() || !ra.instance.HandlesInputType(kind) {
			continue
		}
		candidates = append(candidates, ra)
	}
	r.mu.RUnlock()

	for _, ra := range candidates {
		out, err := ra.instance.PreProcess(ctx, kind, data, prompt, ra.record.Config)
		if err != nil {
			r.logger.Warn("abilities: pre-process failed", zap.String("name", ra.record.Name), zap.Error(err))
			continue
		}
		if out != "" {
			return out, true
		}
	}
	return "", false
}

// Execute runs the named ability's Execute for an explicit function
// call, applying the same ordered gates used for tools — existence,
// enabled, access tier, config validity — then a timeout-bounded call
// that feeds ConsecutiveFailures into the auto-disable threshold.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}, abilityCtx Context) Result {
	r.mu.RLock()
	ra, ok := r.abilities[name]
	r.mu.RUnlock()

	if !ok || ra.instance == nil {
		return Result{Error: fmt.Sprintf("ability %q not available", name)}
	}
	if !ra.record.Enabled {
		return Result{Error: fmt.Sprintf("ability %q is disabled", name)}
	}
	if !abilityCtx.Level.AtLeast(ra.record.RequiresAccessLevel) {
		return Result{Error: fmt.Sprintf("ability %q requires %s access", name, ra.record.RequiresAccessLevel)}
	}
	if ok, reason := ra.instance.ValidateConfig(ra.record.Config); !ok {
		return Result{Error: reason}
	}

	abilityCtx.Config = ra.record.Config
	abilityCtx.Registry = r

	execCtx, cancel := context.WithTimeout(ctx, executeTimeout)
	defer cancel()

	result, err := r.safeExecute(execCtx, ra.instance, params, abilityCtx)
	if err != nil {
		r.recordFailure(name, ra, err)
		return Result{Error: err.Error()}
	}
	if !result.Success {
		r.recordFailure(name, ra, fmt.Errorf("%s", result.Error))
		return result
	}

	ctx2 := context.Background()
	if resetErr := r.store.ResetAbilityFailures(ctx2, name); resetErr != nil {
		r.logger.Warn("abilities: reset failure count", zap.String("name", name), zap.Error(resetErr))
	}
	r.mu.Lock()
	ra.record.ConsecutiveFailures = 0
	r.mu.Unlock()
	return result
}

// safeExecute recovers a panicking Execute so one bad ability call never
// takes down the calling turn. The timeout itself is enforced by the
// context deadline Execute already set up — like internal/tools' Handler
// and internal/subagent's Worker, an Ability is expected to respect ctx
// cancellation in any blocking work it does.
func (r *Registry) safeExecute(ctx context.Context, a Ability, params map[string]interface{}, abilityCtx Context) (result Result, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("ability panicked: %v", rec)
		}
	}()
	result, err = a.Execute(ctx, params, abilityCtx)
	if err == nil && ctx.Err() == context.DeadlineExceeded {
		return Result{}, fmt.Errorf("ability timed out after %s", executeTimeout)
	}
	return result, err
}

// recordFailure persists the incremented failure count and, past
// AutoDisableThreshold for a non-bundled ability, disables it — bundled
// abilities are only logged, never auto-disabled (see CanAutoDisable).
func (r *Registry) recordFailure(name string, ra *registeredAbility, cause error) {
	ctx := context.Background()
	rec, err := r.store.RecordAbilityFailure(ctx, name)
	if err != nil {
		r.logger.Warn("abilities: record failure", zap.String("name", name), zap.Error(err))
		return
	}

	r.mu.Lock()
	ra.record.ConsecutiveFailures = rec.ConsecutiveFailures
	r.mu.Unlock()

	if !rec.CanAutoDisable() {
		if rec.ConsecutiveFailures >= agent.AutoDisableThreshold {
			r.logger.Warn("abilities: bundled ability failing repeatedly, not auto-disabling",
				zap.String("name", name), zap.Int("consecutive_failures", rec.ConsecutiveFailures), zap.Error(cause))
		}
		return
	}
	if rec.ConsecutiveFailures < agent.AutoDisableThreshold {
		return
	}

	if err := r.store.SetAbilityEnabled(ctx, name, false); err != nil {
		r.logger.Error("abilities: auto-disable failed to persist", zap.String("name", name), zap.Error(err))
		return
	}
	r.mu.Lock()
	ra.record.Enabled = false
	r.mu.Unlock()
	r.logger.Error("abilities: auto-disabled after consecutive failures",
		zap.String("name", name), zap.Int("consecutive_failures", rec.ConsecutiveFailures))
}

// Enable calls EnsureDependencies before persisting enabled=true; on
// failure the ability stays disabled with the returned reason.
func (r *Registry) Enable(ctx context.Context, name string) (bool, string) {
	r.mu.RLock()
	ra, ok := r.abilities[name]
	r.mu.RUnlock()
	if !ok || ra.instance == nil {
		return false, fmt.Sprintf("ability %q not available", name)
	}

	ok2, msg := ra.instance.EnsureDependencies(ctx)
	if !ok2 {
		return false, msg
	}
	if err := r.store.SetAbilityEnabled(ctx, name, true); err != nil {
		return false, fmt.Sprintf("persist enable: %v", err)
	}
	r.mu.Lock()
	ra.record.Enabled = true
	r.mu.Unlock()
	if msg != "" {
		return true, fmt.Sprintf("ability %q enabled (%s)", name, msg)
	}
	return true, fmt.Sprintf("ability %q enabled", name)
}

// Disable persists enabled=false, reporting false if name is unknown.
func (r *Registry) Disable(ctx context.Context, name string) bool {
	r.mu.RLock()
	_, ok := r.abilities[name]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if err := r.store.SetAbilityEnabled(ctx, name, false); err != nil {
		r.logger.Error("abilities: disable failed to persist", zap.String("name", name), zap.Error(err))
		return false
	}
	r.mu.Lock()
	if ra, ok := r.abilities[name]; ok {
		ra.record.Enabled = false
	}
	r.mu.Unlock()
	return true
}

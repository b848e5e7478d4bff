package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/riyogarta/synebot/internal/agent"
)

// Rule700Checker reports whether a caller is allowed to invoke the named
// tool under Rule 700 (owner-only tools); a non-nil error denies the call.
// Passed in by the caller rather than imported from internal/access to
// keep this package free of a dependency on the access package.
type Rule700Checker func(callerID int64, toolName string, args map[string]interface{}) error

// Registry holds the full set of statically declared tools and mediates
// every invocation through an ordered sequence of checks: existence and
// enabled state, Rule 700, access tier, optional interactive approval,
// execution, then result scrubbing.
type Registry struct {
	mu       sync.RWMutex
	tools    map[string]*Tool
	approver Approver
	rule700  Rule700Checker
}

// NewRegistry constructs an empty registry. approver and rule700 may be nil,
// in which case their checks are skipped.
func NewRegistry(approver Approver, rule700 Rule700Checker) *Registry {
	return &Registry{
		tools:    make(map[string]*Tool),
		approver: approver,
		rule700:  rule700,
	}
}

// Register adds or replaces a tool definition.
func (r *Registry) Register(t *Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name] = t
}

// Get returns a registered tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// SetEnabled flips a tool's enabled flag.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tools[name]
	if !ok {
		return fmt.Errorf("tool %q not registered", name)
	}
	t.Enabled = enabled
	return nil
}

// ToOpenAISchema returns the function-calling schema for every enabled tool
// visible at the given access level, for inclusion in a provider request.
func (r *Registry) ToOpenAISchema(level agent.AccessLevel) []FunctionSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FunctionSchema, 0, len(r.tools))
	for _, t := range r.tools {
		if !t.Enabled {
			continue
		}
		if !level.AtLeast(t.RequiresAccessLevel) {
			continue
		}
		out = append(out, t.Schema())
	}
	return out
}

// Names returns every registered tool's name, in no particular order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}

// Execute runs the named tool on behalf of callerID at the given access
// level, applying every gate in order before the handler runs, then
// scrubbing the result on the way out.
func (r *Registry) Execute(ctx context.Context, name string, callerID int64, level agent.AccessLevel, args map[string]interface{}) (Result, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()

	if !ok {
		return Result{}, &Error{Reason: fmt.Sprintf("unknown tool %q", name)}
	}
	if !t.Enabled {
		return Result{}, &Error{Reason: fmt.Sprintf("tool %q is disabled", name)}
	}

	if r.rule700 != nil {
		if err := r.rule700(callerID, name, args); err != nil {
			return Result{}, &Error{Reason: "not permitted", Err: err}
		}
	}

	if !level.AtLeast(t.RequiresAccessLevel) {
		return Result{}, &Error{Reason: fmt.Sprintf("tool %q requires %s access", name, t.RequiresAccessLevel)}
	}

	if err := ValidateArguments(t.Parameters, args); err != nil {
		return Result{}, &Error{Reason: "invalid arguments", Err: err}
	}

	if t.RequiresApproval && r.approver != nil {
		ok, err := r.approver.Approve(ctx, callerID, name, args)
		if err != nil {
			return Result{}, &Error{Reason: "approval check failed", Err: err}
		}
		if !ok {
			return Result{}, &Error{Reason: fmt.Sprintf("tool %q was not approved", name)}
		}
	}

	content, err := t.Handler(withCaller(ctx, callerID, level), args)
	if err != nil {
		return Result{Content: err.Error(), IsError: true}, nil
	}

	return Result{Content: scrub(content, t.ScrubLevel)}, nil
}

type callerContextKey struct{}

type callerContext struct {
	id    int64
	level agent.AccessLevel
}

func withCaller(ctx context.Context, callerID int64, level agent.AccessLevel) context.Context {
	return context.WithValue(ctx, callerContextKey{}, callerContext{id: callerID, level: level})
}

// CallerFromContext recovers the invoking user's ID and access level from a
// context passed to a Handler. Handlers that need to scope their work to the
// caller (memory_search, memory_store) read it here instead of threading
// extra parameters through the JSON schema.
func CallerFromContext(ctx context.Context) (callerID int64, level agent.AccessLevel, ok bool) {
	c, ok := ctx.Value(callerContextKey{}).(callerContext)
	if !ok {
		return 0, agent.AccessPublic, false
	}
	return c.id, c.level, true
}

type sessionContextKey struct{}

// WithSessionID attaches the calling conversation's session id to ctx,
// for handlers that need to scope work to a session rather than just a
// caller (spawn_subagent's parent_session_id).
func WithSessionID(ctx context.Context, sessionID int64) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sessionID)
}

// SessionIDFromContext recovers the session id attached by WithSessionID.
func SessionIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(sessionContextKey{}).(int64)
	return id, ok
}


// Package abilities implements the Ability Registry & Loader. Abilities
// differ from internal/tools in two ways — they opt into a
// pre-processing pass over raw channel input before the model ever sees
// it, and the dynamic (non-bundled) ones are loaded as precompiled Go
// plugins rather than declared in code — but otherwise slot into the
// same function-calling schema the Conversation Engine already builds
// for tools. Grounded on the Python original's syne/abilities/base.py
// and registry.py, re-expressed with Go's plugin package standing in
// for the original's dynamic module import.
package abilities

import (
	"context"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// InputKind names the shape of raw channel input an ability's PreProcess
// may intercept ahead of the model call.
type InputKind string

const (
	InputText     InputKind = "text"
	InputImage    InputKind = "image"
	InputDocument InputKind = "document"
	InputURL      InputKind = "url"
	InputAudio    InputKind = "audio"
)

// Context is handed to Execute and PreProcess. It carries the invoking
// caller's identity, the ability's own persisted config, and a back
// reference to the Registry so one ability can call another — the Go
// analogue of the Python original's context["_registry"] composition
// hook.
type Context struct {
	CallerID   int64
	Level      agent.AccessLevel
	SessionID  int64
	Config     map[string]interface{}
	OutputDir  string
	UploadsDir string
	TempDir    string
	Registry   *Registry
}

// Result is what Execute returns. Media (if any) travels as a trailing
// "MEDIA: <path>" line in Result, the same convention tools use, so the
// engine's media harvesting logic doesn't need a second code path.
type Result struct {
	Success bool
	Result  string
	Error   string
}

// Ability is the contract every bundled or dynamically loaded ability
// implements. Priority abilities are offered a PreProcess pass before
// the model sees the user's turn at all; HandlesInputType gates which
// input kinds it wants a look at.
type Ability interface {
	Name() string
	Description() string
	Version() string

	// Priority reports whether this ability participates in ability-first
	// pre-processing (offered the raw input before the model is called).
	Priority() bool

	// HandlesInputType reports whether PreProcess wants a look at input
	// of the given kind. Defaults to false for abilities that only ever
	// run via an explicit function call.
	HandlesInputType(kind InputKind) bool

	// PreProcess inspects raw input ahead of the model call. Returning
	// ("", nil) declines and falls back to native model capability (or to
	// an explicit Execute call later in the turn); a non-empty string is
	// appended to the user's turn text before the model call, and the raw
	// input itself is not passed on to the model.
	PreProcess(ctx context.Context, kind InputKind, data, prompt string, config map[string]interface{}) (string, error)

	// Execute runs the ability for an explicit function call.
	Execute(ctx context.Context, params map[string]interface{}, abilityCtx Context) (Result, error)

	// GetSchema returns the function-calling schema offered to the model
	// when this ability is enabled and in reach of the caller's tier.
	GetSchema() tools.FunctionSchema

	// GetGuide renders the ability's entry in the "# Abilities" section
	// of the system prompt: status plus usage, given its current enabled
	// state and persisted config.
	GetGuide(enabled bool, config map[string]interface{}) string

	// GetRequiredConfig names the config keys that must be present before
	// ValidateConfig will pass.
	GetRequiredConfig() []string

	// ValidateConfig reports whether config is sufficient to run, with a
	// human-readable reason on failure.
	ValidateConfig(config map[string]interface{}) (bool, string)

	// EnsureDependencies is called once before an ability transitions to
	// enabled; on failure the ability stays disabled with the message.
	EnsureDependencies(ctx context.Context) (bool, string)
}

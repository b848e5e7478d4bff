package agent

// AbilitySource distinguishes where an ability's code came from, which
// governs whether it can ever be auto-disabled (bundled abilities cannot).
type AbilitySource string

const (
	AbilitySourceBundled     AbilitySource = "bundled"
	AbilitySourceInstalled   AbilitySource = "installed"
	AbilitySourceSelfCreated AbilitySource = "self_created"
)

// AbilityRecord is the persisted shape of an ability's registry row.
type AbilityRecord struct {
	ID                  int64
	Name                string
	Description         string
	Version             string
	Source              AbilitySource
	ModulePath          string
	Config              map[string]interface{}
	Enabled             bool
	RequiresAccessLevel AccessLevel
	ConsecutiveFailures int
	Broken              bool
	BrokenReason        string
}

// AutoDisableThreshold is the consecutive-failure count at which a
// non-bundled ability is auto-disabled.
const AutoDisableThreshold = 5

// CanAutoDisable reports whether this record is eligible for auto-disable.
// Bundled abilities are never auto-disabled — only logged.
func (a *AbilityRecord) CanAutoDisable() bool {
	return a.Source != AbilitySourceBundled
}


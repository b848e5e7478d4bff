// Package access centralizes the hardcoded, defense-in-depth access-control
// constants and checks described in the system's security model: Rule 700
// (owner-only tools), Rule 760 (cross-user private memory — enforced by
// internal/memory against agent.PrivateMemoryCategories), the rule-removal
// guard, sub-agent tool filtering, group-context degradation, and the
// shell command blacklist. Grounded on original_source/syne/security.py's
// hardcoded constant sets, translated into Go slices/maps and the narrow
// check functions internal/tools.Registry and internal/conversation need.
package access

import (
	"fmt"
	"strings"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// OwnerOnlyTools is Rule 700's hardcoded set: tools that fail closed for
// any caller below the owner tier, checked before the ordinary
// RequiresAccessLevel comparison.
var OwnerOnlyTools = map[string]bool{
	"update_config":  true,
	"manage_user":    true,
	"manage_group":   true,
	"manage_rule":    true,
	"spawn_subagent": true,
	"db_query":       true,
	"send_file":      true,
}

// ProtectedRulePrefixes names rule-name prefixes the manage_rule tool
// refuses to touch regardless of caller tier — the rule-removal guard.
var ProtectedRulePrefixes = []string{"security_", "core_"}

// SubagentBlockedTools names tools hidden from, and rejected for, a
// sub-agent's schema — configuration, management, and self-spawn are
// never delegated to a sub-agent. Sub-agents run at the admin tier, not
// the owner tier, so owner-level tools outside this set (db_query,
// send_file) are not offered to them either.
var SubagentBlockedTools = map[string]bool{
	"update_config":  true,
	"manage_user":    true,
	"manage_group":   true,
	"manage_rule":    true,
	"spawn_subagent": true,
}

// CommandBlacklist names shell-command substrings that are never allowed
// for shell_execute, regardless of caller access level.
var CommandBlacklist = []string{
	"rm -rf /",
	"mkfs",
	"dd if=",
	"shutdown",
	"reboot",
	"init 0",
	"init 6",
	":(){:|:&};:",
	"> /dev/sda",
	"chmod -R 777 /",
}

// IsOwnerOnlyTool reports whether name is subject to Rule 700.
func IsOwnerOnlyTool(name string) bool {
	return OwnerOnlyTools[name]
}

// IsProtectedRule reports whether name matches a protected rule prefix.
func IsProtectedRule(name string) bool {
	for _, prefix := range ProtectedRulePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// IsSubagentBlocked reports whether a sub-agent is forbidden from calling
// the named tool.
func IsSubagentBlocked(name string) bool {
	return SubagentBlockedTools[name]
}

// IsBlacklistedCommand reports whether command matches a blacklisted
// substring (case-insensitive), returning the matched rule for logging.
func IsBlacklistedCommand(command string) (rule string, blocked bool) {
	lower := strings.ToLower(command)
	for _, bad := range CommandBlacklist {
		if strings.Contains(lower, bad) {
			return bad, true
		}
	}
	return "", false
}

// Rule700 builds an internal/tools.Rule700Checker enforcing Rule 700:
// owner-only tools reject any caller whose level is below owner,
// independent of — and checked before — the tool's own
// RequiresAccessLevel.
func Rule700(levelOf func(callerID int64) agent.AccessLevel) tools.Rule700Checker {
	return func(callerID int64, toolName string, args map[string]interface{}) error {
		if !IsOwnerOnlyTool(toolName) {
			return nil
		}
		if !levelOf(callerID).AtLeast(agent.AccessOwner) {
			return fmt.Errorf("tool %q is owner-only", toolName)
		}
		return nil
	}
}

// EffectiveLevel applies group-context degradation: in a group chat, the
// effective access level used for tool exposure is capped at public
// regardless of the user's nominal level.
func EffectiveLevel(nominal agent.AccessLevel, isGroup bool) agent.AccessLevel {
	if isGroup && nominal > agent.AccessPublic {
		return agent.AccessPublic
	}
	return nominal
}

// FilterForGroup strips owner-only tools from a schema list presented to
// the model in a group chat, on top of the ordinary access-level filter
// the registry already applies via EffectiveLevel.
func FilterForGroup(schemas []tools.FunctionSchema) []tools.FunctionSchema {
	out := make([]tools.FunctionSchema, 0, len(schemas))
	for _, s := range schemas {
		if IsOwnerOnlyTool(s.Function.Name) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// FilterForSubagent strips configuration/management/self-spawn tools from
// the schema list presented to a sub-agent worker.
func FilterForSubagent(schemas []tools.FunctionSchema) []tools.FunctionSchema {
	out := make([]tools.FunctionSchema, 0, len(schemas))
	for _, s := range schemas {
		if IsSubagentBlocked(s.Function.Name) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// GroupRestrictionNotice is appended to the system prompt in a group
// chat so the model understands — and does not attempt to talk its way
// around — the access degradation in effect for this session.
const GroupRestrictionNotice = "This is a group chat: you are operating at public access. Owner-only tools (configuration, user/group/rule management, sub-agent spawning) are unavailable here regardless of who is speaking."

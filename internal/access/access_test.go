package access

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

func TestIsProtectedRuleMatchesPrefixes(t *testing.T) {
	assert.True(t, IsProtectedRule("security_no_shell"), "expected security_ prefix to be protected")
	assert.True(t, IsProtectedRule("core_identity"), "expected core_ prefix to be protected")
	assert.False(t, IsProtectedRule("bedtime_reminder"), "expected an unrelated rule name to be unprotected")
}

func TestIsBlacklistedCommandCaseInsensitive(t *testing.T) {
	_, blocked := IsBlacklistedCommand("sudo SHUTDOWN -h now")
	assert.True(t, blocked, "expected shutdown to be blacklisted regardless of case")

	_, blocked = IsBlacklistedCommand("ls -la")
	assert.False(t, blocked, "expected an ordinary command to pass")
}

func TestRule700DeniesBelowOwner(t *testing.T) {
	checker := Rule700(func(callerID int64) agent.AccessLevel { return agent.AccessAdmin })
	assert.Error(t, checker(1, "manage_user", nil), "expected Rule 700 to deny an admin caller on an owner-only tool")
}

func TestRule700AllowsOwner(t *testing.T) {
	checker := Rule700(func(callerID int64) agent.AccessLevel { return agent.AccessOwner })
	assert.NoError(t, checker(1, "manage_user", nil), "expected Rule 700 to allow the owner")
}

func TestRule700IgnoresNonOwnerOnlyTools(t *testing.T) {
	checker := Rule700(func(callerID int64) agent.AccessLevel { return agent.AccessPublic })
	assert.NoError(t, checker(1, "world_time", nil), "expected Rule 700 to ignore a non-owner-only tool")
}

func TestEffectiveLevelCapsGroupToPublic(t *testing.T) {
	assert.Equal(t, agent.AccessPublic, EffectiveLevel(agent.AccessOwner, true), "expected group context to cap owner to public")
	assert.Equal(t, agent.AccessOwner, EffectiveLevel(agent.AccessOwner, false), "expected direct chat to preserve owner level")
}

func TestFilterForGroupStripsOwnerOnlyTools(t *testing.T) {
	schemas := []tools.FunctionSchema{
		{Function: tools.FunctionSpec{Name: "world_time"}},
		{Function: tools.FunctionSpec{Name: "manage_user"}},
	}
	out := FilterForGroup(schemas)
	require.Len(t, out, 1)
	assert.Equal(t, "world_time", out[0].Function.Name)
}

func TestFilterForSubagentStripsManagementTools(t *testing.T) {
	schemas := []tools.FunctionSchema{
		{Function: tools.FunctionSpec{Name: "shell_execute"}},
		{Function: tools.FunctionSpec{Name: "spawn_subagent"}},
	}
	out := FilterForSubagent(schemas)
	require.Len(t, out, 1)
	assert.Equal(t, "shell_execute", out[0].Function.Name)
}

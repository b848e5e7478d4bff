package builtin

import (
	"context"
	"fmt"
	"strings"

	"github.com/riyogarta/synebot/internal/access"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

// ConfigStore is the narrow slice of persisted config the update_config
// tool needs.
type ConfigStore interface {
	SetConfig(ctx context.Context, key string, value interface{}) error
}

// UserStore is the narrow slice of the user registry manage_user needs.
type UserStore interface {
	SetAccessLevel(ctx context.Context, userID int64, level agent.AccessLevel) error
	SetAlias(ctx context.Context, userID int64, groupID string, alias string) error
}

// GroupStore is the narrow slice of the group registry manage_group needs.
type GroupStore interface {
	SetGroupEnabled(ctx context.Context, groupID int64, enabled bool) error
	SetGroupPolicy(ctx context.Context, groupID int64, requireMention bool, allowFrom agent.GroupAllowFrom) error
}

// RuleStore is the narrow slice of rule/soul/identity storage manage_rule
// needs.
type RuleStore interface {
	SetRule(ctx context.Context, name, content string) error
	DeleteRule(ctx context.Context, name string) error
}

// NewUpdateConfigTool builds the owner-only update_config tool.
func NewUpdateConfigTool(store ConfigStore) *tools.Tool {
	return &tools.Tool{
		Name:        "update_config",
		Description: "Updates a runtime configuration value. Owner only.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"key":   {Type: "string", Description: "Dotted config key, e.g. memory.auto_capture"},
				"value": {Type: "string", Description: "New value, as a string; parsed according to the key's declared type"},
			},
			Required: []string{"key", "value"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             store != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			key, _ := args["key"].(string)
			value := args["value"]
			if key == "" {
				return "", fmt.Errorf("key is required")
			}
			if err := store.SetConfig(ctx, key, value); err != nil {
				return "", fmt.Errorf("set config: %w", err)
			}
			return fmt.Sprintf("%s updated", key), nil
		},
	}
}

// NewManageUserTool builds the owner-only manage_user tool.
func NewManageUserTool(store UserStore) *tools.Tool {
	return &tools.Tool{
		Name:        "manage_user",
		Description: "Sets a user's access level or display alias. Owner only.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"user_id":      {Type: "integer", Description: "Target user ID"},
				"access_level": {Type: "string", Description: "One of public, friend, family, admin, owner", Enum: []interface{}{"public", "friend", "family", "admin", "owner"}},
				"alias":        {Type: "string", Description: "New display alias"},
				"group_id":     {Type: "string", Description: "Scope the alias to a specific group; empty for default"},
			},
			Required: []string{"user_id"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             store != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			userIDf, ok := args["user_id"].(float64)
			if !ok {
				return "", fmt.Errorf("user_id is required")
			}
			userID := int64(userIDf)

			var actions []string
			if lvl, ok := args["access_level"].(string); ok && lvl != "" {
				if err := store.SetAccessLevel(ctx, userID, agent.ParseAccessLevel(lvl)); err != nil {
					return "", fmt.Errorf("set access level: %w", err)
				}
				actions = append(actions, fmt.Sprintf("access_level=%s", lvl))
			}
			if alias, ok := args["alias"].(string); ok && alias != "" {
				groupID, _ := args["group_id"].(string)
				if err := store.SetAlias(ctx, userID, groupID, alias); err != nil {
					return "", fmt.Errorf("set alias: %w", err)
				}
				actions = append(actions, fmt.Sprintf("alias=%s", alias))
			}
			if len(actions) == 0 {
				return "", fmt.Errorf("no changes requested: provide access_level and/or alias")
			}
			return fmt.Sprintf("user %d updated: %s", userID, strings.Join(actions, ", ")), nil
		},
	}
}

// NewManageGroupTool builds the owner-only manage_group tool.
func NewManageGroupTool(store GroupStore) *tools.Tool {
	return &tools.Tool{
		Name:        "manage_group",
		Description: "Enables/disables a group or sets its mention/allow-from policy. Owner only.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"group_id":        {Type: "integer", Description: "Target group ID"},
				"enabled":         {Type: "boolean", Description: "Whether the bot responds in this group"},
				"require_mention": {Type: "boolean", Description: "Whether a mention is required to trigger the bot"},
				"allow_from":      {Type: "string", Description: "all or registered", Enum: []interface{}{"all", "registered"}},
			},
			Required: []string{"group_id"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             store != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			groupIDf, ok := args["group_id"].(float64)
			if !ok {
				return "", fmt.Errorf("group_id is required")
			}
			groupID := int64(groupIDf)

			var actions []string
			if enabled, ok := args["enabled"].(bool); ok {
				if err := store.SetGroupEnabled(ctx, groupID, enabled); err != nil {
					return "", fmt.Errorf("set group enabled: %w", err)
				}
				actions = append(actions, fmt.Sprintf("enabled=%v", enabled))
			}
			requireMention, hasMention := args["require_mention"].(bool)
			allowFromStr, hasAllowFrom := args["allow_from"].(string)
			if hasMention || hasAllowFrom {
				allowFrom := agent.AllowFromAll
				if allowFromStr == string(agent.AllowFromRegistered) {
					allowFrom = agent.AllowFromRegistered
				}
				if err := store.SetGroupPolicy(ctx, groupID, requireMention, allowFrom); err != nil {
					return "", fmt.Errorf("set group policy: %w", err)
				}
				actions = append(actions, fmt.Sprintf("require_mention=%v, allow_from=%s", requireMention, allowFrom))
			}
			if len(actions) == 0 {
				return "", fmt.Errorf("no changes requested")
			}
			return fmt.Sprintf("group %d updated: %s", groupID, strings.Join(actions, ", ")), nil
		},
	}
}

// NewManageRuleTool builds the owner-only manage_rule tool, guarded against
// touching protected rule-name prefixes regardless of caller tier.
func NewManageRuleTool(store RuleStore) *tools.Tool {
	return &tools.Tool{
		Name:        "manage_rule",
		Description: "Adds, updates, or removes a named behavioral rule appended to the system prompt. Owner only.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"action":  {Type: "string", Description: "set or delete", Enum: []interface{}{"set", "delete"}},
				"name":    {Type: "string", Description: "Rule name"},
				"content": {Type: "string", Description: "Rule content, required for action=set"},
			},
			Required: []string{"action", "name"},
		},
		RequiresAccessLevel: agent.AccessOwner,
		ScrubLevel:          tools.ScrubNone,
		Enabled:             store != nil,
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			name, _ := args["name"].(string)
			if name == "" {
				return "", fmt.Errorf("name is required")
			}
			if access.IsProtectedRule(name) {
				return "", fmt.Errorf("rule %q is protected and cannot be modified", name)
			}
			action, _ := args["action"].(string)
			switch action {
			case "set":
				content, _ := args["content"].(string)
				if content == "" {
					return "", fmt.Errorf("content is required for action=set")
				}
				if err := store.SetRule(ctx, name, content); err != nil {
					return "", fmt.Errorf("set rule: %w", err)
				}
				return fmt.Sprintf("rule %q set", name), nil
			case "delete":
				if err := store.DeleteRule(ctx, name); err != nil {
					return "", fmt.Errorf("delete rule: %w", err)
				}
				return fmt.Sprintf("rule %q deleted", name), nil
			default:
				return "", fmt.Errorf("unknown action %q", action)
			}
		},
	}
}

// Package config loads the root configuration from defaults, an
// optional YAML file, and SYNE_-prefixed environment variables, in that
// priority order (lowest to highest), via github.com/spf13/viper: a
// private viper instance per Load call, setDefaults() registering every default
// up front, then ReadInConfig/AutomaticEnv/Unmarshal into a single
// mapstructure-tagged Config tree.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root configuration tree: telegram.*, ratelimit.*,
// session.*, subagents.*, provider.*, memory.*, credential.*, plus
// database/logging, which every ambient package needs.
type Config struct {
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Session    SessionConfig    `mapstructure:"session"`
	Subagents  SubagentsConfig  `mapstructure:"subagents"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Memory     MemoryConfig     `mapstructure:"memory"`
	Credential map[string]string `mapstructure:"credential"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// TelegramConfig controls the Telegram channel adapter.
type TelegramConfig struct {
	BotToken        string `mapstructure:"bot_token"`
	GroupPolicy     string `mapstructure:"group_policy"` // allowlist | open
	RequireMention  bool   `mapstructure:"require_mention"`
	BotTriggerName  string `mapstructure:"bot_trigger_name"`
}

// RateLimitConfig controls the sliding-window rate limiter.
type RateLimitConfig struct {
	MaxRequests   int  `mapstructure:"max_requests"`
	WindowSeconds int  `mapstructure:"window_seconds"`
	OwnerExempt   bool `mapstructure:"owner_exempt"`
}

// SessionConfig controls the Conversation Engine's round loop.
type SessionConfig struct {
	MaxToolRounds  int `mapstructure:"max_tool_rounds"`
	ThinkingBudget int `mapstructure:"thinking_budget"`
}

// SubagentsConfig controls the Sub-Agent Manager.
type SubagentsConfig struct {
	Enabled        bool `mapstructure:"enabled"`
	MaxConcurrent  int  `mapstructure:"max_concurrent"`
	TimeoutSeconds int  `mapstructure:"timeout_seconds"`
}

// ProviderConfig selects the active chat/embedding backends and their
// models.
type ProviderConfig struct {
	ActiveModel      string   `mapstructure:"active_model"`
	EmbeddingModels  []string `mapstructure:"embedding_models"`
	ActiveEmbedding  string   `mapstructure:"active_embedding"`
	AnthropicAPIKey  string   `mapstructure:"anthropic_api_key"`
	BedrockRegion    string   `mapstructure:"bedrock_region"`
	BedrockModelID   string   `mapstructure:"bedrock_model_id"`
	OllamaEndpoint   string   `mapstructure:"ollama_endpoint"`
	OllamaModel      string   `mapstructure:"ollama_model"`
}

// MemoryConfig controls the Memory Engine / Evaluator.
type MemoryConfig struct {
	AutoCapture bool `mapstructure:"auto_capture"`
}

// DatabaseConfig selects the persistence backend.
type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // sqlite | postgres
	DSN    string `mapstructure:"dsn"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

const envPrefix = "SYNE"

// Load reads configuration from defaults, then cfgFile (if non-empty),
// then SYNE_-prefixed environment variables, and unmarshals into a
// Config. With no cfgFile, synebot.yaml is searched for in . and
// /etc/synebot/ and not finding one is not an error; an explicit cfgFile
// that is missing is an error, and a malformed file always is.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	} else {
		v.SetConfigName("synebot")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/synebot/")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read config file %s: %w", v.ConfigFileUsed(), err)
			}
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.group_policy", "allowlist")
	v.SetDefault("telegram.require_mention", true)
	v.SetDefault("telegram.bot_trigger_name", "")

	v.SetDefault("ratelimit.max_requests", 4)
	v.SetDefault("ratelimit.window_seconds", 60)
	v.SetDefault("ratelimit.owner_exempt", true)

	v.SetDefault("session.max_tool_rounds", 100)
	v.SetDefault("session.thinking_budget", 0)

	v.SetDefault("subagents.enabled", true)
	v.SetDefault("subagents.max_concurrent", 2)
	v.SetDefault("subagents.timeout_seconds", 900)

	v.SetDefault("provider.active_model", "anthropic")
	v.SetDefault("provider.active_embedding", "ollama")
	v.SetDefault("provider.bedrock_region", "us-west-2")
	v.SetDefault("provider.ollama_endpoint", "http://localhost:11434")
	v.SetDefault("provider.ollama_model", "llama3.1")

	v.SetDefault("memory.auto_capture", true)

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "synebot.db")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the invariants Load can't enforce via defaults alone.
func (c *Config) Validate() error {
	if c.Telegram.GroupPolicy != "allowlist" && c.Telegram.GroupPolicy != "open" {
		return fmt.Errorf("config: telegram.group_policy must be \"allowlist\" or \"open\", got %q", c.Telegram.GroupPolicy)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: database.driver must be \"sqlite\" or \"postgres\", got %q", c.Database.Driver)
	}
	switch c.Provider.ActiveModel {
	case "anthropic", "bedrock", "ollama", "hybrid":
	default:
		return fmt.Errorf("config: provider.active_model must be one of anthropic/bedrock/ollama/hybrid, got %q", c.Provider.ActiveModel)
	}
	if c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("config: ratelimit.max_requests must be positive")
	}
	if c.RateLimit.WindowSeconds <= 0 {
		return fmt.Errorf("config: ratelimit.window_seconds must be positive")
	}
	return nil
}

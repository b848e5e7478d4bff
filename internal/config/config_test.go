package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadAppliesDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 4 {
		t.Errorf("expected default max_requests 4, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.Subagents.MaxConcurrent != 2 {
		t.Errorf("expected default subagent concurrency 2, got %d", cfg.Subagents.MaxConcurrent)
	}
	if cfg.Telegram.GroupPolicy != "allowlist" {
		t.Errorf("expected default group policy allowlist, got %q", cfg.Telegram.GroupPolicy)
	}
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "synebot.yaml")
	contents := []byte("ratelimit:\n  max_requests: 10\nsubagents:\n  enabled: false\n")
	if err := os.WriteFile(path, contents, 0o600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 10 {
		t.Errorf("expected file override to set max_requests 10, got %d", cfg.RateLimit.MaxRequests)
	}
	if cfg.Subagents.Enabled {
		t.Error("expected file override to disable subagents")
	}
	// Keys the file doesn't mention keep their defaults.
	if cfg.RateLimit.WindowSeconds != 60 {
		t.Errorf("expected unmentioned key to retain default, got %d", cfg.RateLimit.WindowSeconds)
	}
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	t.Setenv("SYNE_RATELIMIT_MAX_REQUESTS", "7")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.RateLimit.MaxRequests != 7 {
		t.Errorf("expected env override to set max_requests 7, got %d", cfg.RateLimit.MaxRequests)
	}
}

func TestLoadRejectsMissingExplicitFile(t *testing.T) {
	_, err := Load("/does/not/exist.yaml")
	if err == nil {
		t.Error("expected an error for a missing explicit config file")
	}
}

func TestValidateRejectsBadGroupPolicy(t *testing.T) {
	cfg := &Config{
		Telegram: TelegramConfig{GroupPolicy: "weird"},
		Database: DatabaseConfig{Driver: "sqlite"},
		Provider: ProviderConfig{ActiveModel: "anthropic"},
		RateLimit: RateLimitConfig{MaxRequests: 1, WindowSeconds: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for an invalid group policy")
	}
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{GroupPolicy: "open"},
		Database:  DatabaseConfig{Driver: "postgres"},
		Provider:  ProviderConfig{ActiveModel: "hybrid"},
		RateLimit: RateLimitConfig{MaxRequests: 4, WindowSeconds: 60},
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestValidateRejectsNonPositiveRateLimit(t *testing.T) {
	cfg := &Config{
		Telegram:  TelegramConfig{GroupPolicy: "allowlist"},
		Database:  DatabaseConfig{Driver: "sqlite"},
		Provider:  ProviderConfig{ActiveModel: "anthropic"},
		RateLimit: RateLimitConfig{MaxRequests: 0, WindowSeconds: 60},
	}
	if err := cfg.Validate(); err == nil {
		t.Error("expected an error for a non-positive max_requests")
	}
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/config"
	synelog "github.com/riyogarta/synebot/internal/log"
	"github.com/riyogarta/synebot/internal/provider"
	"github.com/riyogarta/synebot/internal/provider/anthropic"
	"github.com/riyogarta/synebot/internal/provider/bedrock"
	"github.com/riyogarta/synebot/internal/provider/ollama"
	"github.com/riyogarta/synebot/internal/storage"
	"github.com/riyogarta/synebot/internal/storage/postgres"
	"github.com/riyogarta/synebot/internal/storage/sqlite"
)

// loadConfig reads the config file/environment, then lets the --db-*/
// --log-* persistent flags override it when set: flag, then file, then
// default.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if v, _ := cmd.Flags().GetString("db-driver"); v != "" {
		cfg.Database.Driver = v
	}
	if v, _ := cmd.Flags().GetString("db-dsn"); v != "" {
		cfg.Database.DSN = v
	}
	if v, _ := cmd.Flags().GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if v, _ := cmd.Flags().GetString("log-format"); v != "" {
		cfg.Logging.Format = v
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// buildLogger builds the process-wide logger from cfg.Logging and
// installs it as the package-level logger every other component falls
// back to when it has none of its own.
func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	l, err := synelog.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	synelog.SetLogger(l)
	return l, nil
}

// openStore opens the configured storage backend, applying migrations as
// a side effect of Open.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		return postgres.Open(ctx, cfg.Database.DSN)
	default:
		return sqlite.Open(ctx, cfg.Database.DSN)
	}
}

// buildProviders constructs the active chat backend and, independently,
// the active embedding backend (nil when none is configured — callers
// treat a nil embedding provider as "no Memory Engine", per NewEngine's
// own doc comment). "hybrid" pairs Anthropic's chat with Ollama's
// embeddings through provider.Hybrid, since Anthropic has no embedding
// endpoint of its own.
func buildProviders(ctx context.Context, cfg *config.Config) (provider.ChatProvider, provider.EmbeddingProvider, error) {
	embed := buildEmbeddingProvider(cfg)

	switch cfg.Provider.ActiveModel {
	case "anthropic":
		return anthropic.New(cfg.Provider.AnthropicAPIKey, ""), embed, nil
	case "bedrock":
		chat, err := bedrock.New(ctx, bedrock.Config{
			Region:  cfg.Provider.BedrockRegion,
			ModelID: cfg.Provider.BedrockModelID,
		})
		return chat, embed, err
	case "ollama":
		chat := ollama.New(cfg.Provider.OllamaEndpoint, cfg.Provider.OllamaModel, cfg.Provider.OllamaModel)
		if embed == nil {
			embed = chat
		}
		return chat, embed, nil
	case "hybrid":
		chat := anthropic.New(cfg.Provider.AnthropicAPIKey, "")
		combined := provider.NewHybrid(chat, embed)
		if embed == nil {
			return combined, nil, nil
		}
		return combined, combined, nil
	default:
		return nil, nil, fmt.Errorf("unsupported provider.active_model %q", cfg.Provider.ActiveModel)
	}
}

// buildEmbeddingProvider constructs the active embedding backend, or nil
// when none is configured.
func buildEmbeddingProvider(cfg *config.Config) provider.EmbeddingProvider {
	switch cfg.Provider.ActiveEmbedding {
	case "ollama":
		return ollama.New(cfg.Provider.OllamaEndpoint, cfg.Provider.OllamaModel, cfg.Provider.OllamaModel)
	default:
		return nil
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/abilities/bundled"
	"github.com/riyogarta/synebot/internal/access"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/channel/cli"
	"github.com/riyogarta/synebot/internal/channel/telegram"
	"github.com/riyogarta/synebot/internal/compactor"
	"github.com/riyogarta/synebot/internal/config"
	"github.com/riyogarta/synebot/internal/contextwindow"
	"github.com/riyogarta/synebot/internal/conversation"
	"github.com/riyogarta/synebot/internal/evaluator"
	"github.com/riyogarta/synebot/internal/memory"
	"github.com/riyogarta/synebot/internal/ratelimit"
	"github.com/riyogarta/synebot/internal/scheduler"
	"github.com/riyogarta/synebot/internal/storage"
	"github.com/riyogarta/synebot/internal/subagent"
	"github.com/riyogarta/synebot/internal/tools"
	"github.com/riyogarta/synebot/internal/tools/builtin"
)

var runCLI bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent: channels, scheduler, and sub-agent manager",
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&runCLI, "cli", false, "also run the local CLI REPL alongside any configured channels")
}

const subagentBasePrompt = "You are a focused background worker completing one delegated task. Report concrete results; do not ask the user follow-up questions, since no one is watching this conversation."

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting synebot", zap.String("provider", cfg.Provider.ActiveModel), zap.String("database", cfg.Database.Driver))

	store, err := openStore(ctx, cfg)
	if err != nil {
		logger.Fatal("open store failed", zap.Error(err))
	}
	defer store.Close()

	chat, embed, err := buildProviders(ctx, cfg)
	if err != nil {
		logger.Fatal("build provider failed", zap.Error(err))
	}
	logger.Info("provider ready", zap.String("model", chat.Capabilities().Name))

	counter := contextwindow.NewCounter()
	compactorEngine := compactor.New(store, chat, 0)
	evaluatorEngine := evaluator.New(chat)

	var memoryEngine *memory.Engine
	if embed != nil {
		memoryEngine = memory.New(store, embed, 0)
		changed, previous, current, wiped, err := memoryEngine.EnsureEmbeddingDimension(ctx)
		if err != nil {
			logger.Warn("embedding dimension check failed", zap.Error(err))
		} else if changed {
			logger.Warn("embedding dimension changed, memory wiped",
				zap.Int("previous_dimension", previous), zap.Int("current_dimension", current), zap.Int("memories_wiped", wiped))
		}
	} else {
		logger.Info("no embedding backend configured, memory recall is disabled")
	}

	levelOf := func(callerID int64) agent.AccessLevel {
		u, found, err := store.GetUser(ctx, callerID)
		if err != nil || !found {
			return agent.AccessPublic
		}
		return u.AccessLevel
	}
	toolRegistry := tools.NewRegistry(nil, access.Rule700(levelOf))
	registerBuiltinTools(toolRegistry, store, memoryEngine, cfg)

	abilityRegistry := abilities.New(store, logger)
	abilityRegistry.RegisterBundled(bundled.NewUnitConverter())
	abilityRegistry.RegisterBundled(bundled.NewWorkspaceInventory("workspace"))
	abilityRegistry.RegisterBundled(bundled.NewPdfExtract("workspace"))
	if err := abilityRegistry.SyncBundled(ctx); err != nil {
		logger.Warn("sync bundled abilities failed", zap.Error(err))
	}
	if err := abilityRegistry.LoadDynamic(ctx); err != nil {
		logger.Warn("load dynamic abilities failed", zap.Error(err))
	}

	runtimeCfg := conversation.NewRuntimeConfig(store, cfg)

	engine := conversation.NewEngine(store, chat, toolRegistry, abilityRegistry, counter, compactorEngine, memoryEngine, evaluatorEngine, runtimeCfg, logger)
	conversationManager := conversation.NewManager(store, engine, logger)

	subagentManager := subagent.New(store, engine, subagentBasePrompt, runtimeCfg, conversationManager.DeliverSubagentCompletion)
	toolRegistry.Register(builtin.NewSpawnSubagentTool(subagentManager))

	taskScheduler := scheduler.New(store, conversationManager, logger, 0)
	go taskScheduler.Run(ctx)
	defer taskScheduler.Stop()

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.WindowSeconds, cfg.RateLimit.OwnerExempt)

	channelsRunning := 0
	if cfg.Telegram.BotToken != "" {
		tgChannel := telegram.New(store, conversationManager, limiter, telegram.Config{
			BotToken:       cfg.Telegram.BotToken,
			GroupPolicy:    cfg.Telegram.GroupPolicy,
			RequireMention: cfg.Telegram.RequireMention,
			BotTriggerName: cfg.Telegram.BotTriggerName,
		}, logger)
		channelsRunning++
		go func() {
			if err := tgChannel.Start(ctx); err != nil && ctx.Err() == nil {
				logger.Error("telegram channel stopped", zap.Error(err))
			}
		}()
	} else {
		logger.Info("no telegram.bot_token configured, Telegram channel disabled")
	}

	if runCLI || channelsRunning == 0 {
		repl := cli.New(store, conversationManager, logger, os.Stdin, os.Stdout)
		username := os.Getenv("USER")
		if username == "" {
			username = "local"
		}
		if err := repl.Run(ctx, username); err != nil {
			logger.Info("cli repl exited", zap.Error(err))
		}
		subagentManager.CancelAll()
		return nil
	}

	<-ctx.Done()
	logger.Info("shutting down")
	subagentManager.CancelAll()
	return nil
}

// registerBuiltinTools wires every bundled tool except spawn_subagent,
// which is registered afterward once the Sub-Agent Manager exists (it
// needs the tool registry to build the engine it spawns workers from).
func registerBuiltinTools(reg *tools.Registry, store storage.Store, memoryEngine *memory.Engine, cfg *config.Config) {
	reg.Register(builtin.NewFileReadTool("workspace"))
	reg.Register(builtin.NewFileWriteTool("workspace"))
	reg.Register(builtin.NewHTTPFetchTool())
	reg.Register(builtin.NewShellExecuteTool("workspace"))
	reg.Register(builtin.NewSendFileTool("workspace"))
	reg.Register(builtin.NewWorldTimeTool())
	reg.Register(builtin.NewWebSearchTool(cfg.Credential["brave_api_key"]))

	reg.Register(builtin.NewUpdateConfigTool(store))
	reg.Register(builtin.NewManageUserTool(store))
	reg.Register(builtin.NewManageGroupTool(store))
	reg.Register(builtin.NewManageRuleTool(store))

	if qr, ok := store.(builtin.QueryRunner); ok {
		reg.Register(builtin.NewDBQueryTool(qr))
	} else {
		reg.Register(builtin.NewDBQueryTool(nil))
	}

	if memoryEngine != nil {
		reg.Register(builtin.NewMemorySearchTool(memoryEngine))
		reg.Register(builtin.NewMemoryStoreTool(memoryEngine))
	} else {
		reg.Register(builtin.NewMemorySearchTool(nil))
		reg.Register(builtin.NewMemoryStoreTool(nil))
	}
}

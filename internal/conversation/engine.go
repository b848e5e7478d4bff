package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/access"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/compactor"
	"github.com/riyogarta/synebot/internal/contextwindow"
	"github.com/riyogarta/synebot/internal/evaluator"
	"github.com/riyogarta/synebot/internal/memory"
	"github.com/riyogarta/synebot/internal/provider"
	"github.com/riyogarta/synebot/internal/subagent"
	"github.com/riyogarta/synebot/internal/tools"
)

const (
	mediaLinePrefix = "MEDIA:"

	roundExhaustionDirective = "STOP. Do not request any more tool calls. Summarize what you were able to accomplish so far for the user."
	roundExhaustionNotice    = "\n\n(Reached this turn's tool-call limit; the summary above may be incomplete.)"

	authFailedNotice = "Authentication with the model provider failed. An operator needs to check the configured credentials; I can't continue this turn."
)

// ToolActivityFunc notifies a channel that a tool or ability call is about
// to run, so it can surface a "using X..." hint while the turn is still in
// flight.
type ToolActivityFunc func(sessionID int64, name string)

// StatusFunc notifies a channel of an engine-level status event, such as a
// pre-flight compaction pass starting.
type StatusFunc func(sessionID int64, status string)

// TurnInput carries the raw, not-yet-text payload of a channel message —
// an image, voice note, or document — alongside the kind it was tagged
// with, for step 1's ability-first pre-processing.
type TurnInput struct {
	Kind abilities.InputKind
	Data string // base64 for binary kinds, raw text for InputURL
	MIME string
}

// Engine runs a single session's turn loop end to end, through a fixed
// nine-step sequence: ability-first pre-processing, persisting the user
// turn, pre-flight compaction, building context (with memory recall),
// tool discovery, the provider/tool-call round loop, the round-exhaustion
// summary, the auth-failure short circuit, and final persistence with
// optional memory auto-capture.
// One Engine instance is shared by every session; all per-session state
// lives on the *agent.Session the caller passes in and locks for the
// duration of the call.
type Engine struct {
	store           Store
	chat            provider.ChatProvider
	toolRegistry    *tools.Registry
	abilityRegistry *abilities.Registry
	counter         *contextwindow.Counter
	compactorEngine *compactor.Compactor
	memoryEngine    *memory.Engine
	evaluatorEngine *evaluator.Evaluator
	runtimeCfg      *RuntimeConfig
	logger          *zap.Logger

	onToolActivity ToolActivityFunc
	onStatus       StatusFunc

	outputDir, uploadsDir, tempDir string
}

// NewEngine builds an Engine. Any of compactorEngine, memoryEngine, or
// evaluatorEngine may be nil, in which case the corresponding step is
// skipped entirely (a deployment without an embedding backend configured
// has no Memory Engine to recall from or evaluate into, for instance).
func NewEngine(
	store Store,
	chat provider.ChatProvider,
	toolRegistry *tools.Registry,
	abilityRegistry *abilities.Registry,
	counter *contextwindow.Counter,
	compactorEngine *compactor.Compactor,
	memoryEngine *memory.Engine,
	evaluatorEngine *evaluator.Evaluator,
	runtimeCfg *RuntimeConfig,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		store:           store,
		chat:            chat,
		toolRegistry:    toolRegistry,
		abilityRegistry: abilityRegistry,
		counter:         counter,
		compactorEngine: compactorEngine,
		memoryEngine:    memoryEngine,
		evaluatorEngine: evaluatorEngine,
		runtimeCfg:      runtimeCfg,
		logger:          logger,
		outputDir:       "outputs",
		uploadsDir:      "uploads",
		tempDir:         "temp",
	}
}

// SetCallbacks wires the channel-supplied notification hooks. Either may
// be nil.
func (e *Engine) SetCallbacks(onToolActivity ToolActivityFunc, onStatus StatusFunc) {
	e.onToolActivity = onToolActivity
	e.onStatus = onStatus
}

// SetWorkspaceDirs overrides the default outputs/uploads/temp directory
// names passed to abilities as an abilities.Context.
func (e *Engine) SetWorkspaceDirs(outputDir, uploadsDir, tempDir string) {
	e.outputDir, e.uploadsDir, e.tempDir = outputDir, uploadsDir, tempDir
}

// HandleTurn runs one full turn for sess: the caller must already hold
// sess's lock, since a single Conversation never runs two turns
// concurrently. Returns the text to send back to the channel, which may
// end in a "MEDIA: <path>" line.
func (e *Engine) HandleTurn(ctx context.Context, sess *agent.Session, user agent.User, isGroup bool, text string, input *TurnInput) (string, error) {
	level := access.EffectiveLevel(user.AccessLevel, isGroup)

	// Step 1: ability-first pre-processing of raw channel input.
	rawConsumed := false
	if input != nil {
		if out, ok := e.abilityRegistry.PreProcessInput(ctx, input.Kind, input.Data, text, level); ok {
			text = strings.TrimSpace(text + "\n\n" + out)
			rawConsumed = true
		} else {
			e.logger.Debug("conversation: no ability pre-processed input", zap.String("kind", string(input.Kind)))
		}
	}

	// Step 2: persist the user message, falling back to native provider
	// vision for an image nothing pre-processed.
	var userMeta *agent.Metadata
	if input != nil && !rawConsumed && input.Kind == abilities.InputImage && e.chat.Capabilities().SupportsVision {
		userMeta = &agent.Metadata{Kind: agent.MetaImage, Image: &agent.ImagePayload{MIME: input.MIME, Base64: input.Data}}
	}
	if _, err := e.appendAndPersist(ctx, sess, agent.RoleUser, text, userMeta); err != nil {
		return "", err
	}

	// Step 3: pre-flight compaction — before building context, never after.
	if e.compactorEngine != nil {
		if err := e.preflightCompact(ctx, sess); err != nil {
			e.logger.Warn("conversation: pre-flight compaction failed", zap.Int64("session_id", sess.Record.ID), zap.Error(err))
		}
	}

	// Step 4: build context.
	systemPrompt, err := e.buildSystemPrompt(ctx, sess, user, isGroup, level, text)
	if err != nil {
		return "", err
	}
	caps := e.chat.Capabilities()
	budgets := contextwindow.Split(caps.ContextWindow, caps.ReservedOutputTokens)
	full := append([]agent.Message{{Role: agent.RoleSystem, Content: systemPrompt}}, sess.Cache()...)
	trimmed := contextwindow.TrimContext(e.counter, full, budgets.System+budgets.Memory, budgets.History)
	messages, trimmedSystemPrompt := splitSystemMessages(trimmed)

	// Step 5: tool discovery.
	schemas, abilityNames := e.discoverTools(level, isGroup)

	// Steps 6-7: round loop, with round-exhaustion handling.
	maxRounds := e.runtimeCfg.MaxToolRounds(ctx)
	resp, pendingMedia, err := e.runRounds(ctx, sess, user, level, trimmedSystemPrompt, messages, schemas, abilityNames, maxRounds, input, rawConsumed)
	if err != nil {
		return "", err
	}

	// Step 8: auth-failure short-circuit.
	if resp.AuthFailed {
		if _, perr := e.appendAndPersist(ctx, sess, agent.RoleAssistant, authFailedNotice, nil); perr != nil {
			return "", perr
		}
		return authFailedNotice, nil
	}

	// Step 9: finalize.
	final := resp.Content
	if !hasMediaSuffix(final) && pendingMedia != "" {
		final = appendMediaSuffix(final, pendingMedia)
	}
	if _, err := e.appendAndPersist(ctx, sess, agent.RoleAssistant, final, nil); err != nil {
		return "", err
	}
	if e.runtimeCfg.AutoCaptureMemory(ctx) {
		e.autoCapture(ctx, user, text)
	}
	return final, nil
}

func (e *Engine) preflightCompact(ctx context.Context, sess *agent.Session) error {
	// Compact once the history reaches the budget's compaction ratio of
	// the non-reserved window, or would overflow that window outright.
	caps := e.chat.Capabilities()
	budget := contextwindow.NewBudget(caps.ContextWindow, caps.ReservedOutputTokens)
	if budget.Use(e.counter.CountMessages(sess.Cache())) && !budget.ShouldCompact() {
		return nil
	}
	e.notifyStatus(sess.Record.ID, "compacting conversation history...")
	if _, err := e.compactorEngine.Compact(ctx, sess.Record.ID); err != nil {
		return fmt.Errorf("compact: %w", err)
	}
	reloaded, err := e.store.LoadMessages(ctx, sess.Record.ID)
	if err != nil {
		return fmt.Errorf("reload after compaction: %w", err)
	}
	sess.SetCache(reloaded)
	return nil
}

func (e *Engine) buildSystemPrompt(ctx context.Context, sess *agent.Session, user agent.User, isGroup bool, level agent.AccessLevel, turnText string) (string, error) {
	base, err := BuildBasePrompt(ctx, e.store, e.abilityRegistry, isGroup)
	if err != nil {
		return "", err
	}
	var recalled []agent.Recalled
	if e.memoryEngine != nil {
		recalled, err = e.memoryEngine.Recall(ctx, user.ID, level, turnText, defaultRecallLimit)
		if err != nil {
			e.logger.Warn("conversation: recall failed", zap.Int64("user_id", user.ID), zap.Error(err))
			recalled = nil
		}
	}
	return base + renderMemories(recalled), nil
}

// discoverTools computes step 5's schema union and returns it alongside
// the set of names that belong to the ability registry, so the round loop
// knows which registry owns a given call.
func (e *Engine) discoverTools(level agent.AccessLevel, isGroup bool) ([]tools.FunctionSchema, map[string]bool) {
	toolSchemas := e.toolRegistry.ToOpenAISchema(level)
	abilitySchemas := e.abilityRegistry.ToSchemas(level)

	abilityNames := make(map[string]bool, len(abilitySchemas))
	for _, s := range abilitySchemas {
		abilityNames[s.Function.Name] = true
	}

	combined := make([]tools.FunctionSchema, 0, len(toolSchemas)+len(abilitySchemas))
	combined = append(combined, toolSchemas...)
	combined = append(combined, abilitySchemas...)
	if isGroup {
		combined = access.FilterForGroup(combined)
	}
	return combined, abilityNames
}

// runRounds implements steps 6-7: the provider call/tool-dispatch loop and
// the forced-summary path on round exhaustion. messages is the trimmed
// working context (system message already stripped out, carried
// separately as systemPrompt); it is extended in place as the round loop
// persists assistant and tool turns.
func (e *Engine) runRounds(
	ctx context.Context,
	sess *agent.Session,
	user agent.User,
	level agent.AccessLevel,
	systemPrompt string,
	messages []agent.Message,
	schemas []tools.FunctionSchema,
	abilityNames map[string]bool,
	maxRounds int,
	input *TurnInput,
	rawConsumed bool,
) (provider.ChatResponse, string, error) {
	var pendingMedia string
	round := 0

	for {
		resp, err := e.chat.Chat(ctx, messages, provider.ChatOptions{
			Tools:          schemas,
			ThinkingBudget: sess.ThinkingBudget,
			SystemPrompt:   systemPrompt,
		})
		if err != nil {
			return provider.ChatResponse{}, "", fmt.Errorf("conversation: chat: %w", err)
		}
		if resp.AuthFailed || len(resp.ToolCalls) == 0 {
			return resp, pendingMedia, nil
		}

		if round >= maxRounds {
			return e.forceSummary(ctx, messages, systemPrompt, sess.ThinkingBudget, pendingMedia)
		}
		round++

		assistantMsg, err := e.appendAndPersist(ctx, sess, agent.RoleAssistant, resp.Content, &agent.Metadata{Kind: agent.MetaToolCalls, ToolCalls: resp.ToolCalls})
		if err != nil {
			return provider.ChatResponse{}, "", err
		}
		messages = append(messages, assistantMsg)

		for _, call := range resp.ToolCalls {
			e.notifyToolActivity(sess.Record.ID, call.Name)

			args := call.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			if input != nil && !rawConsumed && abilityNames[call.Name] && e.abilityRegistry.HandlesInputType(call.Name, input.Kind) {
				injectRawInput(args, input)
			}

			content, _ := e.dispatch(ctx, call.Name, args, abilityNames, user, level, sess.Record.ID)
			if media := extractMediaPath(content); media != "" {
				pendingMedia = media
			}

			toolMsg, err := e.appendAndPersist(ctx, sess, agent.RoleTool, content, &agent.Metadata{Kind: agent.MetaToolResult, ToolName: call.Name, ToolCallID: call.ID})
			if err != nil {
				return provider.ChatResponse{}, "", err
			}
			messages = append(messages, toolMsg)
		}
	}
}

// dispatch runs a single tool call against whichever registry owns its
// name, normalizing both registries' failure shapes into a single
// "Error: <reason>" string result the model can read and adapt to.
func (e *Engine) dispatch(ctx context.Context, name string, args map[string]interface{}, abilityNames map[string]bool, user agent.User, level agent.AccessLevel, sessionID int64) (content string, isError bool) {
	if abilityNames[name] {
		abilityCtx := abilities.Context{
			CallerID:   user.ID,
			Level:      level,
			SessionID:  sessionID,
			OutputDir:  e.outputDir,
			UploadsDir: e.uploadsDir,
			TempDir:    e.tempDir,
			Registry:   e.abilityRegistry,
		}
		result := e.abilityRegistry.Execute(ctx, name, args, abilityCtx)
		if !result.Success {
			reason := result.Error
			if reason == "" {
				reason = "ability failed"
			}
			return "Error: " + reason, true
		}
		return result.Result, false
	}

	result, err := e.toolRegistry.Execute(tools.WithSessionID(ctx, sessionID), name, user.ID, level, args)
	if err != nil {
		return "Error: " + err.Error(), true
	}
	return result.Content, result.IsError
}

// forceSummary implements step 7: one final provider call with no tools,
// preceded by a directive message, once the round cap is hit with tool
// calls still pending.
func (e *Engine) forceSummary(ctx context.Context, messages []agent.Message, systemPrompt string, thinkingBudget *int, pendingMedia string) (provider.ChatResponse, string, error) {
	directed := append(append([]agent.Message{}, messages...), agent.Message{Role: agent.RoleUser, Content: roundExhaustionDirective})
	resp, err := e.chat.Chat(ctx, directed, provider.ChatOptions{
		ThinkingBudget: thinkingBudget,
		SystemPrompt:   systemPrompt,
	})
	if err != nil {
		return provider.ChatResponse{}, "", fmt.Errorf("conversation: forced summary: %w", err)
	}
	resp.Content += roundExhaustionNotice
	resp.ToolCalls = nil
	return resp, pendingMedia, nil
}

func (e *Engine) autoCapture(ctx context.Context, user agent.User, userText string) {
	if e.evaluatorEngine == nil || e.memoryEngine == nil {
		return
	}
	result, err := e.evaluatorEngine.Evaluate(ctx, userText)
	if err != nil {
		e.logger.Warn("conversation: memory evaluator failed", zap.Error(err))
		return
	}
	if result == nil {
		return
	}
	category := agent.MemoryCategory(result.Category)
	if _, _, err := e.memoryEngine.StoreIfNew(ctx, user.ID, result.Content, category, result.Importance, result.Permanent); err != nil {
		e.logger.Warn("conversation: auto-capture store failed", zap.Error(err))
	}
}

func (e *Engine) appendAndPersist(ctx context.Context, sess *agent.Session, role agent.Role, content string, meta *agent.Metadata) (agent.Message, error) {
	content = agent.StripNulBytes(content)
	msg := agent.Message{SessionID: sess.Record.ID, Role: role, Content: content, Metadata: meta}
	id, err := e.store.AppendMessage(ctx, sess.Record.ID, msg)
	if err != nil {
		return agent.Message{}, fmt.Errorf("conversation: persist %s message: %w", role, err)
	}
	msg.ID = id
	msg.CreatedAt = time.Now()
	sess.AppendCache(msg)
	return msg, nil
}

func (e *Engine) notifyToolActivity(sessionID int64, name string) {
	if e.onToolActivity != nil {
		e.onToolActivity(sessionID, name)
	}
}

func (e *Engine) notifyStatus(sessionID int64, status string) {
	if e.onStatus != nil {
		e.onStatus(sessionID, status)
	}
}

// splitSystemMessages separates the leading system message(s) TrimContext
// preserved from the rest of the turn sequence: backends take the system
// prompt via ChatOptions.SystemPrompt rather than as a role in the turn
// sequence itself (see internal/provider/anthropic's toAnthropicMessages).
func splitSystemMessages(messages []agent.Message) ([]agent.Message, string) {
	var systemParts []string
	rest := make([]agent.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == agent.RoleSystem {
			systemParts = append(systemParts, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return rest, strings.Join(systemParts, "\n\n")
}

// injectRawInput adds the turn's still-cached raw channel input to a
// function call's arguments under a conventional key, for abilities that
// declare they handle that input kind when no priority ability consumed
// it at step 1 (because they aren't a priority ability, or because every
// priority ability declined it).
func injectRawInput(args map[string]interface{}, input *TurnInput) {
	if _, exists := args["raw_input"]; !exists {
		args["raw_input"] = input.Data
		args["raw_input_kind"] = string(input.Kind)
		if input.MIME != "" {
			args["raw_input_mime"] = input.MIME
		}
	}
}

func hasMediaSuffix(content string) bool {
	return extractMediaPath(content) != ""
}

// extractMediaPath returns the path from a trailing "MEDIA: <path>" line,
// or "" if content carries no such suffix.
func extractMediaPath(content string) string {
	trimmed := strings.TrimRight(content, "\n")
	idx := strings.LastIndexByte(trimmed, '\n')
	line := trimmed
	if idx >= 0 {
		line = trimmed[idx+1:]
	}
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, mediaLinePrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(line, mediaLinePrefix))
}

func appendMediaSuffix(content, path string) string {
	return content + "\n\nMEDIA: " + path
}

// Work implements subagent.Worker: one ephemeral tool-calling turn run
// under worker privileges, with no session, no memory recall, and a
// smaller round cap. systemPrompt is the Manager-supplied base prompt
// already extended with the worker-privileges stanza.
func (e *Engine) Work(ctx context.Context, systemPrompt, task, model string) (subagent.WorkResult, error) {
	schemas := access.FilterForSubagent(e.toolRegistry.ToOpenAISchema(agent.AccessAdmin))
	abilitySchemas := access.FilterForSubagent(e.abilityRegistry.ToSchemas(agent.AccessAdmin))

	abilityNames := make(map[string]bool, len(abilitySchemas))
	for _, s := range abilitySchemas {
		abilityNames[s.Function.Name] = true
	}
	schemas = append(schemas, abilitySchemas...)

	messages := []agent.Message{{Role: agent.RoleUser, Content: task}}
	maxRounds := subagent.DefaultMaxToolRounds
	var totalIn, totalOut int
	round := 0

	for {
		resp, err := e.chat.Chat(ctx, messages, provider.ChatOptions{
			Model:        model,
			Tools:        schemas,
			SystemPrompt: systemPrompt,
		})
		if err != nil {
			return subagent.WorkResult{}, fmt.Errorf("subagent work: chat: %w", err)
		}
		totalIn += resp.Usage.InputTokens
		totalOut += resp.Usage.OutputTokens

		if resp.AuthFailed {
			return subagent.WorkResult{}, fmt.Errorf("subagent work: provider authentication failed")
		}
		if len(resp.ToolCalls) == 0 {
			return subagent.WorkResult{Content: resp.Content, InputTokens: totalIn, OutputTokens: totalOut}, nil
		}
		if round >= maxRounds {
			directed := append(append([]agent.Message{}, messages...), agent.Message{Role: agent.RoleUser, Content: roundExhaustionDirective})
			final, err := e.chat.Chat(ctx, directed, provider.ChatOptions{Model: model, SystemPrompt: systemPrompt})
			if err != nil {
				return subagent.WorkResult{}, fmt.Errorf("subagent work: forced summary: %w", err)
			}
			totalIn += final.Usage.InputTokens
			totalOut += final.Usage.OutputTokens
			return subagent.WorkResult{Content: final.Content + roundExhaustionNotice, InputTokens: totalIn, OutputTokens: totalOut}, nil
		}
		round++

		messages = append(messages, agent.Message{
			Role:     agent.RoleAssistant,
			Content:  resp.Content,
			Metadata: &agent.Metadata{Kind: agent.MetaToolCalls, ToolCalls: resp.ToolCalls},
		})
		for _, call := range resp.ToolCalls {
			args := call.Args
			if args == nil {
				args = map[string]interface{}{}
			}
			content, _ := e.dispatch(ctx, call.Name, args, abilityNames, agent.User{AccessLevel: agent.AccessAdmin}, agent.AccessAdmin, 0)
			messages = append(messages, agent.Message{
				Role:     agent.RoleTool,
				Content:  content,
				Metadata: &agent.Metadata{Kind: agent.MetaToolResult, ToolName: call.Name, ToolCallID: call.ID},
			})
		}
	}
}

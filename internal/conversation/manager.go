package conversation

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/subagent"
)

// DeliveryFunc pushes text to a channel outside the request/response leg
// of HandleMessage — a sub-agent finishing in the background, or a
// scheduled task firing, has nowhere else to put its output.
type DeliveryFunc func(platform, chatID, text string)

type sessionKey struct {
	platform string
	chatID   string
}

// Manager owns every live session, keyed by (platform, chat id) in a
// sync.Map — read on nearly every message, written once per session's
// first access.
type Manager struct {
	store  Store
	engine *Engine
	logger *zap.Logger

	sessions sync.Map // sessionKey -> *agent.Session
	creation sync.Mutex

	idMu sync.Mutex
	byID map[int64]sessionKey

	onDelivery     DeliveryFunc
	onStatus       func(platform, chatID, status string)
	onToolActivity func(platform, chatID, name string)
}

// NewManager builds a Manager over engine, wiring engine's per-session
// callbacks to relay through this Manager's own (platform, chat id)
// addressed callbacks.
func NewManager(store Store, engine *Engine, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		store:  store,
		engine: engine,
		logger: logger,
		byID:   make(map[int64]sessionKey),
	}
	engine.SetCallbacks(m.relayToolActivity, m.relayStatus)
	return m
}

// SetCallbacks wires the channel-supplied notification hooks. Any may be
// nil.
func (m *Manager) SetCallbacks(onDelivery DeliveryFunc, onStatus func(platform, chatID, status string), onToolActivity func(platform, chatID, name string)) {
	m.onDelivery = onDelivery
	m.onStatus = onStatus
	m.onToolActivity = onToolActivity
}

func (m *Manager) relayToolActivity(sessionID int64, name string) {
	key, ok := m.keyForSession(sessionID)
	if !ok || m.onToolActivity == nil {
		return
	}
	m.onToolActivity(key.platform, key.chatID, name)
}

func (m *Manager) relayStatus(sessionID int64, status string) {
	key, ok := m.keyForSession(sessionID)
	if !ok || m.onStatus == nil {
		return
	}
	m.onStatus(key.platform, key.chatID, status)
}

func (m *Manager) keyForSession(sessionID int64) (sessionKey, bool) {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	key, ok := m.byID[sessionID]
	return key, ok
}

func (m *Manager) rememberKey(sessionID int64, key sessionKey) {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.byID[sessionID] = key
}

// sessionFor resolves the in-memory Session for (platform, chatID),
// creating it and eagerly loading its full history from the store on
// first access. Eager loading matters: a lazy load would make the cache
// appear populated after the very first message of a fresh process, so a
// restart would silently look like a brand new conversation to the user.
func (m *Manager) sessionFor(ctx context.Context, platform, chatID string, userID int64) (*agent.Session, error) {
	key := sessionKey{platform: platform, chatID: chatID}
	if v, ok := m.sessions.Load(key); ok {
		return v.(*agent.Session), nil
	}

	m.creation.Lock()
	defer m.creation.Unlock()

	if v, ok := m.sessions.Load(key); ok {
		return v.(*agent.Session), nil
	}

	record, err := m.store.GetOrCreateSession(ctx, platform, chatID, userID)
	if err != nil {
		return nil, fmt.Errorf("conversation: get or create session: %w", err)
	}
	history, err := m.store.LoadMessages(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("conversation: load history: %w", err)
	}

	sess := agent.NewSession(record)
	sess.SetCache(history)

	m.sessions.Store(key, sess)
	m.rememberKey(record.ID, key)
	return sess, nil
}

// HandleMessage is the channel entrypoint: resolve or create the
// session, run exactly one locked turn through the Engine, and return the
// text to send back.
func (m *Manager) HandleMessage(ctx context.Context, platform, chatID string, user agent.User, text string, isGroup bool, input *TurnInput) (string, error) {
	sess, err := m.sessionFor(ctx, platform, chatID, user.ID)
	if err != nil {
		return "", err
	}
	sess.Lock()
	defer sess.Unlock()
	return m.engine.HandleTurn(ctx, sess, user, isGroup, text, input)
}

// Deliver implements scheduler.Deliverer: a fired scheduled task has no
// request/response leg to return its output on, so its payload is run as
// a synthetic user turn and the reply is pushed out through the delivery
// callback instead.
func (m *Manager) Deliver(ctx context.Context, parentSessionID int64, payload string) error {
	record, found, err := m.store.GetSession(ctx, parentSessionID)
	if err != nil {
		return fmt.Errorf("conversation: load parent session: %w", err)
	}
	if !found {
		return fmt.Errorf("conversation: parent session %d not found", parentSessionID)
	}
	user, found, err := m.store.GetUser(ctx, record.UserID)
	if err != nil {
		return fmt.Errorf("conversation: load session owner: %w", err)
	}
	if !found {
		return fmt.Errorf("conversation: user %d not found", record.UserID)
	}

	sess, err := m.sessionFor(ctx, record.Platform, record.PlatformChatID, record.UserID)
	if err != nil {
		return err
	}

	sess.Lock()
	reply, err := m.engine.HandleTurn(ctx, sess, user, false, payload, nil)
	sess.Unlock()
	if err != nil {
		return fmt.Errorf("conversation: scheduled delivery turn: %w", err)
	}

	if m.onDelivery != nil {
		m.onDelivery(record.Platform, record.PlatformChatID, reply)
	}
	return nil
}

// DeliverSubagentCompletion matches subagent.CompletionCallback's
// signature, letting the Sub-Agent Manager be constructed with this
// method directly as its onComplete hook. The sub-agent's own reply
// never returns synchronously — by the time it finishes, the turn that
// spawned it is long over — so it is pushed out the same delivery path a
// scheduled task uses.
func (m *Manager) DeliverSubagentCompletion(ctx context.Context, runID string, status subagent.Status, output string, parentSessionID int64) {
	record, found, err := m.store.GetSession(ctx, parentSessionID)
	if err != nil || !found {
		m.logger.Warn("conversation: sub-agent completion for unresolvable session",
			zap.String("run_id", runID), zap.Int64("parent_session_id", parentSessionID))
		return
	}
	if m.onDelivery == nil {
		return
	}
	m.onDelivery(record.Platform, record.PlatformChatID, fmt.Sprintf("Sub-agent task finished (%s):\n\n%s", status, output))
}

// RefreshSystemPrompts rebuilds and validates every live session's base
// prompt against abilityRegistry. The Engine already recomputes a
// session's system prompt fresh on every turn (see buildSystemPrompt), so
// in steady state this method changes nothing observable — but it gives
// an ability-install or update_config handler a way to fail fast and
// loud if a rule/ability change produced a base prompt that can't be
// built, instead of only discovering it on the next real user message.
func (m *Manager) RefreshSystemPrompts(ctx context.Context, abilityRegistry *abilities.Registry) {
	m.sessions.Range(func(_, v interface{}) bool {
		sess := v.(*agent.Session)
		sess.Lock()
		// isGroup only appends a static notice; whether the rest of the
		// prompt builds cleanly doesn't depend on it, so false is enough
		// for a validation pass.
		_, err := BuildBasePrompt(ctx, m.store, abilityRegistry, false)
		sess.Unlock()
		if err != nil {
			m.logger.Warn("conversation: failed to rebuild base prompt", zap.Int64("session_id", sess.Record.ID), zap.Error(err))
		}
		return true
	})
}

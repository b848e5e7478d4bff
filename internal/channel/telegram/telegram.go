// Package telegram implements the Telegram channel adapter: a
// long-polling github.com/go-telegram/bot handler that resolves the
// Telegram user, applies group mention/registration gating, feeds the
// turn through the Conversation Manager, and renders the reply back —
// including a trailing "MEDIA: <path>" suffix as a photo or document.
// Grounded on original_source/syne/channels/telegram.py's handler split
// (text/photo/command handlers, group mention stripping, media-aware
// reply splitting), re-expressed against go-telegram/bot's handler
// registration style in place of python-telegram-bot's Application.
package telegram

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/abilities"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/conversation"
	"github.com/riyogarta/synebot/internal/ratelimit"
)

// Store is the slice of persistence the Telegram adapter needs directly,
// on top of whatever the Conversation Manager already does for it.
type Store interface {
	GetOrCreateUser(ctx context.Context, platform, platformID, name string) (agent.User, bool, error)
	GetUser(ctx context.Context, id int64) (agent.User, bool, error)
	CountUsers(ctx context.Context) (int, error)
	SetAccessLevel(ctx context.Context, userID int64, level agent.AccessLevel) error

	GetOrCreateGroup(ctx context.Context, platform, platformGroupID string) (agent.Group, bool, error)
	GetGroup(ctx context.Context, id int64) (agent.Group, bool, error)

	GetConfigValue(ctx context.Context, key string) (value string, found bool, err error)
	ListRules(ctx context.Context) (map[string]string, error)
}

// Config carries the static telegram.* defaults, overridable at runtime
// through the config table (see configString).
type Config struct {
	BotToken       string
	GroupPolicy    string // allowlist | open
	RequireMention bool
	BotTriggerName string
}

// Channel is the Telegram adapter.
type Channel struct {
	store   Store
	manager *conversation.Manager
	limiter *ratelimit.Limiter
	cfg     Config
	logger  *zap.Logger

	bot *tgbot.Bot
	me  *models.User
}

// New builds a Channel. The underlying *bot.Bot is constructed lazily in
// Start, since go-telegram/bot wants its handlers registered as
// functional options at construction time.
func New(store Store, manager *conversation.Manager, limiter *ratelimit.Limiter, cfg Config, logger *zap.Logger) *Channel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Channel{store: store, manager: manager, limiter: limiter, cfg: cfg, logger: logger}
}

// Start builds the bot, registers handlers, and begins long-polling.
// It blocks until ctx is cancelled.
func (c *Channel) Start(ctx context.Context) error {
	opts := []tgbot.Option{
		tgbot.WithDefaultHandler(c.handleUpdate),
	}
	b, err := tgbot.New(c.cfg.BotToken, opts...)
	if err != nil {
		return fmt.Errorf("telegram: new bot: %w", err)
	}
	c.bot = b

	me, err := b.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("telegram: get me: %w", err)
	}
	c.me = me

	if _, err := b.SetMyCommands(ctx, &tgbot.SetMyCommandsParams{
		Commands: []models.BotCommand{
			{Command: "start", Description: "Welcome message"},
			{Command: "help", Description: "Available commands"},
			{Command: "status", Description: "Agent status"},
			{Command: "memory", Description: "Memory statistics"},
			{Command: "compact", Description: "Compact conversation history"},
			{Command: "forget", Description: "Clear current conversation"},
			{Command: "identity", Description: "Show agent identity"},
		},
	}); err != nil {
		c.logger.Warn("telegram: failed to set command menu", zap.Error(err))
	}

	c.manager.SetCallbacks(c.deliver, nil, nil)

	c.logger.Info("telegram: starting long polling")
	b.Start(ctx)
	return nil
}

// deliver implements conversation.DeliveryFunc: push a scheduled-task or
// sub-agent result to the given chat.
func (c *Channel) deliver(platform, chatID, text string) {
	if platform != "telegram" || c.bot == nil {
		return
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		c.logger.Warn("telegram: bad chat id in delivery", zap.String("chat_id", chatID))
		return
	}
	c.sendText(context.Background(), id, text)
}

func (c *Channel) handleUpdate(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	msg := update.Message
	if msg.From == nil {
		return
	}
	if strings.HasPrefix(msg.Text, "/") {
		c.handleCommand(ctx, msg)
		return
	}
	if len(msg.Photo) > 0 {
		c.handlePhoto(ctx, msg)
		return
	}
	if msg.Text == "" {
		return
	}
	c.handleText(ctx, msg, msg.Text)
}

func (c *Channel) handleText(ctx context.Context, msg *models.Message, text string) {
	isGroup := isGroupChat(msg.Chat)
	chatID := fmt.Sprintf("%d", msg.Chat.ID)

	user, err := c.ensureUser(ctx, msg.From)
	if err != nil {
		c.logger.Error("telegram: ensure user failed", zap.Error(err))
		return
	}
	if allowed, wait := c.limiter.Check(user.ID, user.AccessLevel); !allowed {
		c.reply(ctx, msg, fmt.Sprintf("Rate limited — try again in %ds.", wait))
		return
	}

	if isGroup {
		processed, ok := c.processGroupMessage(ctx, msg, text)
		if !ok {
			return
		}
		text = processed
	}

	c.sendTyping(ctx, msg.Chat.ID)

	reply, err := c.manager.HandleMessage(ctx, "telegram", chatID, user, text, isGroup, nil)
	if err != nil {
		c.logger.Error("telegram: handle message failed", zap.Error(err))
		c.reply(ctx, msg, "Sorry, something went wrong. Please try again.")
		return
	}
	if reply != "" {
		c.sendReply(ctx, msg.Chat.ID, reply)
	}
}

func (c *Channel) handlePhoto(ctx context.Context, msg *models.Message) {
	isGroup := isGroupChat(msg.Chat)
	chatID := fmt.Sprintf("%d", msg.Chat.ID)
	caption := msg.Caption

	user, err := c.ensureUser(ctx, msg.From)
	if err != nil {
		c.logger.Error("telegram: ensure user failed", zap.Error(err))
		return
	}
	if allowed, wait := c.limiter.Check(user.ID, user.AccessLevel); !allowed {
		c.reply(ctx, msg, fmt.Sprintf("Rate limited — try again in %ds.", wait))
		return
	}

	if isGroup {
		if caption != "" {
			processed, ok := c.processGroupMessage(ctx, msg, caption)
			if !ok {
				return
			}
			caption = processed
		} else if !isReplyToBot(msg, c.me) {
			return
		}
	}

	largest := msg.Photo[len(msg.Photo)-1]
	file, err := c.bot.GetFile(ctx, &tgbot.GetFileParams{FileID: largest.FileID})
	if err != nil {
		c.reply(ctx, msg, "Sorry, couldn't download the photo. Try sending again.")
		return
	}
	data, err := downloadFile(ctx, c.bot.FileDownloadLink(file))
	if err != nil || len(data) == 0 {
		c.reply(ctx, msg, "Sorry, couldn't download the photo. Try sending again.")
		return
	}

	text := caption
	if text == "" {
		text = "What's in this image?"
	}

	c.sendTyping(ctx, msg.Chat.ID)

	input := &conversation.TurnInput{
		Kind: abilities.InputImage,
		Data: base64.StdEncoding.EncodeToString(data),
		MIME: "image/jpeg",
	}
	reply, err := c.manager.HandleMessage(ctx, "telegram", chatID, user, text, isGroup, input)
	if err != nil {
		c.logger.Error("telegram: handle photo failed", zap.Error(err))
		c.reply(ctx, msg, "Sorry, something went wrong processing that photo.")
		return
	}
	if reply != "" {
		c.sendReply(ctx, msg.Chat.ID, reply)
	}
}

// processGroupMessage applies the group allowlist, allow_from, and
// mention-gating checks, returning the mention-stripped text to pass on
// and ok=false when the message should be silently dropped. A group row
// is created disabled-by-default on first contact (see
// sqlite.Backend.GetOrCreateGroup), so under the "allowlist" policy a
// brand new group simply stays silent until an owner enables it with
// manage_group.
func (c *Channel) processGroupMessage(ctx context.Context, msg *models.Message, text string) (string, bool) {
	groupID := fmt.Sprintf("%d", msg.Chat.ID)
	grp, created, err := c.store.GetOrCreateGroup(ctx, "telegram", groupID)
	if err != nil {
		c.logger.Warn("telegram: group lookup failed", zap.Error(err))
		return "", false
	}

	policy := c.configString(ctx, "telegram.group_policy", c.cfg.GroupPolicy)
	if policy == "" {
		policy = "allowlist"
	}
	if policy == "allowlist" && created {
		return "", false
	}
	if !grp.Enabled && policy != "open" {
		return "", false
	}
	if grp.AllowFrom == agent.AllowFromRegistered {
		if _, userCreated, err := c.store.GetOrCreateUser(ctx, "telegram", fmt.Sprintf("%d", msg.From.ID), displayFallback(msg.From)); err != nil || userCreated {
			return "", false
		}
	}

	requireMention := grp.RequireMention
	if !requireMention {
		return text, true
	}

	triggerName := c.triggerName(ctx)
	mentioned, stripped := checkAndStripMention(text, c.me.Username, triggerName)
	if !mentioned && !isReplyToBot(msg, c.me) {
		return "", false
	}
	return stripped, true
}

func (c *Channel) ensureUser(ctx context.Context, tgUser *models.User) (agent.User, error) {
	name := displayFallback(tgUser)
	user, created, err := c.store.GetOrCreateUser(ctx, "telegram", fmt.Sprintf("%d", tgUser.ID), name)
	if err != nil {
		return agent.User{}, err
	}
	if created {
		count, err := c.store.CountUsers(ctx)
		if err == nil && count == 1 {
			if err := c.store.SetAccessLevel(ctx, user.ID, agent.AccessOwner); err == nil {
				user.AccessLevel = agent.AccessOwner
			}
		}
	}
	return user, nil
}

func (c *Channel) triggerName(ctx context.Context) string {
	if v := c.configString(ctx, "telegram.bot_trigger_name", c.cfg.BotTriggerName); v != "" {
		return v
	}
	return "the agent"
}

func (c *Channel) configString(ctx context.Context, key, fallback string) string {
	if v, found, err := c.store.GetConfigValue(ctx, key); err == nil && found && v != "" {
		return v
	}
	return fallback
}

// ── command handlers ─────────────────────────────────────────────────

func (c *Channel) handleCommand(ctx context.Context, msg *models.Message) {
	fields := strings.Fields(msg.Text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}

	switch cmd {
	case "start":
		c.reply(ctx, msg, "Hi! Send me a message to get started.")
	case "help":
		c.reply(ctx, msg, "Commands:\n/start - welcome\n/help - this message\n/status - agent status\n/memory - memory stats\n/compact - compact history\n/forget - clear conversation\n/identity - show identity")
	case "status":
		c.reply(ctx, msg, "I'm running.")
	case "memory":
		c.reply(ctx, msg, "Memory stats are available through the owner tools.")
	case "compact":
		c.reply(ctx, msg, "Compaction runs automatically as the conversation grows; there's nothing to trigger manually here.")
	case "forget":
		c.reply(ctx, msg, "This conversation's history will start fresh on the next message.")
	case "identity":
		rules, err := c.store.ListRules(ctx)
		if err != nil || len(rules) == 0 {
			c.reply(ctx, msg, "No identity rules configured yet.")
			return
		}
		var b strings.Builder
		b.WriteString("Identity:\n")
		for name, content := range rules {
			fmt.Fprintf(&b, "- %s: %s\n", name, content)
		}
		c.reply(ctx, msg, b.String())
	default:
		c.reply(ctx, msg, "Unknown command. Try /help.")
	}
}

// ── outbound ──────────────────────────────────────────────────────────

func (c *Channel) reply(ctx context.Context, msg *models.Message, text string) {
	c.sendText(ctx, msg.Chat.ID, text)
}

func (c *Channel) sendTyping(ctx context.Context, chatID int64) {
	if _, err := c.bot.SendChatAction(ctx, &tgbot.SendChatActionParams{ChatID: chatID, Action: models.ChatActionTyping}); err != nil {
		c.logger.Debug("telegram: send chat action failed", zap.Error(err))
	}
}

// sendReply renders a response that may end in a "MEDIA: <path>" line as
// a photo or document, falling back to plain text if the file can't be
// read.
func (c *Channel) sendReply(ctx context.Context, chatID int64, text string) {
	caption, mediaPath := splitMediaSuffix(text)
	if mediaPath == "" {
		c.sendText(ctx, chatID, text)
		return
	}
	data, err := os.ReadFile(mediaPath)
	if err != nil {
		c.logger.Warn("telegram: failed to read media file, sending as text", zap.String("path", mediaPath), zap.Error(err))
		c.sendText(ctx, chatID, text)
		return
	}
	if len(caption) > 1024 {
		caption = caption[:1020] + "..."
	}
	ext := strings.ToLower(filepath.Ext(mediaPath))
	upload := &models.InputFileUpload{Filename: filepath.Base(mediaPath), Data: bytes.NewReader(data)}
	if isImageExt(ext) {
		if _, err := c.bot.SendPhoto(ctx, &tgbot.SendPhotoParams{ChatID: chatID, Photo: upload, Caption: caption}); err != nil {
			c.logger.Warn("telegram: send photo failed, falling back to text", zap.Error(err))
			c.sendText(ctx, chatID, text)
		}
		return
	}
	if _, err := c.bot.SendDocument(ctx, &tgbot.SendDocumentParams{ChatID: chatID, Document: upload, Caption: caption}); err != nil {
		c.logger.Warn("telegram: send document failed, falling back to text", zap.Error(err))
		c.sendText(ctx, chatID, text)
	}
}

const telegramMaxMessageLength = 4096

func (c *Channel) sendText(ctx context.Context, chatID int64, text string) {
	for _, chunk := range splitForTelegram(text, telegramMaxMessageLength) {
		if _, err := c.bot.SendMessage(ctx, &tgbot.SendMessageParams{ChatID: chatID, Text: chunk}); err != nil {
			c.logger.Warn("telegram: send message failed", zap.Error(err))
		}
	}
}

// ── helpers ───────────────────────────────────────────────────────────

func isGroupChat(chat models.Chat) bool {
	return chat.Type == "group" || chat.Type == "supergroup"
}

func isReplyToBot(msg *models.Message, me *models.User) bool {
	if msg.ReplyToMessage == nil || msg.ReplyToMessage.From == nil || me == nil {
		return false
	}
	return msg.ReplyToMessage.From.ID == me.ID
}

func displayFallback(u *models.User) string {
	if u.FirstName != "" {
		return u.FirstName
	}
	if u.Username != "" {
		return u.Username
	}
	return fmt.Sprintf("%d", u.ID)
}

// checkAndStripMention reports whether botUsername or triggerName was
// invoked in text, and returns text with the mention stripped.
func checkAndStripMention(text, botUsername, triggerName string) (mentioned bool, stripped string) {
	original := text
	if botUsername != "" {
		pattern := regexp.MustCompile(`(?i)@` + regexp.QuoteMeta(botUsername) + `\b\s*`)
		if pattern.MatchString(text) {
			mentioned = true
			text = strings.TrimSpace(pattern.ReplaceAllString(text, ""))
		}
	}
	if triggerName != "" {
		pattern := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(triggerName) + `[,:]?\s*`)
		if pattern.MatchString(text) {
			mentioned = true
			text = strings.TrimSpace(pattern.ReplaceAllString(text, ""))
		}
	}
	if text == "" {
		text = original
	}
	return mentioned, text
}

// splitMediaSuffix splits "...\n\nMEDIA: <path>" (or a bare "MEDIA: <path>")
// into its caption and path; mediaPath is "" if text carries no suffix.
func splitMediaSuffix(text string) (caption, mediaPath string) {
	const sep = "\n\nMEDIA: "
	if idx := strings.LastIndex(text, sep); idx >= 0 {
		return strings.TrimSpace(text[:idx]), strings.TrimSpace(text[idx+len(sep):])
	}
	if strings.HasPrefix(text, "MEDIA: ") {
		return "", strings.TrimSpace(strings.TrimPrefix(text, "MEDIA: "))
	}
	return text, ""
}

func isImageExt(ext string) bool {
	switch ext {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	default:
		return false
	}
}

// splitForTelegram breaks text into chunks no longer than max, preferring
// to break on a newline, then a space, matching Telegram's own message
// length cap.
func splitForTelegram(text string, max int) []string {
	var chunks []string
	remaining := text
	for {
		if len(remaining) <= max {
			chunks = append(chunks, remaining)
			return chunks
		}
		splitAt := strings.LastIndexByte(remaining[:max], '\n')
		if splitAt == -1 {
			splitAt = strings.LastIndexByte(remaining[:max], ' ')
		}
		if splitAt == -1 {
			splitAt = max
		}
		chunks = append(chunks, remaining[:splitAt])
		remaining = strings.TrimLeft(remaining[splitAt:], " \n")
	}
}

func downloadFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

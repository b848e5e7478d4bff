// Package cli implements the CLI channel adapter: a plain
// stdin/stdout REPL — no TUI — that runs a single local user through the
// same Conversation Manager the Telegram adapter drives. Grounded on the
// Telegram adapter's command dispatch shape, simplified to a single
// session with no group/mention gating.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/conversation"
)

// Store is the slice of persistence the CLI adapter needs directly.
type Store interface {
	GetOrCreateUser(ctx context.Context, platform, platformID, name string) (agent.User, bool, error)
	CountUsers(ctx context.Context) (int, error)
	SetAccessLevel(ctx context.Context, userID int64, level agent.AccessLevel) error
	ListRules(ctx context.Context) (map[string]string, error)
}

// REPL drives a single local conversation over stdin/stdout.
type REPL struct {
	store   Store
	manager *conversation.Manager
	logger  *zap.Logger

	chatID string
	in     *bufio.Scanner
	out    io.Writer
}

// New builds a REPL reading from in and writing to out, bound to the
// fixed chat id "local"; the local user's name is supplied to Run.
func New(store Store, manager *conversation.Manager, logger *zap.Logger, in io.Reader, out io.Writer) *REPL {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &REPL{
		store:   store,
		manager: manager,
		logger:  logger,
		chatID:  "local",
		in:      bufio.NewScanner(in),
		out:     out,
	}
}

// Run reads lines from stdin until EOF or ctx cancellation, dispatching
// each as a command or a plain message. It returns when the input stream
// is exhausted.
func (r *REPL) Run(ctx context.Context, localUserName string) error {
	user, err := r.ensureUser(ctx, localUserName)
	if err != nil {
		return fmt.Errorf("cli: ensure user: %w", err)
	}

	fmt.Fprintln(r.out, "synebot CLI — type /help for commands, Ctrl-D to exit.")
	for {
		fmt.Fprint(r.out, "> ")
		if !r.in.Scan() {
			return r.in.Err()
		}
		line := strings.TrimSpace(r.in.Text())
		if line == "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		if strings.HasPrefix(line, "/") {
			if done := r.handleCommand(ctx, line); done {
				return nil
			}
			continue
		}

		reply, err := r.manager.HandleMessage(ctx, "cli", r.chatID, user, line, false, nil)
		if err != nil {
			r.logger.Error("cli: handle message failed", zap.Error(err))
			fmt.Fprintln(r.out, "Sorry, something went wrong. Please try again.")
			continue
		}
		if reply != "" {
			fmt.Fprintln(r.out, reply)
		}
	}
}

func (r *REPL) ensureUser(ctx context.Context, name string) (agent.User, error) {
	if name == "" {
		name = "local"
	}
	user, created, err := r.store.GetOrCreateUser(ctx, "cli", name, name)
	if err != nil {
		return agent.User{}, err
	}
	if created {
		count, err := r.store.CountUsers(ctx)
		if err == nil && count == 1 {
			if err := r.store.SetAccessLevel(ctx, user.ID, agent.AccessOwner); err == nil {
				user.AccessLevel = agent.AccessOwner
			}
		}
	}
	return user, nil
}

// handleCommand dispatches a leading-slash line, returning true when the
// REPL should exit.
func (r *REPL) handleCommand(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	cmd := strings.TrimPrefix(fields[0], "/")

	switch cmd {
	case "start":
		fmt.Fprintln(r.out, "Hi! Type a message to get started.")
	case "help":
		fmt.Fprintln(r.out, "Commands:\n/start - welcome\n/help - this message\n/status - agent status\n/memory - memory stats\n/compact - compact history\n/forget - clear conversation\n/identity - show identity\n/exit - quit")
	case "status":
		fmt.Fprintln(r.out, "I'm running.")
	case "memory":
		fmt.Fprintln(r.out, "Memory stats are available through the owner tools.")
	case "compact":
		fmt.Fprintln(r.out, "Compaction runs automatically as the conversation grows; there's nothing to trigger manually here.")
	case "forget":
		fmt.Fprintln(r.out, "This conversation's history will start fresh on the next message.")
	case "identity":
		rules, err := r.store.ListRules(ctx)
		if err != nil || len(rules) == 0 {
			fmt.Fprintln(r.out, "No identity rules configured yet.")
			return false
		}
		var b strings.Builder
		b.WriteString("Identity:\n")
		for name, content := range rules {
			fmt.Fprintf(&b, "- %s: %s\n", name, content)
		}
		fmt.Fprint(r.out, b.String())
	case "exit", "quit":
		fmt.Fprintln(r.out, "Goodbye.")
		return true
	default:
		fmt.Fprintln(r.out, "Unknown command. Try /help.")
	}
	return false
}

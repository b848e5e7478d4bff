// Package builtin implements the bundled tools available to every session:
// shell execution, workspace file access, HTTP fetch, time lookup, web
// search, memory access, sub-agent spawning, and the owner-only management
// tools, over a simple workspace-root + command-blacklist sandboxing
// model rather than a per-session sandbox.
package builtin

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/riyogarta/synebot/internal/access"
	"github.com/riyogarta/synebot/internal/agent"
	"github.com/riyogarta/synebot/internal/tools"
)

const (
	defaultShellTimeout = 60 * time.Second
	maxShellTimeout     = 300 * time.Second
	maxShellOutputBytes = 256 * 1024
)

// NewShellExecuteTool builds the shell_execute tool, rooted at baseDir for
// relative working directories.
func NewShellExecuteTool(baseDir string) *tools.Tool {
	if baseDir == "" {
		baseDir, _ = os.Getwd()
	}
	return &tools.Tool{
		Name:        "shell_execute",
		Description: "Executes a shell command and returns its stdout/stderr. Commands matching the blacklist are refused.",
		Parameters: &tools.JSONSchema{
			Type: "object",
			Properties: map[string]*tools.JSONSchema{
				"command":         {Type: "string", Description: "Shell command to run"},
				"working_dir":     {Type: "string", Description: "Working directory, relative to the workspace root"},
				"timeout_seconds": {Type: "integer", Description: "Max execution time, default 60, max 300"},
			},
			Required: []string{"command"},
		},
		RequiresAccessLevel: agent.AccessFamily,
		ScrubLevel:          tools.ScrubSafe,
		Enabled:             true,
		Handler:             shellExecuteHandler(baseDir),
	}
}

func shellExecuteHandler(baseDir string) tools.Handler {
	return func(ctx context.Context, args map[string]interface{}) (string, error) {
		command, _ := args["command"].(string)
		if command == "" {
			return "", fmt.Errorf("command is required")
		}
		if bad, blocked := access.IsBlacklistedCommand(command); blocked {
			return "", fmt.Errorf("command blocked by blacklist rule %q", bad)
		}

		workDir := baseDir
		if wd, ok := args["working_dir"].(string); ok && wd != "" {
			workDir = filepath.Join(baseDir, filepath.Clean(wd))
		}
		absBase, err := filepath.Abs(baseDir)
		if err != nil {
			return "", err
		}
		absWorkDir, err := filepath.Abs(workDir)
		if err != nil {
			return "", err
		}
		if absWorkDir != absBase && !strings.HasPrefix(absWorkDir, absBase+string(filepath.Separator)) {
			return "", fmt.Errorf("working_dir escapes workspace root")
		}
		workDir = absWorkDir

		timeout := defaultShellTimeout
		if ts, ok := args["timeout_seconds"].(float64); ok && ts > 0 {
			timeout = time.Duration(ts) * time.Second
			if timeout > maxShellTimeout {
				timeout = maxShellTimeout
			}
		}

		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		shellBinary, shellArgs := shellFor(command)
		cmd := exec.CommandContext(runCtx, shellBinary, shellArgs...)
		cmd.Dir = workDir
		cmd.Env = filterSensitiveEnv(os.Environ())

		stdout, stderr, err := runCapped(cmd, maxShellOutputBytes)
		exitCode := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if err != nil && runCtx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("command timed out after %s", timeout)
		} else if err != nil {
			return "", fmt.Errorf("command failed to start: %w", err)
		}

		return fmt.Sprintf("exit_code=%d\nstdout:\n%s\nstderr:\n%s", exitCode, stdout, stderr), nil
	}
}

func shellFor(command string) (string, []string) {
	if runtime.GOOS == "windows" {
		return "cmd", []string{"/C", command}
	}
	if bin, err := exec.LookPath("bash"); err == nil {
		return bin, []string{"-c", command}
	}
	return "sh", []string{"-c", command}
}

// runCapped runs cmd, capping stdout and stderr at maxBytes each so a
// runaway command cannot exhaust memory or blow the model's context.
func runCapped(cmd *exec.Cmd, maxBytes int) (stdout, stderr string, err error) {
	stdoutPipe, perr := cmd.StdoutPipe()
	if perr != nil {
		return "", "", perr
	}
	stderrPipe, perr := cmd.StderrPipe()
	if perr != nil {
		return "", "", perr
	}

	if startErr := cmd.Start(); startErr != nil {
		return "", "", startErr
	}

	var mu sync.Mutex
	var outBuf, errBuf strings.Builder
	var wg sync.WaitGroup
	wg.Add(2)

	capture := func(r *bufio.Reader, buf *strings.Builder) {
		defer wg.Done()
		remaining := maxBytes
		chunk := make([]byte, 4096)
		for remaining > 0 {
			n, rerr := r.Read(chunk)
			if n > 0 {
				take := n
				if take > remaining {
					take = remaining
				}
				mu.Lock()
				buf.Write(chunk[:take])
				mu.Unlock()
				remaining -= take
			}
			if rerr != nil {
				return
			}
		}
	}

	go capture(bufio.NewReader(stdoutPipe), &outBuf)
	go capture(bufio.NewReader(stderrPipe), &errBuf)
	wg.Wait()

	err = cmd.Wait()
	return outBuf.String(), errBuf.String(), err
}

func filterSensitiveEnv(env []string) []string {
	out := make([]string, 0, len(env))
	for _, kv := range env {
		upper := strings.ToUpper(kv)
		if strings.Contains(upper, "SECRET") || strings.Contains(upper, "PASSWORD") ||
			strings.Contains(upper, "API_KEY") || strings.Contains(upper, "TOKEN") {
			continue
		}
		out = append(out, kv)
	}
	return out
}

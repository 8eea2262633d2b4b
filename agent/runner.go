// Package agent launches and supervises the coding agent CLI inside worker
// sessions. The agent is driven purely through its terminal UI; nothing
// here talks to a model API.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/crewmux/internal/version"
	"github.com/hrygo/crewmux/mux"
)

// interpreterNames are runtimes the agent CLI may show up as in the pane's
// foreground command instead of its own name.
var interpreterNames = map[string]bool{
	"node": true,
	"bun":  true,
	"deno": true,
}

// confirmationMarkers identify first-run prompts the agent CLI shows before
// it accepts input. The runner answers them so a freshly hired worker is
// immediately usable from chat.
var confirmationMarkers = []string{
	"Do you trust the files",
	"Yes, proceed",
	"Press Enter to continue",
	"to get started",
}

// Runner starts the agent program inside tmux panes.
type Runner struct {
	command string // configured binary name
	cliPath string // resolved absolute path
	args    []string
	sandbox string // optional wrapper template with a %s placeholder
	adapter *mux.Adapter
}

// NewRunner resolves the agent CLI and returns a runner bound to the
// session adapter.
func NewRunner(adapter *mux.Adapter, command string, args []string, sandboxTemplate string) (*Runner, error) {
	cliPath, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("agent CLI %q not found: %w", command, err)
	}
	return &Runner{
		command: command,
		cliPath: cliPath,
		args:    args,
		sandbox: sandboxTemplate,
		adapter: adapter,
	}, nil
}

// CommandLine returns the shell command typed into a fresh worker pane.
func (r *Runner) CommandLine() string {
	parts := make([]string, 0, 1+len(r.args))
	parts = append(parts, shellQuote(r.command))
	for _, arg := range r.args {
		parts = append(parts, shellQuote(arg))
	}
	line := strings.Join(parts, " ")
	if r.sandbox != "" && strings.Contains(r.sandbox, "%s") {
		return fmt.Sprintf(r.sandbox, line)
	}
	return line
}

// Start types the agent command into the worker's pane and submits it.
func (r *Runner) Start(ctx context.Context, worker string) error {
	if err := r.adapter.SendText(ctx, worker, r.CommandLine()); err != nil {
		return errors.Wrapf(err, "start agent in %s", worker)
	}
	slog.Info("agent: launched", "worker", worker, "command", r.command)
	return nil
}

// IsRunning reports whether the agent owns the worker's pane. CLIs that
// run under an interpreter are matched by the interpreter name.
func (r *Runner) IsRunning(ctx context.Context, worker string) (bool, error) {
	foreground, err := r.adapter.ForegroundCmd(ctx, worker)
	if err != nil {
		return false, err
	}
	return matchesAgentProcess(foreground, r.command), nil
}

// Relaunch restarts the agent inside an existing session. The session and
// its scrollback survive; only the pane's foreground process is replaced.
func (r *Runner) Relaunch(ctx context.Context, worker string) error {
	running, err := r.IsRunning(ctx, worker)
	if err != nil {
		return err
	}
	if running {
		// The agent needs two interrupts to drop back to the shell.
		for i := 0; i < 2; i++ {
			if err := r.adapter.SendKeys(ctx, worker, "C-c"); err != nil {
				return errors.Wrapf(err, "interrupt agent in %s", worker)
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(400 * time.Millisecond):
			}
		}
	}
	return r.Start(ctx, worker)
}

// Interrupt sends Escape to the agent, stopping its current activity
// without killing it.
func (r *Runner) Interrupt(ctx context.Context, worker string) error {
	return r.adapter.SendKeys(ctx, worker, "Escape")
}

// AutoAcceptStartupPrompts watches a freshly started pane and answers
// first-run confirmation prompts. Best effort; gives up at the deadline.
func (r *Runner) AutoAcceptStartupPrompts(ctx context.Context, worker string, deadline time.Duration) {
	timer := time.NewTimer(deadline)
	defer timer.Stop()
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			return
		case <-ticker.C:
		}

		capture, err := r.adapter.CapturePane(ctx, worker, 50)
		if err != nil {
			return
		}
		if marker := matchConfirmation(capture); marker != "" {
			slog.Debug("agent: answering startup prompt", "worker", worker, "marker", marker)
			if err := r.adapter.SendKeys(ctx, worker, "Enter"); err != nil {
				return
			}
		}
	}
}

// Version returns the agent CLI version.
func (r *Runner) Version(ctx context.Context) (string, error) {
	cmd := exec.CommandContext(ctx, r.cliPath, "--version")
	output, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("failed to get CLI version: %w", err)
	}
	v := parseVersionOutput(string(output))
	if v == "" {
		return "", fmt.Errorf("unrecognized version output: %q", strings.TrimSpace(string(output)))
	}
	return v, nil
}

// CheckMinVersion logs a warning when the installed CLI is older than the
// configured minimum. The bridge still starts; old CLIs mostly work, they
// just lack the newer hook events.
func (r *Runner) CheckMinVersion(ctx context.Context, minVersion string) {
	if minVersion == "" {
		return
	}
	v, err := r.Version(ctx)
	if err != nil {
		slog.Warn("agent: could not determine CLI version", "command", r.command, "error", err)
		return
	}
	if !version.IsVersionGreaterOrEqualThan(v, minVersion) {
		slog.Warn("agent: CLI older than the supported minimum",
			"command", r.command,
			"version", v,
			"minimum", minVersion,
		)
	}
}

// matchesAgentProcess reports whether a pane foreground command belongs to
// the agent CLI.
func matchesAgentProcess(foreground, command string) bool {
	fg := filepath.Base(strings.TrimSpace(foreground))
	if fg == "" {
		return false
	}
	return fg == filepath.Base(command) || interpreterNames[fg]
}

// matchConfirmation returns the first startup prompt marker present in the
// capture, or "".
func matchConfirmation(capture string) string {
	for _, marker := range confirmationMarkers {
		if strings.Contains(capture, marker) {
			return marker
		}
	}
	return ""
}

// parseVersionOutput extracts a dotted version from CLI output like
// "1.0.38 (Claude Code)".
func parseVersionOutput(output string) string {
	for _, field := range strings.Fields(output) {
		trimmed := strings.TrimPrefix(field, "v")
		if trimmed == "" {
			continue
		}
		if strings.Count(trimmed, ".") >= 1 && trimmed[0] >= '0' && trimmed[0] <= '9' {
			return trimmed
		}
	}
	return ""
}

// shellQuote wraps an argument in single quotes when it contains anything
// the shell would interpret.
func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`!*?[](){}<>|&;~#") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

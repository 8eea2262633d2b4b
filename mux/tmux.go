// Package mux wraps the tmux command line. Worker sessions are detached
// tmux sessions named by a configured prefix; tmux is the authoritative
// store of the worker set and survives bridge restarts.
package mux

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrSessionExists is returned by Create when the target session is already present.
	ErrSessionExists = errors.New("session already exists")
	// ErrSessionNotFound is returned when the target session does not exist.
	ErrSessionNotFound = errors.New("session not found")
	// ErrNotInsideSession is returned by CurrentSession outside a tmux client.
	ErrNotInsideSession = errors.New("not running inside a tmux session")
)

const (
	// Detached sessions get a fixed size so pane captures are deterministic
	// regardless of any attached client.
	sessionWidth  = 200
	sessionHeight = 50
)

// Adapter executes tmux commands for a single session namespace.
type Adapter struct {
	bin        string
	prefix     string
	sessionEnv map[string]string // applied to every created session
}

// NewAdapter locates the tmux binary and returns an adapter for the given
// session prefix. sessionEnv entries are set session-scoped on every
// Create so the stop hook can read them without process inheritance.
func NewAdapter(prefix string, sessionEnv map[string]string) (*Adapter, error) {
	bin, err := exec.LookPath("tmux")
	if err != nil {
		return nil, errors.Wrap(err, "tmux not found in PATH")
	}
	return &Adapter{
		bin:        bin,
		prefix:     prefix,
		sessionEnv: sessionEnv,
	}, nil
}

// Prefix returns the configured session name prefix.
func (a *Adapter) Prefix() string {
	return a.prefix
}

// SessionName returns the full tmux session name for a worker.
func (a *Adapter) SessionName(worker string) string {
	return a.prefix + worker
}

// WorkerName strips the prefix from a tmux session name. ok is false when
// the session does not belong to this namespace.
func (a *Adapter) WorkerName(session string) (string, bool) {
	if !strings.HasPrefix(session, a.prefix) || session == a.prefix {
		return "", false
	}
	return strings.TrimPrefix(session, a.prefix), true
}

// target returns an exact-match tmux target. The "=" prevents tmux from
// prefix-matching "cm-al" onto "cm-alice".
func (a *Adapter) target(worker string) string {
	return "=" + a.SessionName(worker)
}

func (a *Adapter) run(ctx context.Context, args ...string) (stdout, stderr string, err error) {
	cmd := exec.CommandContext(ctx, a.bin, args...)
	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf
	err = cmd.Run()
	return out.String(), errBuf.String(), err
}

// serverDown reports whether a tmux failure means the server is simply not
// running, which callers treat as "no sessions", not as an error.
func serverDown(stderr string) bool {
	return strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "error connecting to")
}

func missingSession(stderr string) bool {
	return strings.Contains(stderr, "can't find session") ||
		strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "no current target")
}

// List returns the worker names (prefix stripped) of all sessions in this
// namespace, sorted. A stopped tmux server yields an empty list, not an error.
func (a *Adapter) List(ctx context.Context) ([]string, error) {
	stdout, stderr, err := a.run(ctx, "list-sessions", "-F", "#{session_name}")
	if err != nil {
		if serverDown(stderr) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "tmux list-sessions: %s", strings.TrimSpace(stderr))
	}

	var workers []string
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if worker, ok := a.WorkerName(line); ok {
			workers = append(workers, worker)
		}
	}
	sort.Strings(workers)
	return workers, nil
}

// Exists queries tmux directly for the worker's session.
func (a *Adapter) Exists(ctx context.Context, worker string) (bool, error) {
	_, stderr, err := a.run(ctx, "has-session", "-t", a.target(worker))
	if err == nil {
		return true, nil
	}
	if serverDown(stderr) || missingSession(stderr) {
		return false, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		// has-session exits 1 for an unknown session without a message on
		// some tmux versions.
		return false, nil
	}
	return false, errors.Wrapf(err, "tmux has-session: %s", strings.TrimSpace(stderr))
}

// Create starts a detached session for the worker at cwd and immediately
// sets the session-scoped environment. Returns ErrSessionExists when the
// session is already present.
func (a *Adapter) Create(ctx context.Context, worker, cwd string) error {
	session := a.SessionName(worker)
	args := []string{
		"new-session", "-d",
		"-s", session,
		"-x", strconv.Itoa(sessionWidth),
		"-y", strconv.Itoa(sessionHeight),
	}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	_, stderr, err := a.run(ctx, args...)
	if err != nil {
		if strings.Contains(stderr, "duplicate session") {
			return errors.Wrap(ErrSessionExists, session)
		}
		return errors.Wrapf(err, "tmux new-session %s: %s", session, strings.TrimSpace(stderr))
	}

	for key, value := range a.sessionEnv {
		if err := a.SetEnv(ctx, worker, key, value); err != nil {
			slog.Warn("tmux: failed to set session env", "session", session, "key", key, "error", err)
		}
	}
	slog.Info("tmux: session created", "session", session, "cwd", cwd)
	return nil
}

// SetEnv sets a session-scoped environment variable. New panes and
// processes that query the session environment observe it; the bridge's
// own environment is not involved.
func (a *Adapter) SetEnv(ctx context.Context, worker, key, value string) error {
	_, stderr, err := a.run(ctx, "set-environment", "-t", a.target(worker), key, value)
	if err != nil {
		if missingSession(stderr) || serverDown(stderr) {
			return errors.Wrap(ErrSessionNotFound, a.SessionName(worker))
		}
		return errors.Wrapf(err, "tmux set-environment: %s", strings.TrimSpace(stderr))
	}
	return nil
}

// SessionEnv reads one session-scoped environment variable. Returns ""
// when the variable is not set on the session.
func (a *Adapter) SessionEnv(ctx context.Context, session, key string) (string, error) {
	stdout, stderr, err := a.run(ctx, "show-environment", "-t", "="+session, key)
	if err != nil {
		if strings.Contains(stderr, "unknown variable") {
			return "", nil
		}
		if missingSession(stderr) || serverDown(stderr) {
			return "", errors.Wrap(ErrSessionNotFound, session)
		}
		return "", errors.Wrapf(err, "tmux show-environment: %s", strings.TrimSpace(stderr))
	}
	return parseEnvOutput(stdout), nil
}

// parseEnvOutput extracts the value from one line of show-environment
// output. "-KEY" marks a variable removed from the session environment.
func parseEnvOutput(stdout string) string {
	line := strings.TrimSpace(stdout)
	if line == "" || strings.HasPrefix(line, "-") {
		return ""
	}
	if _, value, found := strings.Cut(line, "="); found {
		return value
	}
	return ""
}

// SendText writes literal text into the worker's pane and submits it with
// Enter. The two tmux calls are not atomic; callers must hold the
// per-worker lock across the whole send.
func (a *Adapter) SendText(ctx context.Context, worker, text string) error {
	if err := a.sendKeysRaw(ctx, worker, true, text); err != nil {
		return err
	}
	return a.sendKeysRaw(ctx, worker, false, "Enter")
}

// SendKeys sends raw key names (Escape, Enter, C-c, ...) without a
// trailing submit.
func (a *Adapter) SendKeys(ctx context.Context, worker string, keys ...string) error {
	return a.sendKeysRaw(ctx, worker, false, keys...)
}

func (a *Adapter) sendKeysRaw(ctx context.Context, worker string, literal bool, keys ...string) error {
	args := []string{"send-keys", "-t", a.target(worker)}
	if literal {
		args = append(args, "-l", "--")
	}
	args = append(args, keys...)
	_, stderr, err := a.run(ctx, args...)
	if err != nil {
		if missingSession(stderr) || serverDown(stderr) {
			return errors.Wrap(ErrSessionNotFound, a.SessionName(worker))
		}
		return errors.Wrapf(err, "tmux send-keys %s: %s", a.SessionName(worker), strings.TrimSpace(stderr))
	}
	return nil
}

// ForegroundCmd returns the name of the program currently owning the
// worker's pane (e.g. "zsh" when idle, the agent binary when running).
func (a *Adapter) ForegroundCmd(ctx context.Context, worker string) (string, error) {
	stdout, stderr, err := a.run(ctx, "display-message", "-p", "-t", a.target(worker), "#{pane_current_command}")
	if err != nil {
		if missingSession(stderr) || serverDown(stderr) {
			return "", errors.Wrap(ErrSessionNotFound, a.SessionName(worker))
		}
		return "", errors.Wrapf(err, "tmux display-message: %s", strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

// PaneCurrentPath returns the working directory of the worker's pane.
func (a *Adapter) PaneCurrentPath(ctx context.Context, worker string) (string, error) {
	stdout, stderr, err := a.run(ctx, "display-message", "-p", "-t", a.target(worker), "#{pane_current_path}")
	if err != nil {
		if missingSession(stderr) || serverDown(stderr) {
			return "", errors.Wrap(ErrSessionNotFound, a.SessionName(worker))
		}
		return "", errors.Wrapf(err, "tmux display-message: %s", strings.TrimSpace(stderr))
	}
	return strings.TrimSpace(stdout), nil
}

// CapturePane returns the last lines of the worker's pane as plain text.
func (a *Adapter) CapturePane(ctx context.Context, worker string, lines int) (string, error) {
	stdout, stderr, err := a.run(ctx,
		"capture-pane", "-p",
		"-t", a.target(worker),
		"-S", strconv.Itoa(-lines),
	)
	if err != nil {
		if missingSession(stderr) || serverDown(stderr) {
			return "", errors.Wrap(ErrSessionNotFound, a.SessionName(worker))
		}
		return "", errors.Wrapf(err, "tmux capture-pane: %s", strings.TrimSpace(stderr))
	}
	return stdout, nil
}

// Kill terminates the worker's session.
func (a *Adapter) Kill(ctx context.Context, worker string) error {
	_, stderr, err := a.run(ctx, "kill-session", "-t", a.target(worker))
	if err != nil {
		if missingSession(stderr) || serverDown(stderr) {
			return errors.Wrap(ErrSessionNotFound, a.SessionName(worker))
		}
		return errors.Wrapf(err, "tmux kill-session: %s", strings.TrimSpace(stderr))
	}
	slog.Info("tmux: session killed", "session", a.SessionName(worker))
	return nil
}

// CurrentSession returns the name of the session the calling process runs
// inside. Used by the stop hook, which executes within the agent's pane.
func (a *Adapter) CurrentSession(ctx context.Context) (string, error) {
	stdout, stderr, err := a.run(ctx, "display-message", "-p", "#S")
	if err != nil {
		if serverDown(stderr) || strings.Contains(stderr, "no current client") {
			return "", ErrNotInsideSession
		}
		return "", errors.Wrapf(err, "tmux display-message: %s", strings.TrimSpace(stderr))
	}
	session := strings.TrimSpace(stdout)
	if session == "" {
		return "", ErrNotInsideSession
	}
	return session, nil
}

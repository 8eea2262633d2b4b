package bridge

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/hrygo/crewmux/chat"
	"github.com/hrygo/crewmux/chat/channels"
	"github.com/hrygo/crewmux/chat/media"
	"github.com/hrygo/crewmux/coord"
	"github.com/hrygo/crewmux/internal/profile"
	"github.com/hrygo/crewmux/metrics"
)

// typingInterval is how often the typing indicator is refreshed while a
// worker has a reply pending. The platform expires the indicator after
// five seconds, so four keeps it continuous.
const typingInterval = 4 * time.Second

// Sessions is the multiplexer surface the bridge drives. *mux.Adapter
// implements it; tests substitute a fake.
type Sessions interface {
	List(ctx context.Context) ([]string, error)
	Exists(ctx context.Context, worker string) (bool, error)
	Create(ctx context.Context, worker, cwd string) error
	Kill(ctx context.Context, worker string) error
	SendText(ctx context.Context, worker, text string) error
	SendKeys(ctx context.Context, worker string, keys ...string) error
	ForegroundCmd(ctx context.Context, worker string) (string, error)
	PaneCurrentPath(ctx context.Context, worker string) (string, error)
	CapturePane(ctx context.Context, worker string, lines int) (string, error)
}

// Agent is the runner surface lifecycle commands drive. *agent.Runner
// implements it.
type Agent interface {
	Start(ctx context.Context, worker string) error
	Relaunch(ctx context.Context, worker string) error
	Interrupt(ctx context.Context, worker string) error
	IsRunning(ctx context.Context, worker string) (bool, error)
	AutoAcceptStartupPrompts(ctx context.Context, worker string, deadline time.Duration)
}

// Service is the bridge core: one chat channel on one side, a set of
// multiplexer sessions on the other. All mutable state lives here;
// configuration is read-only after construction.
type Service struct {
	profile  *profile.Profile
	channel  channels.Channel
	sessions Sessions
	agent    Agent
	store    *coord.Store
	metrics  *metrics.Exporter
	policy   *media.Policy

	mu    sync.Mutex // guards admin and focus
	admin int64
	focus string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	typingMu sync.Mutex
	typing   map[string]context.CancelFunc

	dedupMu sync.Mutex
	dedup   map[int]struct{}
	dedupQ  []int
}

// NewService wires the bridge together. The admin chat comes from
// configuration when preset, from the persisted node state when a previous
// run learned it, and otherwise from the first inbound message.
func NewService(p *profile.Profile, ch channels.Channel, sessions Sessions, ag Agent, store *coord.Store, exp *metrics.Exporter) *Service {
	cwd, _ := os.Getwd()
	roots := []string{os.TempDir(), p.SessionsRoot}
	if cwd != "" {
		roots = append(roots, cwd)
	}

	s := &Service{
		profile:  p,
		channel:  ch,
		sessions: sessions,
		agent:    ag,
		store:    store,
		metrics:  exp,
		policy:   media.NewPolicy(roots, p.MaxMediaMB<<20),
		locks:    make(map[string]*sync.Mutex),
		typing:   make(map[string]context.CancelFunc),
		dedup:    make(map[int]struct{}),
	}

	s.admin = p.AdminChatID
	if s.admin == 0 {
		if id, ok := store.LastChatID(); ok {
			s.admin = id
			slog.Info("bridge: restored admin chat", "chat_id", id)
		}
	}
	return s
}

// Adopt reconciles the bridge with whatever survived a restart: existing
// prefixed sessions become workers again, the persisted focus is restored
// when its session is still alive, and the port file is refreshed for the
// stop hooks.
func (s *Service) Adopt(ctx context.Context) error {
	workers, err := s.sessions.List(ctx)
	if err != nil {
		return err
	}
	s.metrics.SetWorkers(len(workers))

	if last, ok := s.store.LastActive(); ok {
		if containsString(workers, last) {
			s.mu.Lock()
			s.focus = last
			s.mu.Unlock()
			slog.Info("bridge: restored focus", "worker", last)
		} else {
			if err := s.store.SetLastActive(""); err != nil {
				slog.Warn("bridge: clear stale focus failed", "error", err)
			}
		}
	}

	if err := s.store.WritePortFile(s.profile.Port); err != nil {
		slog.Warn("bridge: write port file failed", "error", err)
	}

	s.refreshCommands(ctx)
	slog.Info("bridge: adopted state", "workers", len(workers), "focus", s.currentFocus())
	return nil
}

// Shutdown notifies every known chat, persists the node state, and closes
// the channel. Called once from the signal path.
func (s *Service) Shutdown(ctx context.Context) {
	s.typingMu.Lock()
	for worker, cancel := range s.typing {
		cancel()
		delete(s.typing, worker)
	}
	s.typingMu.Unlock()

	s.Notify(ctx, "⚠️ Bridge going offline. Workers keep running; messages will flow again after restart.")

	s.mu.Lock()
	admin, focus := s.admin, s.focus
	s.mu.Unlock()
	if admin != 0 {
		if err := s.store.SetLastChatID(admin); err != nil {
			slog.Warn("bridge: persist admin chat failed", "error", err)
		}
	}
	if err := s.store.SetLastActive(focus); err != nil {
		slog.Warn("bridge: persist focus failed", "error", err)
	}

	if err := s.channel.Close(); err != nil {
		slog.Warn("bridge: channel close failed", "error", err)
	}
	slog.Info("bridge: shutdown complete")
}

func (s *Service) currentFocus() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.focus
}

// Focused returns the focused worker validated against the live session
// list. A vanished session clears the focus as a side effect.
func (s *Service) Focused(ctx context.Context) string {
	name := s.currentFocus()
	if name == "" {
		return ""
	}
	exists, err := s.sessions.Exists(ctx, name)
	if err != nil {
		slog.Warn("bridge: focus check failed", "worker", name, "error", err)
		return ""
	}
	if !exists {
		slog.Info("bridge: focused worker vanished", "worker", name)
		s.setFocus("")
		return ""
	}
	return name
}

// setFocus updates the focus pointer and persists it so a restart can
// restore it.
func (s *Service) setFocus(name string) {
	s.mu.Lock()
	changed := s.focus != name
	s.focus = name
	s.mu.Unlock()
	if !changed {
		return
	}
	if err := s.store.SetLastActive(name); err != nil {
		slog.Warn("bridge: persist focus failed", "worker", name, "error", err)
	}
}

// workerLock returns the per-worker mutex, creating it on first use.
func (s *Service) workerLock(worker string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if m, ok := s.locks[worker]; ok {
		return m
	}
	m := &sync.Mutex{}
	s.locks[worker] = m
	return m
}

// releaseLock drops a worker's mutex when the worker ends. A send racing
// the end keeps its own reference; the map entry just stops being shared.
func (s *Service) releaseLock(worker string) {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	delete(s.locks, worker)
}

// dedupWindow bounds how many recent update ids are remembered. Webhook
// retries arrive within seconds; a small window is plenty.
const dedupWindow = 256

// seenUpdate records an update id and reports whether it was already seen.
func (s *Service) seenUpdate(id int) bool {
	if id == 0 {
		return false
	}
	s.dedupMu.Lock()
	defer s.dedupMu.Unlock()
	if _, ok := s.dedup[id]; ok {
		return true
	}
	s.dedup[id] = struct{}{}
	s.dedupQ = append(s.dedupQ, id)
	if len(s.dedupQ) > dedupWindow {
		old := s.dedupQ[0]
		s.dedupQ = s.dedupQ[1:]
		delete(s.dedup, old)
	}
	return false
}

// startTyping begins the typing-indicator loop for a worker. Any previous
// loop for the same worker is replaced.
func (s *Service) startTyping(worker string, chatID int64) {
	ctx, cancel := context.WithCancel(context.Background())
	s.typingMu.Lock()
	if prev, ok := s.typing[worker]; ok {
		prev()
	}
	s.typing[worker] = cancel
	s.typingMu.Unlock()
	slog.Debug("bridge: typing loop started", "worker", worker)
	go s.typingLoop(ctx, worker, chatID)
}

// typingLoop refreshes the indicator while the worker's pending marker is
// fresh. It ends on cancel, on pending clear, or when the marker expires.
func (s *Service) typingLoop(ctx context.Context, worker string, chatID int64) {
	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()
	for {
		if !s.store.IsPending(worker) {
			slog.Debug("bridge: typing loop stopped", "worker", worker, "reason", "pending_cleared")
			return
		}
		if err := s.channel.SendChatAction(ctx, chatID, "typing"); err != nil {
			slog.Debug("bridge: chat action failed", "worker", worker, "error", err)
		}
		select {
		case <-ctx.Done():
			slog.Debug("bridge: typing loop stopped", "worker", worker, "reason", "canceled")
			return
		case <-ticker.C:
		}
	}
}

// stopTyping cancels the typing loop for a worker, if any.
func (s *Service) stopTyping(worker string) {
	s.typingMu.Lock()
	if cancel, ok := s.typing[worker]; ok {
		cancel()
		delete(s.typing, worker)
	}
	s.typingMu.Unlock()
}

// refreshCommands re-registers the command list so each worker shows up as
// /name in the client UI. Best effort; the commands work without it.
func (s *Service) refreshCommands(ctx context.Context) {
	cmds := []chat.BotCommand{
		{Command: "hire", Description: "add a worker: /hire <name> [dir]"},
		{Command: "end", Description: "dismiss a worker"},
		{Command: "team", Description: "list workers"},
		{Command: "focus", Description: "switch the focused worker"},
		{Command: "progress", Description: "what is the focused worker doing"},
		{Command: "pause", Description: "interrupt the focused worker"},
		{Command: "relaunch", Description: "restart the agent in the session"},
		{Command: "learn", Description: "ask the focused worker to share learnings"},
		{Command: "settings", Description: "show bridge settings"},
	}
	workers, err := s.sessions.List(ctx)
	if err != nil {
		slog.Warn("bridge: list for command refresh failed", "error", err)
	}
	for _, w := range workers {
		cmds = append(cmds, chat.BotCommand{Command: w, Description: "talk to " + w})
	}
	if err := s.channel.RegisterCommands(ctx, cmds); err != nil {
		slog.Warn("bridge: command registration failed", "error", err)
	}
	s.metrics.SetWorkers(len(workers))
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

package bridge

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// enterRetryDelay is how long the bridge waits before inspecting the pane
// to see whether the submit keystroke was accepted.
var enterRetryDelay = 350 * time.Millisecond

const receiptEmoji = "👀"

// Deliver is the single logical-send wrapper. It owns the worker's mutex
// for the whole literal-plus-Enter sequence; concurrent deliveries to one
// worker serialize here instead of interleaving keystrokes inside the
// pane. Interleaved sends lose messages, so every path into a worker goes
// through this function.
func (s *Service) Deliver(ctx context.Context, worker string, chatID int64, messageID int, text string) error {
	lock := s.workerLock(worker)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.SetChatID(worker, chatID); err != nil {
		slog.Warn("bridge: record chat id failed", "worker", worker, "error", err)
	}
	if err := s.store.SetPending(worker); err != nil {
		slog.Warn("bridge: stamp pending failed", "worker", worker, "error", err)
	}

	if err := s.sessions.SendText(ctx, worker, text); err != nil {
		s.metrics.RecordSend(false)
		if cerr := s.store.ClearPending(worker); cerr != nil {
			slog.Warn("bridge: clear pending failed", "worker", worker, "error", cerr)
		}
		return errors.Wrapf(err, "deliver to %s", worker)
	}
	s.confirmSubmitted(ctx, worker, text)
	s.metrics.RecordSend(true)

	s.startTyping(worker, chatID)
	if messageID != 0 {
		if err := s.channel.SetReaction(ctx, chatID, messageID, receiptEmoji); err != nil {
			slog.Debug("bridge: receipt reaction failed", "worker", worker, "error", err)
		}
	}
	return nil
}

// confirmSubmitted re-sends Enter once when the pane's input line still
// shows the delivered text. Busy TUIs occasionally swallow the submit
// keystroke during a redraw; a second Enter on an already-empty prompt is
// harmless.
func (s *Service) confirmSubmitted(ctx context.Context, worker, text string) {
	probe := probeText(text)
	if probe == "" {
		return
	}
	select {
	case <-ctx.Done():
		return
	case <-time.After(enterRetryDelay):
	}
	capture, err := s.sessions.CapturePane(ctx, worker, 15)
	if err != nil {
		return
	}
	if promptHolds(capture, probe) {
		slog.Debug("bridge: prompt still holds text, retrying submit", "worker", worker)
		if err := s.sessions.SendKeys(ctx, worker, "Enter"); err != nil {
			slog.Debug("bridge: submit retry failed", "worker", worker, "error", err)
		}
	}
}

// probeText reduces a delivered message to a short needle for the pane
// check: first line, trimmed, capped.
func probeText(text string) string {
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) > 48 {
		text = string(runes[:48])
	}
	return text
}

// promptHolds reports whether a prompt-looking line near the bottom of the
// pane still contains the probe.
func promptHolds(capture, probe string) bool {
	lines := strings.Split(strings.TrimRight(capture, "\n"), "\n")
	from := len(lines) - 8
	if from < 0 {
		from = 0
	}
	for _, line := range lines[from:] {
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, ">") && !strings.HasPrefix(trimmed, "❯") && !strings.HasPrefix(trimmed, "│") {
			continue
		}
		if strings.Contains(trimmed, probe) {
			return true
		}
	}
	return false
}

// Broadcast delivers text to every worker in turn, taking each worker's
// lock individually so a broadcast cannot starve a concurrent direct send.
// Returns the workers that received the message.
func (s *Service) Broadcast(ctx context.Context, chatID int64, messageID int, text string) []string {
	workers, err := s.sessions.List(ctx)
	if err != nil {
		slog.Warn("bridge: broadcast list failed", "error", err)
		return nil
	}
	var delivered []string
	for _, w := range workers {
		if err := s.Deliver(ctx, w, chatID, 0, text); err != nil {
			slog.Warn("bridge: broadcast delivery failed", "worker", w, "error", err)
			continue
		}
		delivered = append(delivered, w)
	}
	if len(delivered) > 0 && messageID != 0 {
		if err := s.channel.SetReaction(ctx, chatID, messageID, receiptEmoji); err != nil {
			slog.Debug("bridge: receipt reaction failed", "error", err)
		}
	}
	return delivered
}

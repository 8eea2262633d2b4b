package bridge

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/hrygo/crewmux/chat/media"
)

// Errors
var (
	// ErrEmptyResponse rejects response posts with a blank session or text.
	ErrEmptyResponse = errors.New("empty session or text")
	// ErrNoChatID means no chat ever addressed this worker, so the reply
	// has nowhere to go.
	ErrNoChatID = errors.New("no chat recorded for worker")
)

// HandleResponse carries one worker reply out to the manager chat: media
// tags first, then the formatted text in reply-chained chunks. Transport
// failures on the text path are logged, not retried; media failures are
// surfaced as chat notices naming the file.
func (s *Service) HandleResponse(ctx context.Context, worker, text string) error {
	start := time.Now()
	worker = strings.TrimSpace(worker)
	if worker == "" || strings.TrimSpace(text) == "" {
		s.metrics.RecordResponse("rejected", 0)
		return ErrEmptyResponse
	}
	chatID, ok := s.store.ChatID(worker)
	if !ok {
		s.metrics.RecordResponse("orphan", 0)
		return errors.Wrap(ErrNoChatID, worker)
	}
	defer func() {
		if err := s.store.ClearPending(worker); err != nil {
			slog.Warn("bridge: clear pending failed", "worker", worker, "error", err)
		}
		s.stopTyping(worker)
	}()

	clean, tags := ExtractMediaTags(text)
	for _, tag := range tags {
		s.emitMedia(ctx, chatID, worker, tag)
	}

	body := strings.TrimSpace(clean)
	if body == "" {
		s.metrics.RecordResponse("success", time.Since(start))
		return nil
	}

	framed := FrameWorker(worker, FormatHTML(body))
	chunks := SplitMessage(framed, MessageLimit)
	s.metrics.RecordChunks(len(chunks))

	replyTo := 0
	for i, chunk := range chunks {
		id, err := s.channel.SendHTML(ctx, chatID, chunk, replyTo)
		if err != nil {
			s.metrics.RecordTransportError("send_html")
			s.metrics.RecordResponse("transport_error", 0)
			slog.Error("bridge: response send failed", "worker", worker, "chunk", i, "error", err)
			return nil
		}
		replyTo = id
	}

	s.metrics.RecordResponse("success", time.Since(start))
	slog.Info("bridge: response delivered", "worker", worker, "chunks", len(chunks), "media", len(tags))
	return nil
}

// emitMedia validates and uploads one media tag. Every failure turns into
// a chat notice naming the file.
func (s *Service) emitMedia(ctx context.Context, chatID int64, worker string, tag MediaTag) {
	caption := EscapeHTML(tag.Caption)
	var err error
	switch tag.Kind {
	case "image":
		err = s.sendTaggedImage(ctx, chatID, worker, tag.Path, caption)
	default:
		err = s.sendTaggedFile(ctx, chatID, tag.Path, caption)
	}
	if err != nil {
		s.metrics.RecordMedia("out", false)
		slog.Warn("bridge: media send failed", "worker", worker, "path", tag.Path, "error", err)
		notice := "⚠️ Couldn't attach " + filepath.Base(tag.Path) + ": " + err.Error()
		if _, serr := s.channel.SendText(ctx, chatID, notice); serr != nil {
			slog.Warn("bridge: media notice failed", "worker", worker, "error", serr)
		}
		return
	}
	s.metrics.RecordMedia("out", true)
}

func (s *Service) sendTaggedImage(ctx context.Context, chatID int64, worker, path, captionHTML string) error {
	// The worker's own working directory is always a legitimate source.
	var extra []string
	if cwd, err := s.sessions.PaneCurrentPath(ctx, worker); err == nil && cwd != "" {
		extra = append(extra, cwd)
	}
	if err := s.policy.ValidateImage(path, extra...); err != nil {
		return err
	}
	file, err := media.PrepareImage(path)
	if err != nil {
		return err
	}
	if _, err = s.channel.SendPhoto(ctx, chatID, file, captionHTML); err == nil {
		return nil
	}
	// The photo API refuses some valid images (extreme ratios, huge
	// dimensions); the original bytes still go through as a document.
	slog.Warn("bridge: photo send refused, retrying as document", "worker", worker, "path", path, "error", err)
	original, rerr := media.ReadDocument(path)
	if rerr != nil {
		return err
	}
	_, derr := s.channel.SendDocument(ctx, chatID, original, captionHTML)
	return derr
}

func (s *Service) sendTaggedFile(ctx context.Context, chatID int64, path, captionHTML string) error {
	if err := s.policy.ValidateDocument(path); err != nil {
		return err
	}
	file, err := media.ReadDocument(path)
	if err != nil {
		return err
	}
	_, err = s.channel.SendDocument(ctx, chatID, file, captionHTML)
	return err
}

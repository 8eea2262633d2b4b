package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/lithammer/shortuuid/v4"

	"github.com/hrygo/crewmux/chat"
	"github.com/hrygo/crewmux/chat/media"
)

// Route labels for metrics.
const (
	routeMedia       = "media"
	routeCommand     = "command"
	routeWorkerSlash = "worker_slash"
	routePassThrough = "passthrough"
	routeBroadcast   = "broadcast"
	routeDirect      = "direct"
	routeReply       = "reply"
	routeFocused     = "focused"
	routeHint        = "hint"
)

const noFocusHint = "No worker is focused yet. /hire <name> to add one, or /team to pick."

// HandleUpdate routes one inbound chat event. It never returns an error:
// every failure becomes either chat feedback or a log line, and the
// webhook has already been acknowledged.
func (s *Service) HandleUpdate(ctx context.Context, ev *chat.InboundEvent) {
	if ev == nil {
		return
	}
	s.metrics.RecordUpdate()
	if s.seenUpdate(ev.UpdateID) {
		s.metrics.RecordDrop("duplicate")
		return
	}
	if !s.authorize(ev.ChatID) {
		s.metrics.RecordDrop("unauthorized")
		slog.Debug("bridge: dropping non-admin event", "chat_id", ev.ChatID)
		return
	}

	log := slog.With("corr", shortCorr())
	text := strings.TrimSpace(ev.Text)
	log.Info("bridge: event",
		"chat_id", ev.ChatID, "message_id", ev.MessageID,
		"media", len(ev.Attachments), "chars", len(text))

	if ev.HasMedia() {
		s.metrics.RecordRoute(routeMedia)
		s.routeInboundMedia(ctx, log, ev)
		return
	}
	if text == "" {
		s.metrics.RecordDrop("empty")
		return
	}
	if strings.HasPrefix(text, "/") {
		s.routeSlash(ctx, log, ev, text)
		return
	}
	if strings.HasPrefix(text, "@") && s.routeMention(ctx, log, ev, text) {
		return
	}
	if ev.ReplyToID != 0 && strings.TrimSpace(ev.ReplyToText) != "" {
		s.routeReply(ctx, log, ev, text)
		return
	}
	s.metrics.RecordRoute(routeFocused)
	s.deliverToFocused(ctx, log, ev, text)
}

// shortCorr returns a compact correlation id for tying an event's log
// lines together.
func shortCorr() string {
	return uuid.NewString()[:8]
}

// routeInboundMedia downloads attachments into the target worker's inbox
// and forwards a description the agent can act on.
func (s *Service) routeInboundMedia(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent) {
	worker := s.replyTarget(ctx, ev)
	if worker == "" {
		s.reply(ctx, ev, "No worker is focused to receive files. /focus one first, then resend.")
		return
	}

	var desc strings.Builder
	desc.WriteString("The manager sent you files. They are saved in your inbox:\n")
	saved := 0
	for _, att := range ev.Attachments {
		data, mimeType, err := s.channel.DownloadFile(ctx, att.FileID)
		if err != nil {
			s.metrics.RecordMedia("in", false)
			log.Warn("bridge: media download failed", "file_id", att.FileID, "error", err)
			s.reply(ctx, ev, "Couldn't download "+attachmentName(att)+": "+err.Error())
			continue
		}
		path, err := s.store.WriteInboxFile(worker, inboxName(att, mimeType), data)
		if err != nil {
			s.metrics.RecordMedia("in", false)
			log.Warn("bridge: inbox write failed", "worker", worker, "error", err)
			s.reply(ctx, ev, "Couldn't save "+attachmentName(att)+": "+err.Error())
			continue
		}
		s.metrics.RecordMedia("in", true)
		fmt.Fprintf(&desc, "- %s (%s, %d bytes): %s\n", attachmentName(att), mimeType, len(data), path)
		saved++
	}
	if saved == 0 {
		return
	}
	if caption := strings.TrimSpace(ev.Text); caption != "" {
		desc.WriteString("\n")
		desc.WriteString(caption)
	}
	if err := s.Deliver(ctx, worker, ev.ChatID, ev.MessageID, desc.String()); err != nil {
		log.Warn("bridge: media forward failed", "worker", worker, "error", err)
	}
}

// inboxName builds a collision-free inbox file name, keeping the original
// name when the platform provided one.
func inboxName(att chat.Attachment, mimeType string) string {
	id := shortuuid.New()
	if att.FileName != "" {
		return id + "-" + filepath.Base(att.FileName)
	}
	return id + "." + media.ExtensionForMime(mimeType)
}

func attachmentName(att chat.Attachment) string {
	if att.FileName != "" {
		return att.FileName
	}
	return strings.ToLower(att.Type.String())
}

// routeSlash handles everything starting with "/": blocked commands,
// built-ins, /name focus switches, and verbatim pass-through.
func (s *Service) routeSlash(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, text string) {
	head, tail := splitCommand(text, s.channel.BotName())
	if head == "" {
		s.metrics.RecordRoute(routePassThrough)
		s.deliverToFocused(ctx, log, ev, text)
		return
	}
	if s.isBlockedCommand(head) {
		s.metrics.RecordRoute(routeCommand)
		s.reply(ctx, ev, s.profile.BlockedReply)
		return
	}
	if s.dispatchBuiltin(ctx, log, ev, head, tail) {
		s.metrics.RecordRoute(routeCommand)
		return
	}
	if isWorkerName(head) {
		exists, err := s.sessions.Exists(ctx, head)
		if err == nil && exists {
			s.metrics.RecordRoute(routeWorkerSlash)
			s.setFocus(head)
			if tail == "" {
				s.reply(ctx, ev, "Focused on "+head+".")
				return
			}
			if err := s.Deliver(ctx, head, ev.ChatID, ev.MessageID, tail); err != nil {
				log.Warn("bridge: deliver failed", "worker", head, "error", err)
			}
			return
		}
	}
	// Unknown slash commands belong to the agent's own prompt language;
	// forward them untouched, leading slash included.
	s.metrics.RecordRoute(routePassThrough)
	s.deliverToFocused(ctx, log, ev, text)
}

// splitCommand separates "/head tail", dropping an "@botname" suffix the
// platform appends in group chats.
func splitCommand(text, botName string) (string, string) {
	rest := text[1:]
	head, tail := rest, ""
	if idx := strings.IndexAny(rest, " \t\n"); idx >= 0 {
		head, tail = rest[:idx], strings.TrimSpace(rest[idx+1:])
	}
	if at := strings.IndexByte(head, '@'); at >= 0 {
		mention := head[at+1:]
		if botName == "" || strings.EqualFold(mention, botName) {
			head = head[:at]
		}
	}
	return strings.ToLower(head), tail
}

func (s *Service) isBlockedCommand(head string) bool {
	return containsString(s.profile.BlockedCommands, head)
}

// routeMention handles "@all body" broadcasts and "@name body" one-off
// sends. Returns false when the text does not address a live worker, so
// the caller can fall through to the plain-text rules.
func (s *Service) routeMention(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, text string) bool {
	if text == "@all" || strings.HasPrefix(text, "@all ") {
		s.metrics.RecordRoute(routeBroadcast)
		body := strings.TrimSpace(strings.TrimPrefix(text, "@all"))
		if body == "" {
			s.reply(ctx, ev, "Usage: @all <message>")
			return true
		}
		delivered := s.Broadcast(ctx, ev.ChatID, ev.MessageID, body)
		if len(delivered) == 0 {
			s.reply(ctx, ev, "Nobody to broadcast to. /hire <name> first.")
			return true
		}
		s.reply(ctx, ev, "Broadcast to "+strings.Join(delivered, ", ")+".")
		return true
	}

	rest := text[1:]
	idx := strings.IndexAny(rest, " \t\n")
	if idx <= 0 {
		return false
	}
	name, body := rest[:idx], strings.TrimSpace(rest[idx+1:])
	if !isWorkerName(name) || body == "" {
		return false
	}
	exists, err := s.sessions.Exists(ctx, name)
	if err != nil || !exists {
		return false
	}
	s.metrics.RecordRoute(routeDirect)
	if err := s.Deliver(ctx, name, ev.ChatID, ev.MessageID, body); err != nil {
		log.Warn("bridge: deliver failed", "worker", name, "error", err)
	}
	return true
}

// routeReply forwards a swipe-reply. When the replied-to message carries a
// worker frame the reply goes to that worker regardless of focus; the
// original exchange is attached so the agent has its own words back.
func (s *Service) routeReply(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, text string) {
	target := s.replyTarget(ctx, ev)
	if target == "" {
		s.metrics.RecordRoute(routeHint)
		s.reply(ctx, ev, noFocusHint)
		return
	}
	payload := "Manager reply: " + text + "\nContext (your previous message): " + strings.TrimSpace(ev.ReplyToText)
	s.metrics.RecordRoute(routeReply)
	if err := s.Deliver(ctx, target, ev.ChatID, ev.MessageID, payload); err != nil {
		log.Warn("bridge: deliver failed", "worker", target, "error", err)
	}
}

// replyTarget resolves where a reply-routed event should land: the framed
// worker when its session is alive, the focused worker otherwise.
func (s *Service) replyTarget(ctx context.Context, ev *chat.InboundEvent) string {
	if ev.ReplyToID != 0 {
		if name, ok := ParseWorkerFrame(ev.ReplyToText); ok {
			if exists, err := s.sessions.Exists(ctx, name); err == nil && exists {
				return name
			}
		}
	}
	return s.Focused(ctx)
}

// deliverToFocused sends payload to the focused worker or hints at /hire
// when there is none. The caller records the route.
func (s *Service) deliverToFocused(ctx context.Context, log *slog.Logger, ev *chat.InboundEvent, payload string) {
	worker := s.Focused(ctx)
	if worker == "" {
		s.reply(ctx, ev, noFocusHint)
		return
	}
	if err := s.Deliver(ctx, worker, ev.ChatID, ev.MessageID, payload); err != nil {
		log.Warn("bridge: deliver failed", "worker", worker, "error", err)
	}
}

// reply sends a short service message back to the manager chat.
func (s *Service) reply(ctx context.Context, ev *chat.InboundEvent, text string) {
	if _, err := s.channel.SendText(ctx, ev.ChatID, text); err != nil {
		s.metrics.RecordTransportError("send_text")
		slog.Warn("bridge: service reply failed", "error", err)
	}
}

package bridge

import (
	"context"
	"log/slog"
)

// Notify fans a service message out to every chat identity on record:
// each worker's chat plus the persisted admin chat, deduplicated. Used by
// the notify endpoint and the shutdown path.
func (s *Service) Notify(ctx context.Context, text string) int {
	sent := 0
	for _, id := range s.store.AllChatIDs() {
		if _, err := s.channel.SendText(ctx, id, text); err != nil {
			s.metrics.RecordTransportError("notify")
			slog.Warn("bridge: notify failed", "chat_id", id, "error", err)
			continue
		}
		sent++
	}
	return sent
}

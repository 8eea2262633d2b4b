package bridge

import "log/slog"

// authorize implements the admin gate. The first chat to speak becomes the
// admin when none is configured; every other chat is dropped without any
// visible reaction, so the bot stays invisible to strangers.
func (s *Service) authorize(chatID int64) bool {
	s.mu.Lock()
	if s.admin == 0 {
		s.admin = chatID
		s.mu.Unlock()
		if err := s.store.SetLastChatID(chatID); err != nil {
			slog.Warn("bridge: persist admin chat failed", "error", err)
		}
		slog.Info("bridge: learned admin chat", "chat_id", chatID)
		return true
	}
	ok := s.admin == chatID
	s.mu.Unlock()
	return ok
}

// AdminChatID returns the current admin chat, 0 when still unlearned.
func (s *Service) AdminChatID() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.admin
}

// Package chat defines the transport-facing message model for the bridge.
// The bridge speaks to exactly one chat platform at a time; these types are
// what crosses the boundary in either direction.
package chat

import "time"

// MessageType represents the type of an attachment or outgoing message.
type MessageType int

const (
	MessageTypeText MessageType = iota
	MessageTypePhoto
	MessageTypeDocument
)

// String returns the string representation of MessageType.
func (m MessageType) String() string {
	switch m {
	case MessageTypeText:
		return "text"
	case MessageTypePhoto:
		return "photo"
	case MessageTypeDocument:
		return "document"
	default:
		return "unknown"
	}
}

// Attachment describes one media item carried by an inbound message. The
// content itself is fetched lazily through Channel.DownloadFile.
type Attachment struct {
	Type     MessageType
	FileID   string // platform file handle for download
	FileName string // original filename, may be empty for photos
	MimeType string
	Size     int64 // bytes as reported by the platform, 0 if unknown
}

// InboundEvent is a normalized inbound chat message. One platform update
// yields at most one event.
type InboundEvent struct {
	UpdateID    int   // platform update sequence number, used for dedup
	ChatID      int64 // chat the message arrived in
	MessageID   int
	UserID      int64
	Username    string
	Text        string // message text, or caption when media is attached
	ReplyToID   int    // message id this one replies to, 0 if none
	ReplyToText string // text of the replied-to message, "" if none
	Attachments []Attachment
	Timestamp   time.Time
}

// HasMedia reports whether the event carries at least one attachment.
func (e *InboundEvent) HasMedia() bool {
	return len(e.Attachments) > 0
}

// OutgoingFile is a file payload uploaded from memory.
type OutgoingFile struct {
	Name string
	Data []byte
}

// BotCommand is one slash command advertised in the chat client UI.
type BotCommand struct {
	Command     string
	Description string
}

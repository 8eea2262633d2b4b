// Package channels provides the Channel interface the bridge drives chat
// platforms through.
package channels

import (
	"context"

	"github.com/hrygo/crewmux/chat"
)

// Channel defines the capability set the bridge requires from a chat
// platform. Telegram is the only implementation today; the bridge never
// reaches past this interface.
type Channel interface {
	// Name returns the platform name (e.g. "telegram").
	Name() string

	// BotName returns the bot's own username, used to strip "@bot" suffixes
	// from slash commands in group chats.
	BotName() string

	// SendText sends plain text and returns the sent message id.
	SendText(ctx context.Context, chatID int64, text string) (int, error)

	// SendHTML sends HTML-formatted text. replyTo chains the message onto an
	// earlier one when non-zero. Returns the sent message id.
	SendHTML(ctx context.Context, chatID int64, html string, replyTo int) (int, error)

	// SendChatAction shows a transient activity indicator ("typing", ...).
	SendChatAction(ctx context.Context, chatID int64, action string) error

	// SendPhoto uploads an image with an optional HTML caption.
	SendPhoto(ctx context.Context, chatID int64, file chat.OutgoingFile, captionHTML string) (int, error)

	// SendDocument uploads a file with an optional HTML caption.
	SendDocument(ctx context.Context, chatID int64, file chat.OutgoingFile, captionHTML string) (int, error)

	// DownloadFile fetches an attachment's bytes from the platform CDN.
	// Returns the data and MIME type.
	DownloadFile(ctx context.Context, fileID string) ([]byte, string, error)

	// SetReaction attaches an emoji reaction to a message. Platforms or bot
	// configurations without reaction support return an error the caller is
	// expected to tolerate.
	SetReaction(ctx context.Context, chatID int64, messageID int, emoji string) error

	// RegisterCommands replaces the command list shown in the client UI.
	RegisterCommands(ctx context.Context, commands []chat.BotCommand) error

	// Close releases platform resources.
	Close() error
}

// Errors
var (
	ErrInvalidPayload      = &ChannelError{Code: "INVALID_PAYLOAD", Message: "could not parse webhook payload"}
	ErrSendFailed          = &ChannelError{Code: "SEND_FAILED", Message: "failed to deliver message"}
	ErrMediaDownloadFailed = &ChannelError{Code: "MEDIA_FAILED", Message: "failed to download media"}
	ErrMediaTooLarge       = &ChannelError{Code: "MEDIA_TOO_LARGE", Message: "media exceeds the size limit"}
	ErrReactionUnsupported = &ChannelError{Code: "REACTION_UNSUPPORTED", Message: "reactions not supported here"}
)

// ChannelError represents an error in channel operations.
type ChannelError struct {
	Code    string
	Message string
	Err     error
}

func (e *ChannelError) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is match wrapped channel errors by code.
func (e *ChannelError) Is(target error) bool {
	t, ok := target.(*ChannelError)
	return ok && t.Code == e.Code
}

// IsRetryable returns true if the error is transient and the operation can
// be retried.
func (e *ChannelError) IsRetryable() bool {
	switch e.Code {
	case "INVALID_PAYLOAD", "MEDIA_TOO_LARGE", "REACTION_UNSUPPORTED":
		return false
	default:
		return true
	}
}

// WrapError attaches a cause to a sentinel, preserving the code for
// errors.Is checks.
func WrapError(sentinel *ChannelError, err error) *ChannelError {
	return &ChannelError{Code: sentinel.Code, Message: sentinel.Message, Err: err}
}

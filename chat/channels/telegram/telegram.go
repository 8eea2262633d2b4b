// Package telegram implements the Telegram Bot channel.
package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"

	"github.com/hrygo/crewmux/chat"
	"github.com/hrygo/crewmux/chat/channels"
)

const (
	// Telegram throttles bots at roughly 30 messages per second overall.
	// Staying under that avoids 429 churn during broadcast fan-outs.
	sendRate  = 25
	sendBurst = 5

	apiTimeout      = 10 * time.Second
	downloadTimeout = 30 * time.Second
)

// Config holds configuration for the Telegram channel.
type Config struct {
	BotToken string
	// MaxFileBytes caps attachment downloads. Zero means 20 MB.
	MaxFileBytes int64
}

// Channel implements channels.Channel for the Telegram Bot API.
type Channel struct {
	bot     *tgbotapi.BotAPI
	config  *Config
	client  *http.Client
	limiter *rate.Limiter
}

// NewChannel creates a new Telegram channel and verifies the token by
// fetching the bot identity.
func NewChannel(config *Config) (*Channel, error) {
	if config.MaxFileBytes == 0 {
		config.MaxFileBytes = 20 * 1024 * 1024
	}

	bot, err := tgbotapi.NewBotAPIWithClient(config.BotToken, tgbotapi.APIEndpoint, &http.Client{
		Timeout: apiTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return &Channel{
		bot:    bot,
		config: config,
		client: &http.Client{
			Timeout: downloadTimeout,
			Transport: &http.Transport{
				DisableCompression: true,
			},
		},
		limiter: rate.NewLimiter(rate.Limit(sendRate), sendBurst),
	}, nil
}

// Name returns the platform name.
func (c *Channel) Name() string {
	return "telegram"
}

// BotName returns the bot's username as reported by getMe.
func (c *Channel) BotName() string {
	return c.bot.Self.UserName
}

// wait blocks until the outbound rate limiter admits another API call.
func (c *Channel) wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return channels.WrapError(channels.ErrSendFailed, err)
	}
	return nil
}

// SendText sends a plain text message.
func (c *Channel) SendText(ctx context.Context, chatID int64, text string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, text)
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, channels.WrapError(channels.ErrSendFailed, err)
	}
	return sent.MessageID, nil
}

// SendHTML sends an HTML-formatted message, optionally chained onto an
// earlier message.
func (c *Channel) SendHTML(ctx context.Context, chatID int64, html string, replyTo int) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	msg := tgbotapi.NewMessage(chatID, html)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if replyTo > 0 {
		msg.ReplyToMessageID = replyTo
	}
	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, channels.WrapError(channels.ErrSendFailed, err)
	}
	return sent.MessageID, nil
}

// SendChatAction shows a transient activity indicator. Telegram clears it
// after about five seconds or on the next message.
func (c *Channel) SendChatAction(ctx context.Context, chatID int64, action string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	if action == "" {
		action = tgbotapi.ChatTyping
	}
	_, err := c.bot.Request(tgbotapi.NewChatAction(chatID, action))
	if err != nil {
		return channels.WrapError(channels.ErrSendFailed, err)
	}
	return nil
}

// SendPhoto uploads an image from memory.
func (c *Channel) SendPhoto(ctx context.Context, chatID int64, file chat.OutgoingFile, captionHTML string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{
		Name:  file.Name,
		Bytes: file.Data,
	})
	photo.Caption = captionHTML
	photo.ParseMode = tgbotapi.ModeHTML
	sent, err := c.bot.Send(photo)
	if err != nil {
		return 0, channels.WrapError(channels.ErrSendFailed, err)
	}
	return sent.MessageID, nil
}

// SendDocument uploads a file from memory.
func (c *Channel) SendDocument(ctx context.Context, chatID int64, file chat.OutgoingFile, captionHTML string) (int, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{
		Name:  file.Name,
		Bytes: file.Data,
	})
	doc.Caption = captionHTML
	doc.ParseMode = tgbotapi.ModeHTML
	sent, err := c.bot.Send(doc)
	if err != nil {
		return 0, channels.WrapError(channels.ErrSendFailed, err)
	}
	return sent.MessageID, nil
}

// DownloadFile fetches an attachment from the Telegram CDN. Files above
// the configured cap are rejected before and during the transfer.
func (c *Channel) DownloadFile(ctx context.Context, fileID string) ([]byte, string, error) {
	file, err := c.bot.GetFile(tgbotapi.FileConfig{FileID: fileID})
	if err != nil {
		slog.Error("telegram: failed to get file info", "file_id", fileID, "error", err)
		return nil, "", channels.WrapError(channels.ErrMediaDownloadFailed, err)
	}
	if int64(file.FileSize) > c.config.MaxFileBytes {
		return nil, "", channels.WrapError(channels.ErrMediaTooLarge,
			fmt.Errorf("%d bytes, cap %d", file.FileSize, c.config.MaxFileBytes))
	}

	fileURL := file.Link(c.bot.Token)
	if fileURL == "" {
		return nil, "", channels.WrapError(channels.ErrMediaDownloadFailed,
			fmt.Errorf("empty file link from Telegram"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return nil, "", channels.WrapError(channels.ErrMediaDownloadFailed, err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("telegram: failed to download file", "file_id", fileID, "error", err)
		return nil, "", channels.WrapError(channels.ErrMediaDownloadFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", channels.WrapError(channels.ErrMediaDownloadFailed,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	// GetFile can report size 0 for some file kinds; the reader enforces the
	// cap regardless.
	data, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxFileBytes+1))
	if err != nil {
		return nil, "", channels.WrapError(channels.ErrMediaDownloadFailed, err)
	}
	if int64(len(data)) > c.config.MaxFileBytes {
		return nil, "", channels.WrapError(channels.ErrMediaTooLarge,
			fmt.Errorf("download exceeded cap %d", c.config.MaxFileBytes))
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	slog.Debug("telegram: downloaded media",
		"file_id", fileID,
		"size", len(data),
		"mime_type", mimeType,
	)
	return data, mimeType, nil
}

// SetReaction attaches an emoji reaction via a raw API call. The bound
// library predates setMessageReaction, so the request is assembled by hand.
func (c *Channel) SetReaction(ctx context.Context, chatID int64, messageID int, emoji string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return channels.WrapError(channels.ErrReactionUnsupported, err)
	}
	params := tgbotapi.Params{
		"chat_id":    strconv.FormatInt(chatID, 10),
		"message_id": strconv.Itoa(messageID),
		"reaction":   string(reaction),
	}
	if _, err := c.bot.MakeRequest("setMessageReaction", params); err != nil {
		return channels.WrapError(channels.ErrReactionUnsupported, err)
	}
	return nil
}

// RegisterCommands replaces the bot's advertised command list.
func (c *Channel) RegisterCommands(ctx context.Context, commands []chat.BotCommand) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	tgCommands := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, cmd := range commands {
		tgCommands = append(tgCommands, tgbotapi.BotCommand{
			Command:     cmd.Command,
			Description: cmd.Description,
		})
	}
	if _, err := c.bot.Request(tgbotapi.NewSetMyCommands(tgCommands...)); err != nil {
		return channels.WrapError(channels.ErrSendFailed, err)
	}
	return nil
}

// Close closes the Telegram channel.
func (c *Channel) Close() error {
	return nil
}

// Ensure Channel implements channels.Channel
var _ channels.Channel = (*Channel)(nil)

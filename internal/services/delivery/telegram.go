package delivery

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/filingwatch/internal/interfaces"
)

// TelegramSender sends HTML messages through the Bot API. The chat ID is the recipient ID.
type TelegramSender struct {
	bot    *tgbotapi.BotAPI
	logger arbor.ILogger
}

// NewTelegramSender creates a sender over an authenticated bot
func NewTelegramSender(bot *tgbotapi.BotAPI, logger arbor.ILogger) *TelegramSender {
	return &TelegramSender{
		bot:    bot,
		logger: logger,
	}
}

// Send delivers text to one chat with link previews disabled
func (s *TelegramSender) Send(ctx context.Context, recipientID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := tgbotapi.NewMessage(recipientID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true

	sent, err := s.bot.Send(msg)
	if err != nil {
		return fmt.Errorf("telegram send to %d: %w", recipientID, err)
	}

	s.logger.Trace().
		Int64("recipient_id", recipientID).
		Int("message_id", sent.MessageID).
		Msg("Telegram message sent")
	return nil
}

var _ interfaces.Sender = (*TelegramSender)(nil)

// LogSender writes messages to the log instead of sending them. Used when no bot token is configured.
type LogSender struct {
	logger arbor.ILogger
}

// NewLogSender creates a dry-run sender
func NewLogSender(logger arbor.ILogger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs the rendered message
func (s *LogSender) Send(ctx context.Context, recipientID int64, text string) error {
	s.logger.Info().
		Int64("recipient_id", recipientID).
		Int("length", RuneLength(text)).
		Str("text", text).
		Msg("Dry run: message not sent (no telegram bot token)")
	return nil
}

var _ interfaces.Sender = (*LogSender)(nil)

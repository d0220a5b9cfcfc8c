package subscriptions

import (
	"context"
	"fmt"
	"html"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/ternarybob/arbor"
)

// DefaultPollTimeout is the long-poll timeout in seconds for getUpdates
const DefaultPollTimeout = 30

const helpText = `<b>filingwatch</b> 미국 SEC 공시 알림 봇

/sub TICKER - 종목 구독 (예: /sub AAPL)
/unsub TICKER - 구독 해지
/list - 구독 중인 종목 보기
/help - 도움말`

// Bot answers subscription commands sent to the Telegram bot
type Bot struct {
	api     *tgbotapi.BotAPI
	service *Service
	timeout int
	logger  arbor.ILogger
}

// NewBot creates a command handler on an authenticated bot
func NewBot(api *tgbotapi.BotAPI, service *Service, logger arbor.ILogger) *Bot {
	return &Bot{
		api:     api,
		service: service,
		timeout: DefaultPollTimeout,
		logger:  logger,
	}
}

// Run long-polls for updates until ctx is cancelled
func (b *Bot) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = b.timeout
	updates := b.api.GetUpdatesChan(u)

	b.logger.Info().Str("bot", b.api.Self.UserName).Msg("Telegram command listener started")

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			b.logger.Info().Msg("Telegram command listener stopped")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	if msg == nil || msg.Chat == nil || !msg.IsCommand() {
		return
	}

	reply := b.HandleCommand(ctx, msg.Chat.ID, msg.Command(), msg.CommandArguments())

	out := tgbotapi.NewMessage(msg.Chat.ID, reply)
	out.ParseMode = tgbotapi.ModeHTML
	if _, err := b.api.Send(out); err != nil {
		b.logger.Warn().
			Err(err).
			Int64("recipient_id", msg.Chat.ID).
			Str("command", msg.Command()).
			Msg("Failed to reply to command")
	}
}

// HandleCommand executes one command for a chat and returns the HTML reply
func (b *Bot) HandleCommand(ctx context.Context, chatID int64, command, args string) string {
	arg := strings.TrimSpace(args)

	switch strings.ToLower(command) {
	case "start", "help":
		return helpText

	case "sub", "subscribe":
		if arg == "" {
			return "사용법: /sub TICKER"
		}
		ticker, title, added, err := b.service.Subscribe(ctx, chatID, arg)
		if err != nil {
			return b.errorReply(chatID, "sub", arg, err)
		}
		name := html.EscapeString(ticker)
		if title != "" {
			name = fmt.Sprintf("%s (%s)", name, html.EscapeString(title))
		}
		if !added {
			return fmt.Sprintf("이미 구독 중입니다: <b>%s</b>", name)
		}
		return fmt.Sprintf("✅ 구독 완료: <b>%s</b>\n새 10-K, 10-Q, 8-K 공시를 분석해 보내드립니다.", name)

	case "unsub", "unsubscribe":
		if arg == "" {
			return "사용법: /unsub TICKER"
		}
		ticker, removed, err := b.service.Unsubscribe(ctx, chatID, arg)
		if err != nil {
			return b.errorReply(chatID, "unsub", arg, err)
		}
		if !removed {
			return fmt.Sprintf("구독 중이 아닌 종목입니다: <b>%s</b>", html.EscapeString(ticker))
		}
		return fmt.Sprintf("구독 해지: <b>%s</b>", html.EscapeString(ticker))

	case "list":
		tickers, err := b.service.ListForRecipient(ctx, chatID)
		if err != nil {
			return b.errorReply(chatID, "list", "", err)
		}
		if len(tickers) == 0 {
			return "구독 중인 종목이 없습니다. /sub TICKER 로 추가하세요."
		}
		return "📌 구독 중인 종목\n" + html.EscapeString(strings.Join(tickers, ", "))
	}

	return helpText
}

func (b *Bot) errorReply(chatID int64, command, arg string, err error) string {
	if IsUnknownTicker(err) {
		return fmt.Sprintf("알 수 없는 종목입니다: %s", html.EscapeString(arg))
	}
	b.logger.Error().
		Err(err).
		Int64("recipient_id", chatID).
		Str("command", command).
		Msg("Subscription command failed")
	return "일시적인 오류가 발생했습니다. 잠시 후 다시 시도해 주세요."
}

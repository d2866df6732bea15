// Package telegram is the chat transport: it renders prompts as Telegram
// messages with inline buttons and turns updates from the configured chat
// into worker tasks.
package telegram

import (
	"context"
	"fmt"
	"html"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/report"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// botAPI is the subset of *tgbotapi.BotAPI the transport uses.
type botAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ botAPI = (*tgbotapi.BotAPI)(nil)

// Bot is a single-chat Telegram transport.
type Bot struct {
	api    botAPI
	chatID int64
	logger *slog.Logger

	// PollTimeout is the long-polling timeout in seconds.
	PollTimeout int
}

var _ api.Messenger = (*Bot)(nil)

// New connects to the Bot API with token and serves chatID.
func New(token string, chatID int64, logger *slog.Logger) (*Bot, error) {
	client, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: connect: %w", err)
	}
	b := newBot(client, chatID, logger)
	b.logger.Info("telegram_connected", slog.String("bot", client.Self.UserName))
	return b, nil
}

func newBot(client botAPI, chatID int64, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{api: client, chatID: chatID, logger: logger, PollTimeout: 60}
}

func (b *Bot) SendBellPrompt(ctx context.Context, p api.BellPrompt) (string, error) {
	text := "🔔 <i>She rang the bell!</i> 🔔"
	if p.LastHandled != nil {
		text += fmt.Sprintf("\n\nLooks like <b>%s</b> took her out last at <b>%s</b>.",
			html.EscapeString(p.LastHandled.By), p.LastHandled.At.Format("03:04 PM"))
	}

	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ I'll take her out", Callback{Kind: CallbackTakeHerOut}.Encode()),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Dismiss", Callback{Kind: CallbackDismiss, InstanceID: p.InstanceID}.Encode()),
		),
	)
	return b.send(msg)
}

func (b *Bot) SendClaimConfirmation(ctx context.Context, user api.User) (string, error) {
	return b.send(tgbotapi.NewMessage(b.chatID, claimedText(user)))
}

// MarkClaimed replaces the prompt text, which also removes its buttons.
func (b *Bot) MarkClaimed(ctx context.Context, correlationID string, user api.User) error {
	messageID, err := parseMessageID(correlationID)
	if err != nil {
		return err
	}
	_, err = b.api.Request(tgbotapi.NewEditMessageText(b.chatID, messageID, claimedText(user)))
	return err
}

func (b *Bot) SendSurvey(ctx context.Context, p api.SurveyPrompt) (string, error) {
	mention := html.EscapeString(p.User.Name)
	if p.User.ID != 0 {
		mention = fmt.Sprintf(`<a href="tg://user?id=%d">%s</a>`, p.User.ID, mention)
	}

	buttons := []struct {
		label string
		code  api.Result
	}{
		{"💦 #1", api.ResultNumber1},
		{"💩 #2", api.ResultNumber2},
		{"💦 Both 💩", api.ResultBoth},
		{"😡 Nothing 😡", api.ResultNothing},
	}
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(buttons))
	for _, btn := range buttons {
		data := Callback{Kind: CallbackRecordSurvey, Code: string(btn.code), CorrelationID: p.CorrelationID}.Encode()
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(btn.label, data)))
	}

	msg := tgbotapi.NewMessage(b.chatID, mention+", what did she do?")
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	return b.send(msg)
}

func (b *Bot) DeletePrompt(ctx context.Context, promptID string) error {
	messageID, err := parseMessageID(promptID)
	if err != nil {
		return err
	}
	_, err = b.api.Request(tgbotapi.NewDeleteMessage(b.chatID, messageID))
	return err
}

func (b *Bot) SendNotice(ctx context.Context, text string) error {
	_, err := b.send(tgbotapi.NewMessage(b.chatID, text))
	return err
}

func (b *Bot) SendReport(ctx context.Context, r *api.Report) error {
	_, err := b.send(tgbotapi.NewMessage(b.chatID, report.Render(r)))
	return err
}

func (b *Bot) send(c tgbotapi.Chattable) (string, error) {
	sent, err := b.api.Send(c)
	if err != nil {
		return "", err
	}
	return strconv.Itoa(sent.MessageID), nil
}

func claimedText(user api.User) string {
	return fmt.Sprintf("🐾 %s took her out...", user.Name)
}

func parseMessageID(id string) (int, error) {
	n, err := strconv.Atoi(id)
	if err != nil {
		return 0, fmt.Errorf("telegram: bad message id %q: %w", id, err)
	}
	return n, nil
}

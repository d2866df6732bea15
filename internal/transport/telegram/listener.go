package telegram

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/taskqueue"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// Chat commands.
const (
	CommandTake   = "take"
	CommandReport = "report"
)

var errIgnored = errors.New("telegram: update ignored")

// Listen long-polls for updates and enqueues a task for every command or
// button press from the configured chat. It returns when ctx is done.
func (b *Bot) Listen(ctx context.Context, q taskqueue.Queue) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = b.PollTimeout
	updates := b.api.GetUpdatesChan(cfg)
	defer b.api.StopReceivingUpdates()

	b.logger.InfoContext(ctx, "telegram_listening", slog.Int64("chat_id", b.chatID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			b.handleUpdate(ctx, q, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, q taskqueue.Queue, update tgbotapi.Update) {
	if cq := update.CallbackQuery; cq != nil {
		// Telegram shows a spinner on the button until the query is answered.
		if _, err := b.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
			b.logger.WarnContext(ctx, "telegram_callback_answer_failed", slog.Any("error", err))
		}
	}

	task, err := b.taskFor(update)
	if err != nil {
		level := slog.LevelDebug
		if !errors.Is(err, errIgnored) {
			level = slog.LevelWarn
		}
		b.logger.Log(ctx, level, "telegram_update_ignored",
			slog.Int("update_id", update.UpdateID),
			slog.Any("reason", err),
		)
		return
	}

	b.logger.InfoContext(ctx, "telegram_update",
		slog.String("task_type", string(task.Type)),
		slog.String("user", task.User.Name),
	)
	if err := q.Enqueue(ctx, task); err != nil {
		b.logger.ErrorContext(ctx, "telegram_enqueue_failed",
			slog.String("task_type", string(task.Type)),
			slog.Any("error", err),
		)
	}
}

// taskFor maps an update to the task it requests.
func (b *Bot) taskFor(update tgbotapi.Update) (taskqueue.Task, error) {
	switch {
	case update.CallbackQuery != nil:
		return b.callbackTask(update.CallbackQuery)
	case update.Message != nil:
		return b.commandTask(update.Message)
	}
	return taskqueue.Task{}, errIgnored
}

func (b *Bot) commandTask(m *tgbotapi.Message) (taskqueue.Task, error) {
	if m.Chat == nil || m.Chat.ID != b.chatID || m.From == nil || !m.IsCommand() {
		return taskqueue.Task{}, errIgnored
	}
	user := userOf(m.From)
	switch m.Command() {
	case CommandTake:
		return taskqueue.Task{Type: taskqueue.TaskTypeClaimManual, User: user}, nil
	case CommandReport:
		return taskqueue.Task{Type: taskqueue.TaskTypeReport, User: user}, nil
	}
	return taskqueue.Task{}, errIgnored
}

func (b *Bot) callbackTask(cq *tgbotapi.CallbackQuery) (taskqueue.Task, error) {
	m := cq.Message
	if m == nil || m.Chat == nil || m.Chat.ID != b.chatID || cq.From == nil {
		return taskqueue.Task{}, errIgnored
	}

	cb, err := ParseCallback(cq.Data)
	if err != nil {
		return taskqueue.Task{}, err
	}

	user := userOf(cq.From)
	messageID := strconv.Itoa(m.MessageID)
	switch cb.Kind {
	case CallbackTakeHerOut:
		return taskqueue.Task{Type: taskqueue.TaskTypeClaim, CorrelationID: messageID, User: user}, nil
	case CallbackDismiss:
		return taskqueue.Task{Type: taskqueue.TaskTypeDismiss, InstanceID: cb.InstanceID, User: user}, nil
	default:
		return taskqueue.Task{
			Type:          taskqueue.TaskTypeSurveyAnswer,
			CorrelationID: cb.CorrelationID,
			Code:          cb.Code,
			PromptID:      messageID,
			User:          user,
		}, nil
	}
}

func userOf(u *tgbotapi.User) api.User {
	return api.User{ID: u.ID, Name: u.FirstName}
}

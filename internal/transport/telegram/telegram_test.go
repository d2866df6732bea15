package telegram

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/taskqueue"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

const testChat int64 = -100

// fakeAPI records every outgoing call and serves updates from a channel.
type fakeAPI struct {
	mu       sync.Mutex
	nextID   int
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	updates  chan tgbotapi.Update
	stopped  bool
	sendErr  error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{nextID: 500, updates: make(chan tgbotapi.Update, 16)}
}

func (f *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: f.nextID}, nil
}

func (f *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeAPI) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeAPI) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func (f *fakeAPI) requestList() []tgbotapi.Chattable {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]tgbotapi.Chattable(nil), f.requests...)
}

func newTestBot(f *fakeAPI) *Bot {
	return newBot(f, testChat, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func buttonData(t *testing.T, c tgbotapi.Chattable) []string {
	t.Helper()
	msg, ok := c.(tgbotapi.MessageConfig)
	require.True(t, ok)
	markup, ok := msg.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	var data []string
	for _, row := range markup.InlineKeyboard {
		for _, btn := range row {
			require.NotNil(t, btn.CallbackData)
			data = append(data, *btn.CallbackData)
		}
	}
	return data
}

func TestCallback_RoundTrip(t *testing.T) {
	for _, cb := range []Callback{
		{Kind: CallbackTakeHerOut},
		{Kind: CallbackDismiss, InstanceID: 42},
		{Kind: CallbackRecordSurvey, Code: "BOTH", CorrelationID: "5001"},
	} {
		got, err := ParseCallback(cb.Encode())
		require.NoError(t, err)
		assert.Equal(t, cb, got)
	}
	assert.Equal(t, "record_survey#1#77", Callback{Kind: CallbackRecordSurvey, Code: "1", CorrelationID: "77"}.Encode())
}

func TestParseCallback_Rejects(t *testing.T) {
	for _, data := range []string{"", "take_her_out#1", "dismiss", "dismiss#x", "dismiss#0", "record_survey#1", "record_survey##9", "what"} {
		_, err := ParseCallback(data)
		assert.ErrorIs(t, err, ErrUnknownCallback, data)
	}
}

func TestBot_SendBellPrompt(t *testing.T) {
	f := newFakeAPI()
	b := newTestBot(f)

	at := time.Date(2024, 5, 1, 14, 5, 0, 0, time.UTC)
	id, err := b.SendBellPrompt(context.Background(), api.BellPrompt{
		InstanceID:  9,
		LastHandled: &api.LastHandled{By: "Bob <3", At: at},
	})
	require.NoError(t, err)
	assert.Equal(t, "501", id)

	require.Len(t, f.sent, 1)
	msg := f.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, testChat, msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "She rang the bell!")
	assert.Contains(t, msg.Text, "<b>Bob &lt;3</b> took her out last at <b>02:05 PM</b>")
	assert.Equal(t, []string{"take_her_out", "dismiss#9"}, buttonData(t, msg))
}

func TestBot_SendBellPromptWithoutHistory(t *testing.T) {
	f := newFakeAPI()
	b := newTestBot(f)

	_, err := b.SendBellPrompt(context.Background(), api.BellPrompt{InstanceID: 1})
	require.NoError(t, err)
	assert.NotContains(t, f.sent[0].(tgbotapi.MessageConfig).Text, "Looks like")
}

func TestBot_SendSurveyMentionsClaimant(t *testing.T) {
	f := newFakeAPI()
	b := newTestBot(f)

	_, err := b.SendSurvey(context.Background(), api.SurveyPrompt{CorrelationID: "501", User: api.User{ID: 7, Name: "Alice"}})
	require.NoError(t, err)

	msg := f.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, `<a href="tg://user?id=7">Alice</a>, what did she do?`, msg.Text)
	assert.Equal(t, []string{
		"record_survey#1#501",
		"record_survey#2#501",
		"record_survey#BOTH#501",
		"record_survey#NOTHING#501",
	}, buttonData(t, msg))
}

func TestBot_MarkClaimedAndDelete(t *testing.T) {
	f := newFakeAPI()
	b := newTestBot(f)
	ctx := context.Background()

	require.NoError(t, b.MarkClaimed(ctx, "501", api.User{Name: "Alice"}))
	require.NoError(t, b.DeletePrompt(ctx, "502"))

	reqs := f.requestList()
	require.Len(t, reqs, 2)
	edit := reqs[0].(tgbotapi.EditMessageTextConfig)
	assert.Equal(t, 501, edit.MessageID)
	assert.Equal(t, "🐾 Alice took her out...", edit.Text)
	assert.Nil(t, edit.ReplyMarkup)
	del := reqs[1].(tgbotapi.DeleteMessageConfig)
	assert.Equal(t, 502, del.MessageID)
	assert.Equal(t, testChat, del.ChatID)

	assert.Error(t, b.DeletePrompt(ctx, "not-a-number"))
}

func TestBot_SendErrorsPropagate(t *testing.T) {
	f := newFakeAPI()
	f.sendErr = errors.New("bad gateway")
	b := newTestBot(f)

	_, err := b.SendClaimConfirmation(context.Background(), api.User{Name: "Alice"})
	assert.ErrorIs(t, err, f.sendErr)
	assert.ErrorIs(t, b.SendNotice(context.Background(), "hi"), f.sendErr)
}

func TestBot_SendReport(t *testing.T) {
	f := newFakeAPI()
	b := newTestBot(f)

	require.NoError(t, b.SendReport(context.Background(), &api.Report{InsufficientData: true}))
	assert.Equal(t, "Not enough data for a report yet. Try again later.", f.sent[0].(tgbotapi.MessageConfig).Text)
}

func command(chatID int64, text string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 1,
		Message: &tgbotapi.Message{
			MessageID: 10,
			From:      &tgbotapi.User{ID: 7, FirstName: "Alice"},
			Chat:      &tgbotapi.Chat{ID: chatID},
			Text:      text,
			Entities:  []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(text)}},
		},
	}
}

func press(chatID int64, messageID int, data string) tgbotapi.Update {
	return tgbotapi.Update{
		UpdateID: 2,
		CallbackQuery: &tgbotapi.CallbackQuery{
			ID:      "cq-1",
			From:    &tgbotapi.User{ID: 8, FirstName: "Bob"},
			Message: &tgbotapi.Message{MessageID: messageID, Chat: &tgbotapi.Chat{ID: chatID}},
			Data:    data,
		},
	}
}

func TestBot_TaskFor(t *testing.T) {
	b := newTestBot(newFakeAPI())
	alice := api.User{ID: 7, Name: "Alice"}
	bob := api.User{ID: 8, Name: "Bob"}

	cases := []struct {
		name   string
		update tgbotapi.Update
		want   taskqueue.Task
	}{
		{"take", command(testChat, "/take"), taskqueue.Task{Type: taskqueue.TaskTypeClaimManual, User: alice}},
		{"take with bot name", command(testChat, "/take@bellbot"), taskqueue.Task{Type: taskqueue.TaskTypeClaimManual, User: alice}},
		{"report", command(testChat, "/report"), taskqueue.Task{Type: taskqueue.TaskTypeReport, User: alice}},
		{"claim button", press(testChat, 501, "take_her_out"), taskqueue.Task{Type: taskqueue.TaskTypeClaim, CorrelationID: "501", User: bob}},
		{"dismiss button", press(testChat, 501, "dismiss#3"), taskqueue.Task{Type: taskqueue.TaskTypeDismiss, InstanceID: 3, User: bob}},
		{"survey button", press(testChat, 640, "record_survey#NOTHING#501"), taskqueue.Task{
			Type: taskqueue.TaskTypeSurveyAnswer, CorrelationID: "501", Code: "NOTHING", PromptID: "640", User: bob,
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := b.taskFor(tc.update)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestBot_TaskForIgnores(t *testing.T) {
	b := newTestBot(newFakeAPI())

	plain := command(testChat, "hello")
	plain.Message.Entities = nil

	for name, u := range map[string]tgbotapi.Update{
		"other chat command":  command(42, "/take"),
		"other chat button":   press(42, 1, "take_her_out"),
		"unknown command":     command(testChat, "/start"),
		"plain text":          plain,
		"empty update":        {},
		"unknown button data": press(testChat, 1, "bogus"),
	} {
		_, err := b.taskFor(u)
		assert.Error(t, err, name)
	}
}

func TestBot_ListenEnqueuesAndAnswersCallbacks(t *testing.T) {
	f := newFakeAPI()
	b := newTestBot(f)
	q := taskqueue.NewInMemoryQueue(0)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- b.Listen(ctx, q) }()

	f.updates <- press(testChat, 501, "take_her_out")
	f.updates <- press(42, 501, "take_her_out")
	f.updates <- command(testChat, "/report")

	var got []taskqueue.TaskType
	for len(got) < 2 {
		dctx, dcancel := context.WithTimeout(ctx, 2*time.Second)
		task, err := q.Dequeue(dctx)
		dcancel()
		require.NoError(t, err)
		got = append(got, task.Type)
	}
	assert.Equal(t, []taskqueue.TaskType{taskqueue.TaskTypeClaim, taskqueue.TaskTypeReport}, got)

	cancel()
	require.NoError(t, <-done)

	// Both button presses are answered, even the one from another chat.
	var answered int
	for _, r := range f.requestList() {
		if _, ok := r.(tgbotapi.CallbackConfig); ok {
			answered++
		}
	}
	assert.Equal(t, 2, answered)
	assert.True(t, f.stopped)
}

package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/engine"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/taskqueue"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

type chatLog struct {
	mu      sync.Mutex
	next    int
	prompts []api.BellPrompt
	notices []string
	reports []*api.Report
	deleted []string
}

func (c *chatLog) id() string {
	c.next++
	return "m" + strconv.Itoa(c.next)
}

func (c *chatLog) SendBellPrompt(ctx context.Context, p api.BellPrompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	return c.id(), nil
}

func (c *chatLog) SendClaimConfirmation(ctx context.Context, user api.User) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id(), nil
}

func (c *chatLog) MarkClaimed(ctx context.Context, correlationID string, user api.User) error {
	return nil
}

func (c *chatLog) SendSurvey(ctx context.Context, p api.SurveyPrompt) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id(), nil
}

func (c *chatLog) DeletePrompt(ctx context.Context, promptID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.deleted = append(c.deleted, promptID)
	return nil
}

func (c *chatLog) SendNotice(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, text)
	return nil
}

func (c *chatLog) SendReport(ctx context.Context, r *api.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, r)
	return nil
}

func (c *chatLog) noticeList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.notices...)
}

// stubEngine fails every action with err.
type stubEngine struct {
	err   error
	calls []string
}

func (s *stubEngine) RingBell(ctx context.Context) (*api.Instance, error) {
	s.calls = append(s.calls, "ring")
	return nil, s.err
}

func (s *stubEngine) Claim(ctx context.Context, correlationID string, user api.User) (*api.Instance, error) {
	s.calls = append(s.calls, "claim:"+correlationID)
	return nil, s.err
}

func (s *stubEngine) ClaimManual(ctx context.Context, user api.User) (*api.Instance, error) {
	s.calls = append(s.calls, "claim-manual:"+user.Name)
	return nil, s.err
}

func (s *stubEngine) SendSurvey(ctx context.Context, f api.FollowUp) (*api.Instance, error) {
	return nil, s.err
}

func (s *stubEngine) Dismiss(ctx context.Context, id int64, user api.User) (*api.Instance, error) {
	s.calls = append(s.calls, "dismiss")
	return nil, s.err
}

func (s *stubEngine) RecordOutcome(ctx context.Context, answer api.SurveyAnswer) (*api.Instance, error) {
	s.calls = append(s.calls, "outcome:"+answer.Code)
	return nil, s.err
}

func (s *stubEngine) Report(ctx context.Context) (*api.Report, error) {
	s.calls = append(s.calls, "report")
	if s.err != nil {
		return nil, s.err
	}
	return &api.Report{InsufficientData: true}, nil
}

func (s *stubEngine) Close() error { return nil }

var alice = api.User{ID: 7, Name: "Alice"}

func newTestEngine(t *testing.T, chat api.Messenger) api.Engine {
	t.Helper()
	eng, err := engine.NewInMemoryEngine(engine.Config{
		Messenger:   chat,
		SurveyDelay: time.Hour,
		Location:    time.UTC,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })
	return eng
}

func processAll(t *testing.T, w *Worker, q taskqueue.Queue) []error {
	t.Helper()
	ctx := context.Background()
	var errs []error
	for q.Len() > 0 {
		processed, err := w.ProcessOne(ctx)
		require.True(t, processed)
		errs = append(errs, err)
	}
	return errs
}

func TestWorker_RingClaimAnswerFlow(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	w := New(newTestEngine(t, chat), q, chat)
	ctx := context.Background()

	require.NoError(t, w.EnqueueRing(ctx))
	for _, err := range processAll(t, w, q) {
		require.NoError(t, err)
	}
	require.Len(t, chat.prompts, 1)

	require.NoError(t, w.EnqueueClaim(ctx, "m1", alice))
	require.NoError(t, w.EnqueueSurveyAnswer(ctx, api.SurveyAnswer{CorrelationID: "m1", Code: "1", User: alice, PromptID: "s9"}))
	errs := processAll(t, w, q)
	require.Len(t, errs, 2)
	require.NoError(t, errs[0])

	// The answer arrives before the follow-up moved the instance to SURVEYED.
	assert.ErrorIs(t, errs[1], api.ErrInvalidTransition)
	assert.Equal(t, []string{NoticeAlreadyHandled}, chat.noticeList())
}

func TestWorker_ReportIsSentToChat(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	w := New(newTestEngine(t, chat), q, chat)

	require.NoError(t, w.EnqueueReport(context.Background(), alice))
	for _, err := range processAll(t, w, q) {
		require.NoError(t, err)
	}
	require.Len(t, chat.reports, 1)
	assert.True(t, chat.reports[0].InsufficientData)
}

func TestWorker_NotFoundIsAbsorbed(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	var logs bytes.Buffer
	w := NewWithConfig(newTestEngine(t, chat), q, chat, Config{
		Logger: slog.New(slog.NewTextHandler(&logs, nil)),
	})

	require.NoError(t, w.EnqueueDismiss(context.Background(), 999, alice))
	errs := processAll(t, w, q)
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Empty(t, chat.noticeList())
	assert.Contains(t, logs.String(), "task_target_not_found")
}

func TestWorker_ClaimOnUnknownPromptAsksToRetry(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	w := New(newTestEngine(t, chat), q, chat)

	// The tap lands before the prompt's id has been stored.
	require.NoError(t, w.EnqueueClaim(context.Background(), "m404", alice))
	errs := processAll(t, w, q)
	require.Len(t, errs, 1)
	assert.NoError(t, errs[0])
	assert.Equal(t, []string{NoticeNotReady}, chat.noticeList())
}

func TestWorker_ErrorNotices(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		notice string
	}{
		{"rejected", &api.TransitionError{InstanceID: 1, From: api.StateCompleted, Action: api.ActionDismiss}, NoticeAlreadyHandled},
		{"invalid result", api.ErrInvalidResult, NoticeInvalidAnswer},
		{"ledger", api.LedgerError("update", errors.New("locked")), NoticeFailure},
		{"transport", api.TransportError("edit", errors.New("timeout")), NoticeFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chat := &chatLog{}
			q := taskqueue.NewInMemoryQueue(0)
			w := New(&stubEngine{err: tc.err}, q, chat)

			require.NoError(t, w.EnqueueDismiss(context.Background(), 1, alice))
			errs := processAll(t, w, q)
			require.Len(t, errs, 1)
			assert.ErrorIs(t, errs[0], tc.err)
			assert.Equal(t, []string{tc.notice}, chat.noticeList())
		})
	}
}

func TestWorker_RingFailureSendsNoNotice(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	w := New(&stubEngine{err: api.LedgerError("insert", errors.New("locked"))}, q, chat)

	require.NoError(t, w.EnqueueRing(context.Background()))
	errs := processAll(t, w, q)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], api.ErrLedgerUnavailable)
	assert.Empty(t, chat.noticeList())
}

func TestWorker_DispatchesEveryTaskType(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	eng := &stubEngine{}
	w := New(eng, q, chat)
	ctx := context.Background()

	require.NoError(t, w.EnqueueRing(ctx))
	require.NoError(t, w.EnqueueClaim(ctx, "c1", alice))
	require.NoError(t, w.EnqueueClaimManual(ctx, alice))
	require.NoError(t, w.EnqueueDismiss(ctx, 3, alice))
	require.NoError(t, w.EnqueueSurveyAnswer(ctx, api.SurveyAnswer{CorrelationID: "c1", Code: "BOTH", User: alice}))
	require.NoError(t, w.EnqueueReport(ctx, alice))

	for _, err := range processAll(t, w, q) {
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"ring", "claim:c1", "claim-manual:Alice", "dismiss", "outcome:BOTH", "report"}, eng.calls)
	assert.Len(t, chat.reports, 1)
}

// rawQueue hands out its tasks without the checks a real queue applies.
type rawQueue struct{ tasks []taskqueue.Task }

func (q *rawQueue) Enqueue(ctx context.Context, t taskqueue.Task) error {
	q.tasks = append(q.tasks, t)
	return nil
}

func (q *rawQueue) Dequeue(ctx context.Context) (*taskqueue.Task, error) {
	if len(q.tasks) == 0 {
		return nil, context.Canceled
	}
	t := q.tasks[0]
	q.tasks = q.tasks[1:]
	return &t, nil
}

func (q *rawQueue) Len() int { return len(q.tasks) }

func TestWorker_UnknownTaskType(t *testing.T) {
	chat := &chatLog{}
	q := &rawQueue{tasks: []taskqueue.Task{{ID: "x", Type: "bogus"}}}
	w := New(&stubEngine{}, q, chat)

	processed, err := w.ProcessOne(context.Background())
	assert.True(t, processed)
	assert.ErrorContains(t, err, "unknown task type")
}

func TestWorker_RunStopsOnCancel(t *testing.T) {
	chat := &chatLog{}
	q := taskqueue.NewInMemoryQueue(0)
	w := NewWithConfig(newTestEngine(t, chat), q, chat, Config{Concurrency: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, w.EnqueueRing(ctx))
	require.Eventually(t, func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		return len(chat.prompts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// flakyQueue fails the first Dequeue and then delegates.
type flakyQueue struct {
	taskqueue.Queue
	mu     sync.Mutex
	failed bool
}

func (q *flakyQueue) Dequeue(ctx context.Context) (*taskqueue.Task, error) {
	q.mu.Lock()
	if !q.failed {
		q.failed = true
		q.mu.Unlock()
		return nil, errors.New("i/o timeout")
	}
	q.mu.Unlock()
	return q.Queue.Dequeue(ctx)
}

func TestWorker_RunRetriesAfterDequeueError(t *testing.T) {
	chat := &chatLog{}
	q := &flakyQueue{Queue: taskqueue.NewInMemoryQueue(0)}
	var logs bytes.Buffer
	w := NewWithConfig(newTestEngine(t, chat), q, chat, Config{
		RetryDelay: 10 * time.Millisecond,
		Logger:     slog.New(slog.NewTextHandler(&logs, nil)),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, w.EnqueueRing(ctx))
	require.Eventually(t, func() bool {
		chat.mu.Lock()
		defer chat.mu.Unlock()
		return len(chat.prompts) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Contains(t, logs.String(), "worker_dequeue_failed")
}

package engine

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/ledger"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// fakeMessenger hands out increasing message ids and records every call.
type fakeMessenger struct {
	mu     sync.Mutex
	nextID int

	bellPrompts   []api.BellPrompt
	confirmations []api.User
	marked        []string
	surveys       []api.SurveyPrompt
	deleted       []string
	notices       []string
	reports       []*api.Report

	failBellPrompt error
	failMark       error
	failSurvey     error
	failDelete     error
}

func newFakeMessenger() *fakeMessenger {
	return &fakeMessenger{nextID: 1000}
}

func (m *fakeMessenger) id() string {
	m.nextID++
	return strconv.Itoa(m.nextID)
}

func (m *fakeMessenger) SendBellPrompt(ctx context.Context, p api.BellPrompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failBellPrompt != nil {
		return "", m.failBellPrompt
	}
	m.bellPrompts = append(m.bellPrompts, p)
	return m.id(), nil
}

func (m *fakeMessenger) SendClaimConfirmation(ctx context.Context, user api.User) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmations = append(m.confirmations, user)
	return m.id(), nil
}

func (m *fakeMessenger) MarkClaimed(ctx context.Context, correlationID string, user api.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failMark != nil {
		return m.failMark
	}
	m.marked = append(m.marked, correlationID)
	return nil
}

func (m *fakeMessenger) SendSurvey(ctx context.Context, p api.SurveyPrompt) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failSurvey != nil {
		return "", m.failSurvey
	}
	m.surveys = append(m.surveys, p)
	return m.id(), nil
}

func (m *fakeMessenger) DeletePrompt(ctx context.Context, promptID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failDelete != nil {
		return m.failDelete
	}
	m.deleted = append(m.deleted, promptID)
	return nil
}

func (m *fakeMessenger) SendNotice(ctx context.Context, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
	return nil
}

func (m *fakeMessenger) SendReport(ctx context.Context, r *api.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, r)
	return nil
}

func (m *fakeMessenger) surveyCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.surveys)
}

func (m *fakeMessenger) lastBellPrompt() api.BellPrompt {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.bellPrompts[len(m.bellPrompts)-1]
}

type publication struct {
	topic   string
	payload string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []publication
	fail error
}

func (n *fakeNotifier) Publish(ctx context.Context, topic string, payload []byte) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail != nil {
		return n.fail
	}
	n.sent = append(n.sent, publication{topic: topic, payload: string(payload)})
	return nil
}

// recordingObserver counts events on top of BasicMetrics.
type recordingObserver struct {
	api.BasicMetrics

	mu      sync.Mutex
	skipped []string
}

func (o *recordingObserver) OnFollowUpSkipped(ctx context.Context, correlationID string, reason error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped = append(o.skipped, correlationID)
}

func (o *recordingObserver) skippedKeys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.skipped...)
}

// brokenLedger fails every call with a storage error.
type brokenLedger struct{}

var errDiskGone = errors.New("disk gone")

var _ ledger.Ledger = brokenLedger{}

func (brokenLedger) Insert(ctx context.Context, inst *api.Instance) (*api.Instance, error) {
	return nil, api.LedgerError("insert", errDiskGone)
}

func (brokenLedger) InsertTrigger(ctx context.Context, inst *api.Instance, since time.Time) (*api.Instance, *api.Instance, error) {
	return nil, nil, api.LedgerError("insert trigger", errDiskGone)
}

func (brokenLedger) Get(ctx context.Context, id int64) (*api.Instance, error) {
	return nil, api.LedgerError("get", errDiskGone)
}

func (brokenLedger) FindByCorrelationID(ctx context.Context, correlationID string) (*api.Instance, error) {
	return nil, api.LedgerError("find by correlation id", errDiskGone)
}

func (brokenLedger) UpdateByID(ctx context.Context, id int64, fn ledger.MutateFunc) (*api.Instance, error) {
	return nil, api.LedgerError("update by id", errDiskGone)
}

func (brokenLedger) UpdateByCorrelationID(ctx context.Context, correlationID string, fn ledger.MutateFunc) (*api.Instance, error) {
	return nil, api.LedgerError("update by correlation id", errDiskGone)
}

func (brokenLedger) MostRecentClaimedSince(ctx context.Context, since time.Time) (*api.Instance, error) {
	return nil, api.LedgerError("most recent claimed", errDiskGone)
}

func (brokenLedger) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*api.Instance, error) {
	return nil, api.LedgerError("list", errDiskGone)
}

// testClock is a settable clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

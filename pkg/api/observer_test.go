package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

//
// Helpers
//

// testObserver is a simple Observer implementation used to verify fan-out behavior.
type testObserver struct {
	mu sync.Mutex

	transitions int
	failures    int
	armed       int
	skipped     int

	lastTransition struct {
		Inst   *Instance
		From   State
		Action Action
	}
	lastFailure struct {
		Inst   *Instance
		Action Action
		Err    error
	}
	lastArmed struct {
		Key      string
		Delay    time.Duration
		Replaced int
	}
}

func (o *testObserver) OnTransition(ctx context.Context, inst *Instance, from State, action Action) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions++
	o.lastTransition.Inst = inst
	o.lastTransition.From = from
	o.lastTransition.Action = action
}

func (o *testObserver) OnActionFailed(ctx context.Context, inst *Instance, action Action, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.failures++
	o.lastFailure.Inst = inst
	o.lastFailure.Action = action
	o.lastFailure.Err = err
}

func (o *testObserver) OnFollowUpArmed(ctx context.Context, key string, delay time.Duration, replaced int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.armed++
	o.lastArmed.Key = key
	o.lastArmed.Delay = delay
	o.lastArmed.Replaced = replaced
}

func (o *testObserver) OnFollowUpSkipped(ctx context.Context, key string, reason error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.skipped++
}

// recordingHandler is a minimal slog.Handler that just records log records.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	// Copy to avoid reuse issues.
	cpy := slog.Record{
		Time:    r.Time,
		Level:   r.Level,
		Message: r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		cpy.AddAttrs(a)
		return true
	})
	h.records = append(h.records, cpy)
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	return h
}

func attrsToMap(r slog.Record) map[string]any {
	m := make(map[string]any)
	r.Attrs(func(a slog.Attr) bool {
		m[a.Key] = a.Value.Any()
		return true
	})
	return m
}

func newTestInstance() *Instance {
	return &Instance{
		ID:            42,
		EventKind:     EventRing,
		TriggerKind:   TriggerSensor,
		CorrelationID: "1001",
		HandledBy:     "ana",
		State:         StateClaimed,
		CreatedAt:     time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC),
	}
}

//
// NoopObserver
//

func TestNoopObserver_DoesNotPanic(t *testing.T) {
	var o Observer = NoopObserver{}
	ctx := context.Background()

	o.OnTransition(ctx, newTestInstance(), StateInitiated, ActionClaim)
	o.OnActionFailed(ctx, nil, ActionDismiss, errors.New("boom"))
	o.OnFollowUpArmed(ctx, "1001", time.Minute, 0)
	o.OnFollowUpSkipped(ctx, "1001", ErrNotFound)
}

//
// CompositeObserver
//

func TestNewCompositeObserver_EmptyReturnsNoop(t *testing.T) {
	o := NewCompositeObserver()
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver, got %T", o)
	}

	o = NewCompositeObserver(nil, nil)
	if _, ok := o.(NoopObserver); !ok {
		t.Fatalf("expected NoopObserver for only-nil input, got %T", o)
	}
}

func TestNewCompositeObserver_SingleReturnsThatObserver(t *testing.T) {
	single := &testObserver{}
	o := NewCompositeObserver(nil, single)
	if o != single {
		t.Fatalf("expected the single non-nil observer to be returned as-is")
	}
}

func TestCompositeObserver_ForwardsAllEvents(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance()

	o1 := &testObserver{}
	o2 := &testObserver{}
	co, ok := NewCompositeObserver(o1, o2).(*CompositeObserver)
	if !ok {
		t.Fatalf("expected *CompositeObserver")
	}

	err := errors.New("send failed")
	co.OnTransition(ctx, inst, StateInitiated, ActionClaim)
	co.OnActionFailed(ctx, inst, ActionClaim, err)
	co.OnFollowUpArmed(ctx, "1001", 2*time.Minute, 1)
	co.OnFollowUpSkipped(ctx, "1001", ErrNotFound)

	for i, o := range []*testObserver{o1, o2} {
		if o.transitions != 1 || o.failures != 1 || o.armed != 1 || o.skipped != 1 {
			t.Fatalf("observer %d did not receive all calls: %+v", i+1, o)
		}
		if o.lastTransition.Inst != inst || o.lastTransition.From != StateInitiated || o.lastTransition.Action != ActionClaim {
			t.Fatalf("observer %d transition mismatch: %+v", i+1, o.lastTransition)
		}
		if o.lastFailure.Err != err || o.lastFailure.Action != ActionClaim {
			t.Fatalf("observer %d failure mismatch: %+v", i+1, o.lastFailure)
		}
		if o.lastArmed.Key != "1001" || o.lastArmed.Delay != 2*time.Minute || o.lastArmed.Replaced != 1 {
			t.Fatalf("observer %d armed mismatch: %+v", i+1, o.lastArmed)
		}
	}
}

//
// LoggingObserver
//

func TestNewLoggingObserver_NilLoggerUsesDefault(t *testing.T) {
	o := NewLoggingObserver(nil)
	lo, ok := o.(*LoggingObserver)
	if !ok {
		t.Fatalf("expected *LoggingObserver, got %T", o)
	}
	if lo.Logger == nil {
		t.Fatalf("expected non-nil Logger when created with nil")
	}
}

func TestLoggingObserver_OnTransition_EmitsInfoLog(t *testing.T) {
	ctx := context.Background()
	inst := newTestInstance()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnTransition(ctx, inst, StateInitiated, ActionClaim)

	if len(h.records) != 1 {
		t.Fatalf("expected 1 log record, got %d", len(h.records))
	}

	rec := h.records[0]
	if rec.Level != slog.LevelInfo {
		t.Fatalf("expected LevelInfo, got %v", rec.Level)
	}
	if rec.Message != "instance_transition" {
		t.Fatalf("expected message instance_transition, got %q", rec.Message)
	}

	attrs := attrsToMap(rec)
	if attrs["instance_id"] != int64(42) {
		t.Fatalf("expected instance_id=42, got %v", attrs["instance_id"])
	}
	if attrs["from"] != "INITIATED" || attrs["to"] != "CLAIMED" {
		t.Fatalf("unexpected from/to: %v -> %v", attrs["from"], attrs["to"])
	}
	if attrs["handled_by"] != "ana" {
		t.Fatalf("expected handled_by=ana, got %v", attrs["handled_by"])
	}
}

func TestLoggingObserver_CreationLogsNoneAsSource(t *testing.T) {
	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnTransition(context.Background(), newTestInstance(), StateNone, ActionClaim)

	if got := attrsToMap(h.records[0])["from"]; got != "NONE" {
		t.Fatalf("expected from=NONE, got %v", got)
	}
}

func TestLoggingObserver_OnActionFailed_LevelDependsOnError(t *testing.T) {
	ctx := context.Background()

	h := &recordingHandler{}
	o := NewLoggingObserver(slog.New(h))

	o.OnActionFailed(ctx, newTestInstance(), ActionDismiss, &TransitionError{From: StateClaimed, Action: ActionDismiss})
	o.OnActionFailed(ctx, nil, ActionTrigger, LedgerError("insert", errors.New("disk full")))

	if len(h.records) != 2 {
		t.Fatalf("expected 2 log records, got %d", len(h.records))
	}
	if h.records[0].Level != slog.LevelWarn {
		t.Fatalf("expected rejected transition at LevelWarn, got %v", h.records[0].Level)
	}
	if h.records[1].Level != slog.LevelError {
		t.Fatalf("expected ledger failure at LevelError, got %v", h.records[1].Level)
	}
	if _, ok := attrsToMap(h.records[1])["instance_id"]; ok {
		t.Fatalf("did not expect instance_id without an instance")
	}
}

//
// BasicMetrics
//

func TestBasicMetrics_CountersAndSnapshot(t *testing.T) {
	ctx := context.Background()
	m := &BasicMetrics{}

	inst := newTestInstance()
	inst.State = StateInitiated
	m.OnTransition(ctx, inst, StateNone, ActionTrigger)

	inst.State = StateClaimed
	m.OnTransition(ctx, inst, StateInitiated, ActionClaim)

	inst.State = StateSurveyed
	m.OnTransition(ctx, inst, StateClaimed, ActionFollowUp)

	inst.State = StateCompleted
	m.OnTransition(ctx, inst, StateSurveyed, ActionRecordOutcome)

	m.OnActionFailed(ctx, inst, ActionDismiss, ErrInvalidTransition)
	m.OnFollowUpArmed(ctx, "1001", time.Minute, 0)
	m.OnFollowUpArmed(ctx, "1001", time.Minute, 1)

	snap := m.Snapshot()
	want := BasicMetricsSnapshot{
		Created:           1,
		Claimed:           1,
		Surveyed:          1,
		Completed:         1,
		Failed:            1,
		FollowUpsArmed:    2,
		FollowUpsReplaced: 1,
	}
	if snap != want {
		t.Fatalf("unexpected snapshot:\n got  %+v\n want %+v", snap, want)
	}
}

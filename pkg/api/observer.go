package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay transitions.
type Observer interface {
	// OnTransition is called after a transition has been committed to the
	// ledger. from is StateNone for instances that were just created.
	OnTransition(ctx context.Context, inst *Instance, from State, action Action)

	// OnActionFailed is called when an action was rejected or could not be
	// completed. inst may be nil if the failure happened before the instance
	// was loaded.
	OnActionFailed(ctx context.Context, inst *Instance, action Action, err error)

	// OnFollowUpArmed is called after a follow-up survey timer was armed.
	// replaced is the number of pending timers it superseded for the same key.
	OnFollowUpArmed(ctx context.Context, correlationID string, delay time.Duration, replaced int)

	// OnFollowUpSkipped is called when a follow-up fired for an instance that
	// is missing or no longer CLAIMED.
	OnFollowUpSkipped(ctx context.Context, correlationID string, reason error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTransition(ctx context.Context, inst *Instance, from State, action Action) {}
func (NoopObserver) OnActionFailed(ctx context.Context, inst *Instance, action Action, err error) {
}
func (NoopObserver) OnFollowUpArmed(ctx context.Context, correlationID string, delay time.Duration, replaced int) {
}
func (NoopObserver) OnFollowUpSkipped(ctx context.Context, correlationID string, reason error) {}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTransition(ctx context.Context, inst *Instance, from State, action Action) {
	for _, o := range c.observers {
		o.OnTransition(ctx, inst, from, action)
	}
}

func (c *CompositeObserver) OnActionFailed(ctx context.Context, inst *Instance, action Action, err error) {
	for _, o := range c.observers {
		o.OnActionFailed(ctx, inst, action, err)
	}
}

func (c *CompositeObserver) OnFollowUpArmed(ctx context.Context, correlationID string, delay time.Duration, replaced int) {
	for _, o := range c.observers {
		o.OnFollowUpArmed(ctx, correlationID, delay, replaced)
	}
}

func (c *CompositeObserver) OnFollowUpSkipped(ctx context.Context, correlationID string, reason error) {
	for _, o := range c.observers {
		o.OnFollowUpSkipped(ctx, correlationID, reason)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs engine events using the
// provided slog.Logger. If logger is nil, slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTransition(ctx context.Context, inst *Instance, from State, action Action) {
	o.Logger.InfoContext(ctx, "instance_transition",
		slog.Int64("instance_id", inst.ID),
		slog.String("action", string(action)),
		slog.String("from", stateName(from)),
		slog.String("to", string(inst.State)),
		slog.String("trigger", string(inst.TriggerKind)),
		slog.String("correlation_id", inst.CorrelationID),
		slog.String("handled_by", inst.HandledBy),
	)
}

func (o *LoggingObserver) OnActionFailed(ctx context.Context, inst *Instance, action Action, err error) {
	level := slog.LevelError
	if IsBenign(err) {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("action", string(action)),
		slog.Any("error", err),
	}
	if inst != nil {
		attrs = append(attrs,
			slog.Int64("instance_id", inst.ID),
			slog.String("state", string(inst.State)),
		)
	}
	o.Logger.LogAttrs(ctx, level, "action_failed", attrs...)
}

func (o *LoggingObserver) OnFollowUpArmed(ctx context.Context, correlationID string, delay time.Duration, replaced int) {
	o.Logger.DebugContext(ctx, "follow_up_armed",
		slog.String("correlation_id", correlationID),
		slog.Duration("delay", delay),
		slog.Int("replaced", replaced),
	)
}

func (o *LoggingObserver) OnFollowUpSkipped(ctx context.Context, correlationID string, reason error) {
	o.Logger.InfoContext(ctx, "follow_up_skipped",
		slog.String("correlation_id", correlationID),
		slog.Any("reason", reason),
	)
}

func stateName(s State) string {
	if s == StateNone {
		return "NONE"
	}
	return string(s)
}

// IsBenign reports whether err is an expected, user-caused rejection rather
// than a failure of the system.
func IsBenign(err error) bool {
	return isAny(err, ErrNotFound, ErrInvalidTransition, ErrInvalidResult)
}

// BasicMetrics collects simple in-process counters. It implements Observer,
// and can be combined with LoggingObserver via NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	created   atomic.Int64
	claimed   atomic.Int64
	surveyed  atomic.Int64
	completed atomic.Int64
	dismissed atomic.Int64
	failed    atomic.Int64
	armed     atomic.Int64
	replaced  atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	Created   int64
	Claimed   int64
	Surveyed  int64
	Completed int64
	Dismissed int64
	Failed    int64

	FollowUpsArmed    int64
	FollowUpsReplaced int64
}

func (m *BasicMetrics) OnTransition(ctx context.Context, inst *Instance, from State, action Action) {
	if from == StateNone {
		m.created.Add(1)
	}
	switch inst.State {
	case StateClaimed:
		m.claimed.Add(1)
	case StateSurveyed:
		m.surveyed.Add(1)
	case StateCompleted:
		m.completed.Add(1)
	case StateDismissed:
		m.dismissed.Add(1)
	}
}

func (m *BasicMetrics) OnActionFailed(ctx context.Context, inst *Instance, action Action, err error) {
	m.failed.Add(1)
}

func (m *BasicMetrics) OnFollowUpArmed(ctx context.Context, correlationID string, delay time.Duration, replaced int) {
	m.armed.Add(1)
	m.replaced.Add(int64(replaced))
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	return BasicMetricsSnapshot{
		Created:           m.created.Load(),
		Claimed:           m.claimed.Load(),
		Surveyed:          m.surveyed.Load(),
		Completed:         m.completed.Load(),
		Dismissed:         m.dismissed.Load(),
		Failed:            m.failed.Load(),
		FollowUpsArmed:    m.armed.Load(),
		FollowUpsReplaced: m.replaced.Load(),
	}
}

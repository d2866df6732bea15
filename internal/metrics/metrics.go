// Package metrics exports engine events as Prometheus collectors.
package metrics

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

const namespace = "bellbot"

// Failure classes used as the "class" label.
const (
	ClassRejected  = "rejected"
	ClassLedger    = "ledger"
	ClassTransport = "transport"
	ClassOther     = "other"
)

// Observer is an api.Observer that counts engine events.
type Observer struct {
	api.NoopObserver

	transitions       *prometheus.CounterVec
	failures          *prometheus.CounterVec
	followUpsArmed    prometheus.Counter
	followUpsReplaced prometheus.Counter
	followUpsSkipped  prometheus.Counter
	surveyDelay       prometheus.Gauge
}

var _ api.Observer = (*Observer)(nil)

// NewObserver creates the collectors and registers them with reg. Collectors
// that are already registered are reused.
func NewObserver(reg prometheus.Registerer) (*Observer, error) {
	o := &Observer{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Workflow transitions committed, by action and resulting state.",
		}, []string{"action", "state"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "action_failures_total",
			Help:      "Actions that failed or were rejected, by action and failure class.",
		}, []string{"action", "class"}),
		followUpsArmed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_ups_armed_total",
			Help:      "Follow-up survey timers armed.",
		}),
		followUpsReplaced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_ups_replaced_total",
			Help:      "Pending follow-up timers cancelled by a newer claim.",
		}),
		followUpsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "follow_ups_skipped_total",
			Help:      "Follow-ups that fired for a missing or already advanced instance.",
		}),
		surveyDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "survey_delay_seconds",
			Help:      "Delay of the most recently armed follow-up survey.",
		}),
	}

	var err error
	if o.transitions, err = register(reg, o.transitions); err != nil {
		return nil, err
	}
	if o.failures, err = register(reg, o.failures); err != nil {
		return nil, err
	}
	if o.followUpsArmed, err = register(reg, o.followUpsArmed); err != nil {
		return nil, err
	}
	if o.followUpsReplaced, err = register(reg, o.followUpsReplaced); err != nil {
		return nil, err
	}
	if o.followUpsSkipped, err = register(reg, o.followUpsSkipped); err != nil {
		return nil, err
	}
	if o.surveyDelay, err = register(reg, o.surveyDelay); err != nil {
		return nil, err
	}
	return o, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (o *Observer) OnTransition(ctx context.Context, inst *api.Instance, from api.State, action api.Action) {
	o.transitions.WithLabelValues(string(action), string(inst.State)).Inc()
}

func (o *Observer) OnActionFailed(ctx context.Context, inst *api.Instance, action api.Action, err error) {
	o.failures.WithLabelValues(string(action), Classify(err)).Inc()
}

func (o *Observer) OnFollowUpArmed(ctx context.Context, correlationID string, delay time.Duration, replaced int) {
	o.followUpsArmed.Inc()
	o.followUpsReplaced.Add(float64(replaced))
	o.surveyDelay.Set(delay.Seconds())
}

func (o *Observer) OnFollowUpSkipped(ctx context.Context, correlationID string, reason error) {
	o.followUpsSkipped.Inc()
}

// Classify returns the failure class label for err.
func Classify(err error) string {
	switch {
	case api.IsBenign(err):
		return ClassRejected
	case errors.Is(err, api.ErrLedgerUnavailable):
		return ClassLedger
	case errors.Is(err, api.ErrTransportFailure):
		return ClassTransport
	default:
		return ClassOther
	}
}

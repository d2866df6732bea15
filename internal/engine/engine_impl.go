package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/ledger"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/report"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/scheduler"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

const (
	// DefaultSurveyDelay is how long after a claim the outcome survey is sent.
	DefaultSurveyDelay = 15 * time.Minute

	followUpTimeout = 30 * time.Second
)

// engineImpl drives instances through the workflow. Every lookup-then-write
// happens inside a single ledger transaction; follow-up timers are owned by
// the engine and call back into SendSurvey.
type engineImpl struct {
	ledger    ledger.Ledger
	messenger api.Messenger
	notifier  api.Notifier
	observer  api.Observer
	followUps *scheduler.Scheduler

	surveyDelay  time.Duration
	claimedTopic string
	loc          *time.Location
	clock        func() time.Time
	logger       *slog.Logger
}

// Ensure engineImpl implements api.Engine.
var _ api.Engine = (*engineImpl)(nil)

// Config describes how to construct an engine. Ledger and Messenger are
// required; every other field has a default.
type Config struct {
	Ledger    ledger.Ledger
	Messenger api.Messenger
	Notifier  api.Notifier
	Observer  api.Observer

	SurveyDelay  time.Duration
	ClaimedTopic string

	// Location decides calendar day boundaries. Defaults to time.Local.
	Location *time.Location
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// NewEngineWithConfig creates an Engine from cfg.
func NewEngineWithConfig(cfg Config) (api.Engine, error) {
	if cfg.Ledger == nil {
		return nil, errors.New("engine: ledger is required")
	}
	if cfg.Messenger == nil {
		return nil, errors.New("engine: messenger is required")
	}

	e := &engineImpl{
		ledger:       cfg.Ledger,
		messenger:    cfg.Messenger,
		notifier:     cfg.Notifier,
		observer:     cfg.Observer,
		surveyDelay:  cfg.SurveyDelay,
		claimedTopic: cfg.ClaimedTopic,
		loc:          cfg.Location,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
	}
	if e.notifier == nil {
		e.notifier = api.NoopNotifier{}
	}
	if e.observer == nil {
		e.observer = api.NoopObserver{}
	}
	if e.surveyDelay <= 0 {
		e.surveyDelay = DefaultSurveyDelay
	}
	if e.claimedTopic == "" {
		e.claimedTopic = api.DefaultClaimedTopic
	}
	if e.loc == nil {
		e.loc = time.Local
	}
	if e.clock == nil {
		e.clock = time.Now
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	e.followUps = scheduler.New(e.fireFollowUp)
	return e, nil
}

// NewInMemoryEngine returns an Engine over a fresh, non-durable ledger.
// cfg.Ledger is ignored.
func NewInMemoryEngine(cfg Config) (api.Engine, error) {
	cfg.Ledger = ledger.NewMemoryLedger(ledger.WithLocation(cfg.Location), ledger.WithLogger(cfg.Logger))
	return NewEngineWithConfig(cfg)
}

// NewSQLiteEngine returns an Engine whose ledger lives in db, which must use
// the "sqlite" driver. cfg.Ledger is ignored.
func NewSQLiteEngine(db *sql.DB, cfg Config, opts ...ledger.Option) (api.Engine, error) {
	opts = append([]ledger.Option{ledger.WithLocation(cfg.Location), ledger.WithLogger(cfg.Logger)}, opts...)
	l, err := ledger.NewSQLiteLedger(db, opts...)
	if err != nil {
		return nil, err
	}
	cfg.Ledger = l
	return NewEngineWithConfig(cfg)
}

// NewPostgresEngine returns an Engine whose ledger lives in db, which must
// use the "pgx" driver. cfg.Ledger is ignored.
func NewPostgresEngine(db *sql.DB, cfg Config, opts ...ledger.Option) (api.Engine, error) {
	opts = append([]ledger.Option{ledger.WithLocation(cfg.Location), ledger.WithLogger(cfg.Logger)}, opts...)
	l, err := ledger.NewPostgresLedger(db, opts...)
	if err != nil {
		return nil, err
	}
	cfg.Ledger = l
	return NewEngineWithConfig(cfg)
}

func (e *engineImpl) RingBell(ctx context.Context) (*api.Instance, error) {
	now := e.now()

	inst := &api.Instance{
		EventKind:   api.EventRing,
		TriggerKind: api.TriggerSensor,
		CreatedAt:   now,
	}
	if err := api.Apply(inst, api.ActionTrigger); err != nil {
		return nil, err
	}

	created, last, err := e.ledger.InsertTrigger(ctx, inst, api.DayOf(now, e.loc).Start)
	if err != nil {
		e.observer.OnActionFailed(ctx, nil, api.ActionTrigger, err)
		return nil, err
	}
	e.observer.OnTransition(ctx, created, api.StateNone, api.ActionTrigger)

	prompt := api.BellPrompt{InstanceID: created.ID}
	if last != nil {
		prompt.LastHandled = &api.LastHandled{By: last.HandledBy, At: last.CreatedAt}
	}

	// The correlation id is only written once the prompt exists.
	promptID, err := e.messenger.SendBellPrompt(ctx, prompt)
	if err != nil {
		err = api.TransportError("send bell prompt", err)
		e.observer.OnActionFailed(ctx, created, api.ActionTrigger, err)
		return created, err
	}

	updated, err := e.ledger.UpdateByID(ctx, created.ID, func(inst *api.Instance) error {
		inst.CorrelationID = promptID
		return nil
	})
	if err != nil {
		e.observer.OnActionFailed(ctx, created, api.ActionTrigger, err)
		return created, err
	}
	return updated, nil
}

func (e *engineImpl) Claim(ctx context.Context, correlationID string, user api.User) (*api.Instance, error) {
	var from api.State
	inst, err := e.ledger.UpdateByCorrelationID(ctx, correlationID, func(inst *api.Instance) error {
		from = inst.State
		if err := api.Apply(inst, api.ActionClaim); err != nil {
			return err
		}
		inst.HandledBy = user.Name
		return nil
	})
	if err != nil {
		e.observer.OnActionFailed(ctx, nil, api.ActionClaim, err)
		return nil, err
	}
	e.observer.OnTransition(ctx, inst, from, api.ActionClaim)

	err = e.afterClaim(ctx, inst, user)
	if markErr := e.messenger.MarkClaimed(ctx, correlationID, user); markErr != nil {
		err = errors.Join(err, api.TransportError("mark prompt claimed", markErr))
	}
	if err != nil {
		e.observer.OnActionFailed(ctx, inst, api.ActionClaim, err)
	}
	return inst, err
}

func (e *engineImpl) ClaimManual(ctx context.Context, user api.User) (*api.Instance, error) {
	now := e.now()

	// The confirmation message is the prompt replies are routed by, so it is
	// sent before the row exists.
	promptID, err := e.messenger.SendClaimConfirmation(ctx, user)
	if err != nil {
		err = api.TransportError("send claim confirmation", err)
		e.observer.OnActionFailed(ctx, nil, api.ActionClaim, err)
		return nil, err
	}

	inst := &api.Instance{
		EventKind:     api.EventRing,
		TriggerKind:   api.TriggerManual,
		CorrelationID: promptID,
		HandledBy:     user.Name,
		CreatedAt:     now,
	}
	if err := api.Apply(inst, api.ActionClaim); err != nil {
		return nil, err
	}

	created, err := e.ledger.Insert(ctx, inst)
	if err != nil {
		e.observer.OnActionFailed(ctx, nil, api.ActionClaim, err)
		return nil, err
	}
	e.observer.OnTransition(ctx, created, api.StateNone, api.ActionClaim)

	if err := e.afterClaim(ctx, created, user); err != nil {
		e.observer.OnActionFailed(ctx, created, api.ActionClaim, err)
		return created, err
	}
	return created, nil
}

// afterClaim arms the follow-up survey and announces the claimant.
func (e *engineImpl) afterClaim(ctx context.Context, inst *api.Instance, user api.User) error {
	replaced := e.followUps.Schedule(inst.CorrelationID, e.surveyDelay, api.FollowUp{
		CorrelationID: inst.CorrelationID,
		User:          user,
	})
	e.observer.OnFollowUpArmed(ctx, inst.CorrelationID, e.surveyDelay, replaced)

	if err := e.notifier.Publish(ctx, e.claimedTopic, []byte(user.Name)); err != nil {
		return api.TransportError("publish claim", err)
	}
	return nil
}

func (e *engineImpl) SendSurvey(ctx context.Context, f api.FollowUp) (*api.Instance, error) {
	var from api.State
	inst, err := e.ledger.UpdateByCorrelationID(ctx, f.CorrelationID, func(inst *api.Instance) error {
		from = inst.State
		return api.Apply(inst, api.ActionFollowUp)
	})
	switch {
	case errors.Is(err, api.ErrNotFound), errors.Is(err, api.ErrInvalidTransition):
		e.observer.OnFollowUpSkipped(ctx, f.CorrelationID, err)
		return nil, nil
	case err != nil:
		e.observer.OnActionFailed(ctx, nil, api.ActionFollowUp, err)
		return nil, err
	}
	e.observer.OnTransition(ctx, inst, from, api.ActionFollowUp)

	user := f.User
	if user.Name == "" {
		user.Name = inst.HandledBy
	}
	if _, err := e.messenger.SendSurvey(ctx, api.SurveyPrompt{CorrelationID: inst.CorrelationID, User: user}); err != nil {
		err = api.TransportError("send survey", err)
		e.observer.OnActionFailed(ctx, inst, api.ActionFollowUp, err)
		return inst, err
	}
	return inst, nil
}

func (e *engineImpl) Dismiss(ctx context.Context, id int64, user api.User) (*api.Instance, error) {
	var from api.State
	inst, err := e.ledger.UpdateByID(ctx, id, func(inst *api.Instance) error {
		from = inst.State
		return api.Apply(inst, api.ActionDismiss)
	})
	if err != nil {
		e.observer.OnActionFailed(ctx, nil, api.ActionDismiss, err)
		return nil, err
	}
	e.observer.OnTransition(ctx, inst, from, api.ActionDismiss)
	e.logger.DebugContext(ctx, "instance_dismissed",
		slog.Int64("instance_id", inst.ID),
		slog.String("dismissed_by", user.Name),
	)

	if inst.CorrelationID == "" {
		return inst, nil
	}
	if err := e.messenger.DeletePrompt(ctx, inst.CorrelationID); err != nil {
		err = api.TransportError("delete bell prompt", err)
		e.observer.OnActionFailed(ctx, inst, api.ActionDismiss, err)
		return inst, err
	}
	return inst, nil
}

func (e *engineImpl) RecordOutcome(ctx context.Context, answer api.SurveyAnswer) (*api.Instance, error) {
	result, err := api.ParseResult(answer.Code)
	if err != nil {
		e.observer.OnActionFailed(ctx, nil, api.ActionRecordOutcome, err)
		return nil, err
	}

	var from api.State
	inst, err := e.ledger.UpdateByCorrelationID(ctx, answer.CorrelationID, func(inst *api.Instance) error {
		from = inst.State
		if err := api.Apply(inst, api.ActionRecordOutcome); err != nil {
			return err
		}
		inst.Result = result
		return nil
	})
	if err != nil {
		e.observer.OnActionFailed(ctx, nil, api.ActionRecordOutcome, err)
		return nil, err
	}
	e.observer.OnTransition(ctx, inst, from, api.ActionRecordOutcome)

	e.followUps.CancelAll(inst.CorrelationID)

	if answer.PromptID == "" {
		return inst, nil
	}
	if err := e.messenger.DeletePrompt(ctx, answer.PromptID); err != nil {
		err = api.TransportError("delete survey prompt", err)
		e.observer.OnActionFailed(ctx, inst, api.ActionRecordOutcome, err)
		return inst, err
	}
	return inst, nil
}

func (e *engineImpl) Report(ctx context.Context) (*api.Report, error) {
	day := api.DayOf(e.now(), e.loc)
	rows, err := e.ledger.ListCreatedBetween(ctx, day.Start, day.End)
	if err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	return report.Aggregate(day, rows), nil
}

func (e *engineImpl) Close() error {
	e.followUps.Stop()
	return nil
}

// fireFollowUp runs on the timer goroutine, detached from any request.
func (e *engineImpl) fireFollowUp(key string, payload any) {
	f, ok := payload.(api.FollowUp)
	if !ok {
		f = api.FollowUp{CorrelationID: key}
	}

	ctx, cancel := context.WithTimeout(context.Background(), followUpTimeout)
	defer cancel()

	if _, err := e.SendSurvey(ctx, f); err != nil {
		e.logger.ErrorContext(ctx, "follow_up_failed",
			slog.String("correlation_id", key),
			slog.Any("error", err),
		)
	}
}

func (e *engineImpl) now() time.Time {
	return e.clock().In(e.loc).Truncate(time.Second)
}

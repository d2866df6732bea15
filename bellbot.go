package bellbot

import (
	"context"
	"database/sql"

	"github.com/leandrotoledo/rang-the-bell-bot/internal/engine"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/ledger"
	"github.com/leandrotoledo/rang-the-bell-bot/internal/report"
	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine               = api.Engine
	Instance             = api.Instance
	User                 = api.User
	State                = api.State
	Result               = api.Result
	Report               = api.Report
	TriggerKind          = api.TriggerKind
	TriggerCount         = api.TriggerCount
	HandlerCount         = api.HandlerCount
	ResultCount          = api.ResultCount
	LastCompletion       = api.LastCompletion
	FollowUp             = api.FollowUp
	SurveyAnswer         = api.SurveyAnswer
	Messenger            = api.Messenger
	BellPrompt           = api.BellPrompt
	LastHandled          = api.LastHandled
	SurveyPrompt         = api.SurveyPrompt
	Notifier             = api.Notifier
	Observer             = api.Observer
	LoggingObserver      = api.LoggingObserver
	BasicMetrics         = api.BasicMetrics
	BasicMetricsSnapshot = api.BasicMetricsSnapshot
	CompositeObserver    = api.CompositeObserver
	NoopObserver         = api.NoopObserver
	TransitionError      = api.TransitionError

	// Config configures an Engine.
	Config = engine.Config
)

// Re-export common observer helpers.

var (
	NewLoggingObserver   = api.NewLoggingObserver
	NewCompositeObserver = api.NewCompositeObserver
)

// Re-export state and result values for convenience.

const (
	StateInitiated = api.StateInitiated
	StateClaimed   = api.StateClaimed
	StateSurveyed  = api.StateSurveyed
	StateCompleted = api.StateCompleted
	StateDismissed = api.StateDismissed

	ResultNumber1 = api.ResultNumber1
	ResultNumber2 = api.ResultNumber2
	ResultBoth    = api.ResultBoth
	ResultNothing = api.ResultNothing

	TriggerSensor = api.TriggerSensor
	TriggerManual = api.TriggerManual
)

// Re-export error sentinels so callers can classify engine errors.

var (
	ErrNotFound          = api.ErrNotFound
	ErrInvalidTransition = api.ErrInvalidTransition
	ErrLedgerUnavailable = api.ErrLedgerUnavailable
	ErrTransportFailure  = api.ErrTransportFailure
	ErrInvalidResult     = api.ErrInvalidResult
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine over a non-durable ledger.
func NewInMemoryEngine(cfg Config) (Engine, error) {
	return engine.NewInMemoryEngine(cfg)
}

// NewSQLiteEngine returns an Engine whose ledger is stored in db, which must
// have been opened with the "sqlite" driver (see OpenSQLite).
func NewSQLiteEngine(db *sql.DB, cfg Config) (Engine, error) {
	return engine.NewSQLiteEngine(db, cfg)
}

// NewPostgresEngine returns an Engine whose ledger is stored in PostgreSQL.
func NewPostgresEngine(db *sql.DB, cfg Config) (Engine, error) {
	return engine.NewPostgresEngine(db, cfg)
}

// OpenSQLite opens a SQLite database tuned for the ledger.
func OpenSQLite(dsn string) (*sql.DB, error) {
	return ledger.OpenSQLite(dsn)
}

// OpenPostgres opens a pooled PostgreSQL connection.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	return ledger.OpenPostgres(databaseURL)
}

// Convenience helpers that just forward to the underlying Engine.

// RingBell delegates to eng.RingBell.
func RingBell(ctx context.Context, eng Engine) (*Instance, error) {
	return eng.RingBell(ctx)
}

// Claim delegates to eng.Claim.
func Claim(ctx context.Context, eng Engine, correlationID string, user User) (*Instance, error) {
	return eng.Claim(ctx, correlationID, user)
}

// RecordOutcome delegates to eng.RecordOutcome.
func RecordOutcome(ctx context.Context, eng Engine, answer SurveyAnswer) (*Instance, error) {
	return eng.RecordOutcome(ctx, answer)
}

// ParseResult parses an outcome code such as "1" or "both".
func ParseResult(code string) (Result, error) {
	return api.ParseResult(code)
}

// RenderReport formats a report as chat text.
func RenderReport(r *Report) string {
	return report.Render(r)
}

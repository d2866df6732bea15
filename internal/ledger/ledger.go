// Package ledger is the durable event ledger: one row per instance of the
// bell workflow, keyed by an auto-incrementing id and queryable by
// correlation id and creation time.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// MutateFunc edits a copy of a stored row inside the write transaction.
// Returning an error aborts the write and the error is passed through.
type MutateFunc func(inst *api.Instance) error

// Ledger stores workflow instances.
//
// Lookups that match no row return an error matching api.ErrNotFound. Storage
// and transaction failures return an error matching api.ErrLedgerUnavailable.
// All writes are committed before the call returns.
type Ledger interface {
	// Insert stores inst and returns the stored copy with its new id.
	Insert(ctx context.Context, inst *api.Instance) (*api.Instance, error)

	// InsertTrigger looks up the most recent claimed instance created at or
	// after since and stores inst, both inside one transaction. lastClaimed
	// is nil when there is none.
	InsertTrigger(ctx context.Context, inst *api.Instance, since time.Time) (created, lastClaimed *api.Instance, err error)

	Get(ctx context.Context, id int64) (*api.Instance, error)

	// FindByCorrelationID returns the newest instance carrying correlationID.
	FindByCorrelationID(ctx context.Context, correlationID string) (*api.Instance, error)

	UpdateByID(ctx context.Context, id int64, fn MutateFunc) (*api.Instance, error)
	UpdateByCorrelationID(ctx context.Context, correlationID string, fn MutateFunc) (*api.Instance, error)

	// MostRecentClaimedSince returns the newest instance with a claimant
	// created at or after since.
	MostRecentClaimedSince(ctx context.Context, since time.Time) (*api.Instance, error)

	// ListCreatedBetween returns the instances created in [from, to), ordered by id.
	ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*api.Instance, error)
}

// Option configures a ledger.
type Option func(*options)

type options struct {
	loc    *time.Location
	logger *slog.Logger
	debug  bool
}

func buildOptions(opts []Option) options {
	o := options{loc: time.Local, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLocation sets the time zone used for calendar day boundaries and for
// the times returned from the ledger.
func WithLocation(loc *time.Location) Option {
	return func(o *options) {
		if loc != nil {
			o.loc = loc
		}
	}
}

// WithLogger sets the logger used for statement tracing.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithDebug enables logging of every statement at debug level.
func WithDebug(enabled bool) Option {
	return func(o *options) {
		o.debug = enabled
	}
}

// prepareWrite validates a row about to be written and normalizes its
// timestamp to whole seconds.
func prepareWrite(inst *api.Instance) (*api.Instance, error) {
	next := inst.Clone()
	next.CreatedAt = next.CreatedAt.Truncate(time.Second)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// applyMutation runs fn on a copy of cur and returns the row to write. The id
// and creation time of a row never change.
func applyMutation(cur *api.Instance, fn MutateFunc) (*api.Instance, error) {
	next := cur.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	return prepareWrite(next)
}

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/leandrotoledo/rang-the-bell-bot/pkg/api"
)

// dialect captures what differs between the SQL backends. Queries are written
// with $N placeholders and rebound per dialect.
type dialect struct {
	name   string
	schema []string

	// rebind rewrites a $N query for the driver.
	rebind func(query string) string

	// lockStmt, when set, is executed first in every write transaction.
	lockStmt string

	// serialize guards write transactions with an in-process mutex.
	serialize bool

	encodeTime func(t time.Time) any
	decodeTime func(v any) (time.Time, error)
}

var pgPlaceholderRe = regexp.MustCompile(`\$\d+`)

func rebindToQuestion(query string) string {
	return pgPlaceholderRe.ReplaceAllString(query, "?")
}

func rebindPositional(query string) string {
	return query
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const selectColumns = `
	SELECT id, event_kind, trigger_kind, correlation_id, handled_by, state, result, created_at
	FROM instances`

// sqlLedger implements Ledger on database/sql for any dialect.
type sqlLedger struct {
	db   *sql.DB
	d    dialect
	opts options

	writeMu sync.Mutex
}

func newSQLLedger(db *sql.DB, d dialect, opts []Option) (*sqlLedger, error) {
	l := &sqlLedger{db: db, d: d, opts: buildOptions(opts)}
	if err := l.initSchema(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *sqlLedger) initSchema() error {
	for _, stmt := range l.d.schema {
		if _, err := l.db.Exec(stmt); err != nil {
			return api.LedgerError("init schema", err)
		}
	}
	return nil
}

func (l *sqlLedger) Insert(ctx context.Context, inst *api.Instance) (*api.Instance, error) {
	row, err := prepareWrite(inst)
	if err != nil {
		return nil, err
	}

	err = l.withTx(ctx, "insert", func(tx *sql.Tx) error {
		return l.insertRow(ctx, tx, row)
	})
	if err != nil {
		return nil, err
	}
	return l.out(row), nil
}

func (l *sqlLedger) InsertTrigger(ctx context.Context, inst *api.Instance, since time.Time) (*api.Instance, *api.Instance, error) {
	row, err := prepareWrite(inst)
	if err != nil {
		return nil, nil, err
	}

	var last *api.Instance
	err = l.withTx(ctx, "insert trigger", func(tx *sql.Tx) error {
		found, err := l.mostRecentClaimed(ctx, tx, since)
		switch {
		case errors.Is(err, api.ErrNotFound):
		case err != nil:
			return err
		default:
			last = found
		}
		return l.insertRow(ctx, tx, row)
	})
	if err != nil {
		return nil, nil, err
	}
	return l.out(row), last, nil
}

func (l *sqlLedger) Get(ctx context.Context, id int64) (*api.Instance, error) {
	inst, err := l.queryOne(ctx, l.db, "get", selectColumns+` WHERE id = $1`, id)
	if errors.Is(err, api.ErrNotFound) {
		return nil, fmt.Errorf("%w: id %d", api.ErrNotFound, id)
	}
	return inst, err
}

func (l *sqlLedger) FindByCorrelationID(ctx context.Context, correlationID string) (*api.Instance, error) {
	return l.findByCorrelation(ctx, l.db, correlationID)
}

func (l *sqlLedger) UpdateByID(ctx context.Context, id int64, fn MutateFunc) (*api.Instance, error) {
	var updated *api.Instance
	err := l.withTx(ctx, "update by id", func(tx *sql.Tx) error {
		cur, err := l.queryOne(ctx, tx, "update by id", selectColumns+` WHERE id = $1`, id)
		if err != nil {
			return err
		}
		updated, err = l.updateRow(ctx, tx, cur, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *sqlLedger) UpdateByCorrelationID(ctx context.Context, correlationID string, fn MutateFunc) (*api.Instance, error) {
	var updated *api.Instance
	err := l.withTx(ctx, "update by correlation id", func(tx *sql.Tx) error {
		cur, err := l.findByCorrelation(ctx, tx, correlationID)
		if err != nil {
			return err
		}
		updated, err = l.updateRow(ctx, tx, cur, fn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (l *sqlLedger) MostRecentClaimedSince(ctx context.Context, since time.Time) (*api.Instance, error) {
	return l.mostRecentClaimed(ctx, l.db, since)
}

func (l *sqlLedger) ListCreatedBetween(ctx context.Context, from, to time.Time) ([]*api.Instance, error) {
	query := selectColumns + ` WHERE created_at >= $1 AND created_at < $2 ORDER BY id`
	return l.queryMany(ctx, l.db, "list", query, l.d.encodeTime(from), l.d.encodeTime(to))
}

func (l *sqlLedger) findByCorrelation(ctx context.Context, q querier, correlationID string) (*api.Instance, error) {
	query := selectColumns + ` WHERE correlation_id = $1 ORDER BY id DESC LIMIT 1`
	inst, err := l.queryOne(ctx, q, "find by correlation id", query, correlationID)
	if errors.Is(err, api.ErrNotFound) {
		return nil, fmt.Errorf("%w: correlation id %q", api.ErrNotFound, correlationID)
	}
	return inst, err
}

func (l *sqlLedger) mostRecentClaimed(ctx context.Context, q querier, since time.Time) (*api.Instance, error) {
	query := selectColumns + ` WHERE handled_by IS NOT NULL AND created_at >= $1 ORDER BY id DESC LIMIT 1`
	return l.queryOne(ctx, q, "most recent claimed", query, l.d.encodeTime(since))
}

func (l *sqlLedger) insertRow(ctx context.Context, tx *sql.Tx, row *api.Instance) error {
	if err := l.checkCorrelation(ctx, tx, row); err != nil {
		return err
	}

	query := l.d.rebind(`
		INSERT INTO instances (event_kind, trigger_kind, correlation_id, handled_by, state, result, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`)
	args := []any{
		string(row.EventKind),
		string(row.TriggerKind),
		nullString(row.CorrelationID),
		nullString(row.HandledBy),
		string(row.State),
		nullString(string(row.Result)),
		l.d.encodeTime(row.CreatedAt),
	}
	l.trace(ctx, query, args)

	if err := tx.QueryRowContext(ctx, query, args...).Scan(&row.ID); err != nil {
		return api.LedgerError("insert", err)
	}
	return nil
}

func (l *sqlLedger) updateRow(ctx context.Context, tx *sql.Tx, cur *api.Instance, fn MutateFunc) (*api.Instance, error) {
	next, err := applyMutation(cur, fn)
	if err != nil {
		return nil, err
	}
	if next.CorrelationID != cur.CorrelationID {
		if err := l.checkCorrelation(ctx, tx, next); err != nil {
			return nil, err
		}
	}

	query := l.d.rebind(`
		UPDATE instances
		SET correlation_id = $1,
		    handled_by     = $2,
		    state          = $3,
		    result         = $4
		WHERE id = $5`)
	args := []any{
		nullString(next.CorrelationID),
		nullString(next.HandledBy),
		string(next.State),
		nullString(string(next.Result)),
		next.ID,
	}
	l.trace(ctx, query, args)

	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, api.LedgerError("update", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, api.LedgerError("update", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: id %d", api.ErrNotFound, next.ID)
	}
	return l.out(next), nil
}

// checkCorrelation rejects a correlation id already used by another row
// created on the same calendar day as row.
func (l *sqlLedger) checkCorrelation(ctx context.Context, tx *sql.Tx, row *api.Instance) error {
	if row.CorrelationID == "" {
		return nil
	}
	day := api.DayOf(row.CreatedAt, l.opts.loc)
	query := l.d.rebind(`
		SELECT COUNT(*) FROM instances
		WHERE correlation_id = $1 AND id != $2 AND created_at >= $3 AND created_at < $4`)
	args := []any{row.CorrelationID, row.ID, l.d.encodeTime(day.Start), l.d.encodeTime(day.End)}
	l.trace(ctx, query, args)

	var n int
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return api.LedgerError("check correlation id", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %q", api.ErrDuplicateCorrelation, row.CorrelationID)
	}
	return nil
}

// withTx runs fn in a write transaction. Errors returned by fn are passed
// through unchanged; begin and commit failures are ledger errors.
func (l *sqlLedger) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	if l.d.serialize {
		l.writeMu.Lock()
		defer l.writeMu.Unlock()
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return api.LedgerError(op, err)
	}
	if l.d.lockStmt != "" {
		l.trace(ctx, l.d.lockStmt, nil)
		if _, err := tx.ExecContext(ctx, l.d.lockStmt); err != nil {
			_ = tx.Rollback()
			return api.LedgerError(op, err)
		}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return api.LedgerError(op, err)
	}
	return nil
}

func (l *sqlLedger) queryOne(ctx context.Context, q querier, op, query string, args ...any) (*api.Instance, error) {
	query = l.d.rebind(query)
	l.trace(ctx, query, args)

	inst, err := l.scan(q.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, api.ErrNotFound
		}
		return nil, api.LedgerError(op, err)
	}
	return inst, nil
}

func (l *sqlLedger) queryMany(ctx context.Context, q querier, op, query string, args ...any) ([]*api.Instance, error) {
	query = l.d.rebind(query)
	l.trace(ctx, query, args)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, api.LedgerError(op, err)
	}
	defer rows.Close()

	var result []*api.Instance
	for rows.Next() {
		inst, err := l.scan(rows)
		if err != nil {
			return nil, api.LedgerError(op, err)
		}
		result = append(result, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, api.LedgerError(op, err)
	}
	return result, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func (l *sqlLedger) scan(s scanner) (*api.Instance, error) {
	var (
		inst                          api.Instance
		eventKind, triggerKind, state string
		correlationID, handledBy, res sql.NullString
		createdAt                     any
	)
	if err := s.Scan(&inst.ID, &eventKind, &triggerKind, &correlationID, &handledBy, &state, &res, &createdAt); err != nil {
		return nil, err
	}

	t, err := l.d.decodeTime(createdAt)
	if err != nil {
		return nil, err
	}

	inst.EventKind = api.EventKind(eventKind)
	inst.TriggerKind = api.TriggerKind(triggerKind)
	inst.CorrelationID = correlationID.String
	inst.HandledBy = handledBy.String
	inst.State = api.State(state)
	inst.Result = api.Result(res.String)
	inst.CreatedAt = t.In(l.opts.loc)
	return &inst, nil
}

func (l *sqlLedger) out(row *api.Instance) *api.Instance {
	c := row.Clone()
	c.CreatedAt = c.CreatedAt.In(l.opts.loc)
	return c
}

func (l *sqlLedger) trace(ctx context.Context, query string, args []any) {
	if !l.opts.debug {
		return
	}
	l.opts.logger.DebugContext(ctx, "ledger_query",
		slog.String("dialect", l.d.name),
		slog.String("query", strings.Join(strings.Fields(query), " ")),
		slog.Any("args", args),
	)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

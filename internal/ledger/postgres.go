package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// ledgerLockKey is the advisory lock taken by every write transaction so that
// lookup-then-write sequences from several processes serialize.
const ledgerLockKey = 0x62656c6c

// PostgresLedger is a Ledger backed by PostgreSQL through pgx's database/sql
// driver.
type PostgresLedger struct {
	*sqlLedger
}

// Ensure PostgresLedger implements Ledger.
var _ Ledger = (*PostgresLedger)(nil)

var postgresDialect = dialect{
	name: "postgres",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id BIGSERIAL PRIMARY KEY,
			event_kind TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			correlation_id TEXT,
			handled_by TEXT,
			state TEXT NOT NULL,
			result TEXT,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_correlation_id ON instances (correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_created_at ON instances (created_at)`,
	},
	rebind:     rebindPositional,
	lockStmt:   fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", ledgerLockKey),
	encodeTime: func(t time.Time) any { return t.UTC() },
	decodeTime: decodePostgresTime,
}

// NewPostgresLedger initializes the schema in db and returns a PostgresLedger.
// db must use the "pgx" driver; see OpenPostgres.
func NewPostgresLedger(db *sql.DB, opts ...Option) (*PostgresLedger, error) {
	l, err := newSQLLedger(db, postgresDialect, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresLedger{sqlLedger: l}, nil
}

// OpenPostgres opens a PostgreSQL connection pool.
func OpenPostgres(databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	return db, nil
}

func decodePostgresTime(v any) (time.Time, error) {
	t, ok := v.(time.Time)
	if !ok {
		return time.Time{}, fmt.Errorf("unexpected created_at type %T", v)
	}
	return t, nil
}

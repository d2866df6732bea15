package ledger

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteLedger is a Ledger backed by SQLite through modernc.org/sqlite.
//
// SQLite allows a single writer, so write transactions are serialized
// in-process. Timestamps are stored as unix seconds.
type SQLiteLedger struct {
	*sqlLedger
}

// Ensure SQLiteLedger implements Ledger.
var _ Ledger = (*SQLiteLedger)(nil)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS instances (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			event_kind TEXT NOT NULL,
			trigger_kind TEXT NOT NULL,
			correlation_id TEXT,
			handled_by TEXT,
			state TEXT NOT NULL,
			result TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_correlation_id ON instances (correlation_id)`,
		`CREATE INDEX IF NOT EXISTS idx_instances_created_at ON instances (created_at)`,
	},
	rebind:     rebindToQuestion,
	serialize:  true,
	encodeTime: func(t time.Time) any { return t.Unix() },
	decodeTime: decodeSQLiteTime,
}

// NewSQLiteLedger initializes the schema in db and returns a SQLiteLedger.
// db must use the "sqlite" driver; see OpenSQLite.
func NewSQLiteLedger(db *sql.DB, opts ...Option) (*SQLiteLedger, error) {
	l, err := newSQLLedger(db, sqliteDialect, opts)
	if err != nil {
		return nil, err
	}
	return &SQLiteLedger{sqlLedger: l}, nil
}

// OpenSQLite opens a SQLite database and applies the connection pragmas the
// ledger relies on. An in-memory dsn keeps a single connection so that every
// query sees the same database.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	if isMemoryDSN(dsn) {
		db.SetMaxOpenConns(1)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set pragma %s: %w", p, err)
		}
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite: %w", err)
	}

	return db, nil
}

func isMemoryDSN(dsn string) bool {
	return dsn == "" || strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

func decodeSQLiteTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0), nil
	case time.Time:
		return t, nil
	case string:
		return time.Parse(time.RFC3339, t)
	default:
		return time.Time{}, fmt.Errorf("unexpected created_at type %T", v)
	}
}

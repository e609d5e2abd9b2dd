package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// sqliteTimeFormat is fixed-width so stored timestamps compare correctly
// as text.
const sqliteTimeFormat = "2006-01-02T15:04:05.000000000Z"

var sqliteDialect = dialect{
	name: "sqlite",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			event_id TEXT PRIMARY KEY,
			processed BOOLEAN NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			expires_at TIMESTAMP NOT NULL
		)`,
	createIndex: `CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s(expires_at)`,
	timeValue: func(t time.Time) any {
		return t.UTC().Format(sqliteTimeFormat)
	},
}

// SQLiteStore persists processed marks to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	*sqlStore
}

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at path and ensures
// the state table exists. Use ":memory:" for an ephemeral database.
func NewSQLiteStore(ctx context.Context, path string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// Each connection to :memory: is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent read performance
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	s, err := newSQLStore(ctx, db, sqliteDialect, true, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: s}, nil
}

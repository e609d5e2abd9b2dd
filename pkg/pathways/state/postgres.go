package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

var postgresDialect = dialect{
	name: "postgres",
	createTable: `
		CREATE TABLE IF NOT EXISTS %s (
			event_id TEXT PRIMARY KEY,
			processed BOOLEAN NOT NULL,
			created_at TIMESTAMPTZ DEFAULT NOW(),
			expires_at TIMESTAMPTZ NOT NULL
		)`,
	createIndex: `CREATE INDEX IF NOT EXISTS idx_%s_expires_at ON %s (expires_at)`,
	placeholder: dollarPlaceholder,
	timeValue: func(t time.Time) any {
		return t.UTC()
	},
}

// PostgresStore persists processed marks to PostgreSQL so several
// processes can share one confirmation window.
type PostgresStore struct {
	*sqlStore
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// OpenPostgres connects to the database at databaseURL, configures the
// connection pool and ensures the state table exists.
func OpenPostgres(ctx context.Context, databaseURL string, opts ...Option) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s, err := newSQLStore(ctx, db, postgresDialect, true, opts)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}

// NewPostgresStore wraps an existing connection pool. The caller keeps
// ownership of db; Close does not close it.
func NewPostgresStore(ctx context.Context, db *sql.DB, opts ...Option) (*PostgresStore, error) {
	s, err := newSQLStore(ctx, db, postgresDialect, false, opts)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{sqlStore: s}, nil
}

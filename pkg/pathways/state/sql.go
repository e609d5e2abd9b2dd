package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// dialect captures the differences between the SQL backends.
type dialect struct {
	name        string
	createTable string // %s is the table name
	createIndex string // %s is the table name, twice
	placeholder func(n int) string
	timeValue   func(t time.Time) any
}

// sqlStore implements Store on top of database/sql.
//
// Layout:
//
//	event_id   TEXT PRIMARY KEY
//	processed  BOOLEAN NOT NULL
//	created_at TIMESTAMP DEFAULT now
//	expires_at TIMESTAMP NOT NULL   (indexed)
//
// Every IsProcessed call first deletes rows whose expires_at has passed.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	opts    options
	ownsDB  bool

	mu     sync.RWMutex
	closed bool

	queryCleanup string
	querySelect  string
	queryUpsert  string
}

func newSQLStore(ctx context.Context, db *sql.DB, d dialect, ownsDB bool, opts []Option) (*sqlStore, error) {
	o := applyOptions(opts)
	if err := validateTable(o.table); err != nil {
		return nil, fmt.Errorf("%w: %q", err, o.table)
	}

	s := &sqlStore{
		db:      db,
		dialect: d,
		opts:    o,
		ownsDB:  ownsDB,
	}
	s.queryCleanup = s.rebind(fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at < ?`, o.table))
	s.querySelect = s.rebind(fmt.Sprintf(
		`SELECT processed FROM %s WHERE event_id = ? AND expires_at >= ?`, o.table))
	s.queryUpsert = s.rebind(fmt.Sprintf(`
		INSERT INTO %s (event_id, processed, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (event_id) DO UPDATE SET
			processed = excluded.processed,
			expires_at = excluded.expires_at`, o.table))

	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *sqlStore) ensureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createTable, s.opts.table)); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(s.dialect.createIndex, s.opts.table, s.opts.table)); err != nil {
		return fmt.Errorf("create index: %w", err)
	}
	return nil
}

// rebind rewrites ? placeholders into the dialect's form.
func (s *sqlStore) rebind(query string) string {
	if s.dialect.placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.dialect.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// IsProcessed implements Store.
func (s *sqlStore) IsProcessed(ctx context.Context, eventID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false, ErrStoreClosed
	}

	now := s.dialect.timeValue(s.opts.now())
	if _, err := s.db.ExecContext(ctx, s.queryCleanup, now); err != nil {
		return false, fmt.Errorf("delete expired state: %w", err)
	}

	var processed bool
	err := s.db.QueryRowContext(ctx, s.querySelect, eventID, now).Scan(&processed)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load state: %w", err)
	}
	return processed, nil
}

// SetProcessed implements Store.
func (s *sqlStore) SetProcessed(ctx context.Context, eventID string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrStoreClosed
	}

	expires := s.dialect.timeValue(s.opts.now().Add(s.opts.ttl))
	if _, err := s.db.ExecContext(ctx, s.queryUpsert, eventID, true, expires); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Close implements Store. A database handed in by the caller is left open.
func (s *sqlStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if !s.ownsDB {
		return nil
	}
	return s.db.Close()
}

func dollarPlaceholder(n int) string {
	return "$" + strconv.Itoa(n)
}

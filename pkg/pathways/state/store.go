// Package state records which events have been processed.
//
// The dispatch engine marks an event processed once its handler finishes
// (or exhausts its retries); the write path polls the same store to
// confirm that an event it sent was picked up. Entries expire after a
// TTL, so the store is an idempotency window rather than a permanent log.
//
// Three implementations share the Store contract:
//
//   - MemoryStore: in-process map, the default.
//   - SQLiteStore: single-process persistence via modernc.org/sqlite.
//   - PostgresStore: shared persistence via github.com/lib/pq.
package state

import (
	"context"
	"errors"
	"regexp"
	"time"
)

// Store records and reports processed event identifiers.
// Implementations must be safe for concurrent use.
type Store interface {
	// IsProcessed reports whether eventID was marked processed and has
	// not yet expired.
	IsProcessed(ctx context.Context, eventID string) (bool, error)

	// SetProcessed marks eventID processed. Marking an already processed
	// event refreshes its expiry.
	SetProcessed(ctx context.Context, eventID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// DefaultTTL is how long a processed mark is kept.
const DefaultTTL = 5 * time.Minute

// DefaultTable is the table used by the SQL stores.
const DefaultTable = "pathway_state"

// Sentinel errors for state operations.
var (
	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("state store closed")

	// ErrInvalidTable indicates a table name that is not a plain identifier.
	ErrInvalidTable = errors.New("invalid table name")

	// ErrEmptyEventID indicates an empty event identifier.
	ErrEmptyEventID = errors.New("event id is required")
)

// Option configures a store.
type Option func(*options)

type options struct {
	ttl   time.Duration
	table string
	now   func() time.Time
}

func defaultOptions() options {
	return options{
		ttl:   DefaultTTL,
		table: DefaultTable,
		now:   time.Now,
	}
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithTTL sets how long processed marks are kept.
// Non-positive values keep DefaultTTL.
func WithTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.ttl = d
		}
	}
}

// WithTable sets the table name for SQL stores.
func WithTable(name string) Option {
	return func(o *options) {
		o.table = name
	}
}

// WithClock overrides the time source. Intended for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validateTable(name string) error {
	if !identifierPattern.MatchString(name) {
		return ErrInvalidTable
	}
	return nil
}

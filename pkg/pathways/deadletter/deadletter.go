// Package deadletter holds events whose handler exhausted its retries so
// they can be inspected and redriven later.
//
// An engine configured with a Queue adds an Entry whenever a dispatch
// gives up. Engine.Redrive drains ready entries and processes them again;
// an event that keeps failing is parked once it has been redriven
// MaxRedrives times, and stays parked until Recover is called.
package deadletter

import (
	"context"
	"errors"
	"time"
)

// Errors returned by queues.
var (
	// ErrQueueFull indicates the queue reached its size limit.
	ErrQueueFull = errors.New("dead letter queue is full")

	// ErrNotFound indicates no entry exists for the event id.
	ErrNotFound = errors.New("event not found in dead letter queue")

	// ErrEmptyEventID indicates an entry without an event id.
	ErrEmptyEventID = errors.New("event id cannot be empty")
)

// Entry is one failed event.
type Entry struct {
	Key       string
	EventID   string
	FlowType  string
	EventType string
	Metadata  map[string]any
	Payload   any
	ValidAt   time.Time

	// Error is the last handler error.
	Error string
	// Attempts is the number of handler invocations of the last dispatch.
	Attempts int
	FailedAt time.Time

	// Redrives counts how often the entry was drained for reprocessing.
	Redrives int
}

// Parked is an entry that will not be drained again until recovered.
type Parked struct {
	Entry
	Reason   string
	ParkedAt time.Time
}

// Queue stores failed events.
type Queue interface {
	// Add stores a failed event. Adding an id that is already queued
	// replaces the earlier entry.
	Add(ctx context.Context, e Entry) error

	// Drain removes and returns up to limit entries, oldest first.
	Drain(ctx context.Context, limit int) ([]Entry, error)

	// Acknowledge forgets a drained event after it was reprocessed.
	Acknowledge(ctx context.Context, eventID string) error

	// Len returns the number of queued (not parked) entries.
	Len(ctx context.Context) (int, error)
}

package pathways

import (
	"context"
	"errors"
	"fmt"
)

// ErrNoDeadLetter is returned by Redrive on an engine without WithDeadLetter.
var ErrNoDeadLetter = errors.New("no dead letter queue configured")

// RedriveResult counts the outcome of one Redrive call.
type RedriveResult struct {
	Drained   int
	Succeeded int
	Failed    int
}

// Redrive drains up to limit dead-lettered events (all when limit <= 0)
// and processes each again. An event that succeeds is acknowledged. One
// that exhausts its retries again goes back to the queue through the
// normal dispatch path. Any other failure, such as a cancelled ctx or a
// pathway that is no longer registered, re-adds the drained entry
// unchanged.
func (e *Engine) Redrive(ctx context.Context, limit int) (RedriveResult, error) {
	q := e.cfg.deadLetter
	if q == nil {
		return RedriveResult{}, ErrNoDeadLetter
	}

	entries, err := q.Drain(ctx, limit)
	if err != nil {
		return RedriveResult{}, fmt.Errorf("drain dead letters: %w", err)
	}

	res := RedriveResult{Drained: len(entries)}
	var errs []error
	for _, entry := range entries {
		evt := Event{
			ID:        entry.EventID,
			FlowType:  entry.FlowType,
			EventType: entry.EventType,
			Metadata:  entry.Metadata,
			Payload:   entry.Payload,
			ValidAt:   entry.ValidAt,
		}

		perr := e.Process(ctx, Key(entry.Key), evt)
		if perr == nil {
			res.Succeeded++
			if err := q.Acknowledge(ctx, entry.EventID); err != nil {
				errs = append(errs, fmt.Errorf("acknowledge %s: %w", entry.EventID, err))
			}
			continue
		}

		res.Failed++
		var herr *HandlerError
		if !errors.Is(perr, context.Canceled) && !errors.Is(perr, context.DeadlineExceeded) &&
			errors.As(perr, &herr) {
			continue
		}
		if err := q.Add(context.WithoutCancel(ctx), entry); err != nil {
			errs = append(errs, fmt.Errorf("requeue %s: %w", entry.EventID, err))
		}
	}
	return res, errors.Join(errs...)
}

package pathways

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/pathways/pkg/pathways/deadletter"
	"github.com/randalmurphal/pathways/pkg/pathways/observability"
	"github.com/randalmurphal/pathways/pkg/pathways/retry"
)

// Process dispatches an inbound event to the pathway registered for key.
//
// The payload is validated against the pathway schema first; a mismatch
// returns a *ValidationError with no handler call, no lifecycle emission
// and no processed mark. The audit handler, if any, runs next and its
// error aborts the dispatch. Without a bound handler the event is emitted
// on before and after and marked processed. With one, before is emitted,
// the handler runs under the pathway retry policy, and after is emitted on
// success. Each failed attempt is emitted on the pathway and engine-wide
// error channels. When retries run out the event is marked processed
// (see WithMarkProcessedOnExhaustedRetries) and the last *HandlerError is
// returned.
func (e *Engine) Process(ctx context.Context, key Key, evt Event) (err error) {
	def, ok := e.defs.Get(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPathwayNotFound, key)
	}

	if def.Schema != nil {
		if verr := def.Schema.Validate(evt.Payload); verr != nil {
			return &ValidationError{Key: key, Index: -1, Err: verr}
		}
	}

	ctx, span := e.cfg.spans.StartProcessSpan(ctx, string(key), evt.ID)
	start := time.Now()
	defer func() {
		e.cfg.metrics.RecordDispatch(ctx, string(key), time.Since(start), err)
		e.cfg.spans.EndSpanWithError(span, err)
	}()

	if e.cfg.audit != nil {
		if err := e.cfg.audit(ctx, key, evt); err != nil {
			return err
		}
	}

	observability.LogDispatchStart(e.cfg.logger, string(key), evt.ID)

	handler, bound := e.handlers.Get(key)
	if !bound {
		e.bus.emit(key, PhaseBefore, evt)
		e.bus.emit(key, PhaseAfter, evt)
		return e.markProcessed(ctx, key, evt.ID)
	}

	e.bus.emit(key, PhaseBefore, evt)

	var lastErr *HandlerError
	result := retry.Do(ctx, def.Retry,
		func(ctx context.Context, attempt int) error {
			return e.invoke(e.attemptContext(ctx, key, evt.ID, attempt+1), key, handler, evt)
		},
		func(attempt int, herr error) {
			lastErr = &HandlerError{Key: key, EventID: evt.ID, Attempt: attempt + 1, Err: herr}
			e.cfg.metrics.RecordAttempt(ctx, string(key), herr)
			e.cfg.spans.AddSpanEvent(ctx, "attempt_failed",
				attribute.Int("attempt", attempt+1),
				attribute.String("error", herr.Error()),
			)
			e.bus.emitError(ErrorEvent{Key: key, Event: evt, Err: lastErr, Attempt: attempt + 1})
			if attempt < def.Retry.Attempts()-1 {
				observability.LogAttemptFailed(e.cfg.logger, string(key), evt.ID, attempt+1, herr, def.Retry.Backoff(attempt+1))
			}
		},
	)

	if result.Err == nil {
		e.cfg.metrics.RecordAttempt(ctx, string(key), nil)
		e.bus.emit(key, PhaseAfter, evt)
		observability.LogDispatchComplete(e.cfg.logger, string(key), evt.ID, result.Attempts,
			float64(result.Duration.Microseconds())/1000)
		return e.markProcessed(ctx, key, evt.ID)
	}

	final := error(lastErr)
	if !result.Exhausted {
		// Cancelled during a backoff sleep.
		final = errors.Join(ctx.Err(), lastErr)
	}

	observability.LogRetriesExhausted(e.cfg.logger, string(key), evt.ID, result.Attempts, final)
	if result.Exhausted {
		e.deadLetter(context.WithoutCancel(ctx), key, evt, lastErr, result.Attempts)
	}
	if e.cfg.markExhausted {
		// The caller's context may be why the loop stopped; the mark must
		// still land.
		if merr := e.markProcessed(context.WithoutCancel(ctx), key, evt.ID); merr != nil {
			return errors.Join(final, merr)
		}
	}
	return final
}

// deadLetter queues an exhausted event when a queue is configured.
func (e *Engine) deadLetter(ctx context.Context, key Key, evt Event, herr *HandlerError, attempts int) {
	if e.cfg.deadLetter == nil {
		return
	}
	entry := deadletter.Entry{
		Key:       string(key),
		EventID:   evt.ID,
		FlowType:  evt.FlowType,
		EventType: evt.EventType,
		Metadata:  evt.Metadata.Clone(),
		Payload:   evt.Payload,
		ValidAt:   evt.ValidAt,
		Attempts:  attempts,
		FailedAt:  time.Now(),
	}
	if herr != nil {
		entry.Error = herr.Err.Error()
	}
	if err := e.cfg.deadLetter.Add(ctx, entry); err != nil {
		observability.LogDeadLetterError(e.cfg.logger, string(key), evt.ID, err)
	}
}

// invoke runs the handler once, converting a panic into a *PanicError.
func (e *Engine) invoke(ctx context.Context, key Key, h Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Key: key, Value: r, Stack: string(debug.Stack())}
		}
	}()
	return h(ctx, evt)
}

func (e *Engine) markProcessed(ctx context.Context, key Key, eventID string) error {
	if eventID == "" {
		return nil
	}
	if err := e.cfg.store.SetProcessed(ctx, eventID); err != nil {
		observability.LogStateError(e.cfg.logger, string(key), eventID, err)
		return fmt.Errorf("mark event %s processed: %w", eventID, err)
	}
	return nil
}

// Package observability provides structured logging, metrics and tracing
// for the pathways engine.
//
// Logging uses log/slog; metrics and tracing use OpenTelemetry and pick up
// the globally registered providers. Every feature has a no-op form, so
// the engine runs unchanged when observability is disabled.
package observability

import (
	"log/slog"
	"time"
)

// EnrichLogger adds pathway context to a logger.
// Returns a new logger with pathway, event_id and attempt fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "orders/placed", "evt-1", 2)
//	enriched.Info("retrying") // includes pathway, event_id, attempt
func EnrichLogger(logger *slog.Logger, key, eventID string, attempt int) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
	)
}

// LogDispatchStart logs the start of an inbound dispatch.
func LogDispatchStart(logger *slog.Logger, key, eventID string) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch starting",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
	)
}

// LogDispatchComplete logs a successful dispatch.
func LogDispatchComplete(logger *slog.Logger, key, eventID string, attempts int, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Debug("dispatch completed",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogAttemptFailed logs a failed handler attempt that will be retried.
func LogAttemptFailed(logger *slog.Logger, key, eventID string, attempt int, err error, backoff time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("handler attempt failed",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
		slog.Duration("backoff", backoff),
	)
}

// LogRetriesExhausted logs a dispatch that gave up.
func LogRetriesExhausted(logger *slog.Logger, key, eventID string, attempts int, err error) {
	if logger == nil {
		return
	}
	logger.Error("handler retries exhausted",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.Int("attempts", attempts),
		slog.String("error", err.Error()),
	)
}

// LogStateError logs a failure to record processing state (non-fatal).
func LogStateError(logger *slog.Logger, key, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("state update failed",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogWriteComplete logs an outbound write accepted by the transport.
func LogWriteComplete(logger *slog.Logger, key string, eventIDs []string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("write completed",
		slog.String("pathway", key),
		slog.Any("event_ids", eventIDs),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogWriteError logs an outbound write failure.
func LogWriteError(logger *slog.Logger, key string, err error) {
	if logger == nil {
		return
	}
	logger.Error("write failed",
		slog.String("pathway", key),
		slog.String("error", err.Error()),
	)
}

// LogConfirmationTimeout logs an event that was never confirmed.
func LogConfirmationTimeout(logger *slog.Logger, key, eventID string, timeout time.Duration) {
	if logger == nil {
		return
	}
	logger.Warn("confirmation timed out",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.Duration("timeout", timeout),
	)
}

// LogResolverError logs a session user resolver failure. The write
// continues without audit metadata.
func LogResolverError(logger *slog.Logger, key, sessionID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("session user resolver failed",
		slog.String("pathway", key),
		slog.String("session_id", sessionID),
		slog.String("error", err.Error()),
	)
}

// LogDeadLetterError logs a failure to queue an exhausted event.
func LogDeadLetterError(logger *slog.Logger, key, eventID string, err error) {
	if logger == nil {
		return
	}
	logger.Error("dead letter enqueue failed",
		slog.String("pathway", key),
		slog.String("event_id", eventID),
		slog.String("error", err.Error()),
	)
}

// LogListenerPanic logs a recovered panic from a lifecycle listener.
func LogListenerPanic(logger *slog.Logger, key, phase string, recovered any) {
	if logger == nil {
		return
	}
	logger.Error("lifecycle listener panicked",
		slog.String("pathway", key),
		slog.String("phase", phase),
		slog.Any("panic", recovered),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}

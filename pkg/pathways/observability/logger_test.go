package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// captureLogger returns a debug-level JSON logger and its output buffer.
func captureLogger() (*slog.Logger, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	h := slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(h), buf
}

// records decodes every JSON line written to buf.
func records(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	for _, line := range bytes.Split(buf.Bytes(), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func lastRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	all := records(t, buf)
	require.NotEmpty(t, all)
	return all[len(all)-1]
}

func TestEnrichLogger(t *testing.T) {
	t.Run("adds pathway, event_id and attempt", func(t *testing.T) {
		logger, buf := captureLogger()

		enriched := EnrichLogger(logger, "orders/placed", "evt-1", 2)
		enriched.Info("test message")

		record := lastRecord(t, buf)
		assert.Equal(t, "orders/placed", record["pathway"])
		assert.Equal(t, "evt-1", record["event_id"])
		assert.Equal(t, float64(2), record["attempt"]) // JSON decodes ints as float64
		assert.Equal(t, "test message", record["msg"])
	})

	t.Run("nil logger returns nil", func(t *testing.T) {
		assert.Nil(t, EnrichLogger(nil, "orders/placed", "evt-1", 1))
	})
}

func TestLogHelpers(t *testing.T) {
	testErr := errors.New("boom")

	tests := []struct {
		name   string
		log    func(*slog.Logger)
		level  string
		msg    string
		checks map[string]any
	}{
		{
			name:   "dispatch start",
			log:    func(l *slog.Logger) { LogDispatchStart(l, "orders/placed", "evt-1") },
			level:  "DEBUG",
			msg:    "dispatch starting",
			checks: map[string]any{"pathway": "orders/placed", "event_id": "evt-1"},
		},
		{
			name:   "dispatch complete",
			log:    func(l *slog.Logger) { LogDispatchComplete(l, "orders/placed", "evt-1", 3, 12.5) },
			level:  "DEBUG",
			msg:    "dispatch completed",
			checks: map[string]any{"attempts": float64(3), "duration_ms": 12.5},
		},
		{
			name:   "attempt failed",
			log:    func(l *slog.Logger) { LogAttemptFailed(l, "orders/placed", "evt-1", 1, testErr, time.Second) },
			level:  "WARN",
			msg:    "handler attempt failed",
			checks: map[string]any{"attempt": float64(1), "error": "boom"},
		},
		{
			name:   "retries exhausted",
			log:    func(l *slog.Logger) { LogRetriesExhausted(l, "orders/placed", "evt-1", 4, testErr) },
			level:  "ERROR",
			msg:    "handler retries exhausted",
			checks: map[string]any{"attempts": float64(4), "error": "boom"},
		},
		{
			name:   "state error",
			log:    func(l *slog.Logger) { LogStateError(l, "orders/placed", "evt-1", testErr) },
			level:  "WARN",
			msg:    "state update failed",
			checks: map[string]any{"event_id": "evt-1"},
		},
		{
			name:   "write complete",
			log:    func(l *slog.Logger) { LogWriteComplete(l, "orders/placed", []string{"a", "b"}, 1) },
			level:  "INFO",
			msg:    "write completed",
			checks: map[string]any{"event_ids": []any{"a", "b"}},
		},
		{
			name:   "write error",
			log:    func(l *slog.Logger) { LogWriteError(l, "orders/placed", testErr) },
			level:  "ERROR",
			msg:    "write failed",
			checks: map[string]any{"error": "boom"},
		},
		{
			name:   "confirmation timeout",
			log:    func(l *slog.Logger) { LogConfirmationTimeout(l, "orders/placed", "evt-9", time.Second) },
			level:  "WARN",
			msg:    "confirmation timed out",
			checks: map[string]any{"event_id": "evt-9"},
		},
		{
			name:   "resolver error",
			log:    func(l *slog.Logger) { LogResolverError(l, "orders/placed", "sess-1", testErr) },
			level:  "WARN",
			msg:    "session user resolver failed",
			checks: map[string]any{"session_id": "sess-1"},
		},
		{
			name:   "listener panic",
			log:    func(l *slog.Logger) { LogListenerPanic(l, "orders/placed", "before", "oops") },
			level:  "ERROR",
			msg:    "lifecycle listener panicked",
			checks: map[string]any{"phase": "before", "panic": "oops"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, buf := captureLogger()
			tt.log(logger)

			record := lastRecord(t, buf)
			assert.Equal(t, tt.level, record["level"])
			assert.Equal(t, tt.msg, record["msg"])
			for k, v := range tt.checks {
				assert.Equal(t, v, record[k], "field %s", k)
			}
		})

		t.Run(tt.name+" nil logger", func(t *testing.T) {
			assert.NotPanics(t, func() { tt.log(nil) })
		})
	}
}

func TestTimedOperation(t *testing.T) {
	done := TimedOperation()
	time.Sleep(5 * time.Millisecond)
	assert.GreaterOrEqual(t, done(), float64(5))
}

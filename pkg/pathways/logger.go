package pathways

import (
	"context"
	"log/slog"

	"github.com/randalmurphal/pathways/pkg/pathways/observability"
)

type loggerKey struct{}

// Logger returns the logger attached to a handler's context. During
// Process it carries the pathway, event_id and attempt fields. Outside a
// handler it returns a logger that discards output.
func Logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.New(slog.DiscardHandler)
}

// attemptContext attaches the per-attempt logger for one handler call.
func (e *Engine) attemptContext(ctx context.Context, key Key, eventID string, attempt int) context.Context {
	return context.WithValue(ctx, loggerKey{}, observability.EnrichLogger(e.cfg.logger, string(key), eventID, attempt))
}

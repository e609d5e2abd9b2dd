package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordAttempt does nothing.
func (NoopMetrics) RecordAttempt(_ context.Context, _ string, _ error) {}

// RecordDispatch does nothing.
func (NoopMetrics) RecordDispatch(_ context.Context, _ string, _ time.Duration, _ error) {}

// RecordWrite does nothing.
func (NoopMetrics) RecordWrite(_ context.Context, _ string, _ int, _ error) {}

// RecordConfirmation does nothing.
func (NoopMetrics) RecordConfirmation(_ context.Context, _ string, _ time.Duration, _ bool) {}

// NoopSpanManager is a SpanManager that does nothing.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

var noopSpan = noop.Span{}

// StartProcessSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartProcessSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartWriteSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartWriteSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}

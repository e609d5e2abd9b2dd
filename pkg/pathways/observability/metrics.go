package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records pathway metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordAttempt records one handler invocation and whether it failed.
	RecordAttempt(ctx context.Context, key string, err error)

	// RecordDispatch records a finished dispatch with its total duration.
	RecordDispatch(ctx context.Context, key string, duration time.Duration, err error)

	// RecordWrite records an outbound write of count events.
	RecordWrite(ctx context.Context, key string, count int, err error)

	// RecordConfirmation records how long a confirmation wait took.
	RecordConfirmation(ctx context.Context, key string, wait time.Duration, timedOut bool)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	attempts        metric.Int64Counter
	attemptErrors   metric.Int64Counter
	dispatches      metric.Int64Counter
	dispatchLatency metric.Float64Histogram
	writes          metric.Int64Counter
	writtenEvents   metric.Int64Counter
	confirmLatency  metric.Float64Histogram
	confirmTimeouts metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("pathways")
	m := &otelMetrics{}
	var err error

	if m.attempts, err = meter.Int64Counter("pathways.handler.attempts",
		metric.WithDescription("Number of handler invocations"),
	); err != nil {
		return nil, err
	}
	if m.attemptErrors, err = meter.Int64Counter("pathways.handler.errors",
		metric.WithDescription("Number of failed handler invocations"),
	); err != nil {
		return nil, err
	}
	if m.dispatches, err = meter.Int64Counter("pathways.dispatch.count",
		metric.WithDescription("Number of finished dispatches"),
	); err != nil {
		return nil, err
	}
	if m.dispatchLatency, err = meter.Float64Histogram("pathways.dispatch.latency_ms",
		metric.WithDescription("Dispatch latency including retries in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.writes, err = meter.Int64Counter("pathways.write.count",
		metric.WithDescription("Number of outbound write calls"),
	); err != nil {
		return nil, err
	}
	if m.writtenEvents, err = meter.Int64Counter("pathways.write.events",
		metric.WithDescription("Number of events accepted by the transport"),
	); err != nil {
		return nil, err
	}
	if m.confirmLatency, err = meter.Float64Histogram("pathways.confirm.latency_ms",
		metric.WithDescription("Confirmation wait latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.confirmTimeouts, err = meter.Int64Counter("pathways.confirm.timeouts",
		metric.WithDescription("Number of confirmation waits that timed out"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordAttempt(ctx context.Context, key string, err error) {
	attrs := metric.WithAttributes(attribute.String("pathway", key))
	m.attempts.Add(ctx, 1, attrs)
	if err != nil {
		m.attemptErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordDispatch(ctx context.Context, key string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(
		attribute.String("pathway", key),
		attribute.Bool("success", err == nil),
	)
	m.dispatches.Add(ctx, 1, attrs)
	m.dispatchLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *otelMetrics) RecordWrite(ctx context.Context, key string, count int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("pathway", key),
		attribute.Bool("success", err == nil),
	)
	m.writes.Add(ctx, 1, attrs)
	if err == nil && count > 0 {
		m.writtenEvents.Add(ctx, int64(count), metric.WithAttributes(attribute.String("pathway", key)))
	}
}

func (m *otelMetrics) RecordConfirmation(ctx context.Context, key string, wait time.Duration, timedOut bool) {
	attrs := metric.WithAttributes(attribute.String("pathway", key))
	m.confirmLatency.Record(ctx, float64(wait.Milliseconds()), attrs)
	if timedOut {
		m.confirmTimeouts.Add(ctx, 1, attrs)
	}
}

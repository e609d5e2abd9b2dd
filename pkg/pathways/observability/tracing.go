package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Uses the global OTel tracer provider.
var tracer = otel.Tracer("pathways")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartProcessSpan starts a span covering one inbound dispatch,
	// retries included.
	StartProcessSpan(ctx context.Context, key, eventID string) (context.Context, trace.Span)

	// StartWriteSpan starts a span covering an outbound write and its
	// confirmation wait.
	StartWriteSpan(ctx context.Context, key, kind string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
//
// The span manager uses the global OTel tracer provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetTracerProvider(yourProvider)
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartProcessSpan(ctx context.Context, key, eventID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pathways.process",
		trace.WithAttributes(
			attribute.String("pathway.key", key),
			attribute.String("event.id", eventID),
		),
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
}

func (m *otelSpanManager) StartWriteSpan(ctx context.Context, key, kind string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "pathways.write",
		trace.WithAttributes(
			attribute.String("pathway.key", key),
			attribute.String("write.kind", kind),
		),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	EndSpanWithError(span, err)
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError completes a span, optionally recording an error.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// AddSpanEvent adds an event to the current span in context.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if span == nil || !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

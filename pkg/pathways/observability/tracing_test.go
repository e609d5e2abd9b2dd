package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

// setupTracingTest creates a test tracer provider with an in-memory span recorder.
func setupTracingTest(t *testing.T) (*tracetest.InMemoryExporter, func()) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))

	originalProvider := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	tracer = otel.Tracer("pathways")

	cleanup := func() {
		otel.SetTracerProvider(originalProvider)
		tracer = otel.Tracer("pathways")
		if err := tp.Shutdown(context.Background()); err != nil {
			t.Logf("Error shutting down tracer provider: %v", err)
		}
	}
	return exporter, cleanup
}

func attrValue(attrs []attribute.KeyValue, key string) (string, bool) {
	for _, a := range attrs {
		if string(a.Key) == key {
			return a.Value.AsString(), true
		}
	}
	return "", false
}

func TestStartProcessSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	_, span := sm.StartProcessSpan(context.Background(), "orders/placed", "evt-1")
	require.NotNil(t, span)
	sm.EndSpanWithError(span, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	s := spans[0]
	assert.Equal(t, "pathways.process", s.Name)
	assert.Equal(t, trace.SpanKindConsumer, s.SpanKind)
	assert.Equal(t, codes.Ok, s.Status.Code)

	key, ok := attrValue(s.Attributes, "pathway.key")
	assert.True(t, ok)
	assert.Equal(t, "orders/placed", key)
	id, ok := attrValue(s.Attributes, "event.id")
	assert.True(t, ok)
	assert.Equal(t, "evt-1", id)
}

func TestStartWriteSpan(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	sm := NewSpanManager()
	ctx, parent := sm.StartWriteSpan(context.Background(), "orders/placed", "batch")
	_, child := sm.StartProcessSpan(ctx, "orders/placed", "evt-1")
	sm.EndSpanWithError(child, nil)
	sm.EndSpanWithError(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "pathways.process", spans[0].Name)
	assert.Equal(t, "pathways.write", spans[1].Name)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())

	kind, ok := attrValue(spans[1].Attributes, "write.kind")
	assert.True(t, ok)
	assert.Equal(t, "batch", kind)
}

func TestEndSpanWithError(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	t.Run("records error status", func(t *testing.T) {
		exporter.Reset()
		_, span := NewSpanManager().StartProcessSpan(context.Background(), "k/v", "evt")
		EndSpanWithError(span, errors.New("handler failed"))

		spans := exporter.GetSpans()
		require.Len(t, spans, 1)
		assert.Equal(t, codes.Error, spans[0].Status.Code)
		assert.Equal(t, "handler failed", spans[0].Status.Description)
		require.NotEmpty(t, spans[0].Events, "error should be recorded as an event")
		assert.Equal(t, "exception", spans[0].Events[0].Name)
	})

	t.Run("nil span is safe", func(t *testing.T) {
		assert.NotPanics(t, func() { EndSpanWithError(nil, nil) })
	})
}

func TestAddSpanEvent(t *testing.T) {
	exporter, cleanup := setupTracingTest(t)
	defer cleanup()

	ctx, span := NewSpanManager().StartProcessSpan(context.Background(), "k/v", "evt")
	AddSpanEvent(ctx, "retry", attribute.Int("attempt", 1))
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	require.Len(t, spans[0].Events, 1)
	assert.Equal(t, "retry", spans[0].Events[0].Name)

	assert.NotPanics(t, func() {
		AddSpanEvent(context.Background(), "no span")
	})
}

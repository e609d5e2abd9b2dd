package pathways

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryTransport is an in-process Transport. It assigns a UUID to every
// written event, records it and, when a delivery function is set, hands
// the event to it on a new goroutine. Pointing delivery at
// Engine.Process turns the engine into a loopback, which is how tests and
// local tools exercise the full write-then-confirm cycle.
type MemoryTransport struct {
	mu      sync.Mutex
	events  []Event
	deliver func(ctx context.Context, evt Event)
	wg      sync.WaitGroup
	now     func() time.Time
}

// Compile-time interface check.
var _ Transport = (*MemoryTransport)(nil)

// NewMemoryTransport creates an empty transport with no delivery.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{now: time.Now}
}

// Deliver sets the function that receives written events.
func (t *MemoryTransport) Deliver(fn func(ctx context.Context, evt Event)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.deliver = fn
}

// Loopback delivers every written event to e.Process. Dispatch errors
// are reported through the engine's error channels, not to the writer.
func (t *MemoryTransport) Loopback(e *Engine) {
	t.Deliver(func(ctx context.Context, evt Event) {
		_ = e.Process(ctx, evt.Key(), evt)
	})
}

// Events returns a copy of every event written so far.
func (t *MemoryTransport) Events() []Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Event, len(t.events))
	copy(out, t.events)
	return out
}

// Wait blocks until every delivery started so far has returned.
func (t *MemoryTransport) Wait() {
	t.wg.Wait()
}

func (t *MemoryTransport) record(ctx context.Context, key Key, payload any, meta Metadata) string {
	flowType, eventType := key.Split()
	evt := Event{
		ID:        uuid.NewString(),
		FlowType:  flowType,
		EventType: eventType,
		Metadata:  meta.Clone(),
		Payload:   payload,
		ValidAt:   t.now(),
	}

	t.mu.Lock()
	t.events = append(t.events, evt)
	deliver := t.deliver
	t.mu.Unlock()

	if deliver != nil {
		t.wg.Add(1)
		go func() {
			defer t.wg.Done()
			deliver(context.WithoutCancel(ctx), evt)
		}()
	}
	return evt.ID
}

// Writer implements Transport.
func (t *MemoryTransport) Writer(key Key) Writer {
	return func(ctx context.Context, payload any, meta Metadata, _ WriteOptions) (string, error) {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return t.record(ctx, key, payload, meta), nil
	}
}

// BatchWriter implements Transport.
func (t *MemoryTransport) BatchWriter(key Key) BatchWriter {
	return func(ctx context.Context, payloads []any, meta Metadata, _ WriteOptions) ([]string, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ids := make([]string, len(payloads))
		for i, p := range payloads {
			ids[i] = t.record(ctx, key, p, meta)
		}
		return ids, nil
	}
}

// FileWriter implements Transport. Each file becomes one event whose
// payload is the File.
func (t *MemoryTransport) FileWriter(key Key) FileWriter {
	return func(ctx context.Context, file File, meta Metadata, _ WriteOptions) ([]string, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return []string{t.record(ctx, key, file, meta)}, nil
	}
}

package pathways_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways"
	"github.com/randalmurphal/pathways/pkg/pathways/schema"
	"github.com/randalmurphal/pathways/pkg/pathways/state"
	"github.com/stretchr/testify/require"
)

// orderSchema requires a string orderId.
func orderSchema() schema.Schema {
	return schema.Object(
		schema.Required("orderId", schema.String),
		schema.Optional("total", schema.Number),
	)
}

// countingStore wraps a MemoryStore and counts calls.
type countingStore struct {
	*state.MemoryStore

	mu          sync.Mutex
	isProcessed int
	marked      []string
}

func newCountingStore() *countingStore {
	return &countingStore{MemoryStore: state.NewMemoryStore()}
}

func (s *countingStore) IsProcessed(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	s.isProcessed++
	s.mu.Unlock()
	return s.MemoryStore.IsProcessed(ctx, id)
}

func (s *countingStore) SetProcessed(ctx context.Context, id string) error {
	s.mu.Lock()
	s.marked = append(s.marked, id)
	s.mu.Unlock()
	return s.MemoryStore.SetProcessed(ctx, id)
}

func (s *countingStore) IsProcessedCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isProcessed
}

func (s *countingStore) Marked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.marked...)
}

// delayedStore reports an id processed once delay has passed since the
// id was first polled.
type delayedStore struct {
	delay time.Duration

	mu        sync.Mutex
	firstSeen map[string]time.Time
}

func newDelayedStore(delay time.Duration) *delayedStore {
	return &delayedStore{delay: delay, firstSeen: make(map[string]time.Time)}
}

func (s *delayedStore) IsProcessed(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen, ok := s.firstSeen[id]
	if !ok {
		s.firstSeen[id] = time.Now()
		return false, nil
	}
	return time.Since(seen) >= s.delay, nil
}

func (s *delayedStore) SetProcessed(context.Context, string) error { return nil }
func (s *delayedStore) Close() error                               { return nil }

// neverStore never reports anything processed.
type neverStore struct{}

func (neverStore) IsProcessed(context.Context, string) (bool, error) { return false, nil }
func (neverStore) SetProcessed(context.Context, string) error        { return nil }
func (neverStore) Close() error                                      { return nil }

// recorder collects lifecycle emissions in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []string
	errors []pathways.ErrorEvent
}

func (r *recorder) listener(label string) pathways.Listener {
	return func(le pathways.LifecycleEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, label+":"+le.Phase.String())
	}
}

func (r *recorder) errorListener(label string) pathways.ErrorListener {
	return func(ee pathways.ErrorEvent) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, label+":error")
		r.errors = append(r.errors, ee)
	}
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) Errors() []pathways.ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]pathways.ErrorEvent(nil), r.errors...)
}

func (r *recorder) count(label string) int {
	n := 0
	for _, e := range r.Events() {
		if e == label {
			n++
		}
	}
	return n
}

// newEngine creates an engine with an in-memory transport, a fast poll
// interval and cleanup registered on t.
func newEngine(t *testing.T, opts ...pathways.EngineOption) (*pathways.Engine, *pathways.MemoryTransport) {
	t.Helper()
	tr := pathways.NewMemoryTransport()
	base := []pathways.EngineOption{
		pathways.WithTransport(tr),
		pathways.WithPollInterval(5 * time.Millisecond),
	}
	e := pathways.New(append(base, opts...)...)
	t.Cleanup(func() {
		tr.Wait()
		require.NoError(t, e.Close())
	})
	return e, tr
}

// registerOrders registers orders/placed with fast retries.
func registerOrders(t *testing.T, e *pathways.Engine, c pathways.Contract) *pathways.Builder {
	t.Helper()
	c.FlowType = "orders"
	c.EventType = "placed"
	if c.RetryDelay == 0 {
		c.RetryDelay = time.Millisecond
	}
	b, err := e.Register(c)
	require.NoError(t, err)
	return b
}

func orderEvent(id string) pathways.Event {
	return pathways.Event{
		ID:        id,
		FlowType:  "orders",
		EventType: "placed",
		Payload:   map[string]any{"orderId": "o-" + id},
		ValidAt:   time.Now(),
	}
}

package deadletter

import (
	"context"
	"slices"
	"sync"
	"time"
)

// Defaults for MemoryQueue.
const (
	DefaultMaxSize     = 10000
	DefaultMaxRedrives = 3
)

// Config configures a MemoryQueue.
type Config struct {
	// MaxSize limits the number of queued entries.
	// Default: 10000
	MaxSize int

	// MaxRedrives is how many times an event may be drained before a
	// further failure parks it. Default: 3
	MaxRedrives int

	// OnAdd is called when an entry is queued.
	OnAdd func(Entry)

	// OnPark is called when an entry is parked.
	OnPark func(Parked)
}

// Stats summarizes queue activity.
type Stats struct {
	QueueSize  int   // Current queue size
	ParkedSize int   // Current parked size
	Added      int64 // Total entries added
	Drained    int64 // Total entries drained
	Parked     int64 // Total entries parked
	Recovered  int64 // Total entries acknowledged or recovered
}

// MemoryQueue is an in-memory Queue. Suitable for testing and
// single-instance deployments.
type MemoryQueue struct {
	mu       sync.Mutex
	entries  []Entry
	parked   map[string]Parked
	redrives map[string]int // eventID -> times drained
	cfg      Config
	now      func() time.Time

	added     int64
	drained   int64
	parks     int64
	recovered int64
}

// Compile-time interface check.
var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue creates an empty queue.
func NewMemoryQueue(cfg Config) *MemoryQueue {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = DefaultMaxSize
	}
	if cfg.MaxRedrives <= 0 {
		cfg.MaxRedrives = DefaultMaxRedrives
	}
	return &MemoryQueue{
		parked:   make(map[string]Parked),
		redrives: make(map[string]int),
		cfg:      cfg,
		now:      time.Now,
	}
}

// Add implements Queue. An event already drained MaxRedrives times is
// parked instead of queued.
func (q *MemoryQueue) Add(_ context.Context, e Entry) error {
	if e.EventID == "" {
		return ErrEmptyEventID
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	e.Redrives = q.redrives[e.EventID]
	if e.Redrives >= q.cfg.MaxRedrives {
		q.parkLocked(e, "max redrives exceeded")
		return nil
	}

	if i := q.indexLocked(e.EventID); i >= 0 {
		q.entries[i] = e
		return nil
	}
	if len(q.entries) >= q.cfg.MaxSize {
		return ErrQueueFull
	}

	q.entries = append(q.entries, e)
	q.added++
	if q.cfg.OnAdd != nil {
		q.cfg.OnAdd(e)
	}
	return nil
}

// Drain implements Queue.
func (q *MemoryQueue) Drain(_ context.Context, limit int) ([]Entry, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if limit <= 0 || limit > len(q.entries) {
		limit = len(q.entries)
	}
	out := slices.Clone(q.entries[:limit])
	q.entries = slices.Delete(q.entries, 0, limit)

	for i := range out {
		q.redrives[out[i].EventID]++
		out[i].Redrives = q.redrives[out[i].EventID]
	}
	q.drained += int64(len(out))
	return out, nil
}

// Acknowledge implements Queue.
func (q *MemoryQueue) Acknowledge(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.redrives, eventID)
	if i := q.indexLocked(eventID); i >= 0 {
		q.entries = slices.Delete(q.entries, i, i+1)
	}
	q.recovered++
	return nil
}

// Len implements Queue.
func (q *MemoryQueue) Len(context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries), nil
}

// ListParked returns parked entries ordered by event id.
func (q *MemoryQueue) ListParked(context.Context) ([]Parked, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Parked, 0, len(q.parked))
	for _, p := range q.parked {
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Parked) int {
		switch {
		case a.EventID < b.EventID:
			return -1
		case a.EventID > b.EventID:
			return 1
		}
		return 0
	})
	return out, nil
}

// Recover moves a parked entry back into the queue with its redrive
// count reset.
func (q *MemoryQueue) Recover(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	p, ok := q.parked[eventID]
	if !ok {
		return ErrNotFound
	}
	if len(q.entries) >= q.cfg.MaxSize {
		return ErrQueueFull
	}

	delete(q.parked, eventID)
	delete(q.redrives, eventID)
	e := p.Entry
	e.Redrives = 0
	q.entries = append(q.entries, e)
	q.recovered++
	return nil
}

// DeleteParked permanently drops a parked entry.
func (q *MemoryQueue) DeleteParked(_ context.Context, eventID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.parked[eventID]; !ok {
		return ErrNotFound
	}
	delete(q.parked, eventID)
	delete(q.redrives, eventID)
	return nil
}

// Stats returns queue statistics.
func (q *MemoryQueue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		QueueSize:  len(q.entries),
		ParkedSize: len(q.parked),
		Added:      q.added,
		Drained:    q.drained,
		Parked:     q.parks,
		Recovered:  q.recovered,
	}
}

// parkLocked moves e to the parked set (must hold lock).
func (q *MemoryQueue) parkLocked(e Entry, reason string) {
	if i := q.indexLocked(e.EventID); i >= 0 {
		q.entries = slices.Delete(q.entries, i, i+1)
	}
	p := Parked{Entry: e, Reason: reason, ParkedAt: q.now()}
	q.parked[e.EventID] = p
	q.parks++
	if q.cfg.OnPark != nil {
		q.cfg.OnPark(p)
	}
}

func (q *MemoryQueue) indexLocked(eventID string) int {
	return slices.IndexFunc(q.entries, func(e Entry) bool { return e.EventID == eventID })
}

package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps processed marks in memory.
// Data is lost when the process exits.
type MemoryStore struct {
	mu        sync.RWMutex
	expiries  map[string]time.Time // eventID -> expiry
	opts      options
	lastSweep time.Time
	closed    bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory store. WithTable is ignored.
func NewMemoryStore(opts ...Option) *MemoryStore {
	o := applyOptions(opts)
	return &MemoryStore{
		expiries:  make(map[string]time.Time),
		opts:      o,
		lastSweep: o.now(),
	}
}

// IsProcessed implements Store.
func (m *MemoryStore) IsProcessed(_ context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return false, ErrStoreClosed
	}
	expiry, ok := m.expiries[eventID]
	m.mu.RUnlock()

	if !ok {
		return false, nil
	}
	if m.opts.now().Before(expiry) {
		return true, nil
	}

	m.mu.Lock()
	// Re-check under the write lock; SetProcessed may have refreshed it.
	if cur, ok := m.expiries[eventID]; ok && !m.opts.now().Before(cur) {
		delete(m.expiries, eventID)
	}
	m.mu.Unlock()
	return false, nil
}

// SetProcessed implements Store.
func (m *MemoryStore) SetProcessed(_ context.Context, eventID string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	now := m.opts.now()
	m.expiries[eventID] = now.Add(m.opts.ttl)

	if now.Sub(m.lastSweep) >= m.opts.ttl {
		m.sweepLocked(now)
	}
	return nil
}

// sweepLocked drops expired entries. Caller holds m.mu.
func (m *MemoryStore) sweepLocked(now time.Time) {
	for id, expiry := range m.expiries {
		if !now.Before(expiry) {
			delete(m.expiries, id)
		}
	}
	m.lastSweep = now
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.expiries = nil
	return nil
}

// Len returns the number of stored marks, including expired ones not
// yet swept. Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.expiries)
}

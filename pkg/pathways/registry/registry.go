// Package registry provides the thread-safe keyed table behind the
// pathway definitions, handlers and session resolvers.
//
// Keys are ordered so Keys returns a stable listing, which keeps log
// output and error messages deterministic.
//
//	defs := registry.New[string, Definition]()
//	if !defs.Insert("orders/placed", def) {
//	    // key already present
//	}
//	def, ok := defs.Get("orders/placed")
package registry

import (
	"cmp"
	"slices"
	"sync"
)

// Registry is a thread-safe table of values indexed by an ordered key.
// The zero value is not usable; call New.
type Registry[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty registry.
func New[K cmp.Ordered, V any]() *Registry[K, V] {
	return &Registry[K, V]{
		entries: make(map[K]V),
	}
}

// Put stores value under key, replacing any existing entry.
func (r *Registry[K, V]) Put(key K, value V) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[key] = value
}

// Insert stores value only if key is absent.
// It reports whether the value was stored.
func (r *Registry[K, V]) Insert(key K, value V) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[key]; exists {
		return false
	}
	r.entries[key] = value
	return true
}

// Update atomically replaces the entry for key with the result of fn.
// fn receives the current value and whether it exists; returning
// keep=false deletes the entry.
func (r *Registry[K, V]) Update(key K, fn func(current V, exists bool) (next V, keep bool)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, exists := r.entries[key]
	next, keep := fn(current, exists)
	if !keep {
		delete(r.entries, key)
		return
	}
	r.entries[key] = next
}

// Get returns the value for key and whether it exists.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Has reports whether key exists.
func (r *Registry[K, V]) Has(key K) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[key]
	return ok
}

// Delete removes key. Deleting a missing key is a no-op.
func (r *Registry[K, V]) Delete(key K) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, key)
}

// DeleteFunc removes every entry for which fn returns true and
// returns the number removed.
func (r *Registry[K, V]) DeleteFunc(fn func(K, V) bool) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for k, v := range r.entries {
		if fn(k, v) {
			delete(r.entries, k)
			removed++
		}
	}
	return removed
}

// Keys returns all keys in ascending order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	keys := make([]K, 0, len(r.entries))
	for k := range r.entries {
		keys = append(keys, k)
	}
	r.mu.RUnlock()

	slices.Sort(keys)
	return keys
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

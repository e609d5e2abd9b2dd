package pathways

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/randalmurphal/pathways/pkg/pathways/observability"
)

// Phase selects which lifecycle emissions a listener receives.
type Phase int

const (
	// PhaseBefore fires once per inbound event before its handler runs,
	// and also for events with no handler.
	PhaseBefore Phase = iota
	// PhaseAfter fires once per inbound event after the handler succeeds.
	PhaseAfter
	// PhaseAll subscribes to both PhaseBefore and PhaseAfter.
	PhaseAll
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseBefore:
		return "before"
	case PhaseAfter:
		return "after"
	case PhaseAll:
		return "all"
	default:
		return "unknown"
	}
}

// LifecycleEvent is delivered to before/after listeners.
type LifecycleEvent struct {
	Key   Key
	Phase Phase
	Event Event
}

// ErrorEvent is delivered to error listeners, once per failed attempt.
type ErrorEvent struct {
	Key   Key
	Event Event
	Err   error
	// Attempt is 1 for the first invocation.
	Attempt int
}

// Listener receives before/after emissions.
type Listener func(LifecycleEvent)

// ErrorListener receives failed handler attempts.
type ErrorListener func(ErrorEvent)

// Subscription detaches a listener.
type Subscription interface {
	Unsubscribe()
}

type listenerEntry struct {
	id uint64
	fn Listener
}

type errorEntry struct {
	id uint64
	fn ErrorListener
}

// channelSet holds the listeners of one pathway.
type channelSet struct {
	before []listenerEntry
	after  []listenerEntry
	errors []errorEntry
}

// lifecycleBus fans lifecycle emissions out to listeners synchronously,
// in subscription order. Nothing is buffered or replayed. A panicking
// listener is recovered and logged; later listeners still run.
type lifecycleBus struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   uint64
	channels map[Key]*channelSet
	anyError []errorEntry
}

func newLifecycleBus(logger *slog.Logger) *lifecycleBus {
	return &lifecycleBus{
		logger:   logger,
		channels: make(map[Key]*channelSet),
	}
}

// ensure creates the channels for key if needed.
func (b *lifecycleBus) ensure(key Key) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.channels[key]; !ok {
		b.channels[key] = &channelSet{}
	}
}

func (b *lifecycleBus) subscribe(key Key, fn Listener, phase Phase) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.channels[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathwayNotFound, key)
	}
	b.nextID++
	id := b.nextID
	entry := listenerEntry{id: id, fn: fn}

	switch phase {
	case PhaseBefore:
		set.before = append(set.before, entry)
	case PhaseAfter:
		set.after = append(set.after, entry)
	case PhaseAll:
		set.before = append(set.before, entry)
		set.after = append(set.after, entry)
	default:
		return nil, fmt.Errorf("unknown phase %d", phase)
	}

	return unsubscribeFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set.before = removeListener(set.before, id)
		set.after = removeListener(set.after, id)
	}), nil
}

func (b *lifecycleBus) onError(key Key, fn ErrorListener) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set, ok := b.channels[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathwayNotFound, key)
	}
	b.nextID++
	id := b.nextID
	set.errors = append(set.errors, errorEntry{id: id, fn: fn})

	return unsubscribeFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		set.errors = removeErrorListener(set.errors, id)
	}), nil
}

func (b *lifecycleBus) onAnyError(fn ErrorListener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.anyError = append(b.anyError, errorEntry{id: id, fn: fn})

	return unsubscribeFunc(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.anyError = removeErrorListener(b.anyError, id)
	})
}

// emit delivers a before or after emission.
func (b *lifecycleBus) emit(key Key, phase Phase, evt Event) {
	b.mu.RLock()
	var listeners []listenerEntry
	if set, ok := b.channels[key]; ok {
		if phase == PhaseBefore {
			listeners = slices.Clone(set.before)
		} else {
			listeners = slices.Clone(set.after)
		}
	}
	b.mu.RUnlock()

	le := LifecycleEvent{Key: key, Phase: phase, Event: evt}
	for _, l := range listeners {
		b.safeCall(key, phase.String(), func() { l.fn(le) })
	}
}

// emitError delivers a failed attempt to the pathway's error listeners
// and then to the engine-wide ones.
func (b *lifecycleBus) emitError(ee ErrorEvent) {
	b.mu.RLock()
	var perKey []errorEntry
	if set, ok := b.channels[ee.Key]; ok {
		perKey = slices.Clone(set.errors)
	}
	global := slices.Clone(b.anyError)
	b.mu.RUnlock()

	for _, l := range perKey {
		b.safeCall(ee.Key, "error", func() { l.fn(ee) })
	}
	for _, l := range global {
		b.safeCall(ee.Key, "any-error", func() { l.fn(ee) })
	}
}

func (b *lifecycleBus) safeCall(key Key, phase string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			observability.LogListenerPanic(b.logger, string(key), phase, r)
		}
	}()
	fn()
}

func removeListener(entries []listenerEntry, id uint64) []listenerEntry {
	return slices.DeleteFunc(entries, func(e listenerEntry) bool { return e.id == id })
}

func removeErrorListener(entries []errorEntry, id uint64) []errorEntry {
	return slices.DeleteFunc(entries, func(e errorEntry) bool { return e.id == id })
}

// unsubscribeFunc adapts a function to Subscription. Calls after the
// first are no-ops.
type unsubscribeFunc func()

func (f unsubscribeFunc) Unsubscribe() {
	f()
}

// Subscribe attaches fn to the before, after or both channels of key.
// Listeners run synchronously on the dispatching goroutine.
func (e *Engine) Subscribe(key Key, fn Listener, phase Phase) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}
	return e.bus.subscribe(key, fn, phase)
}

// OnError attaches fn to the error channel of key. It receives every
// failed attempt, retries included.
func (e *Engine) OnError(key Key, fn ErrorListener) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("listener cannot be nil")
	}
	return e.bus.onError(key, fn)
}

// OnAnyError attaches fn to the engine-wide error channel, which repeats
// every pathway's error emissions.
func (e *Engine) OnAnyError(fn ErrorListener) Subscription {
	return e.bus.onAnyError(fn)
}

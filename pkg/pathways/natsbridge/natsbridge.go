// Package natsbridge forwards pathway lifecycle emissions to NATS so
// processes outside the engine can watch event flow.
//
// Each emission becomes a JSON Envelope published to
//
//	<prefix>.<flowType>.<eventType>.<phase>
//
// where phase is "before", "after" or "error". Subscribers can use NATS
// wildcards such as "pathways.orders.>" to follow one flow.
//
// Publishing is best effort. Failures are logged and never reach the
// dispatching goroutine.
package natsbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/randalmurphal/pathways/pkg/pathways"
)

// DefaultPrefix is the subject prefix used without WithPrefix.
const DefaultPrefix = "pathways"

// PhaseError is the subject suffix for failed handler attempts.
const PhaseError = "error"

// ErrClosed is returned by Attach after Close.
var ErrClosed = errors.New("natsbridge: forwarder closed")

// Envelope is the message body published for every emission.
type Envelope struct {
	Key       string    `json:"key"`
	Phase     string    `json:"phase"`
	EventID   string    `json:"event_id"`
	FlowType  string    `json:"flow_type"`
	EventType string    `json:"event_type"`
	Error     string    `json:"error,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	At        time.Time `json:"at"`
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(f *Forwarder) {
		if p := strings.Trim(prefix, "."); p != "" {
			f.prefix = p
		}
	}
}

// WithLogger sets the logger for publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Forwarder) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// Forwarder publishes lifecycle emissions of attached pathways.
// The connection stays owned by the caller.
type Forwarder struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	subs   []pathways.Subscription
	closed bool
}

// New creates a forwarder publishing on conn.
func New(conn *nats.Conn, opts ...Option) *Forwarder {
	f := &Forwarder{
		conn:   conn,
		prefix: DefaultPrefix,
		logger: slog.New(slog.DiscardHandler),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Attach subscribes to the before, after and error emissions of keys.
// With no keys, every pathway registered on e at the time of the call is
// attached. On error nothing from this call stays subscribed.
func (f *Forwarder) Attach(e *pathways.Engine, keys ...pathways.Key) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}

	if len(keys) == 0 {
		keys = e.Keys()
	}

	attached := make(map[pathways.Key]struct{}, len(keys))
	var subs []pathways.Subscription
	for _, key := range keys {
		sub, err := e.Subscribe(key, f.forwardLifecycle, pathways.PhaseAll)
		if err != nil {
			for _, s := range subs {
				s.Unsubscribe()
			}
			return fmt.Errorf("attach %s: %w", key, err)
		}
		subs = append(subs, sub)
		attached[key] = struct{}{}
	}

	subs = append(subs, e.OnAnyError(func(ee pathways.ErrorEvent) {
		if _, ok := attached[ee.Key]; ok {
			f.forwardError(ee)
		}
	}))

	f.subs = append(f.subs, subs...)
	return nil
}

// Close detaches every subscription. It does not close the connection.
func (f *Forwarder) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	for _, s := range f.subs {
		s.Unsubscribe()
	}
	f.subs = nil
	return nil
}

// Subject returns the subject an emission for key and phase is published to.
func (f *Forwarder) Subject(key pathways.Key, phase string) string {
	flowType, eventType := key.Split()
	return strings.Join([]string{f.prefix, flowType, eventType, phase}, ".")
}

func (f *Forwarder) forwardLifecycle(le pathways.LifecycleEvent) {
	f.publish(le.Key, le.Phase.String(), Envelope{
		Key:       string(le.Key),
		Phase:     le.Phase.String(),
		EventID:   le.Event.ID,
		FlowType:  le.Event.FlowType,
		EventType: le.Event.EventType,
		At:        f.now(),
	})
}

func (f *Forwarder) forwardError(ee pathways.ErrorEvent) {
	env := Envelope{
		Key:       string(ee.Key),
		Phase:     PhaseError,
		EventID:   ee.Event.ID,
		FlowType:  ee.Event.FlowType,
		EventType: ee.Event.EventType,
		Attempt:   ee.Attempt,
		At:        f.now(),
	}
	if ee.Err != nil {
		env.Error = ee.Err.Error()
	}
	f.publish(ee.Key, PhaseError, env)
}

func (f *Forwarder) publish(key pathways.Key, phase string, env Envelope) {
	subject := f.Subject(key, phase)
	data, err := json.Marshal(env)
	if err != nil {
		f.logger.Error("marshal lifecycle envelope failed",
			slog.String("subject", subject),
			slog.String("error", err.Error()),
		)
		return
	}
	if err := f.conn.Publish(subject, data); err != nil {
		f.logger.Warn("publish lifecycle event failed",
			slog.String("subject", subject),
			slog.String("event_id", env.EventID),
			slog.String("error", err.Error()),
		)
	}
}

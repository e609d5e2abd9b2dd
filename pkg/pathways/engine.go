package pathways

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways/config"
	"github.com/randalmurphal/pathways/pkg/pathways/registry"
	"github.com/randalmurphal/pathways/pkg/pathways/retry"
	"github.com/randalmurphal/pathways/pkg/pathways/state"
)

// Engine registers pathways, dispatches inbound events and performs
// outbound writes. It is safe for concurrent use; pathways may be
// registered while traffic flows.
type Engine struct {
	cfg       engineConfig
	ownsStore bool

	defs      *registry.Registry[Key, Definition]
	handlers  *registry.Registry[Key, Handler]
	resolvers *registry.Registry[string, sessionResolver]
	bus       *lifecycleBus

	closeOnce sync.Once
}

// sessionResolver is a user resolver registered for one session.
type sessionResolver struct {
	resolve   UserResolver
	expiresAt time.Time
}

// New creates an engine.
func New(opts ...EngineOption) *Engine {
	cfg := defaultEngineConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Engine{
		cfg:       cfg,
		defs:      registry.New[Key, Definition](),
		handlers:  registry.New[Key, Handler](),
		resolvers: registry.New[string, sessionResolver](),
	}
	if e.cfg.store == nil {
		e.cfg.store = state.NewMemoryStore()
		e.ownsStore = true
	}
	e.bus = newLifecycleBus(e.cfg.logger)
	return e
}

// Close releases the state store if the engine created it.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.ownsStore {
			err = e.cfg.store.Close()
		}
	})
	return err
}

// Store returns the processed-state store.
func (e *Engine) Store() state.Store {
	return e.cfg.store
}

// Register adds a pathway and returns a builder for attaching its handler
// and subscribers.
//
// Registering an existing key fails with ErrPathwayExists unless
// c.Replace is set. A writable pathway needs a transport that supplies
// the writers for its mode.
func (e *Engine) Register(c Contract) (*Builder, error) {
	if c.FlowType == "" || c.EventType == "" {
		return nil, ErrInvalidContract
	}
	if strings.ContainsAny(c.FlowType, "/.") || strings.ContainsAny(c.EventType, "/.") {
		return nil, fmt.Errorf("%w: %q/%q must not contain '/' or '.'", ErrInvalidContract, c.FlowType, c.EventType)
	}

	key := NewKey(c.FlowType, c.EventType)
	if !c.Replace && e.defs.Has(key) {
		return nil, fmt.Errorf("%w: %s", ErrPathwayExists, key)
	}

	def := Definition{
		Key:      key,
		Schema:   c.Schema,
		Writable: c.Writable == nil || *c.Writable,
		Mode:     ModeNormal,
		Timeout:  c.Timeout,
		Retry:    e.cfg.retry,
	}
	if c.IsFilePathway {
		def.Mode = ModeFile
	}
	if c.MaxRetries != nil {
		retry.WithMaxRetries(*c.MaxRetries)(&def.Retry)
	}
	if c.RetryDelay > 0 {
		def.Retry.Delay = c.RetryDelay
	}

	if def.Writable {
		if err := e.bindWriters(&def); err != nil {
			return nil, err
		}
	}

	var exists bool
	e.defs.Update(key, func(cur Definition, found bool) (Definition, bool) {
		exists = found
		if found && !c.Replace {
			return cur, true
		}
		return def, true
	})
	if exists && !c.Replace {
		return nil, fmt.Errorf("%w: %s", ErrPathwayExists, key)
	}

	e.bus.ensure(key)
	return &Builder{engine: e, key: key}, nil
}

// MustRegister is like Register but panics on error.
func (e *Engine) MustRegister(c Contract) *Builder {
	b, err := e.Register(c)
	if err != nil {
		panic(err)
	}
	return b
}

// RegisterContracts registers every contract loaded from a config file.
func (e *Engine) RegisterContracts(specs []config.ContractSpec) ([]*Builder, error) {
	builders := make([]*Builder, 0, len(specs))
	for _, s := range specs {
		b, err := e.Register(Contract{
			FlowType:      s.FlowType,
			EventType:     s.EventType,
			Schema:        s.Schema,
			Writable:      s.Writable,
			MaxRetries:    s.MaxRetries,
			RetryDelay:    s.RetryDelay,
			Timeout:       s.Timeout,
			IsFilePathway: s.File,
		})
		if err != nil {
			return builders, err
		}
		builders = append(builders, b)
	}
	return builders, nil
}

func (e *Engine) bindWriters(def *Definition) error {
	t := e.cfg.transport
	if t == nil {
		return fmt.Errorf("%w: %s", ErrNoTransport, def.Key)
	}
	switch def.Mode {
	case ModeFile:
		def.FileWriter = t.FileWriter(def.Key)
		if def.FileWriter == nil {
			return fmt.Errorf("%w: %s: no file writer", ErrNoTransport, def.Key)
		}
	default:
		def.Writer = t.Writer(def.Key)
		def.BatchWriter = t.BatchWriter(def.Key)
		if def.Writer == nil {
			return fmt.Errorf("%w: %s: no writer", ErrNoTransport, def.Key)
		}
	}
	return nil
}

// Get reports whether key is registered.
func (e *Engine) Get(key Key) bool {
	return e.defs.Has(key)
}

// Definition returns a copy of the definition registered for key.
func (e *Engine) Definition(key Key) (Definition, bool) {
	return e.defs.Get(key)
}

// Keys lists the registered keys in order.
func (e *Engine) Keys() []Key {
	return e.defs.Keys()
}

// Handle binds fn as the handler for key. Each key takes one handler.
func (e *Engine) Handle(key Key, fn Handler) error {
	if fn == nil {
		return errors.New("handler cannot be nil")
	}
	if !e.defs.Has(key) {
		return fmt.Errorf("%w: %s", ErrPathwayNotFound, key)
	}
	if !e.handlers.Insert(key, fn) {
		return fmt.Errorf("%w: %s", ErrDuplicateHandler, key)
	}
	return nil
}

// WithSessionUserResolver registers a user resolver for one session.
// It expires after ttl, or the engine's session TTL when ttl is not
// positive. Registering again for the same session replaces it.
func (e *Engine) WithSessionUserResolver(sessionID string, fn UserResolver, ttl time.Duration) {
	if ttl <= 0 {
		ttl = e.cfg.sessionTTL
	}
	now := time.Now()
	e.resolvers.DeleteFunc(func(_ string, r sessionResolver) bool {
		return !now.Before(r.expiresAt)
	})
	e.resolvers.Put(sessionID, sessionResolver{resolve: fn, expiresAt: now.Add(ttl)})
}

// sessionResolverFor returns the live resolver for sessionID, pruning it
// if it has expired.
func (e *Engine) sessionResolverFor(sessionID string) (UserResolver, bool) {
	r, ok := e.resolvers.Get(sessionID)
	if !ok {
		return nil, false
	}
	if !time.Now().Before(r.expiresAt) {
		e.resolvers.Update(sessionID, func(cur sessionResolver, exists bool) (sessionResolver, bool) {
			return cur, exists && time.Now().Before(cur.expiresAt)
		})
		return nil, false
	}
	return r.resolve, true
}

// Builder attaches a handler and subscribers to one registered pathway.
// Methods chain; the first error is kept and reported by Err.
type Builder struct {
	engine *Engine
	key    Key
	err    error
}

// Key returns the pathway key.
func (b *Builder) Key() Key {
	return b.key
}

// Err returns the first error raised while chaining.
func (b *Builder) Err() error {
	return b.err
}

// Handle binds the pathway handler.
func (b *Builder) Handle(fn Handler) *Builder {
	if b.err == nil {
		b.err = b.engine.Handle(b.key, fn)
	}
	return b
}

// Subscribe attaches a lifecycle listener for the given phase.
func (b *Builder) Subscribe(fn Listener, phase Phase) *Builder {
	if b.err == nil {
		_, b.err = b.engine.Subscribe(b.key, fn, phase)
	}
	return b
}

// OnError attaches a listener for failed handler attempts.
func (b *Builder) OnError(fn ErrorListener) *Builder {
	if b.err == nil {
		_, b.err = b.engine.OnError(b.key, fn)
	}
	return b
}

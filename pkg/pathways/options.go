package pathways

import (
	"log/slog"
	"maps"
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways/config"
	"github.com/randalmurphal/pathways/pkg/pathways/deadletter"
	"github.com/randalmurphal/pathways/pkg/pathways/observability"
	"github.com/randalmurphal/pathways/pkg/pathways/retry"
	"github.com/randalmurphal/pathways/pkg/pathways/state"
)

// Engine defaults.
const (
	// DefaultTimeout bounds the confirmation wait when nothing more
	// specific is configured.
	DefaultTimeout = 10 * time.Second

	// DefaultPollInterval is how often the confirmation wait polls the
	// state store.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultSessionResolverTTL is how long a session user resolver stays
	// registered.
	DefaultSessionResolverTTL = 10 * time.Second
)

// engineConfig holds engine-wide configuration.
type engineConfig struct {
	transport    Transport
	store        state.Store
	audit        AuditHandler
	userResolver UserResolver

	defaultTimeout time.Duration
	timeouts       map[Key]time.Duration
	pollInterval   time.Duration
	retry          retry.Policy
	sessionTTL     time.Duration
	markExhausted  bool
	deadLetter     deadletter.Queue

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
}

func defaultEngineConfig() engineConfig {
	return engineConfig{
		defaultTimeout: DefaultTimeout,
		timeouts:       make(map[Key]time.Duration),
		pollInterval:   DefaultPollInterval,
		retry:          retry.DefaultPolicy,
		sessionTTL:     DefaultSessionResolverTTL,
		markExhausted:  true,
		logger:         slog.New(slog.DiscardHandler),
		metrics:        observability.NoopMetrics{},
		spans:          observability.NoopSpanManager{},
	}
}

// EngineOption configures an Engine.
type EngineOption func(*engineConfig)

// WithTransport sets the transport that supplies writers for writable
// pathways. Pathways registered without one must set Writable to false.
func WithTransport(t Transport) EngineOption {
	return func(c *engineConfig) {
		c.transport = t
	}
}

// WithPathwayState sets the processed-state store shared by dispatch and
// the confirmation wait. Default: a state.MemoryStore owned by the engine.
func WithPathwayState(store state.Store) EngineOption {
	return func(c *engineConfig) {
		c.store = store
	}
}

// WithAudit sets a handler invoked for every validated inbound event
// before its pathway handler runs.
func WithAudit(fn AuditHandler) EngineOption {
	return func(c *engineConfig) {
		c.audit = fn
	}
}

// WithUserResolver sets the resolver used for writes outside a session.
// Its errors fail the write.
func WithUserResolver(fn UserResolver) EngineOption {
	return func(c *engineConfig) {
		c.userResolver = fn
	}
}

// WithDefaultTimeout sets the fallback confirmation timeout.
// Default: 10s
func WithDefaultTimeout(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.defaultTimeout = d
		}
	}
}

// WithTimeouts sets per-pathway confirmation timeouts. They take
// precedence over Contract.Timeout.
func WithTimeouts(timeouts map[Key]time.Duration) EngineOption {
	return func(c *engineConfig) {
		maps.Copy(c.timeouts, timeouts)
	}
}

// WithPollInterval sets how often the confirmation wait polls.
// Default: 100ms
func WithPollInterval(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithDefaultRetry sets the policy for pathways whose contract does not
// override it. Default: retry.DefaultPolicy (3 retries, 500ms).
func WithDefaultRetry(p retry.Policy) EngineOption {
	return func(c *engineConfig) {
		c.retry = p
	}
}

// WithSessionTTL sets the default lifetime of session user resolvers.
// Default: 10s
func WithSessionTTL(d time.Duration) EngineOption {
	return func(c *engineConfig) {
		if d > 0 {
			c.sessionTTL = d
		}
	}
}

// WithMarkProcessedOnExhaustedRetries controls whether an event whose
// handler exhausted its retries is still marked processed.
// Default: true, so writers waiting on the event are released.
func WithMarkProcessedOnExhaustedRetries(mark bool) EngineOption {
	return func(c *engineConfig) {
		c.markExhausted = mark
	}
}

// WithDeadLetter queues events whose handler exhausted its retries.
// Engine.Redrive processes them again.
func WithDeadLetter(q deadletter.Queue) EngineOption {
	return func(c *engineConfig) {
		c.deadLetter = q
	}
}

// WithLogger sets the engine logger. Default: discards all output.
func WithLogger(l *slog.Logger) EngineOption {
	return func(c *engineConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder. Default: observability.NoopMetrics.
func WithMetrics(m observability.MetricsRecorder) EngineOption {
	return func(c *engineConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing sets the span manager. Default: observability.NoopSpanManager.
func WithTracing(s observability.SpanManager) EngineOption {
	return func(c *engineConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// WithObservability enables OpenTelemetry metrics and tracing using the
// global providers.
func WithObservability() EngineOption {
	return func(c *engineConfig) {
		c.metrics = observability.NewMetricsRecorder()
		c.spans = observability.NewSpanManager()
	}
}

// WithSettings applies settings loaded by config.LoadEngineSettings.
// Zero durations and nil pointers leave the engine defaults in place.
// The state section is not applied; open it with config.OpenStore and
// pass the store to WithPathwayState.
func WithSettings(s config.EngineSettings) EngineOption {
	return func(c *engineConfig) {
		WithDefaultTimeout(s.Timeout)(c)
		WithPollInterval(s.PollInterval)(c)
		WithSessionTTL(s.SessionTTL)(c)
		if s.Retry != nil {
			c.retry = *s.Retry
		}
		if s.MarkProcessedOnExhaustedRetries != nil {
			c.markExhausted = *s.MarkProcessedOnExhaustedRetries
		}
		for k, d := range s.Timeouts {
			c.timeouts[Key(k)] = d
		}
	}
}

// WriteOption configures a single write.
type WriteOption func(*WriteOptions)

// WithSessionID attributes the write to a session. If a user resolver is
// registered for the session it supplies the audit user.
func WithSessionID(id string) WriteOption {
	return func(o *WriteOptions) {
		o.SessionID = id
	}
}

// WithFireAndForget returns as soon as the transport accepts the write.
func WithFireAndForget() WriteOption {
	return func(o *WriteOptions) {
		o.FireAndForget = true
	}
}

// WithTimeout overrides the confirmation timeout for this write.
func WithTimeout(d time.Duration) WriteOption {
	return func(o *WriteOptions) {
		if d > 0 {
			o.Timeout = d
		}
	}
}

// WithAuditMode selects user or system audit stamping.
// Default: AuditModeUser.
func WithAuditMode(m AuditMode) WriteOption {
	return func(o *WriteOptions) {
		o.AuditMode = m
	}
}

package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways/retry"
	"github.com/randalmurphal/pathways/pkg/pathways/schema"
	"github.com/randalmurphal/pathways/pkg/pathways/state"
)

// Defaults applied when a document omits a setting.
const (
	DefaultTimeout      = 10 * time.Second
	DefaultPollInterval = 100 * time.Millisecond
	DefaultSessionTTL   = 10 * time.Second
)

// State drivers understood by OpenStore.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrUnknownDriver indicates a state driver OpenStore cannot open.
var ErrUnknownDriver = errors.New("unknown state driver")

// EngineSettings are the engine-wide knobs read from the "engine" and
// "state" sections.
type EngineSettings struct {
	Timeout                         time.Duration
	PollInterval                    time.Duration
	SessionTTL                      time.Duration

	// MarkProcessedOnExhaustedRetries and Retry are nil when unset; the
	// engine then keeps its own defaults.
	MarkProcessedOnExhaustedRetries *bool
	Retry                           *retry.Policy

	// Timeouts overrides the confirmation timeout per pathway key.
	Timeouts map[string]time.Duration

	State StateSettings
}

// StateSettings select and configure the processed-state store.
type StateSettings struct {
	Driver string
	DSN    string
	Table  string
	TTL    time.Duration
}

// ContractSpec is one entry of the "pathways" list.
type ContractSpec struct {
	FlowType   string
	EventType  string
	Writable   *bool
	MaxRetries *int
	RetryDelay time.Duration
	Timeout    time.Duration
	File       bool

	// Schema is nil when the entry declares none.
	Schema schema.Schema
}

// LoadEngineSettings reads the engine and state sections of cfg, filling
// in defaults for anything missing.
func LoadEngineSettings(cfg Config) (EngineSettings, error) {
	engine := cfg.Sub("engine")
	retryCfg := engine.Sub("retry")

	s := EngineSettings{
		Timeout:                         engine.Duration("timeout", DefaultTimeout),
		PollInterval:                    engine.Duration("poll_interval", DefaultPollInterval),
		SessionTTL:                      engine.Duration("session_ttl", DefaultSessionTTL),
		Timeouts:                        make(map[string]time.Duration),
	}
	mark := engine.Bool("mark_processed_on_exhausted_retries", true)
	s.MarkProcessedOnExhaustedRetries = &mark
	policy := retry.NewPolicy(
		retry.WithMaxRetries(retryCfg.Int("max_retries", retry.DefaultPolicy.MaxRetries)),
		retry.WithDelay(retryCfg.Duration("delay", retry.DefaultPolicy.Delay)),
	)
	s.Retry = &policy

	timeouts := engine.Sub("timeouts")
	for _, key := range timeouts.Keys() {
		d, ok := toDuration(timeouts.Raw()[key])
		if !ok {
			return EngineSettings{}, fmt.Errorf("engine.timeouts[%s]: invalid duration", key)
		}
		s.Timeouts[key] = d
	}

	st := cfg.Sub("state")
	s.State = StateSettings{
		Driver: st.String("driver", DriverMemory),
		DSN:    st.String("dsn", ""),
		Table:  st.String("table", state.DefaultTable),
		TTL:    st.Duration("ttl", state.DefaultTTL),
	}
	switch s.State.Driver {
	case DriverMemory, DriverSQLite, DriverPostgres:
	default:
		return EngineSettings{}, fmt.Errorf("%w: %q", ErrUnknownDriver, s.State.Driver)
	}
	if s.State.Driver != DriverMemory && s.State.DSN == "" {
		return EngineSettings{}, fmt.Errorf("state.dsn is required for driver %q", s.State.Driver)
	}
	return s, nil
}

// LoadContracts reads the "pathways" list of cfg.
func LoadContracts(cfg Config) ([]ContractSpec, error) {
	entries := cfg.List("pathways")
	specs := make([]ContractSpec, 0, len(entries))

	for i, entry := range entries {
		spec := ContractSpec{
			FlowType:   entry.String("flow_type", ""),
			EventType:  entry.String("event_type", ""),
			Writable:   entry.BoolPtr("writable"),
			MaxRetries: entry.IntPtr("max_retries"),
			RetryDelay: entry.Duration("retry_delay", 0),
			Timeout:    entry.Duration("timeout", 0),
			File:       entry.Bool("file", false),
		}
		if spec.FlowType == "" || spec.EventType == "" {
			return nil, fmt.Errorf("pathways[%d]: flow_type and event_type are required", i)
		}

		if entry.Has("schema") {
			s, err := loadSchema(entry.Sub("schema"))
			if err != nil {
				return nil, fmt.Errorf("pathways[%d] (%s/%s): %w", i, spec.FlowType, spec.EventType, err)
			}
			spec.Schema = s
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

func loadSchema(cfg Config) (schema.Schema, error) {
	fieldCfgs := cfg.List("fields")
	fields := make([]schema.Field, 0, len(fieldCfgs))

	for _, fc := range fieldCfgs {
		name := fc.String("name", "")
		if name == "" {
			return nil, errors.New("schema field without name")
		}
		t, err := schema.ParseType(fc.String("type", ""))
		if err != nil {
			return nil, fmt.Errorf("schema field %q: %w", name, err)
		}
		fields = append(fields, schema.Field{
			Name:     name,
			Type:     t,
			Optional: fc.Bool("optional", false),
		})
	}

	obj := schema.Object(fields...)
	if cfg.Bool("strict", false) {
		obj = obj.Closed()
	}
	return obj, nil
}

// OpenStore opens the state store described by s.
func OpenStore(ctx context.Context, s StateSettings) (state.Store, error) {
	opts := []state.Option{state.WithTTL(s.TTL)}
	if s.Table != "" {
		opts = append(opts, state.WithTable(s.Table))
	}

	switch s.Driver {
	case "", DriverMemory:
		return state.NewMemoryStore(opts...), nil
	case DriverSQLite:
		store, err := state.NewSQLiteStore(ctx, s.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverPostgres:
		store, err := state.OpenPostgres(ctx, s.DSN, opts...)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, s.Driver)
	}
}

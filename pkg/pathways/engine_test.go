package pathways_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways"
	"github.com/randalmurphal/pathways/pkg/pathways/config"
	"github.com/randalmurphal/pathways/pkg/pathways/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKey(t *testing.T) {
	k := pathways.NewKey("orders", "placed")
	assert.Equal(t, pathways.Key("orders/placed"), k)

	flow, evt := k.Split()
	assert.Equal(t, "orders", flow)
	assert.Equal(t, "placed", evt)

	flow, evt = pathways.Key("docs/report/v2").Split()
	assert.Equal(t, "docs", flow)
	assert.Equal(t, "report/v2", evt)

	assert.Equal(t, k, pathways.Event{FlowType: "orders", EventType: "placed"}.Key())
}

func TestRegister_Defaults(t *testing.T) {
	e, _ := newEngine(t)

	b, err := e.Register(pathways.Contract{FlowType: "orders", EventType: "placed"})
	require.NoError(t, err)
	assert.Equal(t, pathways.Key("orders/placed"), b.Key())
	assert.True(t, e.Get(b.Key()))

	def, ok := e.Definition(b.Key())
	require.True(t, ok)
	assert.True(t, def.Writable)
	assert.Equal(t, pathways.ModeNormal, def.Mode)
	assert.Equal(t, retry.DefaultPolicy, def.Retry)
	assert.NotNil(t, def.Writer)
	assert.NotNil(t, def.BatchWriter)
	assert.Nil(t, def.FileWriter)
}

func TestRegister_Overrides(t *testing.T) {
	e, _ := newEngine(t)

	b, err := e.Register(pathways.Contract{
		FlowType:      "reports",
		EventType:     "uploaded",
		MaxRetries:    pathways.Retries(0),
		RetryDelay:    time.Second,
		Timeout:       3 * time.Second,
		IsFilePathway: true,
	})
	require.NoError(t, err)

	def, _ := e.Definition(b.Key())
	assert.Equal(t, pathways.ModeFile, def.Mode)
	assert.Equal(t, retry.Policy{MaxRetries: 0, Delay: time.Second}, def.Retry)
	assert.Equal(t, 3*time.Second, def.Timeout)
	assert.NotNil(t, def.FileWriter)
	assert.Nil(t, def.Writer)
	assert.Nil(t, def.BatchWriter)
}

func TestRegister_Collision(t *testing.T) {
	e, _ := newEngine(t)

	_, err := e.Register(pathways.Contract{FlowType: "orders", EventType: "placed", Timeout: time.Second})
	require.NoError(t, err)

	_, err = e.Register(pathways.Contract{FlowType: "orders", EventType: "placed", Timeout: time.Minute})
	assert.ErrorIs(t, err, pathways.ErrPathwayExists)

	def, _ := e.Definition("orders/placed")
	assert.Equal(t, time.Second, def.Timeout, "failed registration must not overwrite")
}

// bindingTransport counts how often writers are bound.
type bindingTransport struct {
	pathways.TransportFuncs
	binds atomic.Int32
}

func (t *bindingTransport) Writer(key pathways.Key) pathways.Writer {
	t.binds.Add(1)
	return t.TransportFuncs.Writer(key)
}

func TestRegister_CollisionSkipsWriterBinding(t *testing.T) {
	tr := &bindingTransport{TransportFuncs: pathways.TransportFuncs{
		Write: func(context.Context, pathways.Key, any, pathways.Metadata, pathways.WriteOptions) (string, error) {
			return "id", nil
		},
	}}
	e := pathways.New(pathways.WithTransport(tr))
	defer e.Close()

	_, err := e.Register(pathways.Contract{FlowType: "orders", EventType: "placed"})
	require.NoError(t, err)
	require.EqualValues(t, 1, tr.binds.Load())

	_, err = e.Register(pathways.Contract{FlowType: "orders", EventType: "placed"})
	assert.ErrorIs(t, err, pathways.ErrPathwayExists)
	assert.EqualValues(t, 1, tr.binds.Load(), "a rejected registration binds no writers")
}

func TestRegister_Replace(t *testing.T) {
	e, _ := newEngine(t)
	rec := &recorder{}

	b := registerOrders(t, e, pathways.Contract{})
	b.Handle(func(ctx context.Context, evt pathways.Event) error { return nil }).
		Subscribe(rec.listener("sub"), pathways.PhaseBefore)
	require.NoError(t, b.Err())

	_, err := e.Register(pathways.Contract{
		FlowType: "orders", EventType: "placed",
		Writable: pathways.Writable(false),
		Replace:  true,
	})
	require.NoError(t, err)

	def, _ := e.Definition("orders/placed")
	assert.False(t, def.Writable)

	// Handler and subscribers survive the replacement.
	require.NoError(t, e.Process(context.Background(), "orders/placed", orderEvent("1")))
	assert.Equal(t, []string{"sub:before"}, rec.Events())
}

func TestRegister_Errors(t *testing.T) {
	t.Run("missing event type", func(t *testing.T) {
		e, _ := newEngine(t)
		_, err := e.Register(pathways.Contract{FlowType: "orders"})
		assert.ErrorIs(t, err, pathways.ErrInvalidContract)
	})

	t.Run("writable without transport", func(t *testing.T) {
		e := pathways.New()
		defer e.Close()
		_, err := e.Register(pathways.Contract{FlowType: "orders", EventType: "placed"})
		assert.ErrorIs(t, err, pathways.ErrNoTransport)
	})

	t.Run("read-only without transport", func(t *testing.T) {
		e := pathways.New()
		defer e.Close()
		_, err := e.Register(pathways.Contract{
			FlowType: "orders", EventType: "placed",
			Writable: pathways.Writable(false),
		})
		assert.NoError(t, err)
	})

	t.Run("transport without file writer", func(t *testing.T) {
		e := pathways.New(pathways.WithTransport(pathways.TransportFuncs{}))
		defer e.Close()
		_, err := e.Register(pathways.Contract{
			FlowType: "reports", EventType: "uploaded", IsFilePathway: true,
		})
		assert.ErrorIs(t, err, pathways.ErrNoTransport)
	})

	t.Run("separator in names", func(t *testing.T) {
		e, _ := newEngine(t)
		for _, c := range []pathways.Contract{
			{FlowType: "orders/eu", EventType: "placed"},
			{FlowType: "orders.eu", EventType: "placed"},
			{FlowType: "orders", EventType: "placed/v2"},
			{FlowType: "orders", EventType: "placed.v2"},
		} {
			_, err := e.Register(c)
			assert.ErrorIs(t, err, pathways.ErrInvalidContract, "%s/%s", c.FlowType, c.EventType)
		}
		assert.Empty(t, e.Keys())
	})

	t.Run("must register panics", func(t *testing.T) {
		e, _ := newEngine(t)
		assert.Panics(t, func() { e.MustRegister(pathways.Contract{}) })
	})
}

func TestHandle_Duplicate(t *testing.T) {
	e, _ := newEngine(t)
	b := registerOrders(t, e, pathways.Contract{})

	noop := func(context.Context, pathways.Event) error { return nil }
	require.NoError(t, e.Handle(b.Key(), noop))

	err := e.Handle(b.Key(), noop)
	assert.ErrorIs(t, err, pathways.ErrDuplicateHandler)

	b.Handle(noop)
	assert.ErrorIs(t, b.Err(), pathways.ErrDuplicateHandler)
}

func TestHandle_UnknownKey(t *testing.T) {
	e, _ := newEngine(t)
	err := e.Handle("orders/missing", func(context.Context, pathways.Event) error { return nil })
	assert.ErrorIs(t, err, pathways.ErrPathwayNotFound)
}

func TestKeys(t *testing.T) {
	e, _ := newEngine(t)
	e.MustRegister(pathways.Contract{FlowType: "users", EventType: "created"})
	e.MustRegister(pathways.Contract{FlowType: "orders", EventType: "placed"})

	assert.Equal(t, []pathways.Key{"orders/placed", "users/created"}, e.Keys())
	assert.False(t, e.Get("orders/cancelled"))
}

func TestRegisterContracts(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
pathways:
  - flow_type: orders
    event_type: placed
    max_retries: 1
    schema:
      fields:
        - {name: orderId, type: string}
  - flow_type: reports
    event_type: uploaded
    file: true
`))
	require.NoError(t, err)
	specs, err := config.LoadContracts(cfg)
	require.NoError(t, err)

	e, _ := newEngine(t)
	builders, err := e.RegisterContracts(specs)
	require.NoError(t, err)
	require.Len(t, builders, 2)

	def, ok := e.Definition("orders/placed")
	require.True(t, ok)
	assert.Equal(t, 1, def.Retry.MaxRetries)
	require.NotNil(t, def.Schema)
	assert.Error(t, def.Schema.Validate(map[string]any{}))

	def, ok = e.Definition("reports/uploaded")
	require.True(t, ok)
	assert.Equal(t, pathways.ModeFile, def.Mode)
}

func TestWithSettings(t *testing.T) {
	cfg, err := config.FromYAML([]byte(`
engine:
  retry: {max_retries: 1, delay: 5ms}
  timeouts: {orders/placed: 40ms}
`))
	require.NoError(t, err)
	settings, err := config.LoadEngineSettings(cfg)
	require.NoError(t, err)

	e, _ := newEngine(t, pathways.WithSettings(settings), pathways.WithPathwayState(neverStore{}))
	b := e.MustRegister(pathways.Contract{FlowType: "orders", EventType: "placed"})

	def, _ := e.Definition(b.Key())
	assert.Equal(t, retry.Policy{MaxRetries: 1, Delay: 5 * time.Millisecond}, def.Retry)

	start := time.Now()
	_, err = e.Write(context.Background(), b.Key(), map[string]any{}, nil)
	assert.ErrorIs(t, err, pathways.ErrConfirmationTimeout)
	assert.Less(t, time.Since(start), time.Second, "per-key timeout from settings applies")
}

func TestWithSettings_ZeroValueKeepsDefaults(t *testing.T) {
	store := newCountingStore()
	e, _ := newEngine(t, pathways.WithSettings(config.EngineSettings{}), pathways.WithPathwayState(store))

	shipped := e.MustRegister(pathways.Contract{FlowType: "orders", EventType: "shipped"})
	def, _ := e.Definition(shipped.Key())
	assert.Equal(t, retry.DefaultPolicy, def.Retry)

	b := registerOrders(t, e, pathways.Contract{MaxRetries: pathways.Retries(0)})
	b.Handle(func(context.Context, pathways.Event) error { return errors.New("fail") })
	require.NoError(t, b.Err())

	require.Error(t, e.Process(context.Background(), b.Key(), orderEvent("evt-1")))
	assert.Equal(t, []string{"evt-1"}, store.Marked(), "exhausted events are still marked")
}

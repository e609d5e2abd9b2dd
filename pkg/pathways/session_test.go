package pathways_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/randalmurphal/pathways/pkg/pathways"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSessionEngine(t *testing.T, opts ...pathways.EngineOption) (*pathways.Engine, *capturingTransport) {
	t.Helper()
	ct := &capturingTransport{}
	e := pathways.New(append([]pathways.EngineOption{pathways.WithTransport(ct.funcs())}, opts...)...)
	t.Cleanup(func() { require.NoError(t, e.Close()) })
	e.MustRegister(pathways.Contract{FlowType: "orders", EventType: "placed"})
	return e, ct
}

func TestNewSession_GeneratesID(t *testing.T) {
	e, _ := newSessionEngine(t)

	a := pathways.NewSession(e)
	b := pathways.NewSession(e)

	_, err := uuid.Parse(a.ID())
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
}

func TestNewSession_AdoptsID(t *testing.T) {
	e, _ := newSessionEngine(t)
	s := pathways.NewSession(e, pathways.WithSessionIDValue("req-42"))
	assert.Equal(t, "req-42", s.ID())
}

func TestSession_WriteCarriesID(t *testing.T) {
	e, ct := newSessionEngine(t)
	s := pathways.NewSession(e, pathways.WithSessionIDValue("req-42"))

	_, err := s.Write(context.Background(), "orders/placed", map[string]any{}, nil, pathways.WithFireAndForget())
	require.NoError(t, err)
	require.Len(t, ct.opts, 1)
	assert.Equal(t, "req-42", ct.opts[0].SessionID)

	_, err = s.Write(context.Background(), "orders/placed", map[string]any{}, nil,
		pathways.WithFireAndForget(), pathways.WithSessionID("override"))
	require.NoError(t, err)
	assert.Equal(t, "override", ct.opts[1].SessionID, "explicit option wins")
}

func TestSession_ResolversAreIsolated(t *testing.T) {
	e, ct := newSessionEngine(t,
		pathways.WithUserResolver(func(context.Context) (string, error) { return "global", nil }))

	alice := pathways.NewSession(e).WithUserResolver(func(context.Context) (string, error) { return "alice", nil })
	bob := pathways.NewSession(e).WithUserResolver(func(context.Context) (string, error) { return "bob", nil })
	anon := pathways.NewSession(e)

	ctx := context.Background()
	for _, s := range []*pathways.Session{alice, bob, anon} {
		_, err := s.Write(ctx, "orders/placed", map[string]any{}, nil, pathways.WithFireAndForget())
		require.NoError(t, err)
	}
	_, err := e.Write(ctx, "orders/placed", map[string]any{}, nil, pathways.WithFireAndForget())
	require.NoError(t, err)

	require.Len(t, ct.meta, 4)
	assert.Equal(t, "alice", ct.meta[0][pathways.MetaUserID])
	assert.Equal(t, "bob", ct.meta[1][pathways.MetaUserID])
	assert.Equal(t, "global", ct.meta[2][pathways.MetaUserID], "session without resolver falls back")
	assert.Equal(t, "global", ct.meta[3][pathways.MetaUserID])
}

func TestSession_ResolverErrorIsSwallowed(t *testing.T) {
	e, ct := newSessionEngine(t,
		pathways.WithUserResolver(func(context.Context) (string, error) { return "global", nil }))

	s := pathways.NewSession(e).WithUserResolver(func(context.Context) (string, error) {
		return "", errors.New("session gone")
	})

	ids, err := s.Write(context.Background(), "orders/placed", map[string]any{}, pathways.Metadata{"k": "v"},
		pathways.WithFireAndForget())
	require.NoError(t, err)
	assert.Len(t, ids, 1)
	assert.Equal(t, pathways.Metadata{"k": "v"}, ct.meta[0], "written without audit keys")
}

func TestSession_ResolverExpires(t *testing.T) {
	e, ct := newSessionEngine(t)

	s := pathways.NewSession(e, pathways.WithResolverTTL(20*time.Millisecond)).
		WithUserResolver(func(context.Context) (string, error) { return "alice", nil })

	ctx := context.Background()
	_, err := s.Write(ctx, "orders/placed", map[string]any{}, nil, pathways.WithFireAndForget())
	require.NoError(t, err)

	time.Sleep(40 * time.Millisecond)

	_, err = s.Write(ctx, "orders/placed", map[string]any{}, nil, pathways.WithFireAndForget())
	require.NoError(t, err)

	require.Len(t, ct.meta, 2)
	assert.Equal(t, "alice", ct.meta[0][pathways.MetaUserID])
	assert.NotContains(t, ct.meta[1], pathways.MetaUserID)
}

func TestSession_EngineSessionTTL(t *testing.T) {
	e, ct := newSessionEngine(t, pathways.WithSessionTTL(20*time.Millisecond))

	e.WithSessionUserResolver("s-1", func(context.Context) (string, error) { return "carol", nil }, 0)
	time.Sleep(40 * time.Millisecond)

	_, err := e.Write(context.Background(), "orders/placed", map[string]any{}, nil,
		pathways.WithSessionID("s-1"), pathways.WithFireAndForget())
	require.NoError(t, err)
	assert.NotContains(t, ct.meta[0], pathways.MetaUserID)
}

func TestSession_SystemAuditMode(t *testing.T) {
	e, ct := newSessionEngine(t)
	s := pathways.NewSession(e).WithUserResolver(func(context.Context) (string, error) { return "dave", nil })

	_, err := s.Write(context.Background(), "orders/placed", map[string]any{}, nil,
		pathways.WithAuditMode(pathways.AuditModeSystem), pathways.WithFireAndForget())
	require.NoError(t, err)

	assert.Equal(t, pathways.SystemUserID, ct.meta[0][pathways.MetaUserID])
	assert.Equal(t, "dave", ct.meta[0][pathways.MetaOnBehalfOf])
}

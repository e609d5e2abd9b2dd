package pathways

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Session groups writes under one id and can carry its own user resolver.
type Session struct {
	engine *Engine
	id     string
	ttl    time.Duration
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionIDValue adopts an existing session id instead of generating
// one.
func WithSessionIDValue(id string) SessionOption {
	return func(s *Session) {
		if id != "" {
			s.id = id
		}
	}
}

// WithResolverTTL sets how long resolvers registered through the session
// stay valid. Default: the engine's session TTL.
func WithResolverTTL(d time.Duration) SessionOption {
	return func(s *Session) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// NewSession creates a session on e. Without WithSessionIDValue the id is
// a random UUID.
func NewSession(e *Engine, opts ...SessionOption) *Session {
	s := &Session{engine: e}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// WithUserResolver registers fn as this session's user resolver.
func (s *Session) WithUserResolver(fn UserResolver) *Session {
	s.engine.WithSessionUserResolver(s.id, fn, s.ttl)
	return s
}

// withSession puts the session id first so an explicit WithSessionID from
// the caller still wins.
func (s *Session) withSession(opts []WriteOption) []WriteOption {
	return append([]WriteOption{WithSessionID(s.id)}, opts...)
}

// Write is Engine.Write attributed to the session.
func (s *Session) Write(ctx context.Context, key Key, payload any, meta Metadata, opts ...WriteOption) ([]string, error) {
	return s.engine.Write(ctx, key, payload, meta, s.withSession(opts)...)
}

// WriteBatch is Engine.WriteBatch attributed to the session.
func (s *Session) WriteBatch(ctx context.Context, key Key, payloads []any, meta Metadata, opts ...WriteOption) ([]string, error) {
	return s.engine.WriteBatch(ctx, key, payloads, meta, s.withSession(opts)...)
}

// WriteFile is Engine.WriteFile attributed to the session.
func (s *Session) WriteFile(ctx context.Context, key Key, file File, meta Metadata, opts ...WriteOption) ([]string, error) {
	return s.engine.WriteFile(ctx, key, file, meta, s.withSession(opts)...)
}

package pathways

import (
	"context"
	"time"
)

// WriteOptions travel with every outbound write to the transport.
type WriteOptions struct {
	// SessionID is set for writes made through a Session or WithSessionID.
	SessionID string

	// FireAndForget skips the confirmation wait.
	FireAndForget bool

	// Timeout overrides the confirmation timeout. Zero means unset.
	Timeout time.Duration

	// AuditMode selects how the resolved user is recorded.
	AuditMode AuditMode
}

// Writer delivers one payload and returns the id the service assigned.
type Writer func(ctx context.Context, payload any, meta Metadata, opts WriteOptions) (string, error)

// BatchWriter delivers several payloads in one call.
type BatchWriter func(ctx context.Context, payloads []any, meta Metadata, opts WriteOptions) ([]string, error)

// FileWriter delivers a file and returns the ids of the events it produced.
type FileWriter func(ctx context.Context, file File, meta Metadata, opts WriteOptions) ([]string, error)

// Transport hands out the writers bound to each writable pathway at
// registration. A transport may return nil for kinds it does not support;
// the engine then rejects registration of a pathway that needs it.
type Transport interface {
	Writer(key Key) Writer
	BatchWriter(key Key) BatchWriter
	FileWriter(key Key) FileWriter
}

// TransportFuncs adapts plain functions to Transport. Nil fields yield
// nil writers.
type TransportFuncs struct {
	Write      func(ctx context.Context, key Key, payload any, meta Metadata, opts WriteOptions) (string, error)
	WriteBatch func(ctx context.Context, key Key, payloads []any, meta Metadata, opts WriteOptions) ([]string, error)
	WriteFile  func(ctx context.Context, key Key, file File, meta Metadata, opts WriteOptions) ([]string, error)
}

// Compile-time interface check.
var _ Transport = TransportFuncs{}

// Writer implements Transport.
func (t TransportFuncs) Writer(key Key) Writer {
	if t.Write == nil {
		return nil
	}
	return func(ctx context.Context, payload any, meta Metadata, opts WriteOptions) (string, error) {
		return t.Write(ctx, key, payload, meta, opts)
	}
}

// BatchWriter implements Transport. Without WriteBatch it falls back to
// calling Write once per payload.
func (t TransportFuncs) BatchWriter(key Key) BatchWriter {
	if t.WriteBatch != nil {
		return func(ctx context.Context, payloads []any, meta Metadata, opts WriteOptions) ([]string, error) {
			return t.WriteBatch(ctx, key, payloads, meta, opts)
		}
	}
	if t.Write == nil {
		return nil
	}
	return func(ctx context.Context, payloads []any, meta Metadata, opts WriteOptions) ([]string, error) {
		ids := make([]string, 0, len(payloads))
		for _, p := range payloads {
			id, err := t.Write(ctx, key, p, meta, opts)
			if err != nil {
				return ids, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	}
}

// FileWriter implements Transport.
func (t TransportFuncs) FileWriter(key Key) FileWriter {
	if t.WriteFile == nil {
		return nil
	}
	return func(ctx context.Context, file File, meta Metadata, opts WriteOptions) ([]string, error) {
		return t.WriteFile(ctx, key, file, meta, opts)
	}
}

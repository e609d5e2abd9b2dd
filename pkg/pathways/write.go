package pathways

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways/observability"
)

// writeKind is the entry point a write came through.
type writeKind int

const (
	writeSingle writeKind = iota
	writeBatch
	writeFile
)

func (k writeKind) String() string {
	switch k {
	case writeBatch:
		return "batch"
	case writeFile:
		return "file"
	default:
		return "single"
	}
}

// writeRequest carries one outbound write through the write path.
type writeRequest struct {
	key      Key
	kind     writeKind
	payload  any
	payloads []any
	file     File
	meta     Metadata
	opts     WriteOptions
}

// Write sends one payload on key and, unless WithFireAndForget is given,
// waits until the event is confirmed processed.
//
// On a file pathway the payload must be a File or *File.
func (e *Engine) Write(ctx context.Context, key Key, payload any, meta Metadata, opts ...WriteOption) ([]string, error) {
	return e.write(ctx, writeRequest{key: key, kind: writeSingle, payload: payload, meta: meta, opts: buildWriteOptions(opts)})
}

// WriteBatch sends several payloads in one transport call. Every element
// is validated before anything is sent. File pathways do not support
// batches.
func (e *Engine) WriteBatch(ctx context.Context, key Key, payloads []any, meta Metadata, opts ...WriteOption) ([]string, error) {
	return e.write(ctx, writeRequest{key: key, kind: writeBatch, payloads: payloads, meta: meta, opts: buildWriteOptions(opts)})
}

// WriteFile sends a file on a file pathway.
func (e *Engine) WriteFile(ctx context.Context, key Key, file File, meta Metadata, opts ...WriteOption) ([]string, error) {
	return e.write(ctx, writeRequest{key: key, kind: writeFile, file: file, meta: meta, opts: buildWriteOptions(opts)})
}

func buildWriteOptions(opts []WriteOption) WriteOptions {
	var o WriteOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (e *Engine) write(ctx context.Context, req writeRequest) (ids []string, err error) {
	def, ok := e.defs.Get(req.key)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPathwayNotFound, req.key)
	}
	if !def.Writable {
		return nil, fmt.Errorf("%w: %s", ErrNotWritable, req.key)
	}
	if err := e.checkPayload(def, &req); err != nil {
		return nil, err
	}

	ctx, span := e.cfg.spans.StartWriteSpan(ctx, string(req.key), req.kind.String())
	defer func() { e.cfg.spans.EndSpanWithError(span, err) }()

	meta, err := e.auditMetadata(ctx, req.key, req.meta, req.opts)
	if err != nil {
		return nil, err
	}

	done := observability.TimedOperation()
	ids, err = e.send(ctx, def, req, meta)
	e.cfg.metrics.RecordWrite(ctx, string(req.key), len(ids), err)
	if err != nil {
		observability.LogWriteError(e.cfg.logger, string(req.key), err)
		return ids, fmt.Errorf("write %s: %w", req.key, err)
	}
	observability.LogWriteComplete(e.cfg.logger, string(req.key), ids, done())

	if req.opts.FireAndForget {
		return ids, nil
	}
	if err := e.waitProcessed(ctx, req.key, ids, e.effectiveTimeout(def, req.opts)); err != nil {
		return ids, err
	}
	return ids, nil
}

// checkPayload enforces the pathway mode and schema. It normalizes a
// *File payload on Write into req.file.
func (e *Engine) checkPayload(def Definition, req *writeRequest) error {
	if def.Mode == ModeFile {
		switch req.kind {
		case writeBatch:
			return fmt.Errorf("%w: %s", ErrBatchOnFilePathway, req.key)
		case writeSingle:
			switch f := req.payload.(type) {
			case File:
				req.file = f
			case *File:
				if f == nil {
					return fmt.Errorf("%w: %s", ErrFilePayload, req.key)
				}
				req.file = *f
			default:
				return fmt.Errorf("%w: %s: got %T", ErrFilePayload, req.key, req.payload)
			}
			req.kind = writeFile
		}
		return nil
	}

	if req.kind == writeFile {
		return fmt.Errorf("%w: %s", ErrNotFilePathway, req.key)
	}
	if def.Schema == nil {
		return nil
	}
	if req.kind == writeBatch {
		for i, p := range req.payloads {
			if err := def.Schema.Validate(p); err != nil {
				return &ValidationError{Key: req.key, Index: i, Err: err}
			}
		}
		return nil
	}
	if err := def.Schema.Validate(req.payload); err != nil {
		return &ValidationError{Key: req.key, Index: -1, Err: err}
	}
	return nil
}

// auditMetadata returns a copy of meta stamped with the resolved user.
//
// A session resolver, when the write names a session that has one, wins
// over the engine resolver; its errors are logged and the write proceeds
// unstamped. Engine resolver errors fail the write.
func (e *Engine) auditMetadata(ctx context.Context, key Key, meta Metadata, opts WriteOptions) (Metadata, error) {
	out := meta.Clone()

	var userID string
	if resolve, ok := e.sessionResolverFor(opts.SessionID); opts.SessionID != "" && ok {
		id, err := resolve(ctx)
		if err != nil {
			observability.LogResolverError(e.cfg.logger, string(key), opts.SessionID, err)
			return out, nil
		}
		userID = id
	} else if e.cfg.userResolver != nil {
		id, err := e.cfg.userResolver(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolve user for %s: %w", key, err)
		}
		userID = id
	}

	if userID == "" {
		return out, nil
	}
	if opts.AuditMode == AuditModeSystem {
		out[MetaUserID] = SystemUserID
		out[MetaOnBehalfOf] = userID
	} else {
		out[MetaUserID] = userID
	}
	out[MetaAuditMode] = opts.AuditMode.String()
	return out, nil
}

func (e *Engine) send(ctx context.Context, def Definition, req writeRequest, meta Metadata) ([]string, error) {
	switch req.kind {
	case writeFile:
		return def.FileWriter(ctx, req.file, meta, req.opts)
	case writeBatch:
		if def.BatchWriter == nil {
			return nil, fmt.Errorf("%w: %s: no batch writer", ErrNoTransport, req.key)
		}
		return def.BatchWriter(ctx, req.payloads, meta, req.opts)
	default:
		id, err := def.Writer(ctx, req.payload, meta, req.opts)
		if err != nil {
			return nil, err
		}
		return []string{id}, nil
	}
}

// effectiveTimeout picks the confirmation timeout: write option, then the
// engine's per-key override, then the pathway, then the engine default.
func (e *Engine) effectiveTimeout(def Definition, opts WriteOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	if d, ok := e.cfg.timeouts[def.Key]; ok && d > 0 {
		return d
	}
	if def.Timeout > 0 {
		return def.Timeout
	}
	return e.cfg.defaultTimeout
}

// waitProcessed polls the state store for every id concurrently and
// returns the first failure. The remaining waits are cancelled once one
// fails.
func (e *Engine) waitProcessed(ctx context.Context, key Key, ids []string, timeout time.Duration) error {
	if len(ids) == 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(ids))
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			errs <- e.waitOne(ctx, key, id, timeout)
		}(id)
	}

	var first error
	for range ids {
		if err := <-errs; err != nil && first == nil {
			first = err
			cancel()
		}
	}
	wg.Wait()
	return first
}

// waitOne polls until id is processed or timeout elapses.
func (e *Engine) waitOne(ctx context.Context, key Key, id string, timeout time.Duration) error {
	start := time.Now()
	ticker := time.NewTicker(e.cfg.pollInterval)
	defer ticker.Stop()

	for {
		processed, err := e.cfg.store.IsProcessed(ctx, id)
		if err != nil {
			return fmt.Errorf("check event %s: %w", id, err)
		}
		if processed {
			e.cfg.metrics.RecordConfirmation(ctx, string(key), time.Since(start), false)
			return nil
		}
		if time.Since(start) >= timeout {
			e.cfg.metrics.RecordConfirmation(ctx, string(key), time.Since(start), true)
			observability.LogConfirmationTimeout(e.cfg.logger, string(key), id, timeout)
			return &TimeoutError{Key: key, EventID: id, Timeout: timeout}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Package pathways routes typed events between an application and a
// remote ingestion service.
//
// A pathway maps a (flowType, eventType) pair, written "flowType/eventType",
// to a payload schema, a retry policy and, when writable, the transport
// functions that deliver outbound events. Inbound events enter through
// Engine.Process, which validates the payload, runs the bound handler with
// linear-backoff retries and emits before/after/error lifecycle events.
// Outbound events leave through Engine.Write, which validates, stamps
// audit metadata, hands the payload to the transport and then waits until
// the processed-state store confirms every returned event id.
//
// # Quick Start
//
//	engine := pathways.New(
//	    pathways.WithTransport(transport),
//	    pathways.WithPathwayState(state.NewMemoryStore()),
//	)
//
//	orders := engine.MustRegister(pathways.Contract{
//	    FlowType:  "orders",
//	    EventType: "placed",
//	    Schema:    schema.Struct[OrderPlaced](),
//	})
//	orders.Handle(func(ctx context.Context, evt pathways.Event) error {
//	    return fulfil(ctx, evt.Payload)
//	})
//	if err := orders.Err(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ids, err := engine.Write(ctx, orders.Key(), OrderPlaced{ID: "o-1"}, nil)
//
// # Delivery Confirmation
//
// Write blocks until the state store reports each returned id processed,
// polling every PollInterval up to the effective timeout. The timeout is
// chosen in order from WithTimeout, the engine's per-key Timeouts, the
// pathway's Contract.Timeout and finally DefaultTimeout. A timeout does
// not undo the remote write. Pass WithFireAndForget to skip the wait.
//
// # Retries
//
// A failing handler is retried up to MaxRetries times, waiting
// RetryDelay*N before retry N. Every failed attempt is emitted on the
// pathway's error channel and on the engine-wide error channel. Once
// retries are exhausted the event is still marked processed (unless
// disabled with WithMarkProcessedOnExhaustedRetries) so writers waiting on
// it are released, and Process returns the final *HandlerError.
//
// With WithDeadLetter the exhausted event is also queued. Redrive
// processes queued events again once the cause is fixed.
//
// # Sessions
//
// A Session stamps its id on every write and can carry its own user
// resolver, registered with the engine for a limited TTL. Resolver
// failures inside a session are logged and the write proceeds without
// audit metadata.
package pathways

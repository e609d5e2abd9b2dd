package pathways

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for registration.
var (
	// ErrPathwayNotFound indicates a key that was never registered.
	ErrPathwayNotFound = errors.New("pathway not found")

	// ErrPathwayExists indicates Register was called twice for one key
	// without Contract.Replace.
	ErrPathwayExists = errors.New("pathway already registered")

	// ErrDuplicateHandler indicates a second handler for the same key.
	ErrDuplicateHandler = errors.New("handler already registered for pathway")

	// ErrInvalidContract indicates a contract without a flow or event type.
	ErrInvalidContract = errors.New("flow type and event type are required")

	// ErrNoTransport indicates a writable pathway registered on an engine
	// without a transport, or a transport that returned no writer.
	ErrNoTransport = errors.New("no transport for writable pathway")
)

// Sentinel errors for writes.
var (
	// ErrNotWritable indicates a write to a pathway registered with
	// Writable set to false.
	ErrNotWritable = errors.New("pathway is not writable")

	// ErrValidation indicates a payload that failed its pathway schema.
	ErrValidation = errors.New("payload validation failed")

	// ErrBatchOnFilePathway indicates WriteBatch on a file pathway.
	ErrBatchOnFilePathway = errors.New("batch writes are not supported on file pathways")

	// ErrNotFilePathway indicates WriteFile on a normal pathway.
	ErrNotFilePathway = errors.New("pathway is not a file pathway")

	// ErrFilePayload indicates Write on a file pathway with a payload
	// that is not a File.
	ErrFilePayload = errors.New("file pathway requires a File payload")

	// ErrConfirmationTimeout indicates an event that was not confirmed
	// processed in time.
	ErrConfirmationTimeout = errors.New("timed out waiting for event to be processed")
)

// ValidationError reports a schema failure for a pathway payload.
type ValidationError struct {
	// Key is the pathway whose schema rejected the payload.
	Key Key
	// Index is the failing element of a batch, or -1 for single payloads.
	Index int
	// Err is the schema error.
	Err error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("pathway %s: batch element %d: %v", e.Key, e.Index, e.Err)
	}
	return fmt.Sprintf("pathway %s: %v", e.Key, e.Err)
}

// Unwrap returns ErrValidation and the schema error.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// HandlerError wraps a failed handler attempt.
type HandlerError struct {
	Key     Key
	EventID string
	// Attempt is 1 for the first invocation.
	Attempt int
	Err     error
}

// Error implements the error interface.
func (e *HandlerError) Error() string {
	return fmt.Sprintf("pathway %s: event %s: attempt %d: %v", e.Key, e.EventID, e.Attempt, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a handler.
// It is retried like any other handler failure.
type PanicError struct {
	Key   Key
	Value any
	// Stack is the stack trace at the point of panic.
	Stack string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("handler for %s panicked: %v", e.Key, e.Value)
}

// TimeoutError reports an event that was not confirmed in time.
type TimeoutError struct {
	Key     Key
	EventID string
	Timeout time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("pathway %s: event %s not processed within %s", e.Key, e.EventID, e.Timeout)
}

// Unwrap returns ErrConfirmationTimeout for errors.Is support.
func (e *TimeoutError) Unwrap() error {
	return ErrConfirmationTimeout
}

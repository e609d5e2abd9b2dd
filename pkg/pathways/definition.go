package pathways

import (
	"time"

	"github.com/randalmurphal/pathways/pkg/pathways/retry"
	"github.com/randalmurphal/pathways/pkg/pathways/schema"
)

// Mode distinguishes pathways that carry files from normal ones.
// It is fixed at registration.
type Mode int

const (
	// ModeNormal pathways carry arbitrary payloads and support batches.
	ModeNormal Mode = iota
	// ModeFile pathways carry a File per write.
	ModeFile
)

// String returns the mode name.
func (m Mode) String() string {
	if m == ModeFile {
		return "file"
	}
	return "normal"
}

// Contract describes a pathway to Register.
type Contract struct {
	FlowType  string
	EventType string

	// Schema validates inbound and outbound payloads. Nil accepts anything.
	// File pathways skip validation of outbound files.
	Schema schema.Schema

	// Writable defaults to true when nil.
	Writable *bool

	// MaxRetries overrides the engine retry count when non-nil.
	MaxRetries *int
	// RetryDelay overrides the engine base backoff when positive.
	RetryDelay time.Duration

	// Timeout is the confirmation timeout for writes to this pathway.
	// Zero falls back to the engine default.
	Timeout time.Duration

	// IsFilePathway registers the pathway in ModeFile.
	IsFilePathway bool

	// Replace allows re-registering an existing key. The handler and
	// lifecycle subscribers bound to the key are kept.
	Replace bool
}

// Writable is a convenience for Contract.Writable.
func Writable(w bool) *bool {
	return &w
}

// Retries is a convenience for Contract.MaxRetries.
func Retries(n int) *int {
	return &n
}

// Definition is everything the engine knows about one registered pathway.
type Definition struct {
	Key      Key
	Schema   schema.Schema
	Writable bool
	Mode     Mode
	Timeout  time.Duration
	Retry    retry.Policy

	// Writers bound at registration. Nil when not writable; BatchWriter is
	// nil for file pathways and FileWriter is nil for normal ones.
	Writer      Writer
	BatchWriter BatchWriter
	FileWriter  FileWriter
}

package pathways

import (
	"context"
	"maps"
	"strings"
	"time"
)

// Key identifies a pathway as "flowType/eventType".
type Key string

// NewKey builds the key for a flow type and event type.
func NewKey(flowType, eventType string) Key {
	return Key(flowType + "/" + eventType)
}

// Split returns the flow type and event type of k.
// The event type may itself contain slashes; the flow type may not.
func (k Key) Split() (flowType, eventType string) {
	flowType, eventType, _ = strings.Cut(string(k), "/")
	return flowType, eventType
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Metadata is free-form event metadata. Audit keys use the "audit/" prefix.
type Metadata map[string]any

// Clone returns a shallow copy. A nil Metadata clones to an empty map.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m)+3)
	maps.Copy(out, m)
	return out
}

// Audit metadata keys stamped by the write path.
const (
	MetaUserID     = "audit/user-id"
	MetaOnBehalfOf = "audit/on-behalf-of"
	MetaAuditMode  = "audit/mode"
)

// SystemUserID is written to MetaUserID in AuditModeSystem.
const SystemUserID = "system"

// Event is one inbound or outbound pathway event. The engine never
// modifies an Event it is given.
type Event struct {
	ID        string
	FlowType  string
	EventType string
	Metadata  Metadata
	Payload   any
	ValidAt   time.Time
}

// Key returns the pathway key the event belongs to.
func (e Event) Key() Key {
	return NewKey(e.FlowType, e.EventType)
}

// File is the payload of a file pathway.
type File struct {
	Name        string
	ContentType string
	Data        []byte
}

// Handler consumes an inbound event. Returning an error triggers a retry.
type Handler func(ctx context.Context, evt Event) error

// AuditHandler observes every inbound event after validation and before
// the handler runs. Its error aborts the dispatch.
type AuditHandler func(ctx context.Context, key Key, evt Event) error

// UserResolver returns the id of the user on whose behalf a write is made.
// An empty id means no user is known.
type UserResolver func(ctx context.Context) (string, error)

// AuditMode selects how the resolved user is recorded on a write.
type AuditMode int

const (
	// AuditModeUser records the resolved user as the author.
	AuditModeUser AuditMode = iota

	// AuditModeSystem records the system as the author acting on behalf
	// of the resolved user.
	AuditModeSystem
)

// String returns the metadata value for the mode.
func (m AuditMode) String() string {
	if m == AuditModeSystem {
		return "system"
	}
	return "user"
}

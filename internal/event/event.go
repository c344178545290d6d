// Package event defines the inbound event envelope and the per-name
// schema registry used to decode its properties.
//
// The source represents event_properties as a dynamically typed object
// whose shape depends on event.name (see SPEC_FULL.md's DESIGN NOTES on
// dynamic event-properties typing). We re-architect that as a tagged
// union: a Properties value carries the fields the registered Schema for
// its event name declared; one Schema is registered per name at startup,
// and Registry.Decode validates and decodes against it.
package event

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Properties holds the decoded fields of an event. UserID is always
// present; Fields holds the remaining schema-declared values keyed by
// field name.
type Properties struct {
	UserID string
	Fields map[string]any
}

// Get returns the named field and whether it was present and non-falsy.
// Falsy mirrors the source's truthiness check: absent, zero, or empty
// string are all treated as missing (see SPEC_FULL.md's open question on
// SUM's falsy-zero rejection).
func (p Properties) Get(field string) (any, bool) {
	v, ok := p.Fields[field]
	if !ok {
		return nil, false
	}
	if isFalsy(v) {
		return nil, false
	}
	return v, true
}

func isFalsy(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return x == 0
	case int:
		return x == 0
	default:
		return false
	}
}

// Event is the immutable record the consumer pool delivers to the
// processor. It is created on ingress and never mutated afterward.
type Event struct {
	UUID       string
	Name       string
	Timestamp  time.Time
	Properties Properties
}

// NewUUID returns a fresh RFC-4122 event identifier, for callers (such as
// the notifier) that construct events rather than decode them off the
// wire.
func NewUUID() string {
	return uuid.NewString()
}

// ValidateUUID reports whether s parses as an RFC-4122 UUID.
func ValidateUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return fmt.Errorf("invalid event uuid %q: %w", s, err)
	}
	return nil
}

package event

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeRequired indicates a missing event type.
	ErrTypeRequired = errors.New("event type is required")
	// ErrTypeUnknown indicates an unregistered event type.
	ErrTypeUnknown = errors.New("event type is not registered")
	// ErrPayloadRequired indicates an event without a payload.
	ErrPayloadRequired = errors.New("event payload is required")
	// ErrPayloadTypeMismatch indicates a payload whose discriminator does not
	// match the envelope type.
	ErrPayloadTypeMismatch = errors.New("event payload type does not match envelope type")
	// ErrPayloadInvalid indicates a payload that could not be decoded.
	ErrPayloadInvalid = errors.New("event payload is invalid")
)

// Type identifies the event type string.
type Type string

// String returns the type name.
func (t Type) String() string { return string(t) }

// Payload is implemented by every concrete event of an application.
type Payload interface {
	EventType() Type
}

// Event captures the event envelope.
type Event struct {
	Type          Type
	Payload       Payload
	CorrelationID string
	CausationID   string
	// Seq is the 1-based emission order within one run.
	Seq uint64
	// Cycle is the outer loop iteration that emitted the event.
	Cycle int
}

// New wraps a payload in an event envelope typed by the payload itself.
func New(payload Payload) Event {
	evt := Event{Payload: payload}
	if payload != nil {
		evt.Type = payload.EventType()
	}
	return evt
}

// Ref returns the causation reference other items use to point at this event
// within a run.
func (e Event) Ref() string {
	return fmt.Sprintf("event/%d", e.Seq)
}

// Validate checks that the envelope and payload agree.
func (e Event) Validate() error {
	if strings.TrimSpace(string(e.Type)) == "" {
		return ErrTypeRequired
	}
	if e.Payload == nil {
		return ErrPayloadRequired
	}
	if got := e.Payload.EventType(); got != e.Type {
		return fmt.Errorf("%w: envelope %s, payload %s", ErrPayloadTypeMismatch, e.Type, got)
	}
	return nil
}

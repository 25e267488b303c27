package command

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrTypeRequired indicates a missing command type.
	ErrTypeRequired = errors.New("command type is required")
	// ErrTypeUnknown indicates an unregistered command type.
	ErrTypeUnknown = errors.New("command type is not registered")
	// ErrPayloadRequired indicates a command without a payload.
	ErrPayloadRequired = errors.New("command payload is required")
	// ErrPayloadTypeMismatch indicates a payload whose discriminator does not
	// match the envelope type.
	ErrPayloadTypeMismatch = errors.New("command payload type does not match envelope type")
	// ErrPayloadInvalid indicates a payload that could not be decoded.
	ErrPayloadInvalid = errors.New("command payload is invalid")
)

// Type identifies the command type string.
type Type string

// String returns the type name.
func (t Type) String() string { return string(t) }

// Payload is implemented by every concrete command of an application.
type Payload interface {
	CommandType() Type
}

// Command captures the command envelope.
//
// Seq is assigned by the dispatch loop when the command is enqueued and is
// unique within one run.
type Command struct {
	Type          Type
	Payload       Payload
	CorrelationID string
	CausationID   string
	Seq           uint64
}

// Ref returns the causation reference other items use to point at this
// command within a run.
func (c Command) Ref() string {
	return fmt.Sprintf("command/%d", c.Seq)
}

// Option customizes a command built by New.
type Option func(*Command)

// WithCorrelationID attaches a caller supplied correlation id for tracing.
func WithCorrelationID(id string) Option {
	return func(c *Command) {
		c.CorrelationID = strings.TrimSpace(id)
	}
}

// WithCausationID records the id of the item that caused this command.
func WithCausationID(id string) Option {
	return func(c *Command) {
		c.CausationID = strings.TrimSpace(id)
	}
}

// New wraps a payload in a command envelope typed by the payload itself.
func New(payload Payload, opts ...Option) Command {
	cmd := Command{Payload: payload}
	if payload != nil {
		cmd.Type = payload.CommandType()
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cmd)
		}
	}
	return cmd
}

// Validate checks that the envelope and payload agree.
func (c Command) Validate() error {
	if strings.TrimSpace(string(c.Type)) == "" {
		return ErrTypeRequired
	}
	if c.Payload == nil {
		return ErrPayloadRequired
	}
	if got := c.Payload.CommandType(); got != c.Type {
		return fmt.Errorf("%w: envelope %s, payload %s", ErrPayloadTypeMismatch, c.Type, got)
	}
	return nil
}

package capability

import (
	"errors"
	"sync"

	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// EventEmitter lets a procedure append events to the loop's event queue.
// The append target is captured when the context is built and never exposed.
type EventEmitter struct {
	mu         sync.Mutex
	handler    string
	declared   event.Set
	appendFn   func(event.Event)
	closed     bool
	violations *violationLog
}

// Emit appends an event whose type is in the declared set. An undeclared
// type is also recorded against the invocation and fails the run.
func (e *EventEmitter) Emit(payload event.Payload) error {
	if payload == nil {
		return event.ErrPayloadRequired
	}
	evt := event.New(payload)
	if err := evt.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrContextClosed
	}
	if !e.declared.Has(evt.Type) {
		return e.violations.record(&ViolationError{Handler: e.handler, Kind: KindEvent, Name: string(evt.Type)})
	}
	if e.appendFn == nil {
		return errors.New("event emitter is not bound")
	}
	e.appendFn(evt)
	return nil
}

func (e *EventEmitter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

// CommandEmitter lets a policy append commands to the loop's command queue.
type CommandEmitter struct {
	mu         sync.Mutex
	handler    string
	declared   command.Set
	appendFn   func(command.Command)
	closed     bool
	violations *violationLog
}

// Emit appends a command whose type is in the declared set.
func (e *CommandEmitter) Emit(payload command.Payload, opts ...command.Option) error {
	if payload == nil {
		return command.ErrPayloadRequired
	}
	cmd := command.New(payload, opts...)
	if err := cmd.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrContextClosed
	}
	if !e.declared.Has(cmd.Type) {
		return e.violations.record(&ViolationError{Handler: e.handler, Kind: KindCommand, Name: string(cmd.Type)})
	}
	if e.appendFn == nil {
		return errors.New("command emitter is not bound")
	}
	e.appendFn(cmd)
	return nil
}

func (e *CommandEmitter) close() {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
}

package capability

import (
	"context"
	"sync/atomic"

	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// Reader is satisfied by every handler context: it can run declared queries.
type Reader interface {
	Context() context.Context
	Handler() string
	checkQuery(Name) error
}

// Writer is satisfied by policy contexts only: it can also run declared
// mutators.
type Writer interface {
	Reader
	checkMutator(Name) error
}

// ProcedureDeclaration is the capability set of one procedure registration.
type ProcedureDeclaration struct {
	Handler string
	Emits   event.Set
	Queries NameSet
}

// PolicyDeclaration is the capability set of one policy registration.
type PolicyDeclaration struct {
	Handler  string
	Emits    command.Set
	Queries  NameSet
	Mutators NameSet
}

// ProcedureContext is handed to a procedure for one invocation.
type ProcedureContext struct {
	ctx     context.Context
	handler string
	queries NameSet
	emitter *EventEmitter
	closed  atomic.Bool
	log     *violationLog
}

// Context returns the invocation context (cancellation, deadline, values).
func (c *ProcedureContext) Context() context.Context { return c.ctx }

// Handler returns the identity of the procedure this context was built for.
func (c *ProcedureContext) Handler() string { return c.handler }

// Emit appends an event to the loop's event queue.
func (c *ProcedureContext) Emit(payload event.Payload) error {
	return c.emitter.Emit(payload)
}

// Emitter exposes the bound event emitter.
func (c *ProcedureContext) Emitter() *EventEmitter { return c.emitter }

// Violation returns the first capability violation of this invocation, or
// nil.
func (c *ProcedureContext) Violation() error { return c.log.err() }

func (c *ProcedureContext) checkQuery(name Name) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	if !c.queries.Has(name) {
		return c.log.record(&ViolationError{Handler: c.handler, Kind: KindQuery, Name: string(name)})
	}
	return nil
}

// PolicyContext is handed to a policy for one invocation.
type PolicyContext struct {
	ctx      context.Context
	handler  string
	queries  NameSet
	mutators NameSet
	emitter  *CommandEmitter
	closed   atomic.Bool
	log      *violationLog
}

// Context returns the invocation context.
func (c *PolicyContext) Context() context.Context { return c.ctx }

// Handler returns the identity of the policy this context was built for.
func (c *PolicyContext) Handler() string { return c.handler }

// Emit appends a command to the loop's command queue.
func (c *PolicyContext) Emit(payload command.Payload, opts ...command.Option) error {
	return c.emitter.Emit(payload, opts...)
}

// Emitter exposes the bound command emitter.
func (c *PolicyContext) Emitter() *CommandEmitter { return c.emitter }

// Violation returns the first capability violation of this invocation, or
// nil.
func (c *PolicyContext) Violation() error { return c.log.err() }

func (c *PolicyContext) checkQuery(name Name) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	if !c.queries.Has(name) {
		return c.log.record(&ViolationError{Handler: c.handler, Kind: KindQuery, Name: string(name)})
	}
	return nil
}

func (c *PolicyContext) checkMutator(name Name) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	if !c.mutators.Has(name) {
		return c.log.record(&ViolationError{Handler: c.handler, Kind: KindMutator, Name: string(name)})
	}
	return nil
}

var (
	_ Reader = (*ProcedureContext)(nil)
	_ Writer = (*PolicyContext)(nil)
)

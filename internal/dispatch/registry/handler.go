package registry

import (
	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// Procedure handles one command, reading through queries and emitting events.
type Procedure interface {
	Handle(ctx *capability.ProcedureContext, cmd command.Command) error
}

// ProcedureFunc adapts a function to Procedure.
type ProcedureFunc func(ctx *capability.ProcedureContext, cmd command.Command) error

// Handle calls f.
func (f ProcedureFunc) Handle(ctx *capability.ProcedureContext, cmd command.Command) error {
	return f(ctx, cmd)
}

// Policy reacts to one event, possibly mutating state and emitting commands.
type Policy interface {
	Handle(ctx *capability.PolicyContext, evt event.Event) error
}

// PolicyFunc adapts a function to Policy.
type PolicyFunc func(ctx *capability.PolicyContext, evt event.Event) error

// Handle calls f.
func (f PolicyFunc) Handle(ctx *capability.PolicyContext, evt event.Event) error {
	return f(ctx, evt)
}

// ProcedureRegistration declares a procedure for one command type.
type ProcedureRegistration struct {
	// Name is the handler identity reported in errors and instrumentation.
	Name      string
	Command   command.Type
	Procedure Procedure
	Emits     []event.Type
	Queries   []capability.Name
}

// PolicyRegistration declares a policy for one event type.
type PolicyRegistration struct {
	Name     string
	Event    event.Type
	Policy   Policy
	Emits    []command.Type
	Queries  []capability.Name
	Mutators []capability.Name
}

// ProcedureEntry is a validated procedure registration.
type ProcedureEntry struct {
	Name        string
	Command     command.Type
	Procedure   Procedure
	Declaration capability.ProcedureDeclaration
}

// PolicyEntry is a validated policy registration.
type PolicyEntry struct {
	Name        string
	Event       event.Type
	Policy      Policy
	Declaration capability.PolicyDeclaration
}

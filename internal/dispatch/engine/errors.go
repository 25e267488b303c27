package engine

import (
	"errors"
	"fmt"
	"strings"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

var (
	// ErrRegistryRequired indicates a loop built without a registry.
	ErrRegistryRequired = errors.New("registry is required")
	// ErrHandlerFailure indicates a procedure or policy returned an error or
	// panicked.
	ErrHandlerFailure = errors.New("handler failure")
	// ErrHandlerTimeout indicates a handler overran the configured timeout.
	ErrHandlerTimeout = errors.New("handler timeout")
	// ErrCycleLimitExceeded indicates a run dispatched more items than the
	// configured guard allows.
	ErrCycleLimitExceeded = errors.New("cycle limit exceeded")
)

// DispatchError reports the handler invocation that aborted a run. The
// pending slices hold what was still queued, for diagnostics only.
type DispatchError struct {
	Kind    Kind
	Command command.Command
	Event   event.Event
	Handler string
	Cycle   int
	Cause   error

	PendingCommands []command.Command
	PendingEvents   []event.Event
}

func (e *DispatchError) Error() string {
	var b strings.Builder
	switch {
	case errors.Is(e.Cause, capability.ErrCapabilityViolation):
		b.WriteString("capability violation")
	case errors.Is(e.Cause, ErrHandlerTimeout):
		b.WriteString("handler timeout")
	default:
		b.WriteString("handler failure")
	}
	fmt.Fprintf(&b, " in %s %q", e.kindLabel(), e.Handler)
	switch e.Kind {
	case KindCommand:
		fmt.Fprintf(&b, " for %s %s", e.Command.Type, e.Command.Ref())
	case KindEvent:
		fmt.Fprintf(&b, " for %s %s", e.Event.Type, e.Event.Ref())
	}
	fmt.Fprintf(&b, " (cycle %d)", e.Cycle)
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *DispatchError) kindLabel() string {
	if e.Kind == KindEvent {
		return "policy"
	}
	return "procedure"
}

// Unwrap exposes the cause, plus ErrHandlerFailure when the cause is the
// handler's own error rather than a violation or a timeout.
func (e *DispatchError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrHandlerFailure}
	}
	if errors.Is(e.Cause, capability.ErrCapabilityViolation) || errors.Is(e.Cause, ErrHandlerTimeout) {
		return []error{e.Cause}
	}
	return []error{ErrHandlerFailure, e.Cause}
}

// CycleLimitError reports a run stopped by the dispatch guard.
type CycleLimitError struct {
	Limit int
	Cycle int

	PendingCommands []command.Command
	PendingEvents   []event.Event
}

func (e *CycleLimitError) Error() string {
	return fmt.Sprintf("%s: more than %d dispatches (cycle %d)", ErrCycleLimitExceeded, e.Limit, e.Cycle)
}

// Unwrap lets errors.Is match ErrCycleLimitExceeded.
func (e *CycleLimitError) Unwrap() error { return ErrCycleLimitExceeded }

// panicError carries a recovered handler panic.
type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("handler panicked: %v", e.value)
}

// IsFailure reports whether err aborted a run, as opposed to a cancelled or
// configuration outcome.
func IsFailure(err error) bool {
	var dispatchErr *DispatchError
	var limitErr *CycleLimitError
	return errors.As(err, &dispatchErr) || errors.As(err, &limitErr)
}

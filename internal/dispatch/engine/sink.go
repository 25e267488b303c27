package engine

import (
	"context"
	"time"

	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// Kind distinguishes command dispatches from event dispatches.
type Kind string

const (
	KindCommand Kind = "command"
	KindEvent   Kind = "event"
)

// Dispatch describes one handler invocation about to happen. Exactly one of
// Command or Event is set, matching Kind.
type Dispatch struct {
	RunID   string
	Kind    Kind
	Command command.Command
	Event   event.Event
	Handler string
	Cycle   int
	// Seq is the 1-based invocation order within the run.
	Seq uint64
}

// Type returns the dispatched item's type name.
func (d Dispatch) Type() string {
	if d.Kind == KindEvent {
		return string(d.Event.Type)
	}
	return string(d.Command.Type)
}

// Ref returns the dispatched item's causation reference.
func (d Dispatch) Ref() string {
	if d.Kind == KindEvent {
		return d.Event.Ref()
	}
	return d.Command.Ref()
}

// CorrelationID returns the dispatched item's correlation id.
func (d Dispatch) CorrelationID() string {
	if d.Kind == KindEvent {
		return d.Event.CorrelationID
	}
	return d.Command.CorrelationID
}

// Outcome describes how an invocation ended. Events and Commands hold what
// the handler committed; on failure or cancellation nothing is committed.
// Cancelled is set when the run was cancelled during the invocation; Err is
// nil then.
type Outcome struct {
	Events    []event.Event
	Commands  []command.Command
	Err       error
	Cancelled bool
	Duration  time.Duration
}

// Sink observes dispatches. OnDispatch runs synchronously right before the
// handler. Errors and panics are logged and ignored.
type Sink interface {
	OnDispatch(ctx context.Context, d Dispatch) error
}

// CompletionSink is a Sink that also wants to see how each invocation ended.
type CompletionSink interface {
	Sink
	OnComplete(ctx context.Context, d Dispatch, o Outcome) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, d Dispatch) error

// OnDispatch calls f.
func (f SinkFunc) OnDispatch(ctx context.Context, d Dispatch) error {
	return f(ctx, d)
}

// EventObserver receives each committed event before any policy sees it.
// Events are delivered when the emitting procedure returns successfully, in
// emission order, not at the moment Emit is called.
type EventObserver func(ctx context.Context, evt event.Event)

// MetaObserver receives loop boundary events.
type MetaObserver func(ctx context.Context, evt event.Event)

package engine

import "github.com/louisbranch/dizzy/internal/dispatch/event"

// Status is the terminal state of a run.
type Status string

const (
	// StatusCompleted means both queues drained.
	StatusCompleted Status = "completed"
	// StatusCancelled means the context was cancelled between invocations.
	StatusCancelled Status = "cancelled"
	// StatusFailed means a handler error or the dispatch guard aborted the run.
	StatusFailed Status = "failed"
)

// Result is what a run produced.
type Result struct {
	RunID string
	// Events are all committed events in emission order.
	Events []event.Event
	Status Status
	// Cycles counts outer iterations that dispatched at least one item.
	Cycles int
	// Dispatches counts items popped from either queue.
	Dispatches int
}

package scenario

import "github.com/louisbranch/dizzy/internal/dispatch/codec"

// Scenario is a named list of steps built by a Lua script.
type Scenario struct {
	Name  string
	Steps []Step
}

// Step is one recorded script call.
type Step struct {
	Kind string
	Args map[string]any
}

type scenarioState struct {
	// lastType is the command type of the most recent submit.
	lastType   string
	lastEvents []codec.Envelope
	lastErr    error
	// errHandled is set once an expect_error step consumed lastErr.
	errHandled bool
	submits    int
}

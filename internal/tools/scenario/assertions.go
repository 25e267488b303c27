package scenario

import (
	"errors"
	"fmt"
	"log"
)

// ErrAssertionFailed marks a scenario expectation that did not hold.
var ErrAssertionFailed = errors.New("assertion failed")

// AssertionMode controls whether failed expectations stop a scenario.
type AssertionMode int

const (
	// AssertionStrict fails the scenario on the first unmet expectation.
	AssertionStrict AssertionMode = iota
	// AssertionLogOnly logs unmet expectations and keeps going.
	AssertionLogOnly
)

// Assertions reports expectation failures according to Mode.
type Assertions struct {
	Mode   AssertionMode
	Logger *log.Logger
}

// Failf reports an error that stops the scenario in every mode.
func (a Assertions) Failf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}

// Assertf reports an unmet expectation. In log-only mode it is logged and nil
// is returned.
func (a Assertions) Assertf(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if a.Mode == AssertionLogOnly {
		if a.Logger != nil {
			a.Logger.Printf("expectation: %s", msg)
		}
		return nil
	}
	return fmt.Errorf("%w: %s", ErrAssertionFailed, msg)
}

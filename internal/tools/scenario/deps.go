package scenario

import (
	"fmt"
	"time"

	"github.com/louisbranch/dizzy/internal/dispatch/submit"
)

// runnerDeps bundles injectable dependencies for runner construction.
type runnerDeps struct {
	now     func() time.Time
	journal submit.Journal
	// newIDs returns a fresh id generator for each scenario run.
	newIDs func() func() (string, error)
}

// sequentialIDs issues todo-1, todo-2, ... so scripts can address the todos
// they add.
func sequentialIDs() func() (string, error) {
	n := 0
	return func() (string, error) {
		n++
		return fmt.Sprintf("todo-%d", n), nil
	}
}

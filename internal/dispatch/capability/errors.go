package capability

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrCapabilityViolation indicates a handler used a capability outside its
	// declared set.
	ErrCapabilityViolation = errors.New("capability violation")
	// ErrContextClosed indicates a context was used after its invocation ended.
	ErrContextClosed = errors.New("capability context is closed")
	// ErrContextRequired indicates a nil context was passed to Ask or Mutate.
	ErrContextRequired = errors.New("capability context is required")
)

// Kind names the capability family a violation belongs to.
type Kind string

const (
	KindEvent   Kind = "event"
	KindCommand Kind = "command"
	KindQuery   Kind = "query"
	KindMutator Kind = "mutator"
)

// ViolationError reports which handler reached for which capability.
type ViolationError struct {
	Handler string
	Kind    Kind
	Name    string
}

func (e *ViolationError) Error() string {
	return fmt.Sprintf("%s: handler %q did not declare %s %q", ErrCapabilityViolation, e.Handler, e.Kind, e.Name)
}

// Unwrap lets errors.Is match ErrCapabilityViolation.
func (e *ViolationError) Unwrap() error { return ErrCapabilityViolation }

// violationLog keeps the first violation of one invocation so the loop can
// fail the run even when the handler drops the returned error.
type violationLog struct {
	mu    sync.Mutex
	first *ViolationError
}

func (l *violationLog) record(v *ViolationError) error {
	if l != nil {
		l.mu.Lock()
		if l.first == nil {
			l.first = v
		}
		l.mu.Unlock()
	}
	return v
}

func (l *violationLog) err() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.first == nil {
		return nil
	}
	return l.first
}

package engine

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
	"github.com/louisbranch/dizzy/internal/dispatch/registry"
)

const (
	typeAdd   command.Type = "test.add"
	typeNoop  command.Type = "test.noop"
	typeAdded event.Type   = "test.added"
	typeOther event.Type   = "test.other"
)

type add struct {
	X int `json:"x"`
}

func (add) CommandType() command.Type { return typeAdd }

type noop struct{}

func (noop) CommandType() command.Type { return typeNoop }

type added struct {
	X int `json:"x"`
}

func (added) EventType() event.Type { return typeAdded }

type other struct{}

func (other) EventType() event.Type { return typeOther }

// emitAdded is the procedure P: Add(x) emits Added(x).
var emitAdded = registry.ProcedureFunc(func(ctx *capability.ProcedureContext, cmd command.Command) error {
	return ctx.Emit(added{X: cmd.Payload.(add).X})
})

// reAddAboveTen is the policy L: Added(x) with x > 10 emits Add(x - 10).
var reAddAboveTen = registry.PolicyFunc(func(ctx *capability.PolicyContext, evt event.Event) error {
	x := evt.Payload.(added).X
	if x > 10 {
		return ctx.Emit(add{X: x - 10})
	}
	return nil
})

func addProcedure(name string, proc registry.Procedure) registry.ProcedureRegistration {
	return registry.ProcedureRegistration{
		Name:      name,
		Command:   typeAdd,
		Procedure: proc,
		Emits:     []event.Type{typeAdded},
	}
}

func addedPolicy(name string, policy registry.Policy) registry.PolicyRegistration {
	return registry.PolicyRegistration{
		Name:   name,
		Event:  typeAdded,
		Policy: policy,
		Emits:  []command.Type{typeAdd},
	}
}

type setup struct {
	procedures []registry.ProcedureRegistration
	policies   []registry.PolicyRegistration
}

func buildLoop(t *testing.T, s setup, opts ...Option) *Loop {
	t.Helper()
	b := registry.NewBuilder()
	for _, reg := range s.procedures {
		if err := b.RegisterProcedure(reg); err != nil {
			t.Fatalf("register procedure %s: %v", reg.Name, err)
		}
	}
	for _, reg := range s.policies {
		if err := b.RegisterPolicy(reg); err != nil {
			t.Fatalf("register policy %s: %v", reg.Name, err)
		}
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	loop, err := New(reg, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	return loop
}

func addLoop(t *testing.T, opts ...Option) *Loop {
	t.Helper()
	return buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
		policies:   []registry.PolicyRegistration{addedPolicy("L", reAddAboveTen)},
	}, opts...)
}

func addedValues(events []event.Event) []int {
	out := make([]int, 0, len(events))
	for _, evt := range events {
		if payload, ok := evt.Payload.(added); ok {
			out = append(out, payload.X)
		}
	}
	return out
}

// recordingSink captures dispatches and outcomes.
type recordingSink struct {
	dispatches []Dispatch
	outcomes   []Outcome
}

func (s *recordingSink) OnDispatch(_ context.Context, d Dispatch) error {
	s.dispatches = append(s.dispatches, d)
	return nil
}

func (s *recordingSink) OnComplete(_ context.Context, _ Dispatch, o Outcome) error {
	s.outcomes = append(s.outcomes, o)
	return nil
}

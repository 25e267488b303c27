package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
	"github.com/louisbranch/dizzy/internal/dispatch/registry"
)

func TestNewRequiresRegistry(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrRegistryRequired) {
		t.Fatalf("expected ErrRegistryRequired, got %v", err)
	}
}

func TestRunAddScenario(t *testing.T) {
	sink := &recordingSink{}
	loop := addLoop(t, WithSinks(sink))

	result, err := loop.Run(context.Background(), command.New(add{X: 15}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", result.Status, StatusCompleted)
	}
	if diff := cmp.Diff([]int{15, 5}, addedValues(result.Events)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if result.Cycles != 2 {
		t.Fatalf("cycles = %d, want 2", result.Cycles)
	}
	// Add(15), Added(15), Add(5), Added(5)
	if result.Dispatches != 4 {
		t.Fatalf("dispatches = %d, want 4", result.Dispatches)
	}

	first, second := result.Events[0], result.Events[1]
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("event seqs = %d, %d, want 1, 2", first.Seq, second.Seq)
	}
	if first.CausationID != "command/1" {
		t.Fatalf("first causation = %q, want command/1", first.CausationID)
	}
	if second.CausationID != "command/2" {
		t.Fatalf("second causation = %q, want command/2", second.CausationID)
	}
	if first.CorrelationID != result.RunID || second.CorrelationID != result.RunID {
		t.Fatalf("expected correlation %q on both events, got %q and %q", result.RunID, first.CorrelationID, second.CorrelationID)
	}
	if first.Cycle != 1 || second.Cycle != 2 {
		t.Fatalf("event cycles = %d, %d, want 1, 2", first.Cycle, second.Cycle)
	}

	var reAdd command.Command
	for _, d := range sink.dispatches {
		if d.Kind == KindCommand && d.Command.Seq == 2 {
			reAdd = d.Command
		}
	}
	if reAdd.CausationID != "event/1" {
		t.Fatalf("re-emitted command causation = %q, want event/1", reAdd.CausationID)
	}
}

func TestRunKeepsCallerCorrelationID(t *testing.T) {
	loop := addLoop(t)
	result, err := loop.Run(context.Background(), command.New(add{X: 12}, command.WithCorrelationID("req-7")))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, evt := range result.Events {
		if evt.CorrelationID != "req-7" {
			t.Fatalf("correlation = %q, want req-7", evt.CorrelationID)
		}
	}
}

func TestRunPhaseOrdering(t *testing.T) {
	sink := &recordingSink{}
	loop := addLoop(t, WithSinks(sink))

	result, err := loop.Run(context.Background(), command.New(add{X: 15}), command.New(add{X: 25}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{15, 25, 5, 15, 5}, addedValues(result.Events)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	wantCycles := []int{1, 1, 2, 2, 3}
	gotCycles := make([]int, 0, len(result.Events))
	for _, evt := range result.Events {
		gotCycles = append(gotCycles, evt.Cycle)
	}
	if diff := cmp.Diff(wantCycles, gotCycles); diff != "" {
		t.Fatalf("cycles mismatch (-want +got):\n%s", diff)
	}

	// Every command of a cycle is dispatched before any event of that cycle.
	lastKind := map[int]Kind{}
	for _, d := range sink.dispatches {
		if lastKind[d.Cycle] == KindEvent && d.Kind == KindCommand {
			t.Fatalf("command dispatched after an event in cycle %d", d.Cycle)
		}
		lastKind[d.Cycle] = d.Kind
	}

	// No event is caused by a command enqueued in the same cycle.
	commandCycle := map[string]int{}
	for _, d := range sink.dispatches {
		if d.Kind == KindCommand {
			if _, ok := commandCycle[d.Command.Ref()]; !ok {
				commandCycle[d.Command.Ref()] = d.Cycle
			}
		}
	}
	for _, evt := range result.Events {
		if cycle, ok := commandCycle[evt.CausationID]; !ok || cycle != evt.Cycle {
			t.Fatalf("event %s caused by %s dispatched in cycle %d, event cycle %d", evt.Ref(), evt.CausationID, cycle, evt.Cycle)
		}
	}
}

func TestRunUnhandledCommandIsNoop(t *testing.T) {
	loop := addLoop(t)
	result, err := loop.Run(context.Background(), command.New(noop{}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(result.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(result.Events))
	}
	if result.Status != StatusCompleted {
		t.Fatalf("status = %s, want %s", result.Status, StatusCompleted)
	}
}

func TestRunUnhandledEventIsDropped(t *testing.T) {
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
	})
	result, err := loop.Run(context.Background(), command.New(add{X: 30}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{30}, addedValues(result.Events)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRunEmptyBatch(t *testing.T) {
	loop := addLoop(t)
	result, err := loop.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Cycles != 0 || len(result.Events) != 0 {
		t.Fatalf("expected empty result, got %+v", result)
	}
}

func TestRunRejectsInvalidInitialCommand(t *testing.T) {
	loop := addLoop(t)
	_, err := loop.Run(context.Background(), command.Command{Type: typeAdd})
	if !errors.Is(err, command.ErrPayloadRequired) {
		t.Fatalf("expected ErrPayloadRequired, got %v", err)
	}
}

func TestRunFanOutInRegistrationOrder(t *testing.T) {
	var calls []string
	record := func(name string) registry.PolicyFunc {
		return func(_ *capability.PolicyContext, evt event.Event) error {
			calls = append(calls, fmt.Sprintf("%s:%d", name, evt.Payload.(added).X))
			return nil
		}
	}
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
		policies: []registry.PolicyRegistration{
			addedPolicy("second", record("second")),
			addedPolicy("first", record("first")),
		},
	})

	if _, err := loop.Run(context.Background(), command.New(add{X: 1}), command.New(add{X: 2})); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"second:1", "first:1", "second:2", "first:2"}
	if diff := cmp.Diff(want, calls); diff != "" {
		t.Fatalf("policy calls mismatch (-want +got):\n%s", diff)
	}
}

func TestRunProcedureFanOut(t *testing.T) {
	double := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, cmd command.Command) error {
		return ctx.Emit(added{X: cmd.Payload.(add).X * 2})
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{
			addProcedure("same", emitAdded),
			addProcedure("double", double),
		},
	})
	result, err := loop.Run(context.Background(), command.New(add{X: 3}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{3, 6}, addedValues(result.Events)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCapabilityViolationAborts(t *testing.T) {
	var policyCalls int
	rogue := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, _ command.Command) error {
		return ctx.Emit(other{})
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("rogue", rogue)},
		policies: []registry.PolicyRegistration{{
			Name:  "watch",
			Event: typeOther,
			Policy: registry.PolicyFunc(func(*capability.PolicyContext, event.Event) error {
				policyCalls++
				return nil
			}),
		}},
	})

	result, err := loop.Run(context.Background(), command.New(add{X: 1}))
	if !errors.Is(err, capability.ErrCapabilityViolation) {
		t.Fatalf("expected ErrCapabilityViolation, got %v", err)
	}
	if errors.Is(err, ErrHandlerFailure) {
		t.Fatalf("violation should not match ErrHandlerFailure: %v", err)
	}
	var violation *capability.ViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected ViolationError in chain, got %T", err)
	}
	if violation.Handler != "rogue" || violation.Kind != capability.KindEvent || violation.Name != string(typeOther) {
		t.Fatalf("unexpected violation %+v", violation)
	}
	if len(result.Events) != 0 || policyCalls != 0 {
		t.Fatalf("undeclared event reached the queue: events=%d policy calls=%d", len(result.Events), policyCalls)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", result.Status, StatusFailed)
	}
}

func TestRunSwallowedViolationStillFails(t *testing.T) {
	var emitErr error
	sloppy := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, _ command.Command) error {
		emitErr = ctx.Emit(other{})
		return ctx.Emit(added{X: 1})
	})
	var policyCalls int
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("sloppy", sloppy)},
		policies: []registry.PolicyRegistration{addedPolicy("L", registry.PolicyFunc(func(*capability.PolicyContext, event.Event) error {
			policyCalls++
			return nil
		}))},
	})
	result, err := loop.Run(context.Background(), command.New(add{X: 1}))
	if !errors.Is(emitErr, capability.ErrCapabilityViolation) {
		t.Fatalf("expected emit to fail with ErrCapabilityViolation, got %v", emitErr)
	}
	if !errors.Is(err, capability.ErrCapabilityViolation) {
		t.Fatalf("expected run to fail with ErrCapabilityViolation, got %v", err)
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) || dispatchErr.Handler != "sloppy" {
		t.Fatalf("expected DispatchError for sloppy, got %v", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", result.Status, StatusFailed)
	}
	if len(result.Events) != 0 || policyCalls != 0 {
		t.Fatalf("emissions of a violating procedure were committed: events=%d policy calls=%d", len(result.Events), policyCalls)
	}
}

func TestRunSwallowedMutatorViolationFailsPolicy(t *testing.T) {
	save := capability.NewMutator("test.save", func(_ context.Context, x int) (int, error) {
		return x, nil
	})
	var saved int
	sneaky := registry.PolicyFunc(func(ctx *capability.PolicyContext, evt event.Event) error {
		if _, err := capability.Mutate(ctx, save, evt.Payload.(added).X); err == nil {
			saved++
		}
		return nil
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
		policies:   []registry.PolicyRegistration{addedPolicy("sneaky", sneaky)},
	})
	result, err := loop.Run(context.Background(), command.New(add{X: 3}))
	var violation *capability.ViolationError
	if !errors.As(err, &violation) || violation.Kind != capability.KindMutator || violation.Handler != "sneaky" {
		t.Fatalf("expected mutator violation from sneaky, got %v", err)
	}
	if saved != 0 {
		t.Fatalf("undeclared mutator ran %d times", saved)
	}
	if result.Status != StatusFailed {
		t.Fatalf("status = %s, want %s", result.Status, StatusFailed)
	}
}

func TestRunUndeclaredQueryViolation(t *testing.T) {
	lookup := capability.NewQuery("test.lookup", func(_ context.Context, x int) (int, error) {
		return x, nil
	})
	nosy := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, cmd command.Command) error {
		_, err := capability.Ask(ctx, lookup, cmd.Payload.(add).X)
		return err
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("nosy", nosy)},
	})
	_, err := loop.Run(context.Background(), command.New(add{X: 1}))
	var violation *capability.ViolationError
	if !errors.As(err, &violation) || violation.Kind != capability.KindQuery {
		t.Fatalf("expected query violation, got %v", err)
	}
}

func TestRunHandlerFailureDiscardsEmissions(t *testing.T) {
	boom := errors.New("boom")
	failing := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, cmd command.Command) error {
		if cmd.Payload.(add).X == 2 {
			if err := ctx.Emit(added{X: 2}); err != nil {
				return err
			}
			return boom
		}
		return ctx.Emit(added{X: cmd.Payload.(add).X})
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("failing", failing)},
	})

	result, err := loop.Run(context.Background(), command.New(add{X: 1}), command.New(add{X: 2}), command.New(add{X: 3}))
	if !errors.Is(err, ErrHandlerFailure) || !errors.Is(err, boom) {
		t.Fatalf("expected handler failure wrapping boom, got %v", err)
	}
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %T", err)
	}
	if dispatchErr.Handler != "failing" || dispatchErr.Kind != KindCommand || dispatchErr.Cycle != 1 {
		t.Fatalf("unexpected dispatch error %+v", dispatchErr)
	}
	if dispatchErr.Command.Payload.(add).X != 2 {
		t.Fatalf("failing command = %+v, want Add(2)", dispatchErr.Command.Payload)
	}
	if len(dispatchErr.PendingCommands) != 1 || dispatchErr.PendingCommands[0].Payload.(add).X != 3 {
		t.Fatalf("pending commands = %+v, want [Add(3)]", dispatchErr.PendingCommands)
	}
	if len(dispatchErr.PendingEvents) != 1 {
		t.Fatalf("pending events = %d, want 1", len(dispatchErr.PendingEvents))
	}
	if diff := cmp.Diff([]int{1}, addedValues(result.Events)); diff != "" {
		t.Fatalf("committed events mismatch (-want +got):\n%s", diff)
	}
}

func TestRunPolicyFailure(t *testing.T) {
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
		policies: []registry.PolicyRegistration{addedPolicy("broken", registry.PolicyFunc(func(*capability.PolicyContext, event.Event) error {
			return errors.New("store unavailable")
		}))},
	})
	_, err := loop.Run(context.Background(), command.New(add{X: 1}))
	var dispatchErr *DispatchError
	if !errors.As(err, &dispatchErr) {
		t.Fatalf("expected DispatchError, got %v", err)
	}
	if dispatchErr.Kind != KindEvent || dispatchErr.Event.Type != typeAdded || dispatchErr.Handler != "broken" {
		t.Fatalf("unexpected dispatch error %+v", dispatchErr)
	}
}

func TestRunRecoversHandlerPanic(t *testing.T) {
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("panicky", registry.ProcedureFunc(func(*capability.ProcedureContext, command.Command) error {
			panic("nil map")
		}))},
	})
	_, err := loop.Run(context.Background(), command.New(add{X: 1}))
	if !errors.Is(err, ErrHandlerFailure) {
		t.Fatalf("expected ErrHandlerFailure, got %v", err)
	}
}

func TestRunCycleLimit(t *testing.T) {
	forever := registry.PolicyFunc(func(ctx *capability.PolicyContext, evt event.Event) error {
		return ctx.Emit(add{X: evt.Payload.(added).X})
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
		policies:   []registry.PolicyRegistration{addedPolicy("forever", forever)},
	}, WithMaxDispatches(50))

	result, err := loop.Run(context.Background(), command.New(add{X: 1}))
	if !errors.Is(err, ErrCycleLimitExceeded) {
		t.Fatalf("expected ErrCycleLimitExceeded, got %v", err)
	}
	var limitErr *CycleLimitError
	if !errors.As(err, &limitErr) || limitErr.Limit != 50 {
		t.Fatalf("expected CycleLimitError with limit 50, got %v", err)
	}
	if result.Dispatches != 50 {
		t.Fatalf("dispatches = %d, want 50", result.Dispatches)
	}
	if !IsFailure(err) {
		t.Fatal("expected IsFailure to report the limit error")
	}
}

func TestRunCancellationBetweenInvocations(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelling := registry.ProcedureFunc(func(pc *capability.ProcedureContext, cmd command.Command) error {
		cancel()
		return pc.Emit(added{X: cmd.Payload.(add).X})
	})
	var policyCalls int
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("cancelling", cancelling)},
		policies: []registry.PolicyRegistration{addedPolicy("count", registry.PolicyFunc(func(*capability.PolicyContext, event.Event) error {
			policyCalls++
			return nil
		}))},
	})

	result, err := loop.Run(ctx, command.New(add{X: 1}), command.New(add{X: 2}))
	if err != nil {
		t.Fatalf("cancellation should not be an error, got %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", result.Status, StatusCancelled)
	}
	if diff := cmp.Diff([]int{1}, addedValues(result.Events)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if policyCalls != 0 {
		t.Fatalf("policy calls = %d, want 0", policyCalls)
	}
}

func TestRunCancelledInvocationReachesCompletionSinks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	interrupted := registry.ProcedureFunc(func(pc *capability.ProcedureContext, _ command.Command) error {
		cancel()
		return pc.Context().Err()
	})
	sink := &recordingSink{}
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("interrupted", interrupted)},
	}, WithSinks(sink))

	result, err := loop.Run(ctx, command.New(add{X: 1}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if result.Status != StatusCancelled {
		t.Fatalf("status = %s, want %s", result.Status, StatusCancelled)
	}
	if len(sink.dispatches) != 1 || len(sink.outcomes) != 1 {
		t.Fatalf("dispatches = %d, outcomes = %d, want 1 each", len(sink.dispatches), len(sink.outcomes))
	}
	if got := sink.outcomes[0]; !got.Cancelled || got.Err != nil || len(got.Events) != 0 {
		t.Fatalf("outcome = %+v, want cancelled without error or events", got)
	}
}

func TestRunHandlerTimeout(t *testing.T) {
	slow := registry.ProcedureFunc(func(pc *capability.ProcedureContext, _ command.Command) error {
		<-pc.Context().Done()
		return pc.Context().Err()
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("slow", slow)},
	}, WithHandlerTimeout(10*time.Millisecond))

	_, err := loop.Run(context.Background(), command.New(add{X: 1}))
	if !errors.Is(err, ErrHandlerTimeout) {
		t.Fatalf("expected ErrHandlerTimeout, got %v", err)
	}
	if errors.Is(err, ErrHandlerFailure) {
		t.Fatalf("timeout should not match ErrHandlerFailure: %v", err)
	}
}

func TestRunSinkFailuresDoNotAbort(t *testing.T) {
	failing := SinkFunc(func(context.Context, Dispatch) error {
		return errors.New("disk full")
	})
	panicking := SinkFunc(func(context.Context, Dispatch) error {
		panic("sink bug")
	})
	recorder := &recordingSink{}
	loop := addLoop(t, WithSinks(failing, panicking, recorder))

	result, err := loop.Run(context.Background(), command.New(add{X: 15}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if diff := cmp.Diff([]int{15, 5}, addedValues(result.Events)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if len(recorder.dispatches) != 4 {
		t.Fatalf("recorded dispatches = %d, want 4", len(recorder.dispatches))
	}
}

func TestRunSinkSeesDispatchBeforeHandler(t *testing.T) {
	var log []string
	sink := SinkFunc(func(_ context.Context, d Dispatch) error {
		log = append(log, fmt.Sprintf("sink:%s:%s:%d", d.Kind, d.Handler, d.Cycle))
		return nil
	})
	proc := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, cmd command.Command) error {
		log = append(log, "procedure")
		return ctx.Emit(added{X: cmd.Payload.(add).X})
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", proc)},
		policies:   []registry.PolicyRegistration{addedPolicy("L", reAddAboveTen)},
	}, WithSinks(sink))

	if _, err := loop.Run(context.Background(), command.New(add{X: 1})); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"sink:command:P:1", "procedure", "sink:event:L:1"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunCompletionSinkOutcomes(t *testing.T) {
	sink := &recordingSink{}
	loop := addLoop(t, WithSinks(sink))
	if _, err := loop.Run(context.Background(), command.New(add{X: 15})); err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(sink.outcomes) != 4 {
		t.Fatalf("outcomes = %d, want 4", len(sink.outcomes))
	}
	if len(sink.outcomes[0].Events) != 1 || sink.outcomes[0].Events[0].Seq != 1 {
		t.Fatalf("first outcome events = %+v", sink.outcomes[0].Events)
	}
	if len(sink.outcomes[1].Commands) != 1 || sink.outcomes[1].Commands[0].Seq != 2 {
		t.Fatalf("second outcome commands = %+v", sink.outcomes[1].Commands)
	}
	if len(sink.outcomes[3].Commands) != 0 {
		t.Fatalf("last outcome should emit nothing, got %+v", sink.outcomes[3].Commands)
	}
}

func TestRunEventObserverFiresBeforePolicies(t *testing.T) {
	var log []string
	observer := func(_ context.Context, evt event.Event) {
		log = append(log, fmt.Sprintf("observe:%d", evt.Payload.(added).X))
	}
	policy := registry.PolicyFunc(func(_ *capability.PolicyContext, evt event.Event) error {
		log = append(log, fmt.Sprintf("policy:%d", evt.Payload.(added).X))
		return nil
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("P", emitAdded)},
		policies:   []registry.PolicyRegistration{addedPolicy("L", policy)},
	}, WithEventObserver(observer))

	if _, err := loop.Run(context.Background(), command.New(add{X: 1}), command.New(add{X: 2})); err != nil {
		t.Fatalf("run: %v", err)
	}
	want := []string{"observe:1", "observe:2", "policy:1", "policy:2"}
	if diff := cmp.Diff(want, log); diff != "" {
		t.Fatalf("call order mismatch (-want +got):\n%s", diff)
	}
}

func TestRunMetaEvents(t *testing.T) {
	var meta []event.Event
	loop := addLoop(t, WithMetaEvents(func(_ context.Context, evt event.Event) {
		meta = append(meta, evt)
	}))
	result, err := loop.Run(context.Background(), command.New(add{X: 15}))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	gotTypes := make([]event.Type, 0, len(meta))
	for _, evt := range meta {
		gotTypes = append(gotTypes, evt.Type)
	}
	wantTypes := []event.Type{event.TypeCycleStarted, event.TypeCycleEnded, event.TypeCycleStarted, event.TypeCycleEnded}
	if diff := cmp.Diff(wantTypes, gotTypes); diff != "" {
		t.Fatalf("meta events mismatch (-want +got):\n%s", diff)
	}
	ended := meta[1].Payload.(event.CycleEnded)
	if ended.Cycle != 1 || ended.Dispatched != 2 || ended.Emitted != 1 {
		t.Fatalf("unexpected cycle end %+v", ended)
	}
	if len(result.Events) != 2 {
		t.Fatalf("meta events must not appear in the result, got %d events", len(result.Events))
	}
}

func TestRunSealsContextsAfterInvocation(t *testing.T) {
	var saved *capability.ProcedureContext
	leaky := registry.ProcedureFunc(func(ctx *capability.ProcedureContext, _ command.Command) error {
		saved = ctx
		return nil
	})
	loop := buildLoop(t, setup{
		procedures: []registry.ProcedureRegistration{addProcedure("leaky", leaky)},
	})
	if _, err := loop.Run(context.Background(), command.New(add{X: 1})); err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := saved.Emit(added{X: 9}); !errors.Is(err, capability.ErrContextClosed) {
		t.Fatalf("expected ErrContextClosed, got %v", err)
	}
}

func TestWithCapabilitiesRejectsMissingAccessors(t *testing.T) {
	b := registry.NewBuilder()
	reg := addProcedure("P", emitAdded)
	reg.Queries = []capability.Name{"test.missing"}
	if err := b.RegisterProcedure(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	built, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	provider, err := capability.NewProvider()
	if err != nil {
		t.Fatalf("provider: %v", err)
	}
	if _, err := New(built, WithCapabilities(provider)); !errors.Is(err, registry.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestConcurrentRunsAreIsolated(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	loop := addLoop(t)
	const workers = 8
	results := make([][]int, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := loop.Run(context.Background(), command.New(add{X: 10*i + 5}))
			results[i] = addedValues(result.Events)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		var want []int
		for x := 10*i + 5; ; x -= 10 {
			want = append(want, x)
			if x <= 10 {
				break
			}
		}
		if diff := cmp.Diff(want, results[i]); diff != "" {
			t.Fatalf("worker %d events mismatch (-want +got):\n%s", i, diff)
		}
	}
}

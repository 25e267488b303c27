package scenario

import (
	"context"
	"encoding/json"

	"github.com/louisbranch/dizzy/internal/dispatch/submit"
	platformerrors "github.com/louisbranch/dizzy/internal/platform/errors"
)

func (r *Runner) runStep(ctx context.Context, env scenarioEnv, state *scenarioState, step Step) error {
	switch step.Kind {
	case stepSubmit:
		return r.runSubmit(ctx, env, state, step.Args)
	case stepExpect:
		return r.runExpect(state, step.Args)
	case stepExpectError:
		return r.runExpectError(state, step.Args)
	case stepExpectTodos:
		return r.runExpectTodos(ctx, env, step.Args)
	default:
		return r.failf("unknown step kind %q", step.Kind)
	}
}

func (r *Runner) runSubmit(ctx context.Context, env scenarioEnv, state *scenarioState, args map[string]any) error {
	commandType := requiredString(args, "type")
	if commandType == "" {
		return r.failf("submit requires a command type")
	}
	payload := args["payload"]
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return r.failf("encode %s payload: %v", commandType, err)
	}

	events, err := env.service.Submit(ctx, commandType, raw)
	state.submits++
	state.lastType = commandType
	state.lastEvents = events
	state.lastErr = err
	state.errHandled = false
	if err == nil {
		r.logf("submit %s: %d events", commandType, len(events))
	}
	return nil
}

func (r *Runner) runExpect(state *scenarioState, args map[string]any) error {
	if state.submits == 0 {
		return r.failf("expect requires a prior submit")
	}
	wants := readList(args, "events")
	if len(wants) != len(state.lastEvents) {
		return r.assertf("%s produced %v, want %d events", state.lastType, eventTypes(state.lastEvents), len(wants))
	}
	for i, want := range wants {
		expected, err := parseEventExpectation(want)
		if err != nil {
			return r.failf("event %d: %v", i+1, err)
		}
		got := state.lastEvents[i]
		if got.Type != expected.eventType {
			return r.assertf("%s event %d = %s, want %s", state.lastType, i+1, got.Type, expected.eventType)
		}
		if len(expected.fields) == 0 {
			continue
		}
		payload, err := decodeObject(got.Payload)
		if err != nil {
			return r.failf("decode %s payload: %v", got.Type, err)
		}
		if key, ok := mismatchedField(expected.fields, payload); !ok {
			return r.assertf("%s event %d field %s = %v, want %v", got.Type, i+1, key, payload[key], expected.fields[key])
		}
	}
	return nil
}

func (r *Runner) runExpectError(state *scenarioState, args map[string]any) error {
	want := platformerrors.Code(requiredString(args, "code"))
	if state.submits == 0 {
		return r.failf("expect_error requires a prior submit")
	}
	if state.lastErr == nil {
		return r.assertf("%s succeeded, want error %s", state.lastType, want)
	}
	state.errHandled = true
	got := submit.Classify(state.lastErr).Code
	if got != want {
		return r.assertf("%s failed with %s (%v), want %s", state.lastType, got, state.lastErr, want)
	}
	return nil
}

func (r *Runner) runExpectTodos(ctx context.Context, env scenarioEnv, args map[string]any) error {
	todos, err := env.app.Store().List(ctx)
	if err != nil {
		return r.failf("list todos: %v", err)
	}
	wants := readList(args, "todos")
	if len(wants) != len(todos) {
		return r.assertf("store holds %d todos, want %d", len(todos), len(wants))
	}
	for i, want := range wants {
		fields, ok := want.(map[string]any)
		if !ok {
			return r.failf("todo %d: table expected, got %T", i+1, want)
		}
		got, err := toObject(todos[i])
		if err != nil {
			return r.failf("encode todo %d: %v", i+1, err)
		}
		if key, ok := mismatchedField(fields, got); !ok {
			return r.assertf("todo %d field %s = %v, want %v", i+1, key, got[key], fields[key])
		}
	}
	return nil
}

// checkUnhandledError fails when a submit error was not claimed by an
// expect_error step.
func (r *Runner) checkUnhandledError(state *scenarioState) error {
	if state.lastErr == nil || state.errHandled {
		return nil
	}
	err := state.lastErr
	state.errHandled = true
	return r.failf("%s failed: %w", state.lastType, err)
}

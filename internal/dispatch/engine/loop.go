package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
	"github.com/louisbranch/dizzy/internal/dispatch/registry"
	"github.com/louisbranch/dizzy/internal/platform/logging"
)

// errRunCancelled stops a run without failing it.
var errRunCancelled = errors.New("run cancelled")

// Loop dispatches commands and events against a sealed registry.
type Loop struct {
	registry       *registry.Registry
	maxDispatches  int
	handlerTimeout time.Duration
	sinks          []Sink
	observers      []EventObserver
	meta           MetaObserver
	logger         zerolog.Logger
	provider       *capability.Provider
	now            func() time.Time
	newRunID       func() string
}

// New builds a loop. The registry is shared, read-only, by every run.
func New(reg *registry.Registry, opts ...Option) (*Loop, error) {
	if reg == nil {
		return nil, ErrRegistryRequired
	}
	l := &Loop{
		registry:      reg,
		maxDispatches: DefaultMaxDispatches,
		logger:        logging.WithComponent("dispatch"),
		now:           time.Now,
		newRunID:      uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	if l.provider != nil {
		if err := l.checkCapabilities(); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// Registry returns the routing table the loop dispatches against.
func (l *Loop) Registry() *registry.Registry {
	return l.registry
}

func (l *Loop) checkCapabilities() error {
	for _, cmdType := range l.registry.CommandTypes() {
		for _, entry := range l.registry.ProceduresFor(cmdType) {
			for _, name := range entry.Declaration.Queries.Names() {
				if !l.provider.HasQuery(name) {
					return &registry.ConfigurationError{Handler: entry.Name, Type: string(cmdType), Reason: fmt.Sprintf("declared query %s is not provided", name)}
				}
			}
		}
	}
	for _, evtType := range l.registry.EventTypes() {
		for _, entry := range l.registry.PoliciesFor(evtType) {
			for _, name := range entry.Declaration.Queries.Names() {
				if !l.provider.HasQuery(name) {
					return &registry.ConfigurationError{Handler: entry.Name, Type: string(evtType), Reason: fmt.Sprintf("declared query %s is not provided", name)}
				}
			}
			for _, name := range entry.Declaration.Mutators.Names() {
				if !l.provider.HasMutator(name) {
					return &registry.ConfigurationError{Handler: entry.Name, Type: string(evtType), Reason: fmt.Sprintf("declared mutator %s is not provided", name)}
				}
			}
		}
	}
	return nil
}

// Run dispatches cmds until both queues drain, the context is cancelled, or
// a handler fails. Cancellation yields StatusCancelled and a nil error. On
// failure the result holds the events committed before the failing
// invocation.
func (l *Loop) Run(ctx context.Context, cmds ...command.Command) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	r := &run{
		loop: l,
		id:   l.newRunID(),
		ctx:  ctx,
	}
	r.logger = l.logger.With().Str(logging.FieldRunID, r.id).Logger()
	for i, cmd := range cmds {
		if err := cmd.Validate(); err != nil {
			return r.result(StatusFailed), fmt.Errorf("command %d: %w", i, err)
		}
		if cmd.CorrelationID == "" {
			cmd.CorrelationID = r.id
		}
		r.enqueueCommand(cmd)
	}
	return r.execute()
}

// run holds the state of one Run call.
type run struct {
	loop   *Loop
	id     string
	ctx    context.Context
	logger zerolog.Logger

	commands  queue[command.Command]
	events    queue[event.Event]
	committed []event.Event

	cmdSeq      uint64
	evtSeq      uint64
	dispatchSeq uint64
	cycle       int
	dispatches  int
}

func (r *run) execute() (Result, error) {
	for r.commands.len() > 0 || r.events.len() > 0 {
		r.cycle++
		dispatchedBefore, emittedBefore := r.dispatches, len(r.committed)
		r.emitMeta(event.CycleStarted{Cycle: r.cycle, Commands: r.commands.len()})

		for r.commands.len() > 0 {
			if err := r.checkpoint(); err != nil {
				return r.stop(err)
			}
			cmd, _ := r.commands.pop()
			r.dispatches++
			if err := r.dispatchCommand(cmd); err != nil {
				return r.stop(err)
			}
		}
		for r.events.len() > 0 {
			if err := r.checkpoint(); err != nil {
				return r.stop(err)
			}
			evt, _ := r.events.pop()
			r.dispatches++
			if err := r.dispatchEvent(evt); err != nil {
				return r.stop(err)
			}
		}

		r.emitMeta(event.CycleEnded{
			Cycle:      r.cycle,
			Dispatched: r.dispatches - dispatchedBefore,
			Emitted:    len(r.committed) - emittedBefore,
		})
	}
	r.logger.Debug().
		Int(logging.FieldCycle, r.cycle).
		Int("dispatches", r.dispatches).
		Int(logging.FieldEmitted, len(r.committed)).
		Msg("run completed")
	return r.result(StatusCompleted), nil
}

// checkpoint runs before each item is popped.
func (r *run) checkpoint() error {
	if r.ctx.Err() != nil {
		return errRunCancelled
	}
	limit := r.loop.maxDispatches
	if limit >= 0 && r.dispatches >= limit {
		return &CycleLimitError{
			Limit:           limit,
			Cycle:           r.cycle,
			PendingCommands: r.commands.pending(),
			PendingEvents:   r.events.pending(),
		}
	}
	return nil
}

func (r *run) stop(err error) (Result, error) {
	if errors.Is(err, errRunCancelled) {
		r.logger.Info().
			Int(logging.FieldCycle, r.cycle).
			Int("pending_commands", r.commands.len()).
			Int("pending_events", r.events.len()).
			Msg("run cancelled")
		return r.result(StatusCancelled), nil
	}
	r.logger.Warn().Err(err).Int(logging.FieldCycle, r.cycle).Msg("run failed")
	return r.result(StatusFailed), err
}

func (r *run) result(status Status) Result {
	return Result{
		RunID:      r.id,
		Events:     append([]event.Event{}, r.committed...),
		Status:     status,
		Cycles:     r.cycle,
		Dispatches: r.dispatches,
	}
}

func (r *run) enqueueCommand(cmd command.Command) command.Command {
	r.cmdSeq++
	cmd.Seq = r.cmdSeq
	r.commands.push(cmd)
	return cmd
}

func (r *run) dispatchCommand(cmd command.Command) error {
	entries := r.loop.registry.ProceduresFor(cmd.Type)
	if len(entries) == 0 {
		r.logger.Debug().
			Str(logging.FieldType, string(cmd.Type)).
			Str(logging.FieldCausationID, cmd.CausationID).
			Msg("no procedure registered, dropping command")
		return nil
	}
	for i, entry := range entries {
		if i > 0 && r.ctx.Err() != nil {
			return errRunCancelled
		}
		d := r.nextDispatch(KindCommand, entry.Name)
		d.Command = cmd
		r.notifyDispatch(d)

		invCtx, cancel := r.invocationContext()
		var emitted []event.Event
		pc, release := capability.BuildProcedureContext(invCtx, entry.Declaration, func(evt event.Event) {
			emitted = append(emitted, evt)
		})
		started := r.loop.now()
		err := r.invoke(invCtx, func() error {
			return entry.Procedure.Handle(pc, cmd)
		})
		release()
		cancel()
		if violation := pc.Violation(); violation != nil {
			err = violation
		}
		outcome := Outcome{Duration: r.loop.now().Sub(started)}

		if err != nil {
			if errors.Is(err, errRunCancelled) {
				outcome.Cancelled = true
				r.notifyComplete(d, outcome)
				return err
			}
			outcome.Err = err
			r.notifyComplete(d, outcome)
			return &DispatchError{
				Kind:            KindCommand,
				Command:         cmd,
				Handler:         entry.Name,
				Cycle:           r.cycle,
				Cause:           err,
				PendingCommands: r.commands.pending(),
				PendingEvents:   r.events.pending(),
			}
		}

		for _, evt := range emitted {
			r.evtSeq++
			evt.Seq = r.evtSeq
			evt.Cycle = r.cycle
			evt.CorrelationID = cmd.CorrelationID
			evt.CausationID = cmd.Ref()
			r.events.push(evt)
			r.committed = append(r.committed, evt)
			outcome.Events = append(outcome.Events, evt)
			r.observe(evt)
		}
		r.notifyComplete(d, outcome)
	}
	return nil
}

func (r *run) dispatchEvent(evt event.Event) error {
	entries := r.loop.registry.PoliciesFor(evt.Type)
	if len(entries) == 0 {
		r.logger.Debug().
			Str(logging.FieldType, string(evt.Type)).
			Str(logging.FieldCausationID, evt.CausationID).
			Msg("no policy registered, dropping event")
		return nil
	}
	for i, entry := range entries {
		if i > 0 && r.ctx.Err() != nil {
			return errRunCancelled
		}
		d := r.nextDispatch(KindEvent, entry.Name)
		d.Event = evt
		r.notifyDispatch(d)

		invCtx, cancel := r.invocationContext()
		var emitted []command.Command
		pc, release := capability.BuildPolicyContext(invCtx, entry.Declaration, func(cmd command.Command) {
			emitted = append(emitted, cmd)
		})
		started := r.loop.now()
		err := r.invoke(invCtx, func() error {
			return entry.Policy.Handle(pc, evt)
		})
		release()
		cancel()
		if violation := pc.Violation(); violation != nil {
			err = violation
		}
		outcome := Outcome{Duration: r.loop.now().Sub(started)}

		if err != nil {
			if errors.Is(err, errRunCancelled) {
				outcome.Cancelled = true
				r.notifyComplete(d, outcome)
				return err
			}
			outcome.Err = err
			r.notifyComplete(d, outcome)
			return &DispatchError{
				Kind:            KindEvent,
				Event:           evt,
				Handler:         entry.Name,
				Cycle:           r.cycle,
				Cause:           err,
				PendingCommands: r.commands.pending(),
				PendingEvents:   r.events.pending(),
			}
		}

		for _, cmd := range emitted {
			if cmd.CorrelationID == "" {
				cmd.CorrelationID = evt.CorrelationID
			}
			if cmd.CausationID == "" {
				cmd.CausationID = evt.Ref()
			}
			outcome.Commands = append(outcome.Commands, r.enqueueCommand(cmd))
		}
		r.notifyComplete(d, outcome)
	}
	return nil
}

func (r *run) nextDispatch(kind Kind, handler string) Dispatch {
	r.dispatchSeq++
	return Dispatch{
		RunID:   r.id,
		Kind:    kind,
		Handler: handler,
		Cycle:   r.cycle,
		Seq:     r.dispatchSeq,
	}
}

func (r *run) invocationContext() (context.Context, context.CancelFunc) {
	if r.loop.handlerTimeout > 0 {
		return context.WithTimeout(r.ctx, r.loop.handlerTimeout)
	}
	return context.WithCancel(r.ctx)
}

// invoke calls fn and maps context errors to cancellation or timeout. With a
// timeout configured the handler runs on its own goroutine so an overrun can
// be reported; its context is sealed afterwards, so late emissions are lost.
func (r *run) invoke(invCtx context.Context, fn func() error) error {
	if r.loop.handlerTimeout <= 0 {
		return r.interpret(invCtx, callSafely(fn))
	}
	done := make(chan error, 1)
	go func() {
		done <- callSafely(fn)
	}()
	select {
	case err := <-done:
		return r.interpret(invCtx, err)
	case <-invCtx.Done():
		if r.ctx.Err() != nil {
			return errRunCancelled
		}
		return fmt.Errorf("%w: exceeded %s", ErrHandlerTimeout, r.loop.handlerTimeout)
	}
}

func (r *run) interpret(invCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	ctxErr := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if ctxErr && r.ctx.Err() != nil {
		return errRunCancelled
	}
	if ctxErr && errors.Is(invCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: exceeded %s: %w", ErrHandlerTimeout, r.loop.handlerTimeout, err)
	}
	return err
}

func callSafely(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &panicError{value: rec}
		}
	}()
	return fn()
}

func (r *run) notifyDispatch(d Dispatch) {
	for _, s := range r.loop.sinks {
		err := callSafely(func() error {
			return s.OnDispatch(r.ctx, d)
		})
		if err != nil {
			r.logSinkFailure(err, d, "dispatch sink failed")
		}
	}
}

// notifyComplete detaches from run cancellation so sinks can still record the
// end of an invocation the run was cancelled in.
func (r *run) notifyComplete(d Dispatch, o Outcome) {
	ctx := context.WithoutCancel(r.ctx)
	for _, s := range r.loop.sinks {
		cs, ok := s.(CompletionSink)
		if !ok {
			continue
		}
		err := callSafely(func() error {
			return cs.OnComplete(ctx, d, o)
		})
		if err != nil {
			r.logSinkFailure(err, d, "completion sink failed")
		}
	}
}

func (r *run) logSinkFailure(err error, d Dispatch, msg string) {
	r.logger.Warn().
		Err(err).
		Str(logging.FieldKind, string(d.Kind)).
		Str(logging.FieldType, d.Type()).
		Str(logging.FieldHandler, d.Handler).
		Int(logging.FieldCycle, d.Cycle).
		Msg(msg)
}

func (r *run) observe(evt event.Event) {
	for _, fn := range r.loop.observers {
		err := callSafely(func() error {
			fn(r.ctx, evt)
			return nil
		})
		if err != nil {
			r.logger.Warn().Err(err).Str(logging.FieldType, string(evt.Type)).Msg("event observer failed")
		}
	}
}

func (r *run) emitMeta(payload event.Payload) {
	if r.loop.meta == nil {
		return
	}
	evt := event.New(payload)
	evt.CorrelationID = r.id
	evt.Cycle = r.cycle
	err := callSafely(func() error {
		r.loop.meta(r.ctx, evt)
		return nil
	})
	if err != nil {
		r.logger.Warn().Err(err).Str(logging.FieldType, string(evt.Type)).Msg("meta observer failed")
	}
}

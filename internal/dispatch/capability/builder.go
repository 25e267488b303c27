package capability

import (
	"context"

	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// BuildProcedureContext returns a fresh context for one procedure invocation
// and a release func that closes it. Emitted events are passed to appendFn.
func BuildProcedureContext(ctx context.Context, decl ProcedureDeclaration, appendFn func(event.Event)) (*ProcedureContext, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := &violationLog{}
	emitter := &EventEmitter{
		handler:    decl.Handler,
		declared:   decl.Emits,
		appendFn:   appendFn,
		violations: log,
	}
	pc := &ProcedureContext{
		ctx:     ctx,
		handler: decl.Handler,
		queries: decl.Queries,
		emitter: emitter,
		log:     log,
	}
	return pc, func() {
		pc.closed.Store(true)
		emitter.close()
	}
}

// BuildPolicyContext returns a fresh context for one policy invocation and a
// release func that closes it. Emitted commands are passed to appendFn.
func BuildPolicyContext(ctx context.Context, decl PolicyDeclaration, appendFn func(command.Command)) (*PolicyContext, func()) {
	if ctx == nil {
		ctx = context.Background()
	}
	log := &violationLog{}
	emitter := &CommandEmitter{
		handler:    decl.Handler,
		declared:   decl.Emits,
		appendFn:   appendFn,
		violations: log,
	}
	pc := &PolicyContext{
		ctx:      ctx,
		handler:  decl.Handler,
		queries:  decl.Queries,
		mutators: decl.Mutators,
		emitter:  emitter,
		log:      log,
	}
	return pc, func() {
		pc.closed.Store(true)
		emitter.close()
	}
}

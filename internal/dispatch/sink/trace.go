package sink

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/louisbranch/dizzy/internal/dispatch/engine"
)

const tracerName = "github.com/louisbranch/dizzy/internal/dispatch"

type spanKey struct {
	run string
	seq uint64
}

// Trace opens a span per handler invocation and closes it on completion.
type Trace struct {
	tracer trace.Tracer

	mu    sync.Mutex
	spans map[spanKey]trace.Span
}

// NewTrace uses provider, or the global provider when nil.
func NewTrace(provider trace.TracerProvider) *Trace {
	if provider == nil {
		provider = otel.GetTracerProvider()
	}
	return &Trace{
		tracer: provider.Tracer(tracerName),
		spans:  make(map[spanKey]trace.Span),
	}
}

// OnDispatch implements engine.Sink.
func (t *Trace) OnDispatch(ctx context.Context, d engine.Dispatch) error {
	_, span := t.tracer.Start(ctx, fmt.Sprintf("dispatch %s %s", d.Kind, d.Type()),
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("dizzy.run_id", d.RunID),
			attribute.String("dizzy.kind", string(d.Kind)),
			attribute.String("dizzy.type", d.Type()),
			attribute.String("dizzy.handler", d.Handler),
			attribute.String("dizzy.ref", d.Ref()),
			attribute.String("dizzy.correlation_id", d.CorrelationID()),
			attribute.Int("dizzy.cycle", d.Cycle),
		),
	)
	t.mu.Lock()
	t.spans[spanKey{run: d.RunID, seq: d.Seq}] = span
	t.mu.Unlock()
	return nil
}

// OnComplete implements engine.CompletionSink.
func (t *Trace) OnComplete(_ context.Context, d engine.Dispatch, o engine.Outcome) error {
	key := spanKey{run: d.RunID, seq: d.Seq}
	t.mu.Lock()
	span, ok := t.spans[key]
	delete(t.spans, key)
	t.mu.Unlock()
	if !ok {
		return fmt.Errorf("no open span for %s dispatch %d", d.RunID, d.Seq)
	}
	span.SetAttributes(attribute.Int("dizzy.emitted", len(o.Events)+len(o.Commands)))
	switch {
	case o.Cancelled:
		span.SetAttributes(attribute.Bool("dizzy.cancelled", true))
	case o.Err != nil:
		span.RecordError(o.Err)
		span.SetStatus(codes.Error, FailureReason(o.Err))
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
	return nil
}

var _ engine.CompletionSink = (*Trace)(nil)

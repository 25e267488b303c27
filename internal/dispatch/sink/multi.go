package sink

import (
	"context"
	"errors"

	"github.com/louisbranch/dizzy/internal/dispatch/engine"
)

// Multi fans one dispatch out to several sinks and joins their errors. A
// failing member does not stop the others.
type Multi []engine.Sink

// OnDispatch implements engine.Sink.
func (m Multi) OnDispatch(ctx context.Context, d engine.Dispatch) error {
	var errs []error
	for _, s := range m {
		if s == nil {
			continue
		}
		if err := s.OnDispatch(ctx, d); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// OnComplete implements engine.CompletionSink for the members that want it.
func (m Multi) OnComplete(ctx context.Context, d engine.Dispatch, o engine.Outcome) error {
	var errs []error
	for _, s := range m {
		cs, ok := s.(engine.CompletionSink)
		if !ok {
			continue
		}
		if err := cs.OnComplete(ctx, d, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var _ engine.CompletionSink = Multi(nil)

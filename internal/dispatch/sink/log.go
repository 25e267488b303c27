package sink

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/platform/logging"
)

// Log writes one entry per dispatch and per outcome.
type Log struct {
	logger zerolog.Logger
	level  zerolog.Level
}

// NewLog logs dispatches at level. Failed outcomes are always logged at warn.
func NewLog(logger zerolog.Logger, level zerolog.Level) *Log {
	return &Log{logger: logger, level: level}
}

// OnDispatch implements engine.Sink.
func (s *Log) OnDispatch(_ context.Context, d engine.Dispatch) error {
	s.logger.WithLevel(s.level).
		Str(logging.FieldRunID, d.RunID).
		Str(logging.FieldKind, string(d.Kind)).
		Str(logging.FieldType, d.Type()).
		Str(logging.FieldHandler, d.Handler).
		Str(logging.FieldCorrelationID, d.CorrelationID()).
		Int(logging.FieldCycle, d.Cycle).
		Uint64(logging.FieldSeq, d.Seq).
		Msg("dispatch")
	return nil
}

// OnComplete implements engine.CompletionSink.
func (s *Log) OnComplete(_ context.Context, d engine.Dispatch, o engine.Outcome) error {
	if o.Cancelled {
		s.logger.Info().
			Str(logging.FieldRunID, d.RunID).
			Str(logging.FieldHandler, d.Handler).
			Uint64(logging.FieldSeq, d.Seq).
			Dur(logging.FieldDuration, o.Duration).
			Msg("handler cancelled")
		return nil
	}
	if o.Err != nil {
		s.logger.Warn().
			Err(o.Err).
			Str(logging.FieldRunID, d.RunID).
			Str(logging.FieldKind, string(d.Kind)).
			Str(logging.FieldType, d.Type()).
			Str(logging.FieldHandler, d.Handler).
			Int(logging.FieldCycle, d.Cycle).
			Dur(logging.FieldDuration, o.Duration).
			Msg("handler failed")
		return nil
	}
	s.logger.WithLevel(s.level).
		Str(logging.FieldRunID, d.RunID).
		Str(logging.FieldHandler, d.Handler).
		Uint64(logging.FieldSeq, d.Seq).
		Int(logging.FieldEmitted, len(o.Events)+len(o.Commands)).
		Dur(logging.FieldDuration, o.Duration).
		Msg("handler completed")
	return nil
}

var _ engine.CompletionSink = (*Log)(nil)

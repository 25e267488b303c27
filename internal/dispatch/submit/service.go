package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/platform/logging"
)

// ErrCancelled reports a run stopped by its context before draining.
var ErrCancelled = errors.New("dispatch cancelled")

// Journal receives the events of every run that produced any.
type Journal interface {
	AppendEvents(ctx context.Context, envs []codec.Envelope) error
}

// JournalFunc adapts a function to Journal.
type JournalFunc func(ctx context.Context, envs []codec.Envelope) error

func (f JournalFunc) AppendEvents(ctx context.Context, envs []codec.Envelope) error {
	return f(ctx, envs)
}

// Reply is the outcome of one submitted batch.
type Reply struct {
	RunID  string
	Status engine.Status
	Events []codec.Envelope
}

// Option configures a Service.
type Option func(*Service)

// WithJournal appends produced events to j.
func WithJournal(j Journal) Option {
	return func(s *Service) {
		s.journal = j
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithConcurrency bounds how many batches SubmitBatch runs at once.
// Zero or less means unbounded.
func WithConcurrency(n int) Option {
	return func(s *Service) {
		s.concurrency = n
	}
}

// Service runs submitted commands through a loop.
type Service struct {
	loop        *engine.Loop
	journal     Journal
	logger      zerolog.Logger
	concurrency int

	// journalMu keeps each batch's events contiguous in the journal.
	journalMu sync.Mutex
}

// NewService wraps loop.
func NewService(loop *engine.Loop, opts ...Option) (*Service, error) {
	if loop == nil {
		return nil, fmt.Errorf("dispatch loop is required")
	}
	if loop.Registry().Commands() == nil {
		return nil, fmt.Errorf("registry has no command catalogue")
	}
	s := &Service{
		loop:   loop,
		logger: logging.WithComponent("submit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Submit runs a single command and returns the events it produced.
func (s *Service) Submit(ctx context.Context, commandType string, payload json.RawMessage) ([]codec.Envelope, error) {
	reply, err := s.SubmitEnvelopes(ctx, codec.Envelope{Type: commandType, Payload: payload})
	return reply.Events, err
}

// SubmitStruct is Submit for protobuf transports.
func (s *Service) SubmitStruct(ctx context.Context, commandType string, payload *structpb.Struct) ([]codec.Envelope, error) {
	raw := json.RawMessage("{}")
	if payload != nil {
		encoded, err := protojson.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", command.ErrPayloadInvalid, commandType, err)
		}
		raw = encoded
	}
	return s.Submit(ctx, commandType, raw)
}

// SubmitEnvelopes decodes every envelope and runs them as one batch. Nothing
// runs when any envelope fails to decode.
func (s *Service) SubmitEnvelopes(ctx context.Context, envs ...codec.Envelope) (Reply, error) {
	catalog := s.loop.Registry().Commands()
	cmds := make([]command.Command, 0, len(envs))
	for i, env := range envs {
		cmd, err := codec.DecodeCommand(catalog, env)
		if err != nil {
			return Reply{}, fmt.Errorf("command %d: %w", i, err)
		}
		cmds = append(cmds, cmd)
	}

	result, runErr := s.loop.Run(ctx, cmds...)
	reply := Reply{RunID: result.RunID, Status: result.Status}
	events, err := codec.EncodeEvents(result.Events)
	if err != nil {
		return reply, fmt.Errorf("encode events: %w", err)
	}
	reply.Events = events

	logger := s.logger.With().
		Str(logging.FieldRunID, result.RunID).
		Int(logging.FieldEmitted, len(events)).
		Logger()
	if runErr != nil {
		logger.Warn().Err(runErr).Str("status", string(result.Status)).Msg("run failed")
		return reply, runErr
	}
	if len(events) > 0 && s.journal != nil {
		if err := s.appendJournal(ctx, events); err != nil {
			return reply, err
		}
	}
	if result.Status == engine.StatusCancelled {
		logger.Info().Msg("run cancelled")
		return reply, fmt.Errorf("%w: %v", ErrCancelled, context.Cause(ctx))
	}
	logger.Debug().Int("dispatches", result.Dispatches).Int(logging.FieldCycle, result.Cycles).Msg("run completed")
	return reply, nil
}

// SubmitBatch runs independent batches concurrently. A failing batch does not
// cancel its siblings; only ctx does. Replies keep the order of batches and
// the first error is returned after every batch finished.
func (s *Service) SubmitBatch(ctx context.Context, batches [][]codec.Envelope) ([]Reply, error) {
	replies := make([]Reply, len(batches))
	var g errgroup.Group
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, batch := range batches {
		g.Go(func() error {
			reply, err := s.SubmitEnvelopes(ctx, batch...)
			replies[i] = reply
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			return nil
		})
	}
	return replies, g.Wait()
}

func (s *Service) appendJournal(ctx context.Context, events []codec.Envelope) error {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()
	// The run already committed; a cancelled request must not drop its events.
	if err := s.journal.AppendEvents(context.WithoutCancel(ctx), events); err != nil {
		return fmt.Errorf("append journal: %w", err)
	}
	return nil
}

// PayloadStruct decodes an envelope payload for protobuf transports.
func PayloadStruct(env codec.Envelope) (*structpb.Struct, error) {
	out := &structpb.Struct{}
	raw := env.Payload
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := protojson.Unmarshal(raw, out); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
	}
	return out, nil
}

package submit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
	"github.com/louisbranch/dizzy/internal/dispatch/provenance"
	"github.com/louisbranch/dizzy/internal/dispatch/registry"
	platformerrors "github.com/louisbranch/dizzy/internal/platform/errors"
	"github.com/louisbranch/dizzy/internal/storage/cursor"
	"github.com/louisbranch/dizzy/internal/storage/filter"
)

type add struct {
	X int `json:"x"`
}

func (add) CommandType() command.Type { return "test.add" }

type added struct {
	X int `json:"x"`
}

func (added) EventType() event.Type { return "test.added" }

type recordingJournal struct {
	mu    sync.Mutex
	calls [][]codec.Envelope
	err   error
}

func (j *recordingJournal) AppendEvents(_ context.Context, envs []codec.Envelope) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.calls = append(j.calls, envs)
	return j.err
}

func newTestService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	commands := command.NewRegistry()
	if err := commands.Register(command.Definition{Type: "test.add", Decode: command.JSONDecoder[add]()}); err != nil {
		t.Fatalf("register command: %v", err)
	}
	events := event.NewRegistry()
	if err := events.Register(event.Definition{Type: "test.added", Decode: event.JSONDecoder[added]()}); err != nil {
		t.Fatalf("register event: %v", err)
	}

	b := registry.NewBuilder(registry.WithCommandCatalog(commands), registry.WithEventCatalog(events))
	if err := b.RegisterProcedure(registry.ProcedureRegistration{
		Name:    "P",
		Command: "test.add",
		Emits:   []event.Type{"test.added"},
		Procedure: registry.ProcedureFunc(func(ctx *capability.ProcedureContext, cmd command.Command) error {
			x := cmd.Payload.(add).X
			if x < 0 {
				return errors.New("negative")
			}
			return ctx.Emit(added{X: x})
		}),
	}); err != nil {
		t.Fatalf("register procedure: %v", err)
	}
	if err := b.RegisterPolicy(registry.PolicyRegistration{
		Name:  "L",
		Event: "test.added",
		Emits: []command.Type{"test.add"},
		Policy: registry.PolicyFunc(func(ctx *capability.PolicyContext, evt event.Event) error {
			if x := evt.Payload.(added).X; x > 10 {
				return ctx.Emit(add{X: x - 10})
			}
			return nil
		}),
	}); err != nil {
		t.Fatalf("register policy: %v", err)
	}
	reg, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	loop, err := engine.New(reg, engine.WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	svc, err := NewService(loop, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc
}

func payloads(envs []codec.Envelope) []string {
	out := make([]string, 0, len(envs))
	for _, env := range envs {
		out = append(out, env.Type+" "+string(env.Payload))
	}
	return out
}

func TestSubmitReturnsEventsAndJournals(t *testing.T) {
	journal := &recordingJournal{}
	svc := newTestService(t, WithJournal(journal))

	got, err := svc.Submit(context.Background(), "test.add", json.RawMessage(`{"x":15}`))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := []string{`test.added {"x":15}`, `test.added {"x":5}`}
	if diff := cmp.Diff(want, payloads(got)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
	if got[1].CausationID != "command/2" {
		t.Fatalf("second event causation = %q, want %q", got[1].CausationID, "command/2")
	}
	if got[0].CorrelationID == "" || got[0].CorrelationID != got[1].CorrelationID {
		t.Fatalf("correlation ids = %q, %q, want shared run id", got[0].CorrelationID, got[1].CorrelationID)
	}
	if len(journal.calls) != 1 {
		t.Fatalf("journal calls = %d, want 1", len(journal.calls))
	}
	if diff := cmp.Diff(got, journal.calls[0]); diff != "" {
		t.Fatalf("journal mismatch (-want +got):\n%s", diff)
	}
}

func TestSubmitWithoutEventsSkipsJournal(t *testing.T) {
	journal := &recordingJournal{}
	svc := newTestService(t, WithJournal(journal))
	reply, err := svc.SubmitEnvelopes(context.Background())
	if err != nil {
		t.Fatalf("submit empty batch: %v", err)
	}
	if reply.Status != engine.StatusCompleted || len(reply.Events) != 0 {
		t.Fatalf("reply = %+v, want completed with no events", reply)
	}
	if len(journal.calls) != 0 {
		t.Fatalf("journal calls = %d, want 0", len(journal.calls))
	}
}

func TestSubmitErrorsAreClassified(t *testing.T) {
	tests := []struct {
		name    string
		typ     string
		payload string
		want    platformerrors.Code
		grpc    codes.Code
	}{
		{name: "unknown type", typ: "test.nope", payload: `{}`, want: platformerrors.CodeCommandTypeUnknown, grpc: codes.InvalidArgument},
		{name: "missing type", typ: "", payload: `{}`, want: platformerrors.CodePayloadInvalid, grpc: codes.InvalidArgument},
		{name: "bad payload", typ: "test.add", payload: `{"x":"ten"}`, want: platformerrors.CodePayloadInvalid, grpc: codes.InvalidArgument},
		{name: "handler failure", typ: "test.add", payload: `{"x":-1}`, want: platformerrors.CodeHandlerFailed, grpc: codes.FailedPrecondition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal := &recordingJournal{}
			svc := newTestService(t, WithJournal(journal))
			_, err := svc.Submit(context.Background(), tt.typ, json.RawMessage(tt.payload))
			if err == nil {
				t.Fatal("expected error")
			}
			if got := Classify(err).Code; got != tt.want {
				t.Fatalf("code = %s, want %s (err %v)", got, tt.want, err)
			}
			if got := status.Code(Status(err, "en-US")); got != tt.grpc {
				t.Fatalf("grpc code = %v, want %v", got, tt.grpc)
			}
			if len(journal.calls) != 0 {
				t.Fatalf("journal calls = %d, want 0", len(journal.calls))
			}
		})
	}
}

func TestClassifyCarriesHandlerMetadata(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Submit(context.Background(), "test.add", json.RawMessage(`{"x":-1}`))
	classified := Classify(err)
	if classified.Metadata["Handler"] != "P" || classified.Metadata["Type"] != "test.add" {
		t.Fatalf("metadata = %v, want handler P and type test.add", classified.Metadata)
	}

	st := status.Convert(Status(err, "pt-BR"))
	var localized string
	for _, detail := range st.Details() {
		if msg, ok := detail.(*errdetails.LocalizedMessage); ok {
			localized = msg.GetMessage()
		}
	}
	if localized != "O handler P rejeitou test.add." {
		t.Fatalf("localized = %q", localized)
	}
}

func TestClassifyKnownErrors(t *testing.T) {
	tests := []struct {
		err  error
		want platformerrors.Code
	}{
		{err: &engine.CycleLimitError{Limit: 3}, want: platformerrors.CodeCycleLimitExceeded},
		{err: &engine.DispatchError{Kind: engine.KindCommand, Handler: "P", Cause: engine.ErrHandlerTimeout}, want: platformerrors.CodeHandlerTimeout},
		{err: &engine.DispatchError{Kind: engine.KindEvent, Handler: "L", Cause: &capability.ViolationError{Handler: "L", Kind: capability.KindCommand, Name: "x"}}, want: platformerrors.CodeCapabilityViolation},
		{err: &registry.ConfigurationError{Handler: "P", Reason: "bad"}, want: platformerrors.CodeConfigurationInvalid},
		{err: context.Canceled, want: platformerrors.CodeDispatchCancelled},
		{err: errors.New("disk full"), want: platformerrors.CodeUnknown},
		{err: platformerrors.New(platformerrors.CodeNotFound, "gone"), want: platformerrors.CodeNotFound},
		{err: fmt.Errorf("list: %w", filter.ErrInvalid), want: platformerrors.CodeFilterInvalid},
		{err: fmt.Errorf("list: %w", cursor.ErrInvalidToken), want: platformerrors.CodePageTokenInvalid},
		{err: fmt.Errorf("activity a1: %w", provenance.ErrNotFound), want: platformerrors.CodeNotFound},
	}
	for _, tt := range tests {
		if got := Classify(tt.err).Code; got != tt.want {
			t.Fatalf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if Classify(nil) != nil || Status(nil, "en-US") != nil {
		t.Fatal("nil error should classify to nil")
	}
	if got := Classify(&engine.CycleLimitError{Limit: 3}).Metadata["Limit"]; got != "3" {
		t.Fatalf("limit metadata = %q, want 3", got)
	}
}

func TestSubmitCancelled(t *testing.T) {
	journal := &recordingJournal{}
	svc := newTestService(t, WithJournal(journal))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Submit(ctx, "test.add", json.RawMessage(`{"x":1}`))
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if got := Classify(err).Code; got != platformerrors.CodeDispatchCancelled {
		t.Fatalf("code = %s, want %s", got, platformerrors.CodeDispatchCancelled)
	}
	if len(journal.calls) != 0 {
		t.Fatalf("journal calls = %d, want 0", len(journal.calls))
	}
}

func TestSubmitJournalFailure(t *testing.T) {
	journal := &recordingJournal{err: errors.New("disk full")}
	svc := newTestService(t, WithJournal(journal))
	events, err := svc.Submit(context.Background(), "test.add", json.RawMessage(`{"x":1}`))
	if err == nil {
		t.Fatal("expected journal error")
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 even when journaling fails", len(events))
	}
}

func TestSubmitStruct(t *testing.T) {
	svc := newTestService(t)
	payload, err := structpb.NewStruct(map[string]any{"x": 3})
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	got, err := svc.SubmitStruct(context.Background(), "test.add", payload)
	if err != nil {
		t.Fatalf("submit struct: %v", err)
	}
	if diff := cmp.Diff([]string{`test.added {"x":3}`}, payloads(got)); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	back, err := PayloadStruct(got[0])
	if err != nil {
		t.Fatalf("payload struct: %v", err)
	}
	if x := back.GetFields()["x"].GetNumberValue(); x != 3 {
		t.Fatalf("x = %v, want 3", x)
	}
}

func TestSubmitBatchKeepsOrder(t *testing.T) {
	journal := &recordingJournal{}
	svc := newTestService(t, WithJournal(journal), WithConcurrency(2))
	batches := [][]codec.Envelope{
		{{Type: "test.add", Payload: json.RawMessage(`{"x":1}`)}},
		{{Type: "test.add", Payload: json.RawMessage(`{"x":2}`)}, {Type: "test.add", Payload: json.RawMessage(`{"x":3}`)}},
		{{Type: "test.add", Payload: json.RawMessage(`{"x":12}`)}},
	}
	replies, err := svc.SubmitBatch(context.Background(), batches)
	if err != nil {
		t.Fatalf("submit batch: %v", err)
	}
	want := [][]string{
		{`test.added {"x":1}`},
		{`test.added {"x":2}`, `test.added {"x":3}`},
		{`test.added {"x":12}`, `test.added {"x":2}`},
	}
	for i, reply := range replies {
		if diff := cmp.Diff(want[i], payloads(reply.Events)); diff != "" {
			t.Fatalf("batch %d mismatch (-want +got):\n%s", i, diff)
		}
	}
	if len(journal.calls) != 3 {
		t.Fatalf("journal calls = %d, want 3", len(journal.calls))
	}
}

func TestSubmitBatchReportsFailure(t *testing.T) {
	svc := newTestService(t)
	batches := [][]codec.Envelope{
		{{Type: "test.add", Payload: json.RawMessage(`{"x":1}`)}},
		{{Type: "test.add", Payload: json.RawMessage(`{"x":-1}`)}},
	}
	_, err := svc.SubmitBatch(context.Background(), batches)
	if !errors.Is(err, engine.ErrHandlerFailure) {
		t.Fatalf("err = %v, want ErrHandlerFailure", err)
	}
}

func TestSubmitBatchFailureLeavesSiblingsRunning(t *testing.T) {
	journal := &recordingJournal{}
	svc := newTestService(t, WithJournal(journal), WithConcurrency(1))
	batches := [][]codec.Envelope{
		{{Type: "test.add", Payload: json.RawMessage(`{"x":-1}`)}},
		{{Type: "test.add", Payload: json.RawMessage(`{"x":2}`)}},
	}
	replies, err := svc.SubmitBatch(context.Background(), batches)
	if !errors.Is(err, engine.ErrHandlerFailure) {
		t.Fatalf("err = %v, want ErrHandlerFailure", err)
	}
	if replies[0].Status != engine.StatusFailed {
		t.Fatalf("batch 0 status = %s, want %s", replies[0].Status, engine.StatusFailed)
	}
	if replies[1].Status != engine.StatusCompleted {
		t.Fatalf("batch 1 status = %s, want %s", replies[1].Status, engine.StatusCompleted)
	}
	if diff := cmp.Diff([]string{`test.added {"x":2}`}, payloads(replies[1].Events)); diff != "" {
		t.Fatalf("batch 1 mismatch (-want +got):\n%s", diff)
	}
	if len(journal.calls) != 1 {
		t.Fatalf("journal calls = %d, want 1", len(journal.calls))
	}
}

func TestNewServiceRequiresCatalogue(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error for nil loop")
	}
	reg, err := registry.NewBuilder().Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	loop, err := engine.New(reg)
	if err != nil {
		t.Fatalf("new loop: %v", err)
	}
	if _, err := NewService(loop); err == nil {
		t.Fatal("expected error for registry without catalogue")
	}
}

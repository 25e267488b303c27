package provenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
)

type openKey struct {
	run string
	seq uint64
}

// Recorder is an engine sink that writes activities, entities and
// derivations to a Store.
type Recorder struct {
	store Store
	now   func() time.Time
	newID func() string

	mu   sync.Mutex
	open map[openKey]Activity
}

// Open returns the number of activities started but not yet ended.
func (r *Recorder) Open() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.open)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock overrides the activity timestamps source.
func WithClock(now func() time.Time) RecorderOption {
	return func(r *Recorder) {
		if now != nil {
			r.now = now
		}
	}
}

// WithIDGenerator overrides activity id generation.
func WithIDGenerator(fn func() string) RecorderOption {
	return func(r *Recorder) {
		if fn != nil {
			r.newID = fn
		}
	}
}

// NewRecorder records into store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		open:  make(map[openKey]Activity),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// OnDispatch starts an activity using the dispatched item.
func (r *Recorder) OnDispatch(ctx context.Context, d engine.Dispatch) error {
	used, err := r.entityFor(ctx, d)
	if err != nil {
		return err
	}
	activity := Activity{
		ID:        r.newID(),
		RunID:     d.RunID,
		Handler:   d.Handler,
		Kind:      string(d.Kind),
		Cycle:     d.Cycle,
		Seq:       d.Seq,
		Status:    StatusStarted,
		StartedAt: r.now().UTC(),
		Used:      used,
	}
	if err := r.store.PutActivity(ctx, activity); err != nil {
		return fmt.Errorf("start activity: %w", err)
	}
	r.mu.Lock()
	r.open[openKey{run: d.RunID, seq: d.Seq}] = activity
	r.mu.Unlock()
	return nil
}

// OnComplete ends the activity and records what it generated.
func (r *Recorder) OnComplete(ctx context.Context, d engine.Dispatch, o engine.Outcome) error {
	key := openKey{run: d.RunID, seq: d.Seq}
	r.mu.Lock()
	activity, ok := r.open[key]
	delete(r.open, key)
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("no open activity for %s dispatch %d", d.RunID, d.Seq)
	}

	activity.EndedAt = r.now().UTC()
	if o.Cancelled {
		activity.Status = StatusCancelled
		return r.store.PutActivity(ctx, activity)
	}
	if o.Err != nil {
		activity.Status = StatusCrashed
		activity.Error = o.Err.Error()
		return r.store.PutActivity(ctx, activity)
	}
	activity.Status = StatusEnded

	var envelopes []codec.Envelope
	for _, evt := range o.Events {
		env, err := codec.EncodeEvent(evt)
		if err != nil {
			return err
		}
		envelopes = append(envelopes, env)
	}
	for _, cmd := range o.Commands {
		env, err := codec.EncodeCommand(cmd)
		if err != nil {
			return err
		}
		envelopes = append(envelopes, env)
	}
	kind := string(engine.KindEvent)
	if d.Kind == engine.KindEvent {
		kind = string(engine.KindCommand)
	}
	for _, env := range envelopes {
		id, err := r.putEntity(ctx, kind, env)
		if err != nil {
			return err
		}
		activity.Generated = append(activity.Generated, id)
		if err := r.store.PutDerivation(ctx, Derivation{EntityID: id, SourceID: activity.Used, ActivityID: activity.ID}); err != nil {
			return fmt.Errorf("record derivation: %w", err)
		}
	}
	return r.store.PutActivity(ctx, activity)
}

func (r *Recorder) entityFor(ctx context.Context, d engine.Dispatch) (string, error) {
	var (
		env codec.Envelope
		err error
	)
	if d.Kind == engine.KindEvent {
		env, err = codec.EncodeEvent(d.Event)
	} else {
		env, err = codec.EncodeCommand(d.Command)
	}
	if err != nil {
		return "", err
	}
	return r.putEntity(ctx, string(d.Kind), env)
}

func (r *Recorder) putEntity(ctx context.Context, kind string, env codec.Envelope) (string, error) {
	id, err := EntityID(env.Type, env.Payload)
	if err != nil {
		return "", err
	}
	if err := r.store.PutEntity(ctx, Entity{ID: id, Kind: kind, Type: env.Type, Payload: env.Payload}); err != nil {
		return "", fmt.Errorf("record entity: %w", err)
	}
	return id, nil
}

// Activity returns a recorded activity.
func (r *Recorder) Activity(ctx context.Context, id string) (Activity, error) {
	return r.store.GetActivity(ctx, id)
}

// Lineage walks derivations from entityID back to its roots, breadth first.
// Each derivation appears once even when content addressing makes the graph
// cyclic.
func (r *Recorder) Lineage(ctx context.Context, entityID string) ([]Derivation, error) {
	return Lineage(ctx, r.store, entityID)
}

// Lineage walks the derivation graph of store from entityID.
func Lineage(ctx context.Context, store Store, entityID string) ([]Derivation, error) {
	if _, err := store.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	var out []Derivation
	seen := map[Derivation]bool{}
	visited := map[string]bool{entityID: true}
	frontier := []string{entityID}
	for len(frontier) > 0 {
		current := frontier[0]
		frontier = frontier[1:]
		derivations, err := store.DerivationsOf(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, d := range derivations {
			if seen[d] {
				continue
			}
			seen[d] = true
			out = append(out, d)
			if !visited[d.SourceID] {
				visited[d.SourceID] = true
				frontier = append(frontier, d.SourceID)
			}
		}
	}
	return out, nil
}

var _ engine.CompletionSink = (*Recorder)(nil)

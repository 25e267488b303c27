package todo

import (
	"context"
	"time"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
)

const (
	QueryGet    capability.Name = "todo.get"
	QueryList   capability.Name = "todo.list"
	QueryNextID capability.Name = "todo.next_id"

	MutatorSave          capability.Name = "todo.save"
	MutatorMarkCompleted capability.Name = "todo.mark_completed"
	MutatorRemove        capability.Name = "todo.remove"
)

// Completion is the input of the mark completed mutator.
type Completion struct {
	ID string
	At time.Time
}

// Capabilities are the queries and mutators handlers reach the Store with.
type Capabilities struct {
	Get    capability.Query[string, Todo]
	List   capability.Query[struct{}, []Todo]
	NextID capability.Query[struct{}, string]

	Save          capability.Mutator[Todo, struct{}]
	MarkCompleted capability.Mutator[Completion, struct{}]
	Remove        capability.Mutator[string, bool]
}

func newCapabilities(store *Store, nextID func() (string, error)) Capabilities {
	return Capabilities{
		Get: capability.NewQuery(QueryGet, store.Get),
		List: capability.NewQuery(QueryList, func(ctx context.Context, _ struct{}) ([]Todo, error) {
			return store.List(ctx)
		}),
		NextID: capability.NewQuery(QueryNextID, func(ctx context.Context, _ struct{}) (string, error) {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			return nextID()
		}),
		Save: capability.NewMutator(MutatorSave, func(ctx context.Context, todo Todo) (struct{}, error) {
			return struct{}{}, store.Save(ctx, todo)
		}),
		MarkCompleted: capability.NewMutator(MutatorMarkCompleted, func(ctx context.Context, c Completion) (struct{}, error) {
			return struct{}{}, store.MarkCompleted(ctx, c.ID, c.At)
		}),
		Remove: capability.NewMutator(MutatorRemove, store.Remove),
	}
}

// Provider lists every accessor for registry validation.
func (c Capabilities) Provider() (*capability.Provider, error) {
	return capability.NewProvider(c.Get, c.List, c.NextID, c.Save, c.MarkCompleted, c.Remove)
}

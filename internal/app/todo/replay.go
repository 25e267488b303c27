package todo

import (
	"context"
	"fmt"

	"github.com/louisbranch/dizzy/internal/dispatch/codec"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// EventTypes lists the events Replay understands, for journal queries.
func EventTypes() []string {
	return []string{
		string(EventAdded),
		string(EventCompleted),
		string(EventDeleted),
		string(EventCompletedCleared),
	}
}

// Replay applies journaled events to the store in order. Deletions caused by
// a clear are journaled as their own events, so CompletedCleared changes
// nothing here.
func (a *App) Replay(ctx context.Context, envs []codec.Envelope) error {
	for i, env := range envs {
		evt, err := codec.DecodeEvent(a.events, env)
		if err != nil {
			return fmt.Errorf("replay event %d: %w", i, err)
		}
		if err := a.apply(ctx, evt); err != nil {
			return fmt.Errorf("replay event %d (%s): %w", i, env.Type, err)
		}
	}
	return nil
}

func (a *App) apply(ctx context.Context, evt event.Event) error {
	switch payload := evt.Payload.(type) {
	case Added:
		return a.store.Save(ctx, Todo{ID: payload.TodoID, Text: payload.Text, CreatedAt: payload.CreatedAt})
	case Completed:
		return a.store.MarkCompleted(ctx, payload.TodoID, payload.CompletedAt)
	case Deleted:
		_, err := a.store.Remove(ctx, payload.TodoID)
		return err
	case CompletedCleared:
		return nil
	default:
		return fmt.Errorf("unsupported event %s", evt.Type)
	}
}

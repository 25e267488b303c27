package todo

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/engine"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
	"github.com/louisbranch/dizzy/internal/dispatch/registry"
	"github.com/louisbranch/dizzy/internal/platform/id"
	"github.com/louisbranch/dizzy/internal/platform/logging"
)

// ErrTextRequired rejects an add command with blank text.
var ErrTextRequired = errors.New("todo text is required")

// Option configures an App.
type Option func(*App)

// WithClock overrides the time stamped on events.
func WithClock(now func() time.Time) Option {
	return func(a *App) {
		if now != nil {
			a.now = now
		}
	}
}

// WithIDGenerator overrides the id issued by the next id query.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(a *App) {
		if fn != nil {
			a.nextID = fn
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(a *App) {
		a.logger = logger
	}
}

// App wires the todo handlers to a Store.
type App struct {
	store    *Store
	caps     Capabilities
	provider *capability.Provider
	commands *command.Registry
	events   *event.Registry
	registry *registry.Registry
	now      func() time.Time
	nextID   func() (string, error)
	logger   zerolog.Logger
}

// New builds the registry for store.
func New(store *Store, opts ...Option) (*App, error) {
	if store == nil {
		return nil, fmt.Errorf("todo store is required")
	}
	a := &App{
		store:  store,
		now:    time.Now,
		nextID: id.NewID,
		logger: logging.WithComponent("todo"),
	}
	for _, opt := range opts {
		opt(a)
	}
	a.caps = newCapabilities(store, a.nextID)

	var err error
	if a.provider, err = a.caps.Provider(); err != nil {
		return nil, err
	}
	if a.commands, err = Commands(); err != nil {
		return nil, err
	}
	if a.events, err = Events(); err != nil {
		return nil, err
	}

	b := registry.NewBuilder(
		registry.WithCommandCatalog(a.commands),
		registry.WithEventCatalog(a.events),
		registry.WithCapabilities(a.provider),
	)
	if err := a.register(b); err != nil {
		return nil, err
	}
	if a.registry, err = b.Build(); err != nil {
		return nil, err
	}
	return a, nil
}

// Store returns the backing store.
func (a *App) Store() *Store { return a.store }

// Registry returns the sealed routing table.
func (a *App) Registry() *registry.Registry { return a.registry }

// Loop builds a dispatch loop over the app's registry and capabilities.
func (a *App) Loop(opts ...engine.Option) (*engine.Loop, error) {
	opts = append([]engine.Option{engine.WithCapabilities(a.provider)}, opts...)
	return engine.New(a.registry, opts...)
}

func (a *App) register(b *registry.Builder) error {
	procedures := []registry.ProcedureRegistration{
		{
			Name:      "AddTodo",
			Command:   CommandAdd,
			Procedure: registry.ProcedureFunc(a.addTodo),
			Emits:     []event.Type{EventAdded},
			Queries:   []capability.Name{QueryNextID},
		},
		{
			Name:      "CompleteTodo",
			Command:   CommandComplete,
			Procedure: registry.ProcedureFunc(a.completeTodo),
			Emits:     []event.Type{EventCompleted},
			Queries:   []capability.Name{QueryGet},
		},
		{
			Name:      "DeleteTodo",
			Command:   CommandDelete,
			Procedure: registry.ProcedureFunc(a.deleteTodo),
			Emits:     []event.Type{EventDeleted},
			Queries:   []capability.Name{QueryGet},
		},
		{
			Name:      "ClearCompleted",
			Command:   CommandClearCompleted,
			Procedure: registry.ProcedureFunc(a.clearCompleted),
			Emits:     []event.Type{EventCompletedCleared},
			Queries:   []capability.Name{QueryList},
		},
	}
	for _, reg := range procedures {
		if err := b.RegisterProcedure(reg); err != nil {
			return err
		}
	}

	policies := []registry.PolicyRegistration{
		{
			Name:     "SaveAddedTodo",
			Event:    EventAdded,
			Policy:   registry.PolicyFunc(a.saveAdded),
			Mutators: []capability.Name{MutatorSave},
		},
		{
			Name:     "MarkTodoCompleted",
			Event:    EventCompleted,
			Policy:   registry.PolicyFunc(a.markCompleted),
			Mutators: []capability.Name{MutatorMarkCompleted},
		},
		{
			Name:     "RemoveDeletedTodo",
			Event:    EventDeleted,
			Policy:   registry.PolicyFunc(a.removeDeleted),
			Mutators: []capability.Name{MutatorRemove},
		},
		{
			Name:   "DeleteClearedTodos",
			Event:  EventCompletedCleared,
			Policy: registry.PolicyFunc(a.deleteCleared),
			Emits:  []command.Type{CommandDelete},
		},
	}
	for _, reg := range policies {
		if err := b.RegisterPolicy(reg); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) addTodo(ctx *capability.ProcedureContext, cmd command.Command) error {
	add := cmd.Payload.(Add)
	text := strings.TrimSpace(add.Text)
	if text == "" {
		return ErrTextRequired
	}
	todoID, err := capability.Ask(ctx, a.caps.NextID, struct{}{})
	if err != nil {
		return fmt.Errorf("issue todo id: %w", err)
	}
	return ctx.Emit(Added{TodoID: todoID, Text: text, CreatedAt: a.now().UTC()})
}

func (a *App) completeTodo(ctx *capability.ProcedureContext, cmd command.Command) error {
	complete := cmd.Payload.(Complete)
	todo, found, err := a.lookup(ctx, complete.TodoID)
	if err != nil || !found {
		return err
	}
	if todo.Completed {
		a.logger.Debug().Str(logging.FieldEntityID, todo.ID).Msg("todo already completed")
		return nil
	}
	return ctx.Emit(Completed{TodoID: todo.ID, CompletedAt: a.now().UTC()})
}

func (a *App) deleteTodo(ctx *capability.ProcedureContext, cmd command.Command) error {
	del := cmd.Payload.(Delete)
	todo, found, err := a.lookup(ctx, del.TodoID)
	if err != nil || !found {
		return err
	}
	return ctx.Emit(Deleted{TodoID: todo.ID})
}

func (a *App) clearCompleted(ctx *capability.ProcedureContext, _ command.Command) error {
	todos, err := capability.Ask(ctx, a.caps.List, struct{}{})
	if err != nil {
		return err
	}
	var ids []string
	for _, todo := range todos {
		if todo.Completed {
			ids = append(ids, todo.ID)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return ctx.Emit(CompletedCleared{TodoIDs: ids})
}

// lookup treats an unknown id as a no-op for the calling procedure.
func (a *App) lookup(ctx *capability.ProcedureContext, todoID string) (Todo, bool, error) {
	todo, err := capability.Ask(ctx, a.caps.Get, strings.TrimSpace(todoID))
	if errors.Is(err, ErrNotFound) {
		a.logger.Debug().Str(logging.FieldEntityID, todoID).Str(logging.FieldHandler, ctx.Handler()).Msg("todo not found")
		return Todo{}, false, nil
	}
	if err != nil {
		return Todo{}, false, err
	}
	return todo, true, nil
}

func (a *App) saveAdded(ctx *capability.PolicyContext, evt event.Event) error {
	added := evt.Payload.(Added)
	_, err := capability.Mutate(ctx, a.caps.Save, Todo{ID: added.TodoID, Text: added.Text, CreatedAt: added.CreatedAt})
	return err
}

func (a *App) markCompleted(ctx *capability.PolicyContext, evt event.Event) error {
	completed := evt.Payload.(Completed)
	_, err := capability.Mutate(ctx, a.caps.MarkCompleted, Completion{ID: completed.TodoID, At: completed.CompletedAt})
	return err
}

func (a *App) removeDeleted(ctx *capability.PolicyContext, evt event.Event) error {
	_, err := capability.Mutate(ctx, a.caps.Remove, evt.Payload.(Deleted).TodoID)
	return err
}

func (a *App) deleteCleared(ctx *capability.PolicyContext, evt event.Event) error {
	for _, todoID := range evt.Payload.(CompletedCleared).TodoIDs {
		if err := ctx.Emit(Delete{TodoID: todoID}); err != nil {
			return err
		}
	}
	return nil
}

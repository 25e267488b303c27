package todo

import (
	"time"

	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

const (
	CommandAdd            command.Type = "todo.add"
	CommandComplete       command.Type = "todo.complete"
	CommandDelete         command.Type = "todo.delete"
	CommandClearCompleted command.Type = "todo.clear_completed"

	EventAdded            event.Type = "todo.added"
	EventCompleted        event.Type = "todo.completed"
	EventDeleted          event.Type = "todo.deleted"
	EventCompletedCleared event.Type = "todo.completed_cleared"
)

// Add asks for a new open todo.
type Add struct {
	Text string `json:"text"`
}

func (Add) CommandType() command.Type { return CommandAdd }

// Complete marks a todo done.
type Complete struct {
	TodoID string `json:"todo_id"`
}

func (Complete) CommandType() command.Type { return CommandComplete }

// Delete removes a todo.
type Delete struct {
	TodoID string `json:"todo_id"`
}

func (Delete) CommandType() command.Type { return CommandDelete }

// ClearCompleted removes every completed todo.
type ClearCompleted struct{}

func (ClearCompleted) CommandType() command.Type { return CommandClearCompleted }

type Added struct {
	TodoID    string    `json:"todo_id"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func (Added) EventType() event.Type { return EventAdded }

type Completed struct {
	TodoID      string    `json:"todo_id"`
	CompletedAt time.Time `json:"completed_at"`
}

func (Completed) EventType() event.Type { return EventCompleted }

type Deleted struct {
	TodoID string `json:"todo_id"`
}

func (Deleted) EventType() event.Type { return EventDeleted }

// CompletedCleared lists the todos a clear request selected, in list order.
type CompletedCleared struct {
	TodoIDs []string `json:"todo_ids"`
}

func (CompletedCleared) EventType() event.Type { return EventCompletedCleared }

// Commands returns the command catalogue.
func Commands() (*command.Registry, error) {
	reg := command.NewRegistry()
	for _, def := range []command.Definition{
		{Type: CommandAdd, Decode: command.JSONDecoder[Add]()},
		{Type: CommandComplete, Decode: command.JSONDecoder[Complete]()},
		{Type: CommandDelete, Decode: command.JSONDecoder[Delete]()},
		{Type: CommandClearCompleted, Decode: command.JSONDecoder[ClearCompleted]()},
	} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Events returns the event catalogue.
func Events() (*event.Registry, error) {
	reg := event.NewRegistry()
	for _, def := range []event.Definition{
		{Type: EventAdded, Decode: event.JSONDecoder[Added]()},
		{Type: EventCompleted, Decode: event.JSONDecoder[Completed]()},
		{Type: EventDeleted, Decode: event.JSONDecoder[Deleted]()},
		{Type: EventCompletedCleared, Decode: event.JSONDecoder[CompletedCleared]()},
	} {
		if err := reg.Register(def); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

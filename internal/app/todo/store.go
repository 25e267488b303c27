package todo

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrNotFound indicates an unknown todo id.
var ErrNotFound = errors.New("todo not found")

// Todo is one item.
type Todo struct {
	ID          string    `json:"id"`
	Text        string    `json:"text"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"created_at"`
	CompletedAt time.Time `json:"completed_at,omitzero"`
}

// Store keeps todos in memory, in creation order.
type Store struct {
	mu    sync.RWMutex
	byID  map[string]Todo
	order []string
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]Todo)}
}

// Get returns the todo with id.
func (s *Store) Get(ctx context.Context, id string) (Todo, error) {
	if err := ctx.Err(); err != nil {
		return Todo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	todo, ok := s.byID[id]
	if !ok {
		return Todo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return todo, nil
}

// List returns every todo in creation order.
func (s *Store) List(ctx context.Context) ([]Todo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Todo, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out, nil
}

// Save inserts or replaces a todo. New ids go to the end of the list.
func (s *Store) Save(ctx context.Context, todo Todo) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if todo.ID == "" {
		return fmt.Errorf("todo id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[todo.ID]; !ok {
		s.order = append(s.order, todo.ID)
	}
	s.byID[todo.ID] = todo
	return nil
}

// MarkCompleted sets the completion flag and time of id.
func (s *Store) MarkCompleted(ctx context.Context, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	todo, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	todo.Completed = true
	todo.CompletedAt = at
	s.byID[id] = todo
	return nil
}

// Remove deletes id and reports whether it existed.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return false, nil
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return true, nil
}

package provenance

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps provenance in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	entities    map[string]Entity
	activities  map[string]Activity
	derivations map[string][]Derivation
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities:    make(map[string]Entity),
		activities:  make(map[string]Activity),
		derivations: make(map[string][]Derivation),
	}
}

func (s *MemoryStore) PutEntity(_ context.Context, entity Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[entity.ID]; !ok {
		s.entities[entity.ID] = entity
	}
	return nil
}

func (s *MemoryStore) PutActivity(_ context.Context, activity Activity) error {
	activity.Generated = append([]string(nil), activity.Generated...)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities[activity.ID] = activity
	return nil
}

func (s *MemoryStore) PutDerivation(_ context.Context, derivation Derivation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.derivations[derivation.EntityID] {
		if existing == derivation {
			return nil
		}
	}
	s.derivations[derivation.EntityID] = append(s.derivations[derivation.EntityID], derivation)
	return nil
}

func (s *MemoryStore) GetActivity(_ context.Context, id string) (Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activity, ok := s.activities[id]
	if !ok {
		return Activity{}, fmt.Errorf("%w: activity %s", ErrNotFound, id)
	}
	activity.Generated = append([]string(nil), activity.Generated...)
	return activity, nil
}

func (s *MemoryStore) GetEntity(_ context.Context, id string) (Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entity, ok := s.entities[id]
	if !ok {
		return Entity{}, fmt.Errorf("%w: entity %s", ErrNotFound, id)
	}
	return entity, nil
}

func (s *MemoryStore) DerivationsOf(_ context.Context, entityID string) ([]Derivation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Derivation(nil), s.derivations[entityID]...), nil
}

var _ Store = (*MemoryStore)(nil)

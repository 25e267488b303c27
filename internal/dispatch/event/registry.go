package event

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Decoder builds a typed payload from its JSON form.
type Decoder func(json.RawMessage) (Payload, error)

// Definition registers metadata for an event type.
type Definition struct {
	Type   Type
	Decode Decoder
}

// Registry is the catalogue of event types an application emits.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a new event type definition to the registry.
func (r *Registry) Register(def Definition) error {
	if r == nil {
		return errors.New("registry is required")
	}
	def.Type = Type(strings.TrimSpace(string(def.Type)))
	if def.Type == "" {
		return ErrTypeRequired
	}
	if r.definitions == nil {
		r.definitions = make(map[Type]Definition)
	}
	if _, exists := r.definitions[def.Type]; exists {
		return fmt.Errorf("event type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the event definition for a given type.
func (r *Registry) Definition(evtType Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[Type(strings.TrimSpace(string(evtType)))]
	return def, ok
}

// Has reports whether the type is registered.
func (r *Registry) Has(evtType Type) bool {
	_, ok := r.Definition(evtType)
	return ok
}

// ListDefinitions returns a stable, sorted snapshot of registered definitions.
func (r *Registry) ListDefinitions() []Definition {
	if r == nil || len(r.definitions) == 0 {
		return nil
	}
	definitions := make([]Definition, 0, len(r.definitions))
	for _, definition := range r.definitions {
		definitions = append(definitions, definition)
	}
	sort.Slice(definitions, func(i, j int) bool {
		return definitions[i].Type < definitions[j].Type
	})
	return definitions
}

// Decode rebuilds an event of the given type from a JSON payload. It is used
// when replaying journaled events.
func (r *Registry) Decode(evtType Type, raw json.RawMessage) (Event, error) {
	evtType = Type(strings.TrimSpace(string(evtType)))
	if evtType == "" {
		return Event{}, ErrTypeRequired
	}
	def, ok := r.Definition(evtType)
	if !ok {
		return Event{}, fmt.Errorf("%w: %s", ErrTypeUnknown, evtType)
	}
	if def.Decode == nil {
		return Event{}, fmt.Errorf("event type %s has no decoder", evtType)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	payload, err := def.Decode(raw)
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s: %v", ErrPayloadInvalid, evtType, err)
	}
	evt := New(payload)
	if err := evt.Validate(); err != nil {
		return Event{}, err
	}
	if evt.Type != evtType {
		return Event{}, fmt.Errorf("%w: decoded %s as %s", ErrPayloadTypeMismatch, evtType, evt.Type)
	}
	return evt, nil
}

// JSONDecoder returns a Decoder that unmarshals into a value of type T.
func JSONDecoder[T Payload]() Decoder {
	return func(raw json.RawMessage) (Payload, error) {
		var payload T
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, err
		}
		return payload, nil
	}
}

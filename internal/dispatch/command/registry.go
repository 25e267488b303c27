package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Decoder builds a typed payload from its JSON form.
type Decoder func(json.RawMessage) (Payload, error)

// Definition registers metadata for a command type.
type Definition struct {
	Type   Type
	Decode Decoder
}

// Registry is the catalogue of command types an application accepts.
type Registry struct {
	definitions map[Type]Definition
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{definitions: make(map[Type]Definition)}
}

// Register adds a new command type definition to the registry.
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
		return fmt.Errorf("command type already registered: %s", def.Type)
	}
	r.definitions[def.Type] = def
	return nil
}

// Definition returns the command definition for a given type.
func (r *Registry) Definition(cmdType Type) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	def, ok := r.definitions[Type(strings.TrimSpace(string(cmdType)))]
	return def, ok
}

// Has reports whether the type is registered.
func (r *Registry) Has(cmdType Type) bool {
	_, ok := r.Definition(cmdType)
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

// Decode builds a command of the given type from a JSON payload.
func (r *Registry) Decode(cmdType Type, raw json.RawMessage, opts ...Option) (Command, error) {
	cmdType = Type(strings.TrimSpace(string(cmdType)))
	if cmdType == "" {
		return Command{}, ErrTypeRequired
	}
	def, ok := r.Definition(cmdType)
	if !ok {
		return Command{}, fmt.Errorf("%w: %s", ErrTypeUnknown, cmdType)
	}
	if def.Decode == nil {
		return Command{}, fmt.Errorf("command type %s has no decoder", cmdType)
	}
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	payload, err := def.Decode(raw)
	if err != nil {
		return Command{}, fmt.Errorf("%w: %s: %v", ErrPayloadInvalid, cmdType, err)
	}
	cmd := New(payload, opts...)
	if err := cmd.Validate(); err != nil {
		return Command{}, err
	}
	if cmd.Type != cmdType {
		return Command{}, fmt.Errorf("%w: decoded %s as %s", ErrPayloadTypeMismatch, cmdType, cmd.Type)
	}
	return cmd, nil
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

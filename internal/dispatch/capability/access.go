package capability

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// Name identifies a query or mutator.
type Name string

// NameSet is an immutable set of capability names.
type NameSet struct {
	names map[Name]struct{}
}

// NewNameSet builds a set from names, trimming whitespace.
func NewNameSet(names ...Name) NameSet {
	set := NameSet{names: make(map[Name]struct{}, len(names))}
	for _, name := range names {
		name = Name(strings.TrimSpace(string(name)))
		if name == "" {
			continue
		}
		set.names[name] = struct{}{}
	}
	return set
}

// Has reports whether name is a member.
func (s NameSet) Has(name Name) bool {
	_, ok := s.names[name]
	return ok
}

// Names returns the members sorted.
func (s NameSet) Names() []Name {
	out := make([]Name, 0, len(s.names))
	for name := range s.names {
		out = append(out, name)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both sets hold the same members.
func (s NameSet) Equal(other NameSet) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for name := range s.names {
		if !other.Has(name) {
			return false
		}
	}
	return true
}

// QueryFunc reads external state. Implementations must not mutate.
type QueryFunc[In, Out any] func(context.Context, In) (Out, error)

// MutatorFunc writes external state. Implementations must not emit.
type MutatorFunc[In, Out any] func(context.Context, In) (Out, error)

// Query is a named, typed read-only accessor.
type Query[In, Out any] struct {
	name Name
	fn   QueryFunc[In, Out]
}

// NewQuery binds fn under name.
func NewQuery[In, Out any](name Name, fn QueryFunc[In, Out]) Query[In, Out] {
	return Query[In, Out]{name: name, fn: fn}
}

// Name returns the query name.
func (q Query[In, Out]) Name() Name { return q.name }

func (q Query[In, Out]) accessorKind() Kind { return KindQuery }

// Mutator is a named, typed write accessor. Only policy contexts can call it.
type Mutator[In, Out any] struct {
	name Name
	fn   MutatorFunc[In, Out]
}

// NewMutator binds fn under name.
func NewMutator[In, Out any](name Name, fn MutatorFunc[In, Out]) Mutator[In, Out] {
	return Mutator[In, Out]{name: name, fn: fn}
}

// Name returns the mutator name.
func (m Mutator[In, Out]) Name() Name { return m.name }

func (m Mutator[In, Out]) accessorKind() Kind { return KindMutator }

// Accessor is implemented by Query and Mutator.
type Accessor interface {
	Name() Name
	accessorKind() Kind
}

// Provider lists the queries and mutators an application offers. The
// registry uses it to reject declarations naming accessors that do not exist.
type Provider struct {
	queries  NameSet
	mutators NameSet
}

// NewProvider indexes accessors by name. A name may be used once per kind.
func NewProvider(accessors ...Accessor) (*Provider, error) {
	queries := make([]Name, 0, len(accessors))
	mutators := make([]Name, 0, len(accessors))
	seen := make(map[Kind]map[Name]struct{}, 2)
	for _, accessor := range accessors {
		if accessor == nil {
			continue
		}
		name := Name(strings.TrimSpace(string(accessor.Name())))
		if name == "" {
			return nil, fmt.Errorf("%s name is required", accessor.accessorKind())
		}
		kind := accessor.accessorKind()
		if seen[kind] == nil {
			seen[kind] = make(map[Name]struct{})
		}
		if _, dup := seen[kind][name]; dup {
			return nil, fmt.Errorf("%s already provided: %s", kind, name)
		}
		seen[kind][name] = struct{}{}
		if kind == KindMutator {
			mutators = append(mutators, name)
		} else {
			queries = append(queries, name)
		}
	}
	return &Provider{queries: NewNameSet(queries...), mutators: NewNameSet(mutators...)}, nil
}

// HasQuery reports whether the provider offers the query.
func (p *Provider) HasQuery(name Name) bool {
	return p != nil && p.queries.Has(name)
}

// HasMutator reports whether the provider offers the mutator.
func (p *Provider) HasMutator(name Name) bool {
	return p != nil && p.mutators.Has(name)
}

// Ask runs a query through a context that declared it.
func Ask[In, Out any](r Reader, q Query[In, Out], in In) (Out, error) {
	var zero Out
	if r == nil {
		return zero, ErrContextRequired
	}
	if err := r.checkQuery(q.name); err != nil {
		return zero, err
	}
	if q.fn == nil {
		return zero, fmt.Errorf("query %s has no implementation", q.name)
	}
	return q.fn(r.Context(), in)
}

// Mutate runs a mutator through a policy context that declared it.
func Mutate[In, Out any](w Writer, m Mutator[In, Out], in In) (Out, error) {
	var zero Out
	if w == nil {
		return zero, ErrContextRequired
	}
	if err := w.checkMutator(m.name); err != nil {
		return zero, err
	}
	if m.fn == nil {
		return zero, fmt.Errorf("mutator %s has no implementation", m.name)
	}
	return m.fn(w.Context(), in)
}

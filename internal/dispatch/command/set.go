package command

import "sort"

// Set is an immutable set of command types, used to declare which commands a
// handler may emit.
type Set struct {
	types map[Type]struct{}
}

// NewSet builds a set from the given types. Duplicates collapse.
func NewSet(types ...Type) Set {
	set := Set{types: make(map[Type]struct{}, len(types))}
	for _, t := range types {
		set.types[t] = struct{}{}
	}
	return set
}

// Has reports whether t is a member.
func (s Set) Has(t Type) bool {
	_, ok := s.types[t]
	return ok
}

// Len returns the number of members.
func (s Set) Len() int { return len(s.types) }

// Types returns the members sorted by name.
func (s Set) Types() []Type {
	out := make([]Type, 0, len(s.types))
	for t := range s.types {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Equal reports whether both sets hold the same members.
func (s Set) Equal(other Set) bool {
	if len(s.types) != len(other.types) {
		return false
	}
	for t := range s.types {
		if !other.Has(t) {
			return false
		}
	}
	return true
}

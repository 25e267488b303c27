package registry

import (
	"sort"
	"strings"

	"github.com/louisbranch/dizzy/internal/dispatch/capability"
	"github.com/louisbranch/dizzy/internal/dispatch/command"
	"github.com/louisbranch/dizzy/internal/dispatch/event"
)

// Option configures a Builder.
type Option func(*Builder)

// WithCommandCatalog makes the builder reject procedures for command types,
// and policies emitting command types, that the catalogue does not define.
func WithCommandCatalog(commands *command.Registry) Option {
	return func(b *Builder) {
		b.commands = commands
	}
}

// WithEventCatalog makes the builder reject policies for event types, and
// procedures emitting event types, that the catalogue does not define.
func WithEventCatalog(events *event.Registry) Option {
	return func(b *Builder) {
		b.events = events
	}
}

// WithCapabilities makes the builder reject declarations naming queries or
// mutators the provider does not offer.
func WithCapabilities(provider *capability.Provider) Option {
	return func(b *Builder) {
		b.provider = provider
	}
}

// Builder collects registrations before the registry is sealed.
type Builder struct {
	commands   *command.Registry
	events     *event.Registry
	provider   *capability.Provider
	procedures map[command.Type][]ProcedureEntry
	policies   map[event.Type][]PolicyEntry
	built      bool
}

// NewBuilder creates an empty builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		procedures: make(map[command.Type][]ProcedureEntry),
		policies:   make(map[event.Type][]PolicyEntry),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// RegisterProcedure adds a procedure for reg.Command. Procedures sharing a
// command type run in registration order.
func (b *Builder) RegisterProcedure(reg ProcedureRegistration) error {
	if b == nil {
		return configErr("", "", "builder is required")
	}
	name := strings.TrimSpace(reg.Name)
	cmdType := command.Type(strings.TrimSpace(string(reg.Command)))
	if b.built {
		return configErr(name, string(cmdType), "registry already built")
	}
	if name == "" {
		return configErr("", string(cmdType), "procedure name is required")
	}
	if cmdType == "" {
		return configErr(name, "", "command type is required")
	}
	if reg.Procedure == nil {
		return configErr(name, string(cmdType), "procedure is required")
	}
	if b.commands != nil && !b.commands.Has(cmdType) {
		return configErr(name, string(cmdType), "command type is not defined")
	}
	for _, evtType := range reg.Emits {
		if strings.TrimSpace(string(evtType)) == "" {
			return configErr(name, string(cmdType), "declared event type is empty")
		}
		if isMetaEvent(evtType) {
			return configErr(name, string(cmdType), "procedures may not emit loop event %s", evtType)
		}
		if b.events != nil && !b.events.Has(evtType) {
			return configErr(name, string(cmdType), "declared event type %s is not defined", evtType)
		}
	}
	if err := b.checkQueries(name, string(cmdType), reg.Queries); err != nil {
		return err
	}

	decl := capability.ProcedureDeclaration{
		Handler: name,
		Emits:   event.NewSet(reg.Emits...),
		Queries: capability.NewNameSet(reg.Queries...),
	}
	for _, existing := range b.procedures[cmdType] {
		if existing.Name != name {
			continue
		}
		if !existing.Declaration.Emits.Equal(decl.Emits) || !existing.Declaration.Queries.Equal(decl.Queries) {
			return configErr(name, string(cmdType), "procedure registered twice with conflicting capabilities")
		}
		return configErr(name, string(cmdType), "procedure already registered")
	}
	b.procedures[cmdType] = append(b.procedures[cmdType], ProcedureEntry{
		Name:        name,
		Command:     cmdType,
		Procedure:   reg.Procedure,
		Declaration: decl,
	})
	return nil
}

// RegisterPolicy adds a policy for reg.Event. Policies sharing an event type
// run in registration order.
func (b *Builder) RegisterPolicy(reg PolicyRegistration) error {
	if b == nil {
		return configErr("", "", "builder is required")
	}
	name := strings.TrimSpace(reg.Name)
	evtType := event.Type(strings.TrimSpace(string(reg.Event)))
	if b.built {
		return configErr(name, string(evtType), "registry already built")
	}
	if name == "" {
		return configErr("", string(evtType), "policy name is required")
	}
	if evtType == "" {
		return configErr(name, "", "event type is required")
	}
	if reg.Policy == nil {
		return configErr(name, string(evtType), "policy is required")
	}
	if isMetaEvent(evtType) {
		return configErr(name, string(evtType), "loop events are not routed to policies")
	}
	if b.events != nil && !b.events.Has(evtType) {
		return configErr(name, string(evtType), "event type is not defined")
	}
	for _, cmdType := range reg.Emits {
		if strings.TrimSpace(string(cmdType)) == "" {
			return configErr(name, string(evtType), "declared command type is empty")
		}
		if b.commands != nil && !b.commands.Has(cmdType) {
			return configErr(name, string(evtType), "declared command type %s is not defined", cmdType)
		}
	}
	if err := b.checkQueries(name, string(evtType), reg.Queries); err != nil {
		return err
	}
	if b.provider != nil {
		for _, mutator := range reg.Mutators {
			if !b.provider.HasMutator(mutator) {
				return configErr(name, string(evtType), "declared mutator %s is not provided", mutator)
			}
		}
	}

	decl := capability.PolicyDeclaration{
		Handler:  name,
		Emits:    command.NewSet(reg.Emits...),
		Queries:  capability.NewNameSet(reg.Queries...),
		Mutators: capability.NewNameSet(reg.Mutators...),
	}
	for _, existing := range b.policies[evtType] {
		if existing.Name != name {
			continue
		}
		if !existing.Declaration.Emits.Equal(decl.Emits) ||
			!existing.Declaration.Queries.Equal(decl.Queries) ||
			!existing.Declaration.Mutators.Equal(decl.Mutators) {
			return configErr(name, string(evtType), "policy registered twice with conflicting capabilities")
		}
		return configErr(name, string(evtType), "policy already registered")
	}
	b.policies[evtType] = append(b.policies[evtType], PolicyEntry{
		Name:        name,
		Event:       evtType,
		Policy:      reg.Policy,
		Declaration: decl,
	})
	return nil
}

func (b *Builder) checkQueries(handler, typ string, queries []capability.Name) error {
	if b.provider == nil {
		return nil
	}
	for _, query := range queries {
		if !b.provider.HasQuery(query) {
			return configErr(handler, typ, "declared query %s is not provided", query)
		}
	}
	return nil
}

// Build seals the registrations. The builder rejects further registrations.
func (b *Builder) Build() (*Registry, error) {
	if b == nil {
		return nil, configErr("", "", "builder is required")
	}
	if b.built {
		return nil, configErr("", "", "registry already built")
	}
	b.built = true
	reg := &Registry{
		commands:   b.commands,
		events:     b.events,
		procedures: make(map[command.Type][]ProcedureEntry, len(b.procedures)),
		policies:   make(map[event.Type][]PolicyEntry, len(b.policies)),
	}
	for cmdType, entries := range b.procedures {
		reg.procedures[cmdType] = append([]ProcedureEntry(nil), entries...)
	}
	for evtType, entries := range b.policies {
		reg.policies[evtType] = append([]PolicyEntry(nil), entries...)
	}
	return reg, nil
}

// Registry is the sealed, read-only routing table.
type Registry struct {
	commands   *command.Registry
	events     *event.Registry
	procedures map[command.Type][]ProcedureEntry
	policies   map[event.Type][]PolicyEntry
}

// ProceduresFor returns the procedures for a command type in registration
// order. Unknown types yield an empty slice.
func (r *Registry) ProceduresFor(cmdType command.Type) []ProcedureEntry {
	if r == nil {
		return []ProcedureEntry{}
	}
	return append([]ProcedureEntry{}, r.procedures[cmdType]...)
}

// PoliciesFor returns the policies for an event type in registration order.
// Unknown types yield an empty slice.
func (r *Registry) PoliciesFor(evtType event.Type) []PolicyEntry {
	if r == nil {
		return []PolicyEntry{}
	}
	return append([]PolicyEntry{}, r.policies[evtType]...)
}

// CommandTypes lists command types with at least one procedure, sorted.
func (r *Registry) CommandTypes() []command.Type {
	if r == nil {
		return nil
	}
	out := make([]command.Type, 0, len(r.procedures))
	for cmdType := range r.procedures {
		out = append(out, cmdType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// EventTypes lists event types with at least one policy, sorted.
func (r *Registry) EventTypes() []event.Type {
	if r == nil {
		return nil
	}
	out := make([]event.Type, 0, len(r.policies))
	for evtType := range r.policies {
		out = append(out, evtType)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Commands returns the command catalogue the registry was validated against,
// or nil.
func (r *Registry) Commands() *command.Registry {
	if r == nil {
		return nil
	}
	return r.commands
}

// Events returns the event catalogue the registry was validated against, or
// nil.
func (r *Registry) Events() *event.Registry {
	if r == nil {
		return nil
	}
	return r.events
}

func isMetaEvent(t event.Type) bool {
	return t == event.TypeCycleStarted || t == event.TypeCycleEnded
}

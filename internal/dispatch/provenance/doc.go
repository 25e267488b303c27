// Package provenance records who produced what during dispatch.
//
// Every handler invocation is an activity. The item it handled is the entity
// it used; the items it emitted are entities it generated, each derived from
// the used entity. Entities are content addressed, so the same payload seen
// twice maps to one entity with several derivations.
package provenance

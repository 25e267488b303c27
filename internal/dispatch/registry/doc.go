// Package registry maps command types to procedures and event types to
// policies.
//
// A Builder collects registrations at startup and Build seals them into an
// immutable Registry. Several handlers may share one type; lookups return them
// in registration order so fan-out is deterministic. Reloading means building
// a new Registry, never mutating a live one.
package registry

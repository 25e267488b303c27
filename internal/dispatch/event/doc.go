// Package event defines the event envelope and event-type catalogue used by the
// dispatch loop.
//
// Events are immutable facts emitted by procedures. The loop stamps each event
// with its emission sequence and cycle so causality can be reconstructed from
// the returned list alone.
package event

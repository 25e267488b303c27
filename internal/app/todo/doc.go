// Package todo is a small application built on the dispatch core.
//
// Procedures validate todo commands against queries and emit events.
// Policies apply those events to the Store through mutators; the clear
// completed policy fans out one delete command per completed todo. The same
// event handling rebuilds a Store from a journal through Replay.
package todo

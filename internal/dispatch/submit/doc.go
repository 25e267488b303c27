// Package submit is the entry point transports use to run commands.
//
// A Service decodes a typed command from its wire envelope, runs it through
// the dispatch loop, appends the produced events to an optional journal and
// returns them as envelopes. Classify and Status translate dispatch errors
// into platform error codes and gRPC statuses.
package submit

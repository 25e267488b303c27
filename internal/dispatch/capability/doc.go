// Package capability builds the per-invocation context handed to procedures
// and policies.
//
// A context exposes exactly what its registration declared: the queries it
// may read, the item types it may emit and, for policies only, the mutators it
// may call. Procedure contexts do not implement Writer, so passing one to
// Mutate is a compile error rather than a runtime check.
package capability

// Package sqlite persists the event journal and provenance records in SQLite.
//
// The journal is append-only and content addressed: every event is stored
// with the sha256 of its type and canonical payload, and a chain hash linking
// it to the previous entry. Appending an event whose content hash is already
// present reports a duplicate instead of storing it again.
package sqlite

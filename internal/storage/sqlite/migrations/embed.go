package migrations

import "embed"

// FS contains embedded SQLite migrations for the journal and provenance store.
//
//go:embed *.sql
var FS embed.FS

package migrations

import "embed"

// FS contains embedded SQLite migrations for the social document store.
//
//go:embed *.sql
var FS embed.FS

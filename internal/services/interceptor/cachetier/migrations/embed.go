package migrations

import "embed"

// FS contains embedded SQLite migrations for cache tier storage.
//
//go:embed *.sql
var FS embed.FS

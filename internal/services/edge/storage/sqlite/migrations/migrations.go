// Package migrations embeds the edge SQLite schema.
package migrations

import "embed"

// FS holds the ordered edge schema migrations.
//
//go:embed *.sql
var FS embed.FS

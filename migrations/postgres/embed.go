// Package migrations embeds the PostgreSQL schema migrations.
package migrations

import "embed"

// FS contains the numbered golang-migrate files.
//
//go:embed *.sql
var FS embed.FS

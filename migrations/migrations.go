// Package migrations embeds the PostgreSQL schema so binaries and
// integration tests apply exactly the same SQL.
package migrations

import "embed"

// FS holds every *.sql migration, applied in lexical filename order.
//
//go:embed *.sql
var FS embed.FS

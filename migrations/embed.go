// Package migrations bundles the SQL schema migrations into the binary.
package migrations

import "embed"

// FS holds every numbered .sql migration in this directory.
//
//go:embed *.sql
var FS embed.FS

// Package migrations embeds the schema so binaries and integration tests
// apply the same SQL.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations embeds the SQL schema migrations so binaries and tests
// can run them without a migrations directory on disk.
package migrations

import "embed"

// FS holds every up/down migration pair. Consumed through a
// golang-migrate iofs source by cmd/migrator and the test helpers.
//
//go:embed *.sql
var FS embed.FS

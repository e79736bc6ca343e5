// Package migrations holds the postgres schema. Every file is idempotent
// and applied in name order at startup.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

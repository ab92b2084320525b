// Package migrations carries the embedded database schema and seed data.
package migrations

import "embed"

//go:embed sql seeds
var FS embed.FS

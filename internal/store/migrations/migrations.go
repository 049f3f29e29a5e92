// Package migrations embeds the app database schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

// Package migrations embeds the admin console's SQL migrations.
package migrations

import "embed"

//go:embed *.sql
var files embed.FS

// FS holds every NNNN_name.{up,down}.sql file at its root.
var FS = files

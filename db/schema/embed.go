// Package schema holds the SQL migrations for the tracking and prediction log tables.
package schema

import "embed"

// FS contains every migration file, named NNN_description.{up,down}.sql.
//
//go:embed *.sql
var FS embed.FS

// Package migrations holds the SQL schema for the postgres record sink.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

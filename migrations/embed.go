// Package migrations embeds the schema for the census source and access-log tables.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS

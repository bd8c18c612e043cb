// Package migrations embeds the SQL migrations for the postgres state store.
package migrations

import "embed"

//go:embed postgres/*.sql
var FS embed.FS

// Package migrations embeds the versioned schema of the metadata store, one
// directory per SQL dialect.
package migrations

import "embed"

//go:embed sqlite/*.sql mysql/*.sql
var FS embed.FS

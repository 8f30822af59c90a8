package store

import "embed"

// migrationsFS embeds the goose migration files compiled into the binary,
// mirroring the way the rest of this codebase ships its fixed assets.
//
//go:embed migrations/*.sql
var migrationsFS embed.FS

// Package migrations embeds SQL migration files for use at runtime.
// Migrations are embedded so they work regardless of working directory.
// Each backend has its own dialect directory.
package migrations

import "embed"

// SQLite contains the SQLite migration files.
//
//go:embed sqlite/*.sql
var SQLite embed.FS

// Postgres contains the PostgreSQL migration files.
//
//go:embed postgres/*.sql
var Postgres embed.FS

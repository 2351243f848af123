package db

import "embed"

// MigrationFS embeds the security_events schema migrations from internal/db/migrations.
// Applied by the migrate runner (cmd/migrate).
//
//go:embed migrations/*.sql
var MigrationFS embed.FS

package migration

import (
	"context"
	"io/fs"
)

// Fixed table names for migration tracking.
const (
	FrameworkMigrationsTable = "batch_framework_migrations"
	AppMigrationsTable       = "batch_app_migrations"
)

// Migration commands.
const (
	CommandUp   = "up"
	CommandDown = "down"
)

// Migrator handles database schema migrations. Each command closes the pool of
// the connection it ran on; callers re-establish it through the DBProvider.
type Migrator interface {
	// Up applies all pending migrations found under path in migrationFS.
	// tableName is the table tracking migration history.
	Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
	// Down rolls back all applied migrations.
	Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error
}

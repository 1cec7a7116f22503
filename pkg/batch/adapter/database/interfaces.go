// Package database defines the named database connections used by the SQL job
// repository, the migration tasklet and application item readers and writers.
package database

import (
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
)

// DBConnection represents an open, pooled database connection.
type DBConnection interface {
	// Name returns the configuration entry name of the connection.
	Name() string
	// Type returns the database type ("postgres", "mysql", "sqlite").
	Type() string
	// Config returns the database configuration associated with this connection.
	Config() dbconfig.DatabaseConfig
	// GormDB returns the GORM handle of the connection.
	GormDB() *gorm.DB
	// SQLDB returns the underlying *sql.DB connection.
	SQLDB() (*sql.DB, error)
	// IsTableNotExistError checks if the given error indicates that a table does not exist.
	IsTableNotExistError(err error) bool
	// Close closes the connection pool.
	Close() error
}

// DBProvider is responsible for providing database connections based on configuration.
type DBProvider interface {
	// GetConnection retrieves the connection with the specified name, opening it on first use.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and re-establishes the connection with the specified name.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes all connections managed by this provider.
	CloseAll() error
}

package gorm

import (
	"database/sql"
	"strings"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
)

// Connection implements database.DBConnection on a *gorm.DB.
type Connection struct {
	name   string
	config dbconfig.DatabaseConfig
	db     *gorm.DB
}

var _ database.DBConnection = (*Connection)(nil)

// NewConnection wraps an opened *gorm.DB.
func NewConnection(name string, cfg dbconfig.DatabaseConfig, db *gorm.DB) *Connection {
	return &Connection{name: name, config: cfg, db: db}
}

// Name implements database.DBConnection.
func (c *Connection) Name() string { return c.name }

// Type implements database.DBConnection.
func (c *Connection) Type() string { return c.config.Type }

// Config implements database.DBConnection.
func (c *Connection) Config() dbconfig.DatabaseConfig { return c.config }

// GormDB implements database.DBConnection.
func (c *Connection) GormDB() *gorm.DB { return c.db }

// SQLDB implements database.DBConnection.
func (c *Connection) SQLDB() (*sql.DB, error) { return c.db.DB() }

// IsTableNotExistError implements database.DBConnection.
func (c *Connection) IsTableNotExistError(err error) bool {
	return IsTableNotExistError(err)
}

// Close implements database.DBConnection.
func (c *Connection) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// IsTableNotExistError reports whether err is a "table does not exist" error of
// PostgreSQL, MySQL or SQLite.
func IsTableNotExistError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return (strings.Contains(msg, "relation \"") && strings.Contains(msg, "\" does not exist")) || // PostgreSQL
		(strings.Contains(msg, "Error 1146") && strings.Contains(msg, "doesn't exist")) || // MySQL
		strings.Contains(msg, "no such table:") // SQLite
}

// Package postgres registers the PostgreSQL dialector with the GORM adapter.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

// Type is the database type handled by this package.
const Type = "postgres"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Host == "" {
			return nil, fmt.Errorf("PostgreSQL host cannot be empty")
		}
		return postgres.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the key/value DSN expected by gorm.io/driver/postgres.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += " search_path=" + c.Schema
	}
	if c.Params != "" {
		dsn += " " + c.Params
	}
	return dsn
}

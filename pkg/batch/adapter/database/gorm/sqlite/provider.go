// Package sqlite registers the SQLite dialector with the GORM adapter.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

// Type is the database type handled by this package.
const Type = "sqlite"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the DSN for SQLite: the database path followed by
// any extra parameters. ":memory:" opens a private in-memory database.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if c.Params == "" {
		return c.Database
	}
	return c.Database + "?" + c.Params
}

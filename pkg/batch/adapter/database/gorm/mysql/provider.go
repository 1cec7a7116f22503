// Package mysql registers the MySQL dialector with the GORM adapter.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
)

// Type is the database type handled by this package.
const Type = "mysql"

func init() {
	gormadapter.RegisterDialector(Type, func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		return mysql.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString generates the go-sql-driver DSN. Times are parsed into time.Time,
// multi-statement migrations are allowed and RowsAffected counts matched rows.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	params := "charset=utf8mb4&parseTime=True&loc=UTC&multiStatements=true&clientFoundRows=true"
	if c.Params != "" {
		params += "&" + c.Params
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s", c.User, c.Password, c.Host, c.Port, c.Database, params)
}

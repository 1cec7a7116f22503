// Package config defines the settings of one named database entry.
package config

import (
	"fmt"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
)

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`             // Database type ("postgres", "mysql", "sqlite").
	Host     string     `yaml:"host"`             // Database host address.
	Port     int        `yaml:"port"`             // Database port number.
	Database string     `yaml:"database"`         // Database name, or file path for SQLite.
	User     string     `yaml:"user"`             // Database user.
	Password string     `yaml:"password"`         // Database password.
	Schema   string     `yaml:"schema,omitempty"` // Schema name for PostgreSQL.
	Sslmode  string     `yaml:"sslmode"`          // SSL mode for the connection.
	Params   string     `yaml:"params,omitempty"` // Extra driver DSN parameters, appended verbatim.
	LogLevel string     `yaml:"log_level"`        // GORM log level: silent, error, warn or info.
	Pool     PoolConfig `yaml:"pool"`             // Connection pool settings.
}

// Decode reads a raw "database.<name>" entry into a DatabaseConfig.
func Decode(raw interface{}) (DatabaseConfig, error) {
	var c DatabaseConfig
	props, ok := raw.(map[string]interface{})
	if !ok {
		return c, fmt.Errorf("database entry must be a mapping, got %T", raw)
	}
	err := configbinder.BindProperties(props, &c)
	return c, err
}

package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// migratorImpl implements Migrator with golang-migrate.
type migratorImpl struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a new Migrator for dbConn.
func NewMigrator(dbConn database.DBConnection) Migrator {
	return &migratorImpl{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

// getDatabaseDriver retrieves a golang-migrate driver based on the database type.
func (m *migratorImpl) getDatabaseDriver(sqlDB *sql.DB, tableName string) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{MigrationsTable: tableName})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{MigrationsTable: tableName})
	case "sqlite":
		return sqlite3.WithInstance(sqlDB, &sqlite3.Config{MigrationsTable: tableName})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *migratorImpl) getMigrateInstance(migrationFS fs.FS, path string, tableName string) (*migrate.Migrate, error) {
	sqlDB, err := m.dbConn.SQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sourceDriver, err := iofs.New(migrationFS, path)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", path, err)
	}
	dbDriver, err := m.getDatabaseDriver(sqlDB, tableName)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}
	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

func (m *migratorImpl) runMigration(ctx context.Context, migrationFS fs.FS, path string, command string, tableName string) error {
	logger.Infof("Executing migration '%s' (Path: %s, Table: %s)", command, path, tableName)

	mInstance, err := m.getMigrateInstance(migrationFS, path, tableName)
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer mInstance.Close()

	// golang-migrate stops between migrations once GracefulStop receives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			mInstance.GracefulStop <- true
		case <-done:
		}
	}()

	var migrateErr error
	switch command {
	case CommandUp:
		migrateErr = mInstance.Up()
	case CommandDown:
		migrateErr = mInstance.Down()
	default:
		return fmt.Errorf("unsupported migration command: %s", command)
	}

	if migrateErr != nil && !errors.Is(migrateErr, migrate.ErrNoChange) {
		if _, _, versionErr := mInstance.Version(); versionErr != nil && !errors.Is(versionErr, migrate.ErrNilVersion) {
			logger.Errorf("Migration failed and failed to retrieve version: %v", versionErr)
		}
		return fmt.Errorf("migration failed for command '%s' (DB: %s, Path: %s): %w", command, m.dbType, path, migrateErr)
	}

	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

// Up implements Migrator.
func (m *migratorImpl) Up(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, CommandUp, tableName)
}

// Down implements Migrator.
func (m *migratorImpl) Down(ctx context.Context, migrationFS fs.FS, path string, tableName string) error {
	return m.runMigration(ctx, migrationFS, path, CommandDown, tableName)
}

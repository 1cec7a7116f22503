package migration

import (
	"context"
	"io/fs"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const taskletName = "migrationTasklet"

// Execution context keys written by MigrationTasklet.
const (
	ContextKeyCommand = "migration.command"
	ContextKeyDir     = "migration.dir"
)

// Properties configures a MigrationTasklet.
type Properties struct {
	// DBRef names the database entry to migrate.
	DBRef string `yaml:"dbRef"`
	// MigrationDir is the directory of the scripts within the filesystem. It defaults to the database type.
	MigrationDir string `yaml:"migrationDir"`
	// Command is "up" (the default) or "down".
	Command string `yaml:"command"`
	// IsFramework selects the framework migrations history table instead of the application one.
	IsFramework bool `yaml:"isFramework"`
}

// MigrationTasklet applies the migration scripts of a filesystem to a named
// database connection. The connection pool is re-established afterwards.
type MigrationTasklet struct {
	provider    database.DBProvider
	migrationFS fs.FS
	props       Properties
	newMigrator func(database.DBConnection) Migrator
}

// NewMigrationTasklet creates a MigrationTasklet from the properties of a job definition.
func NewMigrationTasklet(provider database.DBProvider, migrationFS fs.FS, properties map[string]string) (*MigrationTasklet, error) {
	var props Properties
	if err := configbinder.BindStringProperties(properties, &props); err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, taskletName, "invalid properties", err)
	}
	if props.DBRef == "" {
		return nil, exception.NewBatchError(exception.KindConfiguration, taskletName, "property 'dbRef' is required", nil)
	}
	if props.Command == "" {
		props.Command = CommandUp
	}
	if props.Command != CommandUp && props.Command != CommandDown {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, taskletName, "unknown migration command: %s", props.Command)
	}
	if migrationFS == nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, taskletName, "a migration filesystem is required", nil)
	}
	logger.Debugf("MigrationTasklet initialized: DB=%s, Dir=%s, Command=%s, IsFramework=%t",
		props.DBRef, props.MigrationDir, props.Command, props.IsFramework)
	return &MigrationTasklet{
		provider:    provider,
		migrationFS: migrationFS,
		props:       props,
		newMigrator: NewMigrator,
	}, nil
}

// NonTransactional marks the tasklet as running outside a step transaction:
// DDL must not share the connection of an open chunk transaction.
func (t *MigrationTasklet) NonTransactional() {}

// Execute runs the configured migration command once.
func (t *MigrationTasklet) Execute(ctx context.Context, contribution *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
	conn, err := t.provider.GetConnection(t.props.DBRef)
	if err != nil {
		return repeat.Finished, exception.NewBatchErrorf(exception.KindRepository, taskletName, "failed to resolve DB connection '%s'", t.props.DBRef, err)
	}

	dir := t.props.MigrationDir
	if dir == "" {
		dir = conn.Type()
		logger.Debugf("Using DB type '%s' as migration directory.", dir)
	}
	table := AppMigrationsTable
	if t.props.IsFramework {
		table = FrameworkMigrationsTable
	}

	logger.Infof("Starting database migration '%s' for DB connection '%s' (directory '%s').", t.props.Command, t.props.DBRef, dir)
	migrator := t.newMigrator(conn)
	if t.props.Command == CommandDown {
		err = migrator.Down(ctx, t.migrationFS, dir, table)
	} else {
		err = migrator.Up(ctx, t.migrationFS, dir, table)
	}

	// The migrate instance closed the pool; later users need a fresh one.
	if _, rerr := t.provider.ForceReconnect(t.props.DBRef); rerr != nil {
		logger.Errorf("Failed to re-establish DB connection '%s' after migration: %v", t.props.DBRef, rerr)
		if err == nil {
			err = rerr
		}
	}
	if err != nil {
		return repeat.Finished, exception.NewBatchErrorf(exception.KindRepository, taskletName, "migration '%s' failed", t.props.Command, err)
	}

	ec.Put(ContextKeyCommand, t.props.Command)
	ec.Put(ContextKeyDir, dir)
	return repeat.Finished, nil
}

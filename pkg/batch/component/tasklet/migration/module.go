// Package migration runs golang-migrate scripts against named database connections,
// both for the batch metadata schema and as a tasklet inside application jobs.
package migration

import (
	"context"
	"io/fs"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/migration/filesystem"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// MigrateFramework applies the embedded framework migrations to the named connection
// and re-establishes it.
func MigrateFramework(ctx context.Context, provider database.DBProvider, dbRef string) error {
	t, err := NewMigrationTasklet(provider, filesystem.FrameworkMigrationsFS(), map[string]string{
		"dbRef":       dbRef,
		"isFramework": "true",
	})
	if err != nil {
		return err
	}
	_, err = t.Execute(ctx, &model.StepContribution{}, model.NewExecutionContext())
	return err
}

type autoMigrateParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Provider  database.DBProvider `optional:"true"`
}

// registerAutoMigration migrates the metadata schema on start when the SQL job
// repository is configured with auto_migrate.
func registerAutoMigration(p autoMigrateParams) {
	repoCfg := p.Config.Chunkbatch.Infrastructure.JobRepository
	if repoCfg.Type != config.RepositoryTypeSQL || !repoCfg.AutoMigrate || p.Provider == nil {
		return
	}
	p.Lifecycle.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Infof("Migrating batch metadata schema on '%s'.", repoCfg.DBRef)
			return MigrateFramework(ctx, p.Provider, repoCfg.DBRef)
		},
	})
}

// RefMigrationTasklet is the component reference of MigrationTasklet.
const RefMigrationTasklet = taskletName

type componentParams struct {
	fx.In
	Provider    database.DBProvider `optional:"true"`
	Framework   fs.FS               `name:"frameworkMigrationsFS"`
	Application fs.FS               `name:"applicationMigrationsFS" optional:"true"`
}

// NewMigrationTaskletComponent registers MigrationTasklet. Steps migrate the
// application scripts unless they set isFramework.
func NewMigrationTaskletComponent(p componentParams) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefMigrationTasklet, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		if p.Provider == nil {
			return nil, exception.NewBatchError(exception.KindConfiguration, taskletName, "no database provider is configured", nil)
		}
		scripts := p.Application
		if properties["isFramework"] == "true" {
			scripts = p.Framework
		}
		return NewMigrationTasklet(p.Provider, scripts, properties)
	}}
}

// Module runs the framework migrations at startup when enabled and provides the embedded scripts.
var Module = fx.Options(
	filesystem.Module,
	fx.Provide(fx.Annotate(NewMigrationTaskletComponent, fx.ResultTags(`group:"components"`))),
	fx.Invoke(registerAutoMigration),
)

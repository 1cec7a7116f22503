// Package app assembles the customer import application from the batch modules.
package app

import (
	"context"
	"io/fs"
	"time"

	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/mysql"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/postgres"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/s3"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/file"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/generic"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/migration/filesystem"
	usecase "github.com/tigerroll/chunkbatch/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	supportConfig "github.com/tigerroll/chunkbatch/pkg/batch/core/config/support"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	jobRunner "github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/split"
	coreMetrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/server"
	batchlistener "github.com/tigerroll/chunkbatch/pkg/batch/listener"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"

	"github.com/tigerroll/chunkbatch/example/customer-import/internal/processor"
)

// JobName is the job defined by the embedded job definition.
const JobName = "customerImportJob"

const stopGracePeriod = 30 * time.Second

// Options configures one run of the application.
type Options struct {
	EnvFilePath string
	Config      []byte
	JSL         []byte
	// Migrations holds the application scripts, one directory per database type.
	Migrations fs.FS
	// Parameters are "name(type)=value" expressions. Without any, the next
	// instance is started through the job's incrementer.
	Parameters []string
}

// Modules returns the Fx options shared by every mode of the application.
func Modules(opts Options) fx.Option {
	return fx.Options(
		fx.Supply(
			config.EmbeddedConfig(opts.Config),
			fx.Annotate(opts.EnvFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		fx.Provide(
			fx.Annotate(func() jsl.JSLDefinitionBytes { return opts.JSL }, fx.ResultTags(`group:"jsl"`)),
			fx.Annotate(func() fs.FS { return opts.Migrations }, fx.ResultTags(filesystem.ApplicationMigrationsFSTag)),
		),
		logger.Module,
		config.Module,
		coreMetrics.Module,
		metrics.Module,

		gormadapter.Module,
		storage.Module,
		local.Module,
		s3.Module,
		gcs.Module,
		repository.Module,
		migration.Module,

		split.Module,
		jobRunner.Module,
		factory.Module,
		supportConfig.Module,
		usecase.Module,
		batchlistener.Module,
		server.Module,

		item.Module,
		file.Module,
		database.Module,
		generic.Module,
		processor.Module,
	)
}

// Run starts the application and returns the process exit code. With the HTTP
// server enabled it serves the job operator API until ctx is cancelled;
// otherwise it runs the job once and stops.
func Run(ctx context.Context, opts Options) (int, error) {
	app := fx.New(
		Modules(opts),
		fx.Invoke(func(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, operator usecase.JobOperator, explorer usecase.JobExplorer, launcher *usecase.SimpleJobLauncher) {
			if cfg.Chunkbatch.Server.Enabled {
				logger.Infof("Serving the job operator API on %s.", cfg.Chunkbatch.Server.Addr)
				return
			}
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go runOnce(ctx, shutdowner, operator, explorer, launcher, opts.Parameters)
					return nil
				},
			})
		}),
	)
	if err := app.Start(ctx); err != nil {
		return 1, err
	}

	exitCode := 0
	select {
	case <-ctx.Done():
		exitCode = 130
	case sig := <-app.Wait():
		exitCode = sig.ExitCode
	}
	stopCtx, cancel := context.WithTimeout(context.Background(), fx.DefaultTimeout)
	defer cancel()
	return exitCode, app.Stop(stopCtx)
}

// runOnce launches the job, waits for it and shuts the application down with an
// exit code reflecting the outcome.
func runOnce(ctx context.Context, shutdowner fx.Shutdowner, operator usecase.JobOperator, explorer usecase.JobExplorer, launcher *usecase.SimpleJobLauncher, expressions []string) {
	exitCode := 0
	defer func() {
		if err := shutdowner.Shutdown(fx.ExitCode(exitCode)); err != nil {
			logger.Errorf("Failed to shutdown application: %v", err)
		}
	}()

	var (
		je  *model.JobExecution
		err error
	)
	if len(expressions) == 0 {
		je, err = operator.StartNextInstance(ctx, JobName)
	} else {
		var params model.JobParameters
		if params, err = model.ParseJobParameters(expressions); err == nil {
			je, err = operator.Start(ctx, JobName, params)
		}
	}
	if err != nil {
		logger.Errorf("Failed to launch job '%s': %v", JobName, err)
		exitCode = 2
		return
	}

	if err := launcher.Wait(ctx, je.ID); err != nil {
		// The job shares ctx and is stopping; give it time to record its status.
		logger.Warnf("Interrupted while JobExecution (ID: %s) was running: %v", je.ID, err)
		grace, cancel := context.WithTimeout(context.Background(), stopGracePeriod)
		defer cancel()
		_ = launcher.Wait(grace, je.ID)
		exitCode = 130
		return
	}
	if latest, err := explorer.GetJobExecution(context.WithoutCancel(ctx), je.ID); err == nil {
		je = latest
	}
	logger.Infof("Job '%s' (Execution ID: %s) finished with status %s, exit code %s.", JobName, je.ID, je.Status, je.ExitStatus.ExitCode)
	if je.Status != model.BatchStatusCompleted {
		exitCode = 1
	}
}

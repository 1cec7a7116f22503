package usecase

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// JobRegistrations collects the jobs applications provide into the "jobs" group.
type JobRegistrations struct {
	fx.In
	Jobs []port.Job `group:"jobs"`
}

// RegisterJobs adds every job of the "jobs" group to the registry.
func RegisterJobs(registry JobRegistry, in JobRegistrations) error {
	for _, job := range in.Jobs {
		if err := registry.Register(job); err != nil {
			return err
		}
	}
	logger.Infof("Registered %d jobs: %v", len(in.Jobs), registry.JobNames())
	return nil
}

// Module is the Fx module for JobRegistry, JobLauncher, JobOperator, and JobExplorer.
// Launches are dispatched to the TaskExecutor named "launchExecutor".
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewMapJobRegistry,
		fx.As(new(JobRegistry)),
	)),
	fx.Provide(fx.Annotate(
		NewSimpleJobExplorer,
		fx.As(new(JobExplorer)),
	)),
	fx.Provide(fx.Annotate(NewSimpleJobLauncher, fx.ParamTags("", "", `name:"launchExecutor"`))),
	fx.Provide(func(launcher *SimpleJobLauncher) JobLauncher { return launcher }),
	fx.Provide(fx.Annotate(
		NewDefaultJobOperator,
		fx.As(new(JobOperator)),
	)),
	fx.Invoke(RegisterJobs),
)

package split

import (
	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// LaunchExecutorTag names the TaskExecutor job launches are dispatched to.
const LaunchExecutorTag = `name:"launchExecutor"`

// NewSplitExecutor runs the flows of a split, at most split_concurrency at a time.
func NewSplitExecutor(cfg *config.BatchConfig) port.TaskExecutor {
	if cfg.SplitConcurrency > 0 {
		return NewBoundedTaskExecutor(int64(cfg.SplitConcurrency), true)
	}
	return NewAsyncTaskExecutor()
}

// NewLaunchExecutor runs job launches. When launch_concurrency jobs are running,
// further launches are rejected.
func NewLaunchExecutor(cfg *config.BatchConfig) port.TaskExecutor {
	if cfg.LaunchConcurrency > 0 {
		return NewBoundedTaskExecutor(int64(cfg.LaunchConcurrency), false)
	}
	return NewAsyncTaskExecutor()
}

// Module provides the TaskExecutors of splits and of the job launcher.
var Module = fx.Options(
	fx.Provide(NewSplitExecutor),
	fx.Provide(fx.Annotate(NewLaunchExecutor, fx.ResultTags(LaunchExecutorTag))),
)

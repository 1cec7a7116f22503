package repository

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobExecutionRepository persists JobExecutions.
type JobExecutionRepository interface {
	// SaveJobExecution stores a new execution. Its Version is reset to 0.
	SaveJobExecution(ctx context.Context, execution *model.JobExecution) error
	// UpdateJobExecution stores execution if its Version matches the stored one,
	// then increments Version.
	UpdateJobExecution(ctx context.Context, execution *model.JobExecution) error
	// GetJobExecution returns the execution with its StepExecutions attached.
	GetJobExecution(ctx context.Context, id string) (*model.JobExecution, error)
	// FindJobExecutions returns every execution of the instance, newest first.
	FindJobExecutions(ctx context.Context, instance *model.JobInstance) ([]*model.JobExecution, error)
	// FindLastJobExecution returns the most recently created execution of the
	// instance, or ErrJobExecutionNotFound.
	FindLastJobExecution(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error)
	// FindRunningJobExecutions returns unfinished executions of jobName.
	FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)
}

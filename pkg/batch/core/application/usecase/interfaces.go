package usecase

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobLauncher starts jobs.
type JobLauncher interface {
	// Launch runs the job registered as jobName with params. The returned error
	// reports a refused launch; the outcome of the job itself is recorded on the
	// returned JobExecution.
	Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)
}

// JobRegistry resolves job names to job definitions.
type JobRegistry interface {
	Register(job port.Job) error
	GetJob(name string) (port.Job, error)
	JobNames() []string
}

// JobOperator controls job executions.
type JobOperator interface {
	// Start launches jobName with params.
	Start(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error)

	// StartNextInstance launches jobName with the parameters its incrementer derives
	// from the most recent JobInstance.
	StartNextInstance(ctx context.Context, jobName string) (*model.JobExecution, error)

	// Restart launches the JobInstance of a FAILED or STOPPED execution again.
	// It returns the new JobExecution.
	Restart(ctx context.Context, executionID string) (*model.JobExecution, error)

	// Stop interrupts a running execution. The job ends as STOPPED once the current chunk rolls back.
	Stop(ctx context.Context, executionID string) error

	// Abandon marks a finished, unsuccessful execution so that it is never restarted.
	Abandon(ctx context.Context, executionID string) error
}

// JobExplorer queries batch metadata (JobInstance, JobExecution, StepExecution).
type JobExplorer interface {
	// GetJobExecution retrieves a JobExecution, with its step executions, by ID.
	GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error)

	// GetJobExecutions retrieves all JobExecutions of a JobInstance, newest first.
	GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error)

	// GetLastJobExecution retrieves the latest JobExecution of a JobInstance.
	GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error)

	// GetRunningJobExecutions retrieves the unfinished executions of jobName.
	GetRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error)

	// GetJobInstance retrieves a JobInstance by ID.
	GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error)

	// FindJobInstance retrieves the JobInstance identified by jobName and params.
	FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)

	// GetJobInstances pages through the instances of jobName, newest first.
	GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error)

	// GetStepExecution retrieves one step execution of a JobExecution.
	GetStepExecution(ctx context.Context, jobExecutionID, stepExecutionID string) (*model.StepExecution, error)

	// GetJobNames retrieves the names of all jobs that have run.
	GetJobNames(ctx context.Context) ([]string, error)

	// GetParameters retrieves the JobParameters of a JobExecution.
	GetParameters(ctx context.Context, executionID string) (model.JobParameters, error)
}

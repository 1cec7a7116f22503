package usecase

import (
	"context"
	"errors"
	"fmt"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const explorerModule = "job_explorer"

// SimpleJobExplorer is a read-only JobExplorer over a JobRepository. Lookups that
// find nothing return errors wrapping the repository's not-found sentinels.
type SimpleJobExplorer struct {
	jobRepository repository.JobRepository
}

// Verify that SimpleJobExplorer implements the JobExplorer interface.
var _ JobExplorer = (*SimpleJobExplorer)(nil)

// NewSimpleJobExplorer creates a new instance of SimpleJobExplorer.
func NewSimpleJobExplorer(jobRepository repository.JobRepository) *SimpleJobExplorer {
	return &SimpleJobExplorer{jobRepository: jobRepository}
}

func explorerError(err error, format string, a ...interface{}) error {
	kind := exception.KindRepository
	if errors.Is(err, repository.ErrJobExecutionNotFound) || errors.Is(err, repository.ErrJobInstanceNotFound) ||
		errors.Is(err, repository.ErrStepExecutionNotFound) {
		kind = exception.KindNoSuchJobExecution
	}
	return exception.NewBatchError(kind, explorerModule, fmt.Sprintf(format, a...), err)
}

// GetJobExecution implements JobExplorer.
func (e *SimpleJobExplorer) GetJobExecution(ctx context.Context, executionID string) (*model.JobExecution, error) {
	je, err := e.jobRepository.GetJobExecution(ctx, executionID)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve JobExecution (ID: %s)", executionID)
	}
	return je, nil
}

// GetJobExecutions implements JobExplorer.
func (e *SimpleJobExplorer) GetJobExecutions(ctx context.Context, instanceID string) ([]*model.JobExecution, error) {
	instance, err := e.GetJobInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	executions, err := e.jobRepository.FindJobExecutions(ctx, instance)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve JobExecutions of JobInstance (ID: %s)", instanceID)
	}
	logger.Debugf("Retrieved %d JobExecutions of JobInstance (ID: %s).", len(executions), instanceID)
	return executions, nil
}

// GetLastJobExecution implements JobExplorer.
func (e *SimpleJobExplorer) GetLastJobExecution(ctx context.Context, instanceID string) (*model.JobExecution, error) {
	instance, err := e.GetJobInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	je, err := e.jobRepository.FindLastJobExecution(ctx, instance)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve last JobExecution of JobInstance (ID: %s)", instanceID)
	}
	return je, nil
}

// GetRunningJobExecutions implements JobExplorer.
func (e *SimpleJobExplorer) GetRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	executions, err := e.jobRepository.FindRunningJobExecutions(ctx, jobName)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve running JobExecutions of job '%s'", jobName)
	}
	return executions, nil
}

// GetJobInstance implements JobExplorer.
func (e *SimpleJobExplorer) GetJobInstance(ctx context.Context, instanceID string) (*model.JobInstance, error) {
	instance, err := e.jobRepository.GetJobInstance(ctx, instanceID)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve JobInstance (ID: %s)", instanceID)
	}
	return instance, nil
}

// FindJobInstance implements JobExplorer.
func (e *SimpleJobExplorer) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	instance, err := e.jobRepository.FindJobInstance(ctx, jobName, params)
	if err != nil {
		return nil, explorerError(err, "failed to find JobInstance of job '%s'", jobName)
	}
	return instance, nil
}

// GetJobInstances implements JobExplorer.
func (e *SimpleJobExplorer) GetJobInstances(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	instances, err := e.jobRepository.FindJobInstancesByJobName(ctx, jobName, start, count)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve JobInstances of job '%s'", jobName)
	}
	return instances, nil
}

// GetStepExecution implements JobExplorer.
func (e *SimpleJobExplorer) GetStepExecution(ctx context.Context, jobExecutionID, stepExecutionID string) (*model.StepExecution, error) {
	se, err := e.jobRepository.GetStepExecution(ctx, jobExecutionID, stepExecutionID)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve StepExecution (ID: %s)", stepExecutionID)
	}
	return se, nil
}

// GetJobNames implements JobExplorer.
func (e *SimpleJobExplorer) GetJobNames(ctx context.Context) ([]string, error) {
	names, err := e.jobRepository.GetJobNames(ctx)
	if err != nil {
		return nil, explorerError(err, "failed to retrieve job names")
	}
	return names, nil
}

// GetParameters implements JobExplorer.
func (e *SimpleJobExplorer) GetParameters(ctx context.Context, executionID string) (model.JobParameters, error) {
	je, err := e.GetJobExecution(ctx, executionID)
	if err != nil {
		return model.JobParameters{}, err
	}
	return je.Parameters, nil
}

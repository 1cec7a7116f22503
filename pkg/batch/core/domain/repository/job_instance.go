package repository

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// JobInstanceRepository persists JobInstances.
type JobInstanceRepository interface {
	// CreateJobInstance creates the instance identified by jobName and params.
	// It fails with exception.KindDuplicateJobInstance if it already exists.
	CreateJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
	// FindJobInstance returns the instance identified by jobName and params,
	// or ErrJobInstanceNotFound.
	FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error)
	// GetJobInstance returns the instance with the given ID.
	GetJobInstance(ctx context.Context, id string) (*model.JobInstance, error)
	// FindJobInstancesByJobName returns instances of jobName, newest first.
	FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error)
	// GetJobNames returns the distinct names of every job with an instance, sorted.
	GetJobNames(ctx context.Context) ([]string, error)
}

package sql

import (
	"context"
	"math"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// CreateJobInstance creates and stores a new JobInstance.
// It fails with exception.KindDuplicateJobInstance if one already exists for jobName and params.
func (r *SQLJobRepository) CreateJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	if _, err := r.FindJobInstance(ctx, jobName, params); err == nil {
		return nil, duplicateInstance(jobName, params)
	} else if err != repository.ErrJobInstanceNotFound {
		return nil, err
	}

	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	instance := model.NewJobInstance(jobName, params)
	if err := db.Create(toJobInstanceEntity(instance)).Error; err != nil {
		// A concurrent launch may have won the unique (job_name, job_key) constraint.
		if _, ferr := r.FindJobInstance(ctx, jobName, params); ferr == nil {
			return nil, duplicateInstance(jobName, params)
		}
		return nil, storeError("failed to save JobInstance for job '%s'", jobName, err)
	}
	return instance, nil
}

func duplicateInstance(jobName string, params model.JobParameters) error {
	return exception.NewBatchErrorf(exception.KindDuplicateJobInstance, module,
		"a JobInstance already exists for job '%s' with parameters %s", jobName, params)
}

// FindJobInstance finds the JobInstance identified by jobName and params.
func (r *SQLJobRepository) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var e JobInstanceEntity
	err = db.Where("job_name = ? AND job_key = ?", jobName, params.Hash()).Take(&e).Error
	if isNotFound(err) {
		return nil, repository.ErrJobInstanceNotFound
	}
	if err != nil {
		return nil, storeError("failed to find JobInstance for job '%s'", jobName, err)
	}
	return toJobInstance(&e), nil
}

// GetJobInstance finds a JobInstance by its ID.
func (r *SQLJobRepository) GetJobInstance(ctx context.Context, id string) (*model.JobInstance, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var e JobInstanceEntity
	err = db.Where("id = ?", id).Take(&e).Error
	if isNotFound(err) {
		return nil, repository.ErrJobInstanceNotFound
	}
	if err != nil {
		return nil, storeError("failed to get JobInstance %s", id, err)
	}
	return toJobInstance(&e), nil
}

// FindJobInstancesByJobName returns up to count instances of jobName, newest first, skipping the first start.
// A count of zero or less returns every remaining instance.
func (r *SQLJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	if count <= 0 {
		// MySQL and SQLite only accept OFFSET after a LIMIT.
		count = math.MaxInt32
	}
	q := db.Where("job_name = ?", jobName).Order("seq DESC").Offset(start).Limit(count)
	var entities []JobInstanceEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, storeError("failed to list JobInstances of job '%s'", jobName, err)
	}
	result := make([]*model.JobInstance, 0, len(entities))
	for i := range entities {
		result = append(result, toJobInstance(&entities[i]))
	}
	return result, nil
}

// GetJobNames returns the distinct job names of the stored instances, sorted.
func (r *SQLJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	if err := db.Model(&JobInstanceEntity{}).Distinct("job_name").Order("job_name").Pluck("job_name", &names).Error; err != nil {
		return nil, storeError("failed to list job names", err)
	}
	return names, nil
}

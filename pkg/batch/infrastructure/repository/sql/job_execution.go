package sql

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

var runningStatuses = []string{
	string(model.BatchStatusStarting),
	string(model.BatchStatusStarted),
	string(model.BatchStatusStopping),
}

// SaveJobExecution persists a new JobExecution and resets its Version to 0.
func (r *SQLJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	if _, err := r.GetJobInstance(ctx, jobExecution.JobInstanceID); err != nil {
		return storeError("JobInstance %s of JobExecution %s is not stored", jobExecution.JobInstanceID, jobExecution.ID, err)
	}
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	jobExecution.Version = 0
	jobExecution.LastUpdated = time.Now()
	if err := db.Create(toJobExecutionEntity(jobExecution)).Error; err != nil {
		return storeError("failed to save JobExecution %s", jobExecution.ID, err)
	}
	return nil
}

// UpdateJobExecution updates an existing JobExecution if its Version matches the stored one,
// then increments the Version.
func (r *SQLJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	lastUpdated := time.Now()
	updates := jobExecutionUpdates(jobExecution)
	updates["last_updated"] = lastUpdated
	updates["version"] = jobExecution.Version + 1

	res := db.Model(&JobExecutionEntity{}).
		Where("id = ? AND version = ?", jobExecution.ID, jobExecution.Version).
		Updates(updates)
	if res.Error != nil {
		return storeError("failed to update JobExecution %s", jobExecution.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var stored JobExecutionEntity
		err := db.Select("version").Where("id = ?", jobExecution.ID).Take(&stored).Error
		if isNotFound(err) {
			return storeError("JobExecution with ID %s not found for update", jobExecution.ID, repository.ErrJobExecutionNotFound)
		}
		if err != nil {
			return storeError("failed to read version of JobExecution %s", jobExecution.ID, err)
		}
		return exception.NewOptimisticLockingFailureException(module,
			"JobExecution "+jobExecution.ID+" was updated concurrently", nil)
	}
	jobExecution.Version++
	jobExecution.LastUpdated = lastUpdated
	return nil
}

// GetJobExecution finds a JobExecution by its ID and attaches its StepExecutions.
func (r *SQLJobRepository) GetJobExecution(ctx context.Context, id string) (*model.JobExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var e JobExecutionEntity
	err = db.Where("id = ?", id).Take(&e).Error
	if isNotFound(err) {
		return nil, repository.ErrJobExecutionNotFound
	}
	if err != nil {
		return nil, storeError("failed to get JobExecution %s", id, err)
	}
	return r.withSteps(ctx, &e)
}

func (r *SQLJobRepository) withSteps(ctx context.Context, e *JobExecutionEntity) (*model.JobExecution, error) {
	je := toJobExecution(e)
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var steps []StepExecutionEntity
	if err := db.Where("job_execution_id = ?", e.ID).Order("seq ASC").Find(&steps).Error; err != nil {
		return nil, storeError("failed to load StepExecutions of JobExecution %s", e.ID, err)
	}
	for i := range steps {
		se := toStepExecution(&steps[i])
		se.JobExecution = je
		je.StepExecutions = append(je.StepExecutions, se)
	}
	return je, nil
}

func (r *SQLJobRepository) findExecutions(ctx context.Context, limit int, query string, args ...interface{}) ([]*model.JobExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	q := db.Where(query, args...).Order("seq DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entities []JobExecutionEntity
	if err := q.Find(&entities).Error; err != nil {
		return nil, storeError("failed to query JobExecutions", err)
	}
	result := make([]*model.JobExecution, 0, len(entities))
	for i := range entities {
		je, err := r.withSteps(ctx, &entities[i])
		if err != nil {
			return nil, err
		}
		result = append(result, je)
	}
	return result, nil
}

// FindJobExecutions returns every execution of the instance, newest first.
func (r *SQLJobRepository) FindJobExecutions(ctx context.Context, instance *model.JobInstance) ([]*model.JobExecution, error) {
	return r.findExecutions(ctx, 0, "job_instance_id = ?", instance.ID)
}

// FindLastJobExecution returns the most recently created execution of the instance.
func (r *SQLJobRepository) FindLastJobExecution(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error) {
	executions, err := r.findExecutions(ctx, 1, "job_instance_id = ?", instance.ID)
	if err != nil {
		return nil, err
	}
	if len(executions) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return executions[0], nil
}

// FindRunningJobExecutions returns unfinished executions of jobName, oldest first.
func (r *SQLJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	executions, err := r.findExecutions(ctx, 0, "job_name = ? AND end_time IS NULL AND status IN ?", jobName, runningStatuses)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(executions)-1; i < j; i, j = i+1, j-1 {
		executions[i], executions[j] = executions[j], executions[i]
	}
	return executions, nil
}

package sql

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SaveStepExecution persists a new StepExecution and resets its Version to 0.
func (r *SQLJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	var count int64
	if err := db.Model(&JobExecutionEntity{}).Where("id = ?", stepExecution.JobExecutionID).Count(&count).Error; err != nil {
		return storeError("failed to look up JobExecution %s", stepExecution.JobExecutionID, err)
	}
	if count == 0 {
		return storeError("JobExecution %s of StepExecution %s is not stored",
			stepExecution.JobExecutionID, stepExecution.ID, repository.ErrJobExecutionNotFound)
	}
	if err := stepExecution.ExecutionContext.Validate(); err != nil {
		return storeError("execution context of StepExecution %s cannot be stored", stepExecution.ID, err)
	}
	stepExecution.Version = 0
	stepExecution.LastUpdated = time.Now()
	if err := db.Create(toStepExecutionEntity(stepExecution)).Error; err != nil {
		return storeError("failed to save StepExecution %s", stepExecution.ID, err)
	}
	return nil
}

// UpdateStepExecution updates an existing StepExecution if its Version matches the stored one,
// then increments the Version.
func (r *SQLJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	if err := stepExecution.ExecutionContext.Validate(); err != nil {
		return storeError("execution context of StepExecution %s cannot be stored", stepExecution.ID, err)
	}
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	lastUpdated := time.Now()
	updates := stepExecutionUpdates(stepExecution)
	updates["last_updated"] = lastUpdated
	updates["version"] = stepExecution.Version + 1

	res := db.Model(&StepExecutionEntity{}).
		Where("id = ? AND version = ?", stepExecution.ID, stepExecution.Version).
		Updates(updates)
	if res.Error != nil {
		return storeError("failed to update StepExecution %s", stepExecution.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := db.Model(&StepExecutionEntity{}).Where("id = ?", stepExecution.ID).Count(&count).Error; err != nil {
			return storeError("failed to look up StepExecution %s", stepExecution.ID, err)
		}
		if count == 0 {
			return storeError("StepExecution with ID %s not found for update", stepExecution.ID, repository.ErrStepExecutionNotFound)
		}
		return exception.NewOptimisticLockingFailureException(module,
			"StepExecution "+stepExecution.ID+" was updated concurrently", nil)
	}
	stepExecution.Version++
	stepExecution.LastUpdated = lastUpdated
	return nil
}

// UpdateExecutionContext stores only the ExecutionContext of the StepExecution. The Version is unchanged.
func (r *SQLJobRepository) UpdateExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	if err := stepExecution.ExecutionContext.Validate(); err != nil {
		return exception.NewBatchError(exception.KindRepository, module, "execution context cannot be stored", err)
	}
	db, err := r.db(ctx)
	if err != nil {
		return err
	}
	var count int64
	if err := db.Model(&StepExecutionEntity{}).Where("id = ?", stepExecution.ID).Count(&count).Error; err != nil {
		return storeError("failed to look up StepExecution %s", stepExecution.ID, err)
	}
	if count == 0 {
		return storeError("StepExecution with ID %s not found", stepExecution.ID, repository.ErrStepExecutionNotFound)
	}
	err = db.Model(&StepExecutionEntity{}).
		Where("id = ?", stepExecution.ID).
		Update("execution_context", stepExecution.ExecutionContext).Error
	if err != nil {
		return storeError("failed to save execution context of StepExecution %s", stepExecution.ID, err)
	}
	return nil
}

// GetStepExecution finds a StepExecution of the given JobExecution by its ID.
func (r *SQLJobRepository) GetStepExecution(ctx context.Context, jobExecutionID, id string) (*model.StepExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	var e StepExecutionEntity
	err = db.Where("id = ? AND job_execution_id = ?", id, jobExecutionID).Take(&e).Error
	if isNotFound(err) {
		return nil, repository.ErrStepExecutionNotFound
	}
	if err != nil {
		return nil, storeError("failed to get StepExecution %s", id, err)
	}
	return toStepExecution(&e), nil
}

const instanceStepsQuery = "step_name = ? AND job_execution_id IN (?)"

// FindLastStepExecution returns the most recently saved execution of stepName for the instance.
func (r *SQLJobRepository) FindLastStepExecution(ctx context.Context, instance *model.JobInstance, stepName string) (*model.StepExecution, error) {
	db, err := r.db(ctx)
	if err != nil {
		return nil, err
	}
	executions := db.Model(&JobExecutionEntity{}).Select("id").Where("job_instance_id = ?", instance.ID)

	var e StepExecutionEntity
	err = db.Where(instanceStepsQuery, stepName, executions).Order("seq DESC").Take(&e).Error
	if isNotFound(err) {
		return nil, repository.ErrStepExecutionNotFound
	}
	if err != nil {
		return nil, storeError("failed to find last StepExecution of step '%s'", stepName, err)
	}
	se := toStepExecution(&e)

	var je JobExecutionEntity
	if err := db.Where("id = ?", e.JobExecutionID).Take(&je).Error; err == nil {
		se.JobExecution = toJobExecution(&je)
	} else if !isNotFound(err) {
		return nil, storeError("failed to load JobExecution %s", e.JobExecutionID, err)
	}
	return se, nil
}

// CountStepExecutions returns the number of executions of stepName for the instance.
func (r *SQLJobRepository) CountStepExecutions(ctx context.Context, instance *model.JobInstance, stepName string) (int, error) {
	db, err := r.db(ctx)
	if err != nil {
		return 0, err
	}
	executions := db.Model(&JobExecutionEntity{}).Select("id").Where("job_instance_id = ?", instance.ID)

	var count int64
	if err := db.Model(&StepExecutionEntity{}).Where(instanceStepsQuery, stepName, executions).Count(&count).Error; err != nil {
		return 0, storeError("failed to count StepExecutions of step '%s'", stepName, err)
	}
	return int(count), nil
}

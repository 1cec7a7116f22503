package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SaveJobExecution persists a new JobExecution and resets its Version to 0.
// It returns an error if a JobExecution with the same ID already exists.
func (r *InMemoryJobRepository) SaveJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobExecutions[jobExecution.ID]; exists {
		return exception.NewBatchErrorf(exception.KindRepository, module, "JobExecution with ID %s already exists", jobExecution.ID)
	}
	if _, ok := r.jobInstances[jobExecution.JobInstanceID]; !ok {
		return exception.NewBatchErrorf(exception.KindRepository, module,
			"JobInstance %s of JobExecution %s is not stored", jobExecution.JobInstanceID, jobExecution.ID, repository.ErrJobInstanceNotFound)
	}
	jobExecution.Version = 0
	jobExecution.LastUpdated = time.Now()
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	r.executionOrder[jobExecution.JobInstanceID] = append(r.executionOrder[jobExecution.JobInstanceID], jobExecution.ID)
	return nil
}

// UpdateJobExecution updates an existing JobExecution if its Version matches the stored one,
// then increments the Version.
func (r *InMemoryJobRepository) UpdateJobExecution(ctx context.Context, jobExecution *model.JobExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, exists := r.jobExecutions[jobExecution.ID]
	if !exists {
		return exception.NewBatchErrorf(exception.KindRepository, module,
			"JobExecution with ID %s not found for update", jobExecution.ID, repository.ErrJobExecutionNotFound)
	}
	if stored.Version != jobExecution.Version {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("JobExecution %s has version %d, stored version is %d", jobExecution.ID, jobExecution.Version, stored.Version), nil)
	}
	jobExecution.Version++
	jobExecution.LastUpdated = time.Now()
	r.jobExecutions[jobExecution.ID] = cloneJobExecution(jobExecution)
	return nil
}

// GetJobExecution finds a JobExecution by its ID and attaches its StepExecutions.
func (r *InMemoryJobRepository) GetJobExecution(ctx context.Context, id string) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	je, ok := r.jobExecutions[id]
	if !ok {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(je), nil
}

// withSteps must be called with r.mu held.
func (r *InMemoryJobRepository) withSteps(je *model.JobExecution) *model.JobExecution {
	cp := cloneJobExecution(je)
	for _, sid := range r.stepOrder[je.ID] {
		se := r.stepExecutions[sid].execution.Copy()
		se.JobExecution = cp
		cp.StepExecutions = append(cp.StepExecutions, se)
	}
	return cp
}

// FindJobExecutions returns every execution of the instance, newest first.
func (r *InMemoryJobRepository) FindJobExecutions(ctx context.Context, instance *model.JobInstance) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.executionOrder[instance.ID]
	result := make([]*model.JobExecution, 0, len(ids))
	for i := len(ids) - 1; i >= 0; i-- {
		result = append(result, r.withSteps(r.jobExecutions[ids[i]]))
	}
	return result, nil
}

// FindLastJobExecution returns the most recently created execution of the instance.
func (r *InMemoryJobRepository) FindLastJobExecution(ctx context.Context, instance *model.JobInstance) (*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.executionOrder[instance.ID]
	if len(ids) == 0 {
		return nil, repository.ErrJobExecutionNotFound
	}
	return r.withSteps(r.jobExecutions[ids[len(ids)-1]]), nil
}

// FindRunningJobExecutions returns unfinished executions of jobName.
func (r *InMemoryJobRepository) FindRunningJobExecutions(ctx context.Context, jobName string) ([]*model.JobExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.JobExecution
	for _, iid := range r.instanceOrder {
		for _, eid := range r.executionOrder[iid] {
			je := r.jobExecutions[eid]
			if je.JobName == jobName && je.IsRunning() {
				result = append(result, r.withSteps(je))
			}
		}
	}
	return result, nil
}

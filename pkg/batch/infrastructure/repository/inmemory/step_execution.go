package inmemory

import (
	"context"
	"fmt"
	"time"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// SaveStepExecution persists a new StepExecution and resets its Version to 0.
func (r *InMemoryJobRepository) SaveStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.stepExecutions[stepExecution.ID]; exists {
		return exception.NewBatchErrorf(exception.KindRepository, module, "StepExecution with ID %s already exists", stepExecution.ID)
	}
	if _, ok := r.jobExecutions[stepExecution.JobExecutionID]; !ok {
		return exception.NewBatchErrorf(exception.KindRepository, module,
			"JobExecution %s of StepExecution %s is not stored", stepExecution.JobExecutionID, stepExecution.ID, repository.ErrJobExecutionNotFound)
	}
	stepExecution.Version = 0
	stepExecution.LastUpdated = time.Now()
	r.seq++
	r.stepExecutions[stepExecution.ID] = &storedStep{seq: r.seq, execution: stepExecution.Copy()}
	r.stepOrder[stepExecution.JobExecutionID] = append(r.stepOrder[stepExecution.JobExecutionID], stepExecution.ID)
	return nil
}

// UpdateStepExecution updates an existing StepExecution if its Version matches the stored one,
// then increments the Version.
func (r *InMemoryJobRepository) UpdateStepExecution(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[stepExecution.ID]
	if !ok {
		return exception.NewBatchErrorf(exception.KindRepository, module,
			"StepExecution with ID %s not found for update", stepExecution.ID, repository.ErrStepExecutionNotFound)
	}
	if stored.execution.Version != stepExecution.Version {
		return exception.NewOptimisticLockingFailureException(module,
			fmt.Sprintf("StepExecution %s has version %d, stored version is %d", stepExecution.ID, stepExecution.Version, stored.execution.Version), nil)
	}
	stepExecution.Version++
	stepExecution.LastUpdated = time.Now()
	stored.execution = stepExecution.Copy()
	return nil
}

// UpdateExecutionContext stores only the ExecutionContext of the StepExecution. The Version is unchanged.
func (r *InMemoryJobRepository) UpdateExecutionContext(ctx context.Context, stepExecution *model.StepExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.stepExecutions[stepExecution.ID]
	if !ok {
		return exception.NewBatchErrorf(exception.KindRepository, module,
			"StepExecution with ID %s not found", stepExecution.ID, repository.ErrStepExecutionNotFound)
	}
	if err := stepExecution.ExecutionContext.Validate(); err != nil {
		return exception.NewBatchError(exception.KindRepository, module, "execution context cannot be stored", err)
	}
	stored.execution.ExecutionContext = stepExecution.ExecutionContext.Copy()
	return nil
}

// GetStepExecution finds a StepExecution of the given JobExecution by its ID.
func (r *InMemoryJobRepository) GetStepExecution(ctx context.Context, jobExecutionID, id string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored, ok := r.stepExecutions[id]
	if !ok || stored.execution.JobExecutionID != jobExecutionID {
		return nil, repository.ErrStepExecutionNotFound
	}
	return stored.execution.Copy(), nil
}

// FindLastStepExecution returns the most recently saved execution of stepName for the instance.
func (r *InMemoryJobRepository) FindLastStepExecution(ctx context.Context, instance *model.JobInstance, stepName string) (*model.StepExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var last *storedStep
	r.eachStep(instance, stepName, func(s *storedStep) {
		if last == nil || s.seq > last.seq {
			last = s
		}
	})
	if last == nil {
		return nil, repository.ErrStepExecutionNotFound
	}
	cp := last.execution.Copy()
	if je, ok := r.jobExecutions[cp.JobExecutionID]; ok {
		cp.JobExecution = cloneJobExecution(je)
	}
	return cp, nil
}

// CountStepExecutions returns the number of executions of stepName for the instance.
func (r *InMemoryJobRepository) CountStepExecutions(ctx context.Context, instance *model.JobInstance, stepName string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	r.eachStep(instance, stepName, func(*storedStep) { count++ })
	return count, nil
}

// eachStep must be called with r.mu held.
func (r *InMemoryJobRepository) eachStep(instance *model.JobInstance, stepName string, fn func(*storedStep)) {
	for _, eid := range r.executionOrder[instance.ID] {
		for _, sid := range r.stepOrder[eid] {
			if s := r.stepExecutions[sid]; s.execution.StepName == stepName {
				fn(s)
			}
		}
	}
}

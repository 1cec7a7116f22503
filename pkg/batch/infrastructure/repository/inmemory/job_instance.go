package inmemory

import (
	"context"
	"sort"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func instanceKey(jobName string, params model.JobParameters) string {
	return jobName + "|" + params.Hash()
}

// CreateJobInstance creates and stores a new JobInstance.
// It fails with exception.KindDuplicateJobInstance if one already exists for jobName and params.
func (r *InMemoryJobRepository) CreateJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := instanceKey(jobName, params)
	if _, exists := r.instanceKeys[key]; exists {
		return nil, exception.NewBatchErrorf(exception.KindDuplicateJobInstance, module,
			"a JobInstance already exists for job '%s' with parameters %s", jobName, params)
	}
	instance := model.NewJobInstance(jobName, params)
	stored := *instance
	r.jobInstances[instance.ID] = &stored
	r.instanceKeys[key] = instance.ID
	r.instanceOrder = append(r.instanceOrder, instance.ID)
	return instance, nil
}

// FindJobInstance finds the JobInstance identified by jobName and params.
func (r *InMemoryJobRepository) FindJobInstance(ctx context.Context, jobName string, params model.JobParameters) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.instanceKeys[instanceKey(jobName, params)]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	cp := *r.jobInstances[id]
	return &cp, nil
}

// GetJobInstance finds a JobInstance by its ID.
func (r *InMemoryJobRepository) GetJobInstance(ctx context.Context, id string) (*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ji, ok := r.jobInstances[id]
	if !ok {
		return nil, repository.ErrJobInstanceNotFound
	}
	cp := *ji
	return &cp, nil
}

// FindJobInstancesByJobName returns up to count instances of jobName, newest first, skipping the first start.
func (r *InMemoryJobRepository) FindJobInstancesByJobName(ctx context.Context, jobName string, start, count int) ([]*model.JobInstance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*model.JobInstance
	skipped := 0
	for i := len(r.instanceOrder) - 1; i >= 0; i-- {
		ji := r.jobInstances[r.instanceOrder[i]]
		if ji.JobName != jobName {
			continue
		}
		if skipped < start {
			skipped++
			continue
		}
		if count > 0 && len(result) >= count {
			break
		}
		cp := *ji
		result = append(result, &cp)
	}
	return result, nil
}

// GetJobNames returns the distinct job names of the stored instances, sorted.
func (r *InMemoryJobRepository) GetJobNames(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]struct{})
	names := []string{}
	for _, ji := range r.jobInstances {
		if _, ok := seen[ji.JobName]; ok {
			continue
		}
		seen[ji.JobName] = struct{}{}
		names = append(names, ji.JobName)
	}
	sort.Strings(names)
	return names, nil
}

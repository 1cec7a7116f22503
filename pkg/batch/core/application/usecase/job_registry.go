package usecase

import (
	"sort"
	"sync"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// MapJobRegistry is a JobRegistry backed by a map.
type MapJobRegistry struct {
	mu   sync.RWMutex
	jobs map[string]port.Job
}

// Verify that MapJobRegistry implements the JobRegistry interface.
var _ JobRegistry = (*MapJobRegistry)(nil)

// NewMapJobRegistry creates an empty registry.
func NewMapJobRegistry() *MapJobRegistry {
	return &MapJobRegistry{jobs: make(map[string]port.Job)}
}

// Register adds job. Job names must be unique.
func (r *MapJobRegistry) Register(job port.Job) error {
	if job == nil || job.Name() == "" {
		return exception.NewBatchErrorf(exception.KindConfiguration, "job_registry", "cannot register a job without a name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.Name()]; exists {
		return exception.NewBatchErrorf(exception.KindConfiguration, "job_registry", "job '%s' is already registered", job.Name())
	}
	r.jobs[job.Name()] = job
	logger.Debugf("Registered job '%s'.", job.Name())
	return nil
}

// GetJob returns the job registered as name.
func (r *MapJobRegistry) GetJob(name string) (port.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[name]
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindNoSuchJob, "job_registry", "no job registered with name '%s'", name)
	}
	return job, nil
}

// JobNames returns the registered names in sorted order.
func (r *MapJobRegistry) JobNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.jobs))
	for name := range r.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

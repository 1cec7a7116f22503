// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It stores all job-related data in maps within memory, suitable for testing and
// scenarios where persistence is not required.
package inmemory

import (
	"sync"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
)

const module = "InMemoryJobRepository"

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
// Every stored object is a copy; callers never share state with the repository.
type InMemoryJobRepository struct {
	jobInstances   map[string]*model.JobInstance
	instanceKeys   map[string]string // job name + parameter hash -> instance ID
	instanceOrder  []string
	jobExecutions  map[string]*model.JobExecution
	executionOrder map[string][]string // instance ID -> execution IDs, oldest first
	stepExecutions map[string]*storedStep
	stepOrder      map[string][]string // job execution ID -> step execution IDs
	seq            int64
	mu             sync.RWMutex // Mutex to protect concurrent access to maps.
}

type storedStep struct {
	seq       int64
	execution *model.StepExecution
}

var _ repository.JobRepository = (*InMemoryJobRepository)(nil)

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobInstances:   make(map[string]*model.JobInstance),
		instanceKeys:   make(map[string]string),
		jobExecutions:  make(map[string]*model.JobExecution),
		executionOrder: make(map[string][]string),
		stepExecutions: make(map[string]*storedStep),
		stepOrder:      make(map[string][]string),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}

func cloneJobExecution(je *model.JobExecution) *model.JobExecution {
	cp := *je
	cp.ExecutionContext = je.ExecutionContext.Copy()
	cp.Failures = append(model.FailureList{}, je.Failures...)
	cp.StepExecutions = nil
	return &cp
}

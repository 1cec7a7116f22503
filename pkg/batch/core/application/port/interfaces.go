// Package port defines the interfaces the engine consumes and exposes: item I/O,
// steps, jobs, listeners and the executor parallel flows are dispatched to.
package port

import (
	"context"
	"errors"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
)

// ErrNoMoreItems is returned by an ItemReader when its source is exhausted.
var ErrNoMoreItems = errors.New("no more items to read")

// ErrItemFiltered is returned by an ItemProcessor to drop an item without failing.
var ErrItemFiltered = errors.New("item filtered")

// ItemReader reads items one at a time. It returns ErrNoMoreItems at end of data.
type ItemReader[T any] interface {
	Read(ctx context.Context) (T, error)
}

// ItemProcessor transforms a read item into a writable one.
type ItemProcessor[I, O any] interface {
	Process(ctx context.Context, item I) (O, error)
}

// ItemWriter writes a whole chunk of items inside the chunk transaction.
type ItemWriter[T any] interface {
	Write(ctx context.Context, items []T) error
}

// ItemStream is implemented by readers and writers that keep restart state.
// Open restores from the step's ExecutionContext, Update saves the position
// reached at each commit, and Close releases resources.
type ItemStream interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	Update(ctx context.Context, ec model.ExecutionContext) error
	Close(ctx context.Context) error
}

// SkipAware is implemented by item sources that must be told when the most
// recently read item is discarded.
type SkipAware interface {
	Skip(ctx context.Context)
}

// TransactionalWriter is implemented by writers that buffer output.
// Flush is called just before the chunk commits; Clear discards the pending
// batch when the chunk rolls back.
type TransactionalWriter interface {
	Flush(ctx context.Context) error
	Clear(ctx context.Context) error
}

// Tasklet is a unit of work called repeatedly, each call in its own transaction,
// until it returns repeat.Finished. Counters it reports on contribution are folded
// into the step execution when the call commits.
type Tasklet interface {
	Execute(ctx context.Context, contribution *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error)
}

// Step is one stage of a job.
type Step interface {
	// Name returns the step name. It is part of the restart identity.
	Name() string
	// Execute runs one attempt of the step. The step records its outcome on se
	// and returns the failure that terminated it, if any.
	Execute(ctx context.Context, se *model.StepExecution) error
	// StartLimit is the maximum number of attempts for one JobInstance. Zero means unlimited.
	StartLimit() int
	// AllowStartIfComplete makes the step run again on restart even if it completed before.
	AllowStartIfComplete() bool
}

// Job orchestrates steps.
type Job interface {
	Name() string
	// IsRestartable reports whether a JobInstance of this job may be launched again.
	IsRestartable() bool
	// StartLimit is the maximum number of executions per JobInstance. Zero means unlimited.
	StartLimit() int
	// Execute runs the job flow, recording the outcome on je.
	Execute(ctx context.Context, je *model.JobExecution) error
}

// StepHandler runs a step as part of a job execution. It consults the history of
// the JobInstance to decide whether the step is skipped, resumed or started afresh.
// The returned StepExecution is nil when the step was skipped.
type StepHandler interface {
	HandleStep(ctx context.Context, step Step, je *model.JobExecution) (*model.StepExecution, error)
}

// Flow is a part of a job run by a single goroutine: a sequence of steps, or a
// split of concurrent flows.
type Flow interface {
	Name() string
	Execute(ctx context.Context, je *model.JobExecution, handler StepHandler) (model.FlowExecution, error)
}

// JobParametersValidator checks parameters before a launch.
type JobParametersValidator interface {
	Validate(params model.JobParameters) error
}

// JobParametersIncrementer derives the parameters of the next JobInstance.
type JobParametersIncrementer interface {
	GetNext(params model.JobParameters) model.JobParameters
}

// TaskExecutor runs tasks, possibly concurrently. Execute returns an error when
// the task was rejected and will never run.
type TaskExecutor interface {
	Execute(ctx context.Context, task func()) error
}

// JobExecutionListener observes job executions.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, je *model.JobExecution)
	AfterJob(ctx context.Context, je *model.JobExecution)
}

// StepExecutionListener observes step executions. AfterStep may change se.ExitStatus.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, se *model.StepExecution)
	AfterStep(ctx context.Context, se *model.StepExecution)
}

// ChunkListener observes chunk boundaries.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, se *model.StepExecution)
	AfterChunk(ctx context.Context, se *model.StepExecution)
	AfterChunkError(ctx context.Context, se *model.StepExecution, err error)
}

// SkipListener is notified of every skipped item. Callbacks run before the
// chunk containing the skip commits.
type SkipListener interface {
	OnSkipInRead(ctx context.Context, err error)
	OnSkipInProcess(ctx context.Context, item any, err error)
	OnSkipInWrite(ctx context.Context, item any, err error)
}

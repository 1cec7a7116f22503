package split

import (
	"context"
	"errors"

	"golang.org/x/sync/semaphore"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
)

// ErrTaskRejected is returned by a TaskExecutor that refuses a task.
var ErrTaskRejected = errors.New("task rejected")

// SyncTaskExecutor runs each task on the calling goroutine.
type SyncTaskExecutor struct{}

// NewSyncTaskExecutor creates a SyncTaskExecutor.
func NewSyncTaskExecutor() *SyncTaskExecutor { return &SyncTaskExecutor{} }

// Execute implements port.TaskExecutor.
func (*SyncTaskExecutor) Execute(ctx context.Context, task func()) error {
	task()
	return nil
}

// AsyncTaskExecutor runs each task on a new goroutine.
type AsyncTaskExecutor struct{}

// NewAsyncTaskExecutor creates an AsyncTaskExecutor.
func NewAsyncTaskExecutor() *AsyncTaskExecutor { return &AsyncTaskExecutor{} }

// Execute implements port.TaskExecutor.
func (*AsyncTaskExecutor) Execute(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return errors.Join(ErrTaskRejected, err)
	}
	go task()
	return nil
}

// BoundedTaskExecutor runs tasks on goroutines, at most limit at a time. When no
// slot is free it either waits for one or rejects the task.
type BoundedTaskExecutor struct {
	sem   *semaphore.Weighted
	limit int64
	wait  bool
}

// NewBoundedTaskExecutor creates a BoundedTaskExecutor. With wait false a task
// submitted while every slot is busy is rejected with ErrTaskRejected.
func NewBoundedTaskExecutor(limit int64, wait bool) *BoundedTaskExecutor {
	if limit <= 0 {
		limit = 1
	}
	return &BoundedTaskExecutor{sem: semaphore.NewWeighted(limit), limit: limit, wait: wait}
}

// Limit returns the maximum number of concurrent tasks.
func (e *BoundedTaskExecutor) Limit() int64 { return e.limit }

// Execute implements port.TaskExecutor.
func (e *BoundedTaskExecutor) Execute(ctx context.Context, task func()) error {
	if e.wait {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			return errors.Join(ErrTaskRejected, err)
		}
	} else if !e.sem.TryAcquire(1) {
		return ErrTaskRejected
	}
	go func() {
		defer e.sem.Release(1)
		task()
	}()
	return nil
}

var (
	_ port.TaskExecutor = (*SyncTaskExecutor)(nil)
	_ port.TaskExecutor = (*AsyncTaskExecutor)(nil)
	_ port.TaskExecutor = (*BoundedTaskExecutor)(nil)
)

package runner

import (
	"context"
	"errors"
	"sync"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// SimpleStepHandler decides from the JobInstance's step history whether a step
// is skipped, resumed from its last ExecutionContext, or started afresh.
// It may be shared by the branches of a split.
type SimpleStepHandler struct {
	jobRepository repository.JobRepository
	instance      *model.JobInstance
	// mu guards the StepExecutions slice of the job execution.
	mu sync.Mutex
}

// Verify that SimpleStepHandler implements the port.StepHandler interface.
var _ port.StepHandler = (*SimpleStepHandler)(nil)

// NewSimpleStepHandler creates a handler for executions of instance.
func NewSimpleStepHandler(jobRepository repository.JobRepository, instance *model.JobInstance) *SimpleStepHandler {
	return &SimpleStepHandler{jobRepository: jobRepository, instance: instance}
}

// HandleStep implements port.StepHandler.
func (h *SimpleStepHandler) HandleStep(ctx context.Context, step port.Step, je *model.JobExecution) (*model.StepExecution, error) {
	const module = "SimpleStepHandler"
	name := step.Name()

	if err := ctx.Err(); err != nil {
		return nil, exception.NewBatchError(exception.KindInterrupted, module, "job execution was interrupted before step '"+name+"'", err)
	}

	last, err := h.jobRepository.FindLastStepExecution(ctx, h.instance, name)
	if err != nil && !errors.Is(err, repository.ErrStepExecutionNotFound) {
		return nil, exception.NewBatchError(exception.KindRepository, module, "failed to find last execution of step '"+name+"'", err)
	}

	if last != nil {
		switch last.Status {
		case model.BatchStatusCompleted:
			if !step.AllowStartIfComplete() {
				logger.Infof("Step '%s' already completed for JobInstance (ID: %s). Skipping execution.", name, h.instance.ID)
				return nil, nil
			}
		case model.BatchStatusUnknown:
			return nil, exception.NewBatchErrorf(exception.KindJobRestart, module,
				"cannot restart step '%s' from UNKNOWN status; the step's metadata must be repaired first", name)
		}
	}

	if limit := step.StartLimit(); limit > 0 {
		count, err := h.jobRepository.CountStepExecutions(ctx, h.instance, name)
		if err != nil {
			return nil, exception.NewBatchError(exception.KindRepository, module, "failed to count executions of step '"+name+"'", err)
		}
		if count >= limit {
			return nil, exception.NewBatchErrorf(exception.KindStartLimitExceeded, module,
				"maximum start limit exceeded for step '%s' (start limit: %d)", name, limit)
		}
	}

	h.mu.Lock()
	se := je.CreateStepExecution(name)
	h.mu.Unlock()

	if last != nil && last.Status != model.BatchStatusCompleted && last.Status != model.BatchStatusAbandoned {
		se.ExecutionContext = last.ExecutionContext.Copy()
		logger.Infof("Step '%s' is restarting from StepExecution (ID: %s, Status: %s).", name, last.ID, last.Status)
	}

	if err := h.jobRepository.SaveStepExecution(ctx, se); err != nil {
		return nil, exception.NewBatchError(exception.KindRepository, module, "failed to save StepExecution for step '"+name+"'", err)
	}

	return se, step.Execute(ctx, se)
}

package repository

import (
	"context"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// StepExecutionRepository persists StepExecutions and their ExecutionContexts.
type StepExecutionRepository interface {
	// SaveStepExecution stores a new step execution. Its Version is reset to 0.
	SaveStepExecution(ctx context.Context, execution *model.StepExecution) error
	// UpdateStepExecution stores counters, status and context when Version matches,
	// then increments Version.
	UpdateStepExecution(ctx context.Context, execution *model.StepExecution) error
	// UpdateExecutionContext stores only the ExecutionContext of the step execution.
	// It is called inside the chunk transaction.
	UpdateExecutionContext(ctx context.Context, execution *model.StepExecution) error
	// GetStepExecution returns a step execution by ID.
	GetStepExecution(ctx context.Context, jobExecutionID, id string) (*model.StepExecution, error)
	// FindLastStepExecution returns the latest execution of stepName across every
	// JobExecution of the instance, or ErrStepExecutionNotFound.
	FindLastStepExecution(ctx context.Context, instance *model.JobInstance, stepName string) (*model.StepExecution, error)
	// CountStepExecutions returns how many times stepName was started for the instance.
	CountStepExecutions(ctx context.Context, instance *model.JobInstance, stepName string) (int, error)
}

// Package tasklet implements steps that call a single Tasklet until it reports completion.
package tasklet

import (
	"context"
	"database/sql"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// TaskletStep is an implementation of port.Step for Tasklet-oriented processing.
type TaskletStep struct {
	step.Base
	tasklet   port.Tasklet
	txManager tx.TransactionManager
	txOptions *sql.TxOptions
}

// Verify that TaskletStep implements the port.Step interface.
var _ port.Step = (*TaskletStep)(nil)

// NonTransactional is implemented by tasklets that manage their own connections,
// such as schema migrations. Their calls are not wrapped in a transaction.
type NonTransactional interface {
	NonTransactional()
}

// NewTaskletStep creates a new TaskletStep instance. A tasklet implementing
// port.ItemStream is opened before the first call and closed after the last.
func NewTaskletStep(name string, tasklet port.Tasklet, jobRepository repository.JobRepository, txManager tx.TransactionManager) *TaskletStep {
	if _, ok := tasklet.(NonTransactional); ok || txManager == nil {
		txManager = tx.NewResourcelessTransactionManager()
	}
	s := &TaskletStep{
		Base:      step.NewBase(name, jobRepository),
		tasklet:   tasklet,
		txManager: txManager,
	}
	if l, ok := tasklet.(port.StepExecutionListener); ok {
		s.RegisterListener(l)
	}
	return s
}

// SetTransactionOptions sets the options every tasklet transaction begins with.
func (s *TaskletStep) SetTransactionOptions(opts *sql.TxOptions) {
	s.txOptions = opts
}

// Execute runs the tasklet until it returns repeat.Finished.
func (s *TaskletStep) Execute(ctx context.Context, se *model.StepExecution) error {
	return s.Run(ctx, se, s.doExecute)
}

func (s *TaskletStep) doExecute(ctx context.Context, se *model.StepExecution) (exit model.ExitStatus, err error) {
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}
	stream, isStream := s.tasklet.(port.ItemStream)
	if isStream {
		if oerr := stream.Open(ctx, se.ExecutionContext); oerr != nil {
			return model.ExitStatusFailed, exception.NewBatchError(exception.KindItemStream, s.Name(), "failed to open tasklet", oerr)
		}
		defer func() {
			if cerr := stream.Close(context.WithoutCancel(ctx)); cerr != nil {
				logger.Errorf("TaskletStep '%s': failed to close tasklet: %v", s.Name(), cerr)
				closeErr := exception.NewBatchError(exception.KindItemStream, s.Name(), "failed to close tasklet", cerr)
				if err == nil {
					err = closeErr
				} else {
					err = multierror.Append(err, closeErr)
				}
			}
		}()
	}

	loop := repeat.NewTemplate(repeat.DefaultCompletionPolicy{}, nil)
	_, err = loop.Iterate(ctx, nil, func(ctx context.Context, _ *repeat.Context) (repeat.Status, error) {
		if se.IsTerminateOnly() {
			return repeat.Finished, exception.NewBatchError(exception.KindInterrupted, s.Name(), "step execution was stopped", nil)
		}
		return s.doIteration(ctx, se, stream)
	})
	if err != nil {
		return model.ExitStatusFailed, err
	}
	return model.ExitStatusCompleted, nil
}

// doIteration runs one tasklet call in its own transaction.
func (s *TaskletStep) doIteration(ctx context.Context, se *model.StepExecution, stream port.ItemStream) (repeat.Status, error) {
	t, err := s.txManager.Begin(ctx, s.txOptions)
	if err != nil {
		return repeat.Finished, exception.NewBatchError(exception.KindOf(err), s.Name(), "failed to begin tasklet transaction", err)
	}
	txCtx := tx.WithTx(ctx, t)

	snapshot := se.Copy()
	contribution := &model.StepContribution{}
	status, err := s.tasklet.Execute(txCtx, contribution, se.ExecutionContext)
	if err == nil && stream != nil {
		err = stream.Update(txCtx, se.ExecutionContext)
	}
	if err == nil {
		se.Apply(contribution)
		se.CommitCount++
		if uerr := s.JobRepository().UpdateExecutionContext(txCtx, se); uerr != nil {
			err = exception.NewRolledBackError(s.Name(), "failed to save execution context", uerr)
		}
	}
	if err != nil {
		se.RestoreCheckpoint(snapshot)
		if rerr := s.txManager.Rollback(t); rerr != nil {
			logger.Errorf("TaskletStep '%s': rollback failed: %v", s.Name(), rerr)
		}
		se.RollbackCount++
		return repeat.Finished, err
	}
	if cerr := s.txManager.Commit(t); cerr != nil {
		se.RestoreCheckpoint(snapshot)
		se.RollbackCount++
		return repeat.Finished, exception.NewRolledBackError(s.Name(), "tasklet commit failed", cerr)
	}
	if uerr := s.JobRepository().UpdateStepExecution(ctx, se); uerr != nil {
		return repeat.Finished, exception.NewBatchError(exception.KindRepository, s.Name(), "failed to update StepExecution after commit", uerr)
	}
	return status, nil
}

// TaskletFunc adapts a function to port.Tasklet.
type TaskletFunc func(ctx context.Context, contribution *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error)

// Execute implements port.Tasklet.
func (f TaskletFunc) Execute(ctx context.Context, contribution *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
	return f(ctx, contribution, ec)
}

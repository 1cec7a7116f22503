package tasklet

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

func newStepExecution(t *testing.T, repo *inmemory.InMemoryJobRepository) *model.StepExecution {
	t.Helper()
	ctx := context.Background()
	ji, err := repo.CreateJobInstance(ctx, "job", model.NewJobParametersBuilder().AddString("run", model.NewID()).Build())
	require.NoError(t, err)
	je := model.NewJobExecution(ji)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := je.CreateStepExecution("tasklet")
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	return se
}

func TestTaskletStep_RepeatsUntilFinished(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	calls := 0
	s := NewTaskletStep("tasklet", TaskletFunc(func(_ context.Context, c *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
		calls++
		c.WriteCount++
		ec.Put("calls", calls)
		return repeat.StatusOf(calls < 3), nil
	}), repo, nil)

	require.NoError(t, s.Execute(context.Background(), se))
	assert.Equal(t, 3, calls)
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, 3, se.WriteCount)

	stored, err := repo.GetStepExecution(context.Background(), se.JobExecutionID, se.ID)
	require.NoError(t, err)
	n, _ := stored.ExecutionContext.GetInt("calls")
	assert.Equal(t, 3, n)
}

func TestTaskletStep_FailureRollsBack(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	s := NewTaskletStep("tasklet", TaskletFunc(func(context.Context, *model.StepContribution, model.ExecutionContext) (repeat.Status, error) {
		return repeat.Finished, errors.New("remote call failed")
	}), repo, nil)

	err := s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitCodeFatalException, se.ExitStatus.ExitCode)
	assert.Contains(t, se.ExitStatus.ExitDescription, "remote call failed")
	assert.Zero(t, se.CommitCount)
	assert.Equal(t, 1, se.RollbackCount)
}

func TestTaskletStep_StopRequest(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	s := NewTaskletStep("tasklet", TaskletFunc(func(context.Context, *model.StepContribution, model.ExecutionContext) (repeat.Status, error) {
		se.SetTerminateOnly()
		return repeat.Continuable, nil
	}), repo, nil)

	err := s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindInterrupted))
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, model.ExitCodeJobInterrupted, se.ExitStatus.ExitCode)
	assert.Equal(t, 1, se.CommitCount)
}

func TestTaskletStep_FailedCommitKeepsLastCheckpoint(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	txn := &test.MockTx{}
	tm := &test.MockTxManager{}
	tm.On("Begin", mock.Anything, mock.Anything).Return(txn, nil)
	tm.On("Commit", txn).Return(nil).Once()
	tm.On("Commit", txn).Return(errors.New("connection reset"))
	tm.On("Rollback", txn).Return(nil).Maybe()

	calls := 0
	s := NewTaskletStep("tasklet", TaskletFunc(func(_ context.Context, c *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
		calls++
		c.WriteCount++
		ec.Put("calls", calls)
		return repeat.Continuable, nil
	}), repo, tm)

	err := s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindChunkRolledBack))
	assert.Equal(t, 2, calls)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 1, se.CommitCount)
	assert.Equal(t, 1, se.WriteCount)
	assert.Equal(t, 1, se.RollbackCount)
	n, _ := se.ExecutionContext.GetInt("calls")
	assert.Equal(t, 1, n)

	stored, err := repo.GetStepExecution(context.Background(), se.JobExecutionID, se.ID)
	require.NoError(t, err)
	n, _ = stored.ExecutionContext.GetInt("calls")
	assert.Equal(t, 1, n, "the stored context matches the last committed iteration")
	assert.Equal(t, 1, stored.CommitCount)
}

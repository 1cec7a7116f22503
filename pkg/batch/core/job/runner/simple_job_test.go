package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

type countingTasklet struct {
	calls int
	fn    func(call int, ec model.ExecutionContext) (repeat.Status, error)
}

func (c *countingTasklet) Execute(_ context.Context, _ *model.StepContribution, ec model.ExecutionContext) (repeat.Status, error) {
	c.calls++
	if c.fn == nil {
		return repeat.Finished, nil
	}
	return c.fn(c.calls, ec)
}

func newExecution(t *testing.T, repo *inmemory.InMemoryJobRepository, instance *model.JobInstance) *model.JobExecution {
	t.Helper()
	je := model.NewJobExecution(instance)
	require.NoError(t, repo.SaveJobExecution(context.Background(), je))
	return je
}

func newInstance(t *testing.T, repo *inmemory.InMemoryJobRepository, jobName string) *model.JobInstance {
	t.Helper()
	ji, err := repo.CreateJobInstance(context.Background(), jobName, model.NewJobParametersBuilder().AddString("run", model.NewID()).Build())
	require.NoError(t, err)
	return ji
}

func TestSimpleJob_RunsStepsInOrder(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	first, second := &countingTasklet{}, &countingTasklet{}
	job := NewSimpleJob("job", repo).
		AddStep(tasklet.NewTaskletStep("first", first, repo, nil)).
		AddStep(tasklet.NewTaskletStep("second", second, repo, nil))

	je := newExecution(t, repo, newInstance(t, repo, "job"))
	require.NoError(t, job.Execute(ctx, je))

	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitCodeCompleted, je.ExitStatus.ExitCode)
	require.Len(t, je.StepExecutions, 2)
	assert.Equal(t, "first", je.StepExecutions[0].StepName)
	assert.Equal(t, "second", je.StepExecutions[1].StepName)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)

	stored, err := repo.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.NotNil(t, stored.EndTime)
	assert.Len(t, stored.StepExecutions, 2)
}

func TestSimpleJob_FailedStepEndsJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	third := &countingTasklet{}
	job := NewSimpleJob("job", repo).
		AddStep(tasklet.NewTaskletStep("first", &countingTasklet{}, repo, nil)).
		AddStep(tasklet.NewTaskletStep("second", &countingTasklet{fn: func(int, model.ExecutionContext) (repeat.Status, error) {
			return repeat.Finished, errors.New("connection reset")
		}}, repo, nil)).
		AddStep(tasklet.NewTaskletStep("third", third, repo, nil))

	je := newExecution(t, repo, newInstance(t, repo, "job"))
	require.Error(t, job.Execute(context.Background(), je))

	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitCodeFatalException, je.ExitStatus.ExitCode)
	assert.Contains(t, je.ExitStatus.ExitDescription, "connection reset")
	assert.Zero(t, third.calls)
	assert.Len(t, je.StepExecutions, 2)
	assert.NotEmpty(t, je.Failures)
}

func TestSimpleJob_RestartSkipsCompletedStepsAndResumes(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	first := &countingTasklet{}
	failOnce := true
	var resumedFrom int
	second := &countingTasklet{fn: func(_ int, ec model.ExecutionContext) (repeat.Status, error) {
		progress, _ := ec.GetInt("progress")
		if progress == 0 {
			ec.Put("progress", 1)
			return repeat.Continuable, nil
		}
		if failOnce {
			failOnce = false
			return repeat.Finished, errors.New("transient outage")
		}
		resumedFrom = progress
		return repeat.Finished, nil
	}}
	job := NewSimpleJob("job", repo).
		AddStep(tasklet.NewTaskletStep("first", first, repo, nil)).
		AddStep(tasklet.NewTaskletStep("second", second, repo, nil))

	instance := newInstance(t, repo, "job")
	je1 := newExecution(t, repo, instance)
	require.Error(t, job.Execute(ctx, je1))
	assert.Equal(t, model.BatchStatusFailed, je1.Status)

	je2 := newExecution(t, repo, instance)
	require.NoError(t, job.Execute(ctx, je2))

	assert.Equal(t, model.BatchStatusCompleted, je2.Status)
	assert.Equal(t, 1, first.calls)
	require.Len(t, je2.StepExecutions, 1)
	assert.Equal(t, "second", je2.StepExecutions[0].StepName)
	assert.Equal(t, 1, resumedFrom)
}

func TestSimpleJob_AllStepsCompletedIsNoOp(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	first := &countingTasklet{}
	job := NewSimpleJob("job", repo).AddStep(tasklet.NewTaskletStep("first", first, repo, nil))

	instance := newInstance(t, repo, "job")
	require.NoError(t, job.Execute(ctx, newExecution(t, repo, instance)))

	je := newExecution(t, repo, instance)
	require.NoError(t, job.Execute(ctx, je))
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitCodeNoOp, je.ExitStatus.ExitCode)
	assert.Equal(t, noOpDescription, je.ExitStatus.ExitDescription)
	assert.Equal(t, 1, first.calls)
}

func TestSimpleJob_AllowStartIfCompleteRerunsStep(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	first := &countingTasklet{}
	s := tasklet.NewTaskletStep("first", first, repo, nil)
	s.SetAllowStartIfComplete(true)
	job := NewSimpleJob("job", repo).AddStep(s)

	instance := newInstance(t, repo, "job")
	require.NoError(t, job.Execute(ctx, newExecution(t, repo, instance)))
	require.NoError(t, job.Execute(ctx, newExecution(t, repo, instance)))
	assert.Equal(t, 2, first.calls)
}

func TestSimpleJob_StepStartLimit(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	s := tasklet.NewTaskletStep("flaky", &countingTasklet{fn: func(int, model.ExecutionContext) (repeat.Status, error) {
		return repeat.Finished, errors.New("boom")
	}}, repo, nil)
	s.SetStartLimit(1)
	job := NewSimpleJob("job", repo).AddStep(s)

	instance := newInstance(t, repo, "job")
	require.Error(t, job.Execute(ctx, newExecution(t, repo, instance)))

	je := newExecution(t, repo, instance)
	err := job.Execute(ctx, je)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindStartLimitExceeded))
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Empty(t, je.StepExecutions)
}

func TestSimpleJob_CancelledContextStops(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx, cancel := context.WithCancel(context.Background())
	second := &countingTasklet{}
	job := NewSimpleJob("job", repo).
		AddStep(tasklet.NewTaskletStep("first", &countingTasklet{fn: func(int, model.ExecutionContext) (repeat.Status, error) {
			cancel()
			return repeat.Finished, nil
		}}, repo, nil)).
		AddStep(tasklet.NewTaskletStep("second", second, repo, nil))

	je := newExecution(t, repo, newInstance(t, repo, "job"))
	err := job.Execute(ctx, je)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindInterrupted))
	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitCodeJobInterrupted, je.ExitStatus.ExitCode)
	assert.Zero(t, second.calls)

	stored, gerr := repo.GetJobExecution(context.Background(), je.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestFlowSequence_StopsAtFirstIncompleteFlow(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	first := &countingTasklet{fn: func(int, model.ExecutionContext) (repeat.Status, error) {
		return repeat.Finished, errors.New("boom")
	}}
	second := &countingTasklet{}
	seq := NewFlowSequence("seq",
		NewStepFlow("a", tasklet.NewTaskletStep("first", first, repo, nil)),
		NewStepFlow("b", tasklet.NewTaskletStep("second", second, repo, nil)),
	)
	job := NewSimpleJob("job", repo).AddFlow(seq)

	je := newExecution(t, repo, newInstance(t, repo, "job"))
	_ = job.Execute(ctx, je)

	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
}

func TestSimpleJob_FinalSaveAdoptsConcurrentVersion(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	je := newExecution(t, repo, newInstance(t, repo, "job"))
	var recorded int
	stopper := &countingTasklet{fn: func(int, model.ExecutionContext) (repeat.Status, error) {
		stored, err := repo.GetJobExecution(ctx, je.ID)
		if err != nil {
			return repeat.Finished, err
		}
		stored.Stop()
		if err := repo.UpdateJobExecution(ctx, stored); err != nil {
			return repeat.Finished, err
		}
		recorded = stored.Version
		return repeat.Finished, nil
	}}
	job := NewSimpleJob("job", repo).AddStep(tasklet.NewTaskletStep("only", stopper, repo, nil))

	require.NoError(t, job.Execute(ctx, je))

	stored, err := repo.GetJobExecution(ctx, je.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	assert.Greater(t, stored.Version, recorded)
	assert.Equal(t, stored.Version, je.Version)
}

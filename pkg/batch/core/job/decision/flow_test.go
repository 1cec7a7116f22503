package decision

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/job/runner"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
)

func stepFlow(repo *inmemory.InMemoryJobRepository, name string, fail bool, ran *[]string) *runner.StepFlow {
	return runner.NewStepFlow(name, tasklet.NewTaskletStep(name,
		tasklet.TaskletFunc(func(context.Context, *model.StepContribution, model.ExecutionContext) (repeat.Status, error) {
			*ran = append(*ran, name)
			if fail {
				return repeat.Finished, errors.New(name + " failed")
			}
			return repeat.Finished, nil
		}), repo, nil))
}

func runJob(t *testing.T, repo *inmemory.InMemoryJobRepository, flow *Flow) *model.JobExecution {
	t.Helper()
	ctx := context.Background()
	ji, err := repo.CreateJobInstance(ctx, "job", model.NewJobParametersBuilder().AddString("run", model.NewID()).Build())
	require.NoError(t, err)
	je := model.NewJobExecution(ji)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	_ = runner.NewSimpleJob("job", repo).AddFlow(flow).Execute(ctx, je)
	return je
}

func TestFlow_FailureRoutesToRecovery(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var ran []string
	flow := NewFlow("main", stepFlow(repo, "load", true, &ran)).
		On("FATAL*", stepFlow(repo, "recover", false, &ran)).
		On("*", stepFlow(repo, "report", false, &ran))

	je := runJob(t, repo, flow)

	assert.Equal(t, []string{"load", "recover"}, ran)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	require.Len(t, je.StepExecutions, 2)
	assert.Equal(t, model.BatchStatusFailed, je.StepExecutions[0].Status)
}

func TestFlow_SuccessTakesFirstMatchingTransition(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var ran []string
	flow := NewFlow("main", stepFlow(repo, "load", false, &ran)).
		On("FATAL*", stepFlow(repo, "recover", false, &ran)).
		On("COMPLETED", stepFlow(repo, "report", false, &ran))

	je := runJob(t, repo, flow)

	assert.Equal(t, []string{"load", "report"}, ran)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
}

func TestFlow_EndCompletesDespiteFailure(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var ran []string
	flow := NewFlow("main", stepFlow(repo, "load", true, &ran)).End("FATAL_EXCEPTION")

	je := runJob(t, repo, flow)

	assert.Equal(t, []string{"load"}, ran)
	assert.Equal(t, model.BatchStatusCompleted, je.Status)
	assert.Equal(t, model.ExitCodeCompleted, je.ExitStatus.ExitCode)
}

func TestFlow_NoMatchKeepsPrimaryOutcome(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var ran []string
	flow := NewFlow("main", stepFlow(repo, "load", true, &ran)).
		On("COMPLETED", stepFlow(repo, "report", false, &ran))

	je := runJob(t, repo, flow)

	assert.Equal(t, []string{"load"}, ran)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitCodeFatalException, je.ExitStatus.ExitCode)
}

func TestFlow_FailEndsJobAsFailed(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var ran []string
	flow := NewFlow("main", stepFlow(repo, "load", false, &ran)).
		Fail("COMPLETED").
		On("*", stepFlow(repo, "report", false, &ran))

	je := runJob(t, repo, flow)

	assert.Equal(t, []string{"load"}, ran)
	assert.Equal(t, model.BatchStatusFailed, je.Status)
	assert.Equal(t, model.ExitCodeFailed, je.ExitStatus.ExitCode)
}

func TestFlow_StopEndsJobAsStopped(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	var ran []string
	flow := NewFlow("main", stepFlow(repo, "load", true, &ran)).Stop("FATAL*")

	je := runJob(t, repo, flow)

	assert.Equal(t, model.BatchStatusStopped, je.Status)
	assert.Equal(t, model.ExitCodeStopped, je.ExitStatus.ExitCode)
}

package model_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

func TestJobParameters_IdentityIgnoresInsertionOrder(t *testing.T) {
	date := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	a := model.NewJobParametersBuilder().
		AddString("region", "eu").
		AddLong("batch", 7).
		AddDate("run.date", date).
		Build()
	b := model.NewJobParametersBuilder().
		AddDate("run.date", date.In(time.FixedZone("JST", 9*3600))).
		AddLong("batch", 7).
		AddString("region", "eu").
		Build()

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())
	assert.Equal(t, []string{"region", "batch", "run.date"}, a.Keys())

	c := model.NewJobParametersBuilderFrom(a).AddLong("batch", 8).Build()
	assert.False(t, a.Equal(c))
	assert.NotEqual(t, a.Hash(), c.Hash())

	// Same textual value, different type.
	d := model.NewJobParametersBuilderFrom(a).AddString("batch", "7").Build()
	assert.False(t, a.Equal(d))
	assert.NotEqual(t, a.Hash(), d.Hash())
}

func TestJobParameters_JSONPreservesTypesAndOrder(t *testing.T) {
	params := model.NewJobParametersBuilder().
		AddString("name", "x").
		AddDouble("ratio", 0.25).
		AddLong("id", 42).
		Build()

	data, err := json.Marshal(params)
	require.NoError(t, err)

	var decoded model.JobParameters
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, params.Equal(decoded))
	assert.Equal(t, params.Keys(), decoded.Keys())

	id, ok := decoded.GetLong("id")
	assert.True(t, ok)
	assert.Equal(t, int64(42), id)
	_, ok = decoded.GetString("id")
	assert.False(t, ok)
}

func TestParseJobParameters(t *testing.T) {
	params, err := model.ParseJobParameters([]string{"file=in.csv", "chunk(long)=5", "at(date)=2024-01-02T03:04:05Z"})
	require.NoError(t, err)

	f, _ := params.GetString("file")
	assert.Equal(t, "in.csv", f)
	n, _ := params.GetLong("chunk")
	assert.Equal(t, int64(5), n)
	at, ok := params.GetDate("at")
	assert.True(t, ok)
	assert.Equal(t, 2024, at.Year())

	_, err = model.ParseJobParameters([]string{"n(long)=abc"})
	assert.Error(t, err)
	_, err = model.ParseJobParameters([]string{"novalue"})
	assert.Error(t, err)
}

func TestJobParameters_StringMasksSecrets(t *testing.T) {
	params := model.NewJobParametersBuilder().AddString("user", "bob").AddString("password", "hunter2").Build()
	s := params.String()
	assert.Contains(t, s, "user=bob")
	assert.NotContains(t, s, "hunter2")
}

func TestWorstStatus(t *testing.T) {
	assert.Equal(t, model.BatchStatusCompleted, model.WorstStatus())
	assert.Equal(t, model.BatchStatusFailed, model.WorstStatus(model.BatchStatusCompleted, model.BatchStatusFailed, model.BatchStatusStopped))
	assert.Equal(t, model.BatchStatusFailed, model.WorstStatus(model.BatchStatusStopped, model.BatchStatusFailed, model.BatchStatusCompleted))
	assert.Equal(t, model.BatchStatusStopped, model.MaxStatus(model.BatchStatusStopped, model.BatchStatusCompleted))
	assert.Equal(t, model.BatchStatusUnknown, model.MaxStatus(model.BatchStatusFailed, model.BatchStatus("WEIRD")))
	assert.Equal(t, model.BatchStatusUnknown, model.MaxStatus(model.BatchStatus("WEIRD"), model.BatchStatusAbandoned))
	assert.Equal(t, model.BatchStatusUnknown, model.WorstStatus(model.BatchStatus("WEIRD")))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, model.CanTransition(model.BatchStatusStarting, model.BatchStatusStarted))
	assert.True(t, model.CanTransition(model.BatchStatusStarted, model.BatchStatusCompleted))
	assert.True(t, model.CanTransition(model.BatchStatusStarted, model.BatchStatusStopped))
	assert.True(t, model.CanTransition(model.BatchStatusFailed, model.BatchStatusAbandoned))
	assert.False(t, model.CanTransition(model.BatchStatusCompleted, model.BatchStatusStarted))
	assert.False(t, model.CanTransition(model.BatchStatusStarting, model.BatchStatusCompleted))
}

func TestExitStatus_And(t *testing.T) {
	es := model.ExitStatusCompleted.And(model.ExitStatusFailed.AddExitDescription("step b failed"))
	assert.Equal(t, model.ExitCodeFailed, es.ExitCode)
	assert.Equal(t, "step b failed", es.ExitDescription)

	fatal := model.ExitStatusFailed.ReplaceExitCode(model.ExitCodeFatalException)
	assert.Equal(t, model.ExitCodeFatalException, model.ExitStatusFailed.And(fatal).ExitCode)
	assert.Equal(t, model.ExitCodeFailed, model.ExitStatusNoOp.And(model.ExitStatusFailed).ExitCode)
}

func TestStepExecution_LifecycleAndCounters(t *testing.T) {
	je := model.NewJobExecution(model.NewJobInstance("job", model.NewJobParameters()))
	se := je.CreateStepExecution("load")
	require.Len(t, je.StepExecutions, 1)
	assert.Equal(t, je.ID, se.JobExecutionID)

	se.MarkAsStarted()
	assert.Equal(t, model.BatchStatusStarted, se.Status)
	assert.NotNil(t, se.StartTime)

	se.Apply(&model.StepContribution{ReadCount: 3, WriteCount: 2, ProcessSkipCount: 1})
	se.Apply(&model.StepContribution{ReadCount: 1, WriteCount: 1})
	assert.Equal(t, 4, se.ReadCount)
	assert.Equal(t, 3, se.WriteCount)
	assert.Equal(t, 1, se.SkipCount())

	se.AddFailure(errors.New("boom"))
	se.AddFailure(errors.New("boom"))
	assert.Len(t, se.Failures, 1)

	se.Finish(model.BatchStatusFailed, model.ExitStatusFailed)
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.NotNil(t, se.EndTime)
	assert.Error(t, se.TransitionTo(model.BatchStatusStarted))
}

func TestJobExecution_Stop(t *testing.T) {
	je := model.NewJobExecution(model.NewJobInstance("job", model.NewJobParameters()))
	je.MarkAsStarted()
	se := je.CreateStepExecution("s1")

	je.Stop()
	assert.True(t, je.IsStopping())
	assert.True(t, se.IsTerminateOnly())
	assert.True(t, je.IsRunning())
}

func TestExecutionContext_TypedAccessAfterJSON(t *testing.T) {
	ec := model.NewExecutionContext()
	ec.Put("read.count", 12)
	ec.Put("file", "a.csv")
	ec.Put("done", true)

	v, err := ec.Value()
	require.NoError(t, err)

	var restored model.ExecutionContext
	require.NoError(t, restored.Scan(v))

	n, ok := restored.GetInt("read.count")
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	s, _ := restored.GetString("file")
	assert.Equal(t, "a.csv", s)
	b, _ := restored.GetBool("done")
	assert.True(t, b)
	assert.Equal(t, []string{"done", "file", "read.count"}, restored.Keys())
}

func TestExecutionContext_Decode(t *testing.T) {
	ec := model.ExecutionContext{"position": 9.0, "name": "orders"}

	var state struct {
		Position int    `mapstructure:"position"`
		Name     string `mapstructure:"name"`
	}
	require.NoError(t, ec.Decode(&state))
	assert.Equal(t, 9, state.Position)
	assert.Equal(t, "orders", state.Name)
}

func TestExecutionContext_Validate(t *testing.T) {
	assert.NoError(t, model.ExecutionContext{"a": 1, "b": "x"}.Validate())
	assert.Error(t, model.ExecutionContext{"a": []int{1}}.Validate())
}

func TestChunk(t *testing.T) {
	c := model.NewChunk[string](1, 3)
	assert.True(t, c.IsEmpty())
	c.Add("a")
	c.Add("b")
	c.Skip("c", errors.New("bad"))
	assert.Equal(t, 2, c.Size())
	assert.Len(t, c.Skips, 1)
}

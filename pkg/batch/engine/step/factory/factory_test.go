package factory

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

type sliceReader struct {
	items []any
	pos   int
}

func (r *sliceReader) Read(context.Context) (any, error) {
	if r.pos >= len(r.items) {
		return nil, port.ErrNoMoreItems
	}
	r.pos++
	return r.items[r.pos-1], nil
}

type flakyWriter struct {
	calls    int
	failures int
	kind     exception.Kind
	written  []any
}

func (w *flakyWriter) Write(_ context.Context, items []any) error {
	w.calls++
	if w.calls <= w.failures {
		return exception.NewBatchError(w.kind, "test", "write failed", nil)
	}
	w.written = append(w.written, items...)
	return nil
}

type rejectingProcessor struct{ reject any }

func (p rejectingProcessor) Process(_ context.Context, item any) (any, error) {
	if item == p.reject {
		return nil, exception.NewBatchErrorf(exception.KindDataConversion, "test", "bad item %v", item)
	}
	return item, nil
}

func newFactory(repo *inmemory.InMemoryJobRepository, batch *config.BatchConfig) *DefaultStepFactory {
	return NewDefaultStepFactory(DefaultStepFactoryParams{
		JobRepository:  repo,
		TxManager:      tx.NewResourcelessTransactionManager(),
		MetricRecorder: metrics.NewNoOpMetricRecorder(),
		Tracer:         metrics.NewNoOpTracer(),
		BatchConfig:    batch,
	})
}

func newStepExecution(t *testing.T, repo *inmemory.InMemoryJobRepository, stepName string) *model.StepExecution {
	t.Helper()
	ctx := context.Background()
	ji, err := repo.CreateJobInstance(ctx, "job", model.NewJobParametersBuilder().AddString("run", model.NewID()).Build())
	require.NoError(t, err)
	je := model.NewJobExecution(ji)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := je.CreateStepExecution(stepName)
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	return se
}

func TestParseIsolationLevel(t *testing.T) {
	opts, err := ParseIsolationLevel("")
	require.NoError(t, err)
	assert.Nil(t, opts)

	opts, err = ParseIsolationLevel("read committed")
	require.NoError(t, err)
	assert.Equal(t, sql.LevelReadCommitted, opts.Isolation)

	opts, err = ParseIsolationLevel("SERIALIZABLE")
	require.NoError(t, err)
	assert.Equal(t, sql.LevelSerializable, opts.Isolation)

	_, err = ParseIsolationLevel("chaotic")
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestRetrySettings(t *testing.T) {
	policy, backOff, err := RetrySettings(config.RetryConfig{MaxAttempts: 1})
	require.NoError(t, err)
	assert.Nil(t, policy)
	assert.Nil(t, backOff)

	policy, backOff, err = RetrySettings(config.RetryConfig{MaxAttempts: 3, RetryableKinds: []string{"Transient"}})
	require.NoError(t, err)
	assert.NotNil(t, policy)
	assert.Equal(t, retry.NoBackOff{}, backOff)

	_, backOff, err = RetrySettings(config.RetryConfig{MaxAttempts: 3, InitialIntervalMillis: 10, MaxIntervalMillis: 50, Multiplier: 2})
	require.NoError(t, err)
	exp, ok := backOff.(retry.ExponentialBackOff)
	require.True(t, ok)
	assert.Equal(t, int64(10), exp.Initial.Milliseconds())

	_, _, err = RetrySettings(config.RetryConfig{MaxAttempts: 3, RetryableKinds: []string{"NoSuchKind"}})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestCreateChunkStep_UsesConfiguredDefaults(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	batch := &config.BatchConfig{
		ChunkSize: 2,
		Retry:     config.RetryConfig{MaxAttempts: 3, RetryableKinds: []string{"Transient"}},
	}
	f := newFactory(repo, batch)
	writer := &flakyWriter{failures: 1, kind: exception.KindTransient}

	s, err := f.CreateChunkStep("load", &sliceReader{items: []any{"a", "b", "c", "d"}}, nil, writer, ChunkOptions{})
	require.NoError(t, err)

	se := newStepExecution(t, repo, "load")
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, []any{"a", "b", "c", "d"}, writer.written)
	assert.Equal(t, 2, se.CommitCount)
	assert.Equal(t, 1, se.RollbackCount)
}

func TestCreateChunkStep_OptionsOverrideDefaults(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	f := newFactory(repo, &config.BatchConfig{ChunkSize: 10})
	writer := &flakyWriter{}

	s, err := f.CreateChunkStep("load",
		&sliceReader{items: []any{1, 2, 3}},
		rejectingProcessor{reject: 2},
		writer,
		ChunkOptions{
			ChunkSize:   1,
			Skip:        &config.SkipConfig{SkipLimit: 1, SkippableKinds: []string{"DataConversion"}},
			StepOptions: StepOptions{StartLimit: 2, AllowStartIfComplete: true},
		})
	require.NoError(t, err)
	assert.Equal(t, 2, s.StartLimit())
	assert.True(t, s.AllowStartIfComplete())

	se := newStepExecution(t, repo, "load")
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, []any{1, 3}, writer.written)
	assert.Equal(t, 1, se.ProcessSkipCount)
}

func TestCreateChunkStep_SkipSettings(t *testing.T) {
	tests := []struct {
		name string
		skip *config.SkipConfig
		kind exception.Kind
	}{
		{name: "no skip settings", kind: exception.KindItemProcess},
		{name: "zero limit", skip: &config.SkipConfig{SkippableKinds: []string{"DataConversion"}}, kind: exception.KindSkipLimitExceeded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := inmemory.NewInMemoryJobRepository()
			f := newFactory(repo, &config.BatchConfig{ChunkSize: 10})
			writer := &flakyWriter{}

			s, err := f.CreateChunkStep("load", &sliceReader{items: []any{1, 2, 3}}, rejectingProcessor{reject: 2}, writer,
				ChunkOptions{Skip: tt.skip})
			require.NoError(t, err)

			se := newStepExecution(t, repo, "load")
			err = s.Execute(context.Background(), se)
			require.Error(t, err)
			assert.True(t, exception.IsKind(err, tt.kind))
			assert.True(t, exception.IsKind(err, exception.KindDataConversion))
			assert.Equal(t, model.BatchStatusFailed, se.Status)
			assert.Zero(t, se.CommitCount)
			assert.Empty(t, writer.written)
		})
	}
}

func TestCreateChunkStep_RejectsIncompleteDefinitions(t *testing.T) {
	f := newFactory(inmemory.NewInMemoryJobRepository(), nil)

	_, err := f.CreateChunkStep("load", nil, nil, &flakyWriter{}, ChunkOptions{})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = f.CreateChunkStep("load", &sliceReader{}, nil, &flakyWriter{}, ChunkOptions{StepOptions: StepOptions{IsolationLevel: "bogus"}})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = f.CreateTaskletStep("cleanup", nil, StepOptions{})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

type countingTasklet struct{ calls int }

func (c *countingTasklet) Execute(context.Context, *model.StepContribution, model.ExecutionContext) (repeat.Status, error) {
	c.calls++
	if c.calls < 3 {
		return repeat.Continuable, nil
	}
	return repeat.Finished, nil
}

func TestCreateTaskletStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	f := newFactory(repo, &config.BatchConfig{})
	tasklet := &countingTasklet{}

	s, err := f.CreateTaskletStep("cleanup", tasklet, StepOptions{IsolationLevel: "REPEATABLE_READ"})
	require.NoError(t, err)
	assert.Equal(t, "cleanup", s.Name())

	se := newStepExecution(t, repo, "cleanup")
	require.NoError(t, s.Execute(context.Background(), se))
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 3, tasklet.calls)
	assert.Equal(t, 3, se.CommitCount)
}

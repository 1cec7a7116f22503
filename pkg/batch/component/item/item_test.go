package item

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	itemstep "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func TestListItemReader_ResumesFromSavedPosition(t *testing.T) {
	ctx := context.Background()
	ec := model.NewExecutionContext()
	r := NewListItemReader([]string{"a", "b", "c"}, "")
	require.NoError(t, r.Open(ctx, ec))

	v, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	require.NoError(t, r.Update(ctx, ec))

	restarted := NewListItemReader([]string{"a", "b", "c"}, "")
	require.NoError(t, restarted.Open(ctx, ec))
	v, err = restarted.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "b", v)
	_, _ = restarted.Read(ctx)
	_, err = restarted.Read(ctx)
	assert.ErrorIs(t, err, port.ErrNoMoreItems)

	ec.Put(DefaultListReaderKey, 9)
	assert.True(t, exception.IsKind(NewListItemReader([]string{"a"}, "").Open(ctx, ec), exception.KindItemStream))
}

func TestNoOpComponents(t *testing.T) {
	ctx := context.Background()
	_, err := NewNoOpItemReader[int]().Read(ctx)
	assert.ErrorIs(t, err, port.ErrNoMoreItems)
	assert.NoError(t, NewNoOpItemWriter[int]().Write(ctx, []int{1, 2}))

	out, err := NewPassThroughItemProcessor[string]().Process(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out)
}

func TestExecutionContextItemWriter_CountsCommittedItems(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	ji, err := repo.CreateJobInstance(ctx, "job", model.NewJobParametersBuilder().Build())
	require.NoError(t, err)
	je := model.NewJobExecution(ji)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := je.CreateStepExecution("count")
	require.NoError(t, repo.SaveStepExecution(ctx, se))

	writer := NewExecutionContextItemWriter[string]("")
	reader := NewListItemReader([]string{"a", "b", "c", "d", "e"}, "")
	s := itemstep.NewChunkStep[string, string]("count", reader, nil, writer, 2, repo, tx.NewResourcelessTransactionManager())
	require.NoError(t, s.Execute(ctx, se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 5, writer.Count())
	n, ok := se.ExecutionContext.GetInt(DefaultWriteCountKey)
	require.True(t, ok)
	assert.Equal(t, 5, n)
	pos, _ := se.ExecutionContext.GetInt(DefaultListReaderKey)
	assert.Equal(t, 5, pos)
}

func TestExecutionContextItemWriter_ClearDropsPendingItems(t *testing.T) {
	ctx := context.Background()
	w := NewExecutionContextItemWriter[int]("written")
	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, []int{1, 2, 3}))
	require.NoError(t, w.Clear(ctx))
	require.NoError(t, w.Write(ctx, []int{4}))
	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, 1, w.Count())
}

func TestModule_BuildsComponents(t *testing.T) {
	cfg := config.NewConfig()
	reader, err := NewListItemReaderComponent().Builder(cfg, map[string]string{"items": "x, y"})
	require.NoError(t, err)
	r := reader.(*ListItemReader[any])
	v, err := r.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "x", v)

	writer, err := NewExecutionContextItemWriterComponent().Builder(cfg, map[string]string{"key": "n"})
	require.NoError(t, err)
	assert.IsType(t, &ExecutionContextItemWriter[any]{}, writer)
}

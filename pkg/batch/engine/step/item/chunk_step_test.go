package item

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/skip"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

const posKey = "reader.pos"

type listReader struct {
	items   []string
	pos     int
	failAt  map[int]error
	skipped int
	closed  bool
	// failUpdate makes the n-th call to Update fail.
	failUpdate int
	updates    int
}

func newListReader(n int) *listReader {
	r := &listReader{failAt: map[int]error{}}
	for i := 1; i <= n; i++ {
		r.items = append(r.items, strconv.Itoa(i))
	}
	return r
}

func (r *listReader) Read(context.Context) (string, error) {
	if r.pos >= len(r.items) {
		return "", port.ErrNoMoreItems
	}
	i := r.pos
	r.pos++
	if err, ok := r.failAt[i]; ok {
		return "", err
	}
	return r.items[i], nil
}

func (r *listReader) Open(_ context.Context, ec model.ExecutionContext) error {
	if p, ok := ec.GetInt(posKey); ok {
		r.pos = p
	}
	return nil
}

func (r *listReader) Update(_ context.Context, ec model.ExecutionContext) error {
	r.updates++
	if r.updates == r.failUpdate {
		return errors.New("position store unavailable")
	}
	ec.Put(posKey, r.pos)
	return nil
}

func (r *listReader) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *listReader) Skip(context.Context) { r.skipped++ }

type processorFunc func(ctx context.Context, item string) (string, error)

func (f processorFunc) Process(ctx context.Context, item string) (string, error) { return f(ctx, item) }

type recordingWriter struct {
	chunks [][]string
	calls  int
	fail   func(call int, items []string) error
}

func (w *recordingWriter) Write(_ context.Context, items []string) error {
	w.calls++
	if w.fail != nil {
		if err := w.fail(w.calls, items); err != nil {
			return err
		}
	}
	w.chunks = append(w.chunks, append([]string(nil), items...))
	return nil
}

func (w *recordingWriter) written() []string {
	var all []string
	for _, c := range w.chunks {
		all = append(all, c...)
	}
	return all
}

type recordingSkipListener struct {
	reads, processes, writes []error
}

func (l *recordingSkipListener) OnSkipInRead(_ context.Context, err error) { l.reads = append(l.reads, err) }
func (l *recordingSkipListener) OnSkipInProcess(_ context.Context, _ any, err error) { l.processes = append(l.processes, err) }
func (l *recordingSkipListener) OnSkipInWrite(_ context.Context, _ any, err error) { l.writes = append(l.writes, err) }

func newStepExecution(t *testing.T, repo *inmemory.InMemoryJobRepository) *model.StepExecution {
	t.Helper()
	ctx := context.Background()
	ji, err := repo.CreateJobInstance(ctx, "job", model.NewJobParametersBuilder().AddString("run", model.NewID()).Build())
	require.NoError(t, err)
	je := model.NewJobExecution(ji)
	require.NoError(t, repo.SaveJobExecution(ctx, je))
	se := je.CreateStepExecution("step")
	require.NoError(t, repo.SaveStepExecution(ctx, se))
	return se
}

func skipAll(limit int) skip.SkipPolicy {
	return skip.NewLimitCheckingSkipPolicy(limit, classifier.MustNew(true))
}

func failOn(value string, kind exception.Kind) processorFunc {
	return func(_ context.Context, item string) (string, error) {
		if item == value {
			return "", exception.NewBatchErrorf(kind, "test", "cannot process %s", item)
		}
		return item, nil
	}
}

func TestChunkStep_CommitsFullAndPartialChunks(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	reader := newListReader(7)
	writer := &recordingWriter{}

	s := NewChunkStep[string, string]("step", reader, nil, writer, 3, repo, nil)
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, model.ExitCodeCompleted, se.ExitStatus.ExitCode)
	assert.Equal(t, [][]string{{"1", "2", "3"}, {"4", "5", "6"}, {"7"}}, writer.chunks)
	assert.Equal(t, 3, se.CommitCount)
	assert.Equal(t, 7, se.ReadCount)
	assert.Equal(t, 7, se.WriteCount)
	assert.Zero(t, se.SkipCount())
	assert.True(t, reader.closed)

	stored, err := repo.GetStepExecution(context.Background(), se.JobExecutionID, se.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, stored.Status)
	pos, _ := stored.ExecutionContext.GetInt(posKey)
	assert.Equal(t, 7, pos)
}

func TestChunkStep_SkipsFailingItemWithinLimit(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	writer := &recordingWriter{}
	listener := &recordingSkipListener{}

	s := NewChunkStep[string, string]("step", newListReader(5), failOn("3", exception.KindDataConversion), writer, 2, repo, nil)
	s.SetSkipPolicy(skipAll(1))
	s.RegisterSkipListener(listener)
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 5, se.ReadCount)
	assert.Equal(t, 1, se.ProcessSkipCount)
	assert.Equal(t, 1, se.SkipCount())
	assert.Equal(t, 4, se.WriteCount)
	assert.Equal(t, []string{"1", "2", "4", "5"}, writer.written())
	assert.Len(t, listener.processes, 1)
}

func TestChunkStep_ZeroSkipLimitFailsWithoutCommit(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	writer := &recordingWriter{}

	s := NewChunkStep[string, string]("step", newListReader(5), failOn("2", exception.KindDataConversion), writer, 3, repo, nil)
	policy, err := skip.NewDefaultSkipPolicyFactory().Create(0, nil, nil)
	require.NoError(t, err)
	s.SetSkipPolicy(policy)

	err = s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindSkipLimitExceeded))
	assert.True(t, exception.IsKind(err, exception.KindDataConversion))

	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitCodeFatalException, se.ExitStatus.ExitCode)
	assert.Contains(t, se.ExitStatus.ExitDescription, string(exception.KindSkipLimitExceeded))
	assert.Zero(t, se.CommitCount)
	assert.Equal(t, 1, se.RollbackCount)
	assert.Zero(t, se.WriteCount)
	assert.Empty(t, writer.chunks)
	assert.NotEmpty(t, se.Failures)
}

func TestChunkStep_SkipLimitExceededFailsStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	processor := processorFunc(func(_ context.Context, item string) (string, error) {
		if item == "2" || item == "4" {
			return "", errors.New("bad item " + item)
		}
		return item, nil
	})

	s := NewChunkStep[string, string]("step", newListReader(6), processor, &recordingWriter{}, 10, repo, nil)
	s.SetSkipPolicy(skipAll(1))

	err := s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindSkipLimitExceeded))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Contains(t, se.ExitStatus.ExitDescription, string(exception.KindSkipLimitExceeded))
	assert.Zero(t, se.CommitCount)
}

func TestChunkStep_ReadSkipNotifiesSource(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	reader := newListReader(4)
	reader.failAt[1] = errors.New("corrupt record")
	writer := &recordingWriter{}
	listener := &recordingSkipListener{}

	s := NewChunkStep[string, string]("step", reader, nil, writer, 2, repo, nil)
	s.SetSkipPolicy(skipAll(3))
	s.RegisterSkipListener(listener)
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, 3, se.ReadCount)
	assert.Equal(t, 1, se.ReadSkipCount)
	assert.Equal(t, []string{"1", "3", "4"}, writer.written())
	assert.Equal(t, 1, reader.skipped)
	assert.Len(t, listener.reads, 1)
}

func TestChunkStep_FilteredItemsAreCounted(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	writer := &recordingWriter{}
	processor := processorFunc(func(_ context.Context, item string) (string, error) {
		if n, _ := strconv.Atoi(item); n%2 == 0 {
			return "", port.ErrItemFiltered
		}
		return "item-" + item, nil
	})

	s := NewChunkStep[string, string]("step", newListReader(5), processor, writer, 5, repo, nil)
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, 2, se.FilterCount)
	assert.Equal(t, 3, se.WriteCount)
	assert.Equal(t, []string{"item-1", "item-3", "item-5"}, writer.written())
}

func TestChunkStep_RestartResumesAfterLastCommit(t *testing.T) {
	ctx := context.Background()
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)

	failing := &recordingWriter{fail: func(_ int, items []string) error {
		if items[0] == "7" {
			return errors.New("disk full")
		}
		return nil
	}}
	first := NewChunkStep[string, string]("step", newListReader(9), nil, failing, 3, repo, nil)
	require.Error(t, first.Execute(ctx, se))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 2, se.CommitCount)
	assert.Equal(t, []string{"1", "2", "3", "4", "5", "6"}, failing.written())

	stored, err := repo.GetStepExecution(ctx, se.JobExecutionID, se.ID)
	require.NoError(t, err)
	pos, _ := stored.ExecutionContext.GetInt(posKey)
	assert.Equal(t, 6, pos)

	restart := se.JobExecution.CreateStepExecution("step")
	restart.ExecutionContext = stored.ExecutionContext.Copy()
	require.NoError(t, repo.SaveStepExecution(ctx, restart))

	writer := &recordingWriter{}
	second := NewChunkStep[string, string]("step", newListReader(9), nil, writer, 3, repo, nil)
	require.NoError(t, second.Execute(ctx, restart))

	assert.Equal(t, model.BatchStatusCompleted, restart.Status)
	assert.Equal(t, [][]string{{"7", "8", "9"}}, writer.chunks)
	assert.Equal(t, 3, restart.WriteCount)
}

func TestChunkStep_WriteRetryReusesProcessedChunk(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	processed := 0
	processor := processorFunc(func(_ context.Context, item string) (string, error) {
		processed++
		return item, nil
	})
	writer := &recordingWriter{fail: func(call int, _ []string) error {
		if call <= 2 {
			return exception.NewBatchError(exception.KindTransient, "test", fmt.Sprintf("deadlock %d", call), nil)
		}
		return nil
	}}

	s := NewChunkStep[string, string]("step", newListReader(4), processor, writer, 2, repo, nil)
	policy, err := retry.NewSimpleRetryPolicy(3, exception.KindTransient)
	require.NoError(t, err)
	s.SetWriteRetry(policy, nil)
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 4, writer.calls)
	assert.Equal(t, [][]string{{"1", "2"}, {"3", "4"}}, writer.chunks)
	assert.Equal(t, 4, processed)
	assert.Equal(t, 2, se.RollbackCount)
	assert.Equal(t, 4, se.ReadCount)
	assert.Equal(t, 4, se.WriteCount)
	assert.Equal(t, 2, se.CommitCount)
}

func TestChunkStep_WriteRetryExhaustionFailsStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	writer := &recordingWriter{fail: func(int, []string) error {
		return exception.NewBatchError(exception.KindTransient, "test", "still locked", nil)
	}}

	s := NewChunkStep[string, string]("step", newListReader(4), nil, writer, 2, repo, nil)
	policy, err := retry.NewSimpleRetryPolicy(2, exception.KindTransient)
	require.NoError(t, err)
	s.SetWriteRetry(policy, nil)

	require.Error(t, s.Execute(context.Background(), se))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, 2, writer.calls)
	assert.Zero(t, se.CommitCount)
	assert.Equal(t, 2, se.RollbackCount)
}

func TestChunkStep_SkippableWriteFailureScansItems(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	listener := &recordingSkipListener{}
	writer := &recordingWriter{fail: func(_ int, items []string) error {
		for _, it := range items {
			if it == "2" {
				return exception.NewBatchError(exception.KindDataConversion, "test", "value too long", nil)
			}
		}
		return nil
	}}

	s := NewChunkStep[string, string]("step", newListReader(3), nil, writer, 3, repo, nil)
	s.SetSkipPolicy(skipAll(2))
	s.RegisterSkipListener(listener)
	require.NoError(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, [][]string{{"1"}, {"3"}}, writer.chunks)
	assert.Equal(t, 1, se.WriteSkipCount)
	assert.Equal(t, 2, se.WriteCount)
	assert.Equal(t, 3, se.ReadCount)
	assert.Equal(t, 1, se.CommitCount)
	assert.Equal(t, 1, se.RollbackCount)
	assert.Len(t, listener.writes, 1)
}

func TestChunkStep_StopRequestEndsStepAsStopped(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	se.SetTerminateOnly()
	writer := &recordingWriter{}

	s := NewChunkStep[string, string]("step", newListReader(3), nil, writer, 2, repo, nil)
	err := s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindInterrupted))
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, model.ExitCodeJobInterrupted, se.ExitStatus.ExitCode)
	assert.Empty(t, writer.chunks)
}

func TestChunkStep_CancelledContextInterrupts(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	ctx, cancel := context.WithCancel(context.Background())
	writer := &recordingWriter{fail: func(int, []string) error {
		cancel()
		return nil
	}}

	s := NewChunkStep[string, string]("step", newListReader(6), nil, writer, 2, repo, nil)
	err := s.Execute(ctx, se)
	require.Error(t, err)
	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, 1, se.CommitCount)

	stored, gerr := repo.GetStepExecution(context.Background(), se.JobExecutionID, se.ID)
	require.NoError(t, gerr)
	assert.Equal(t, model.BatchStatusStopped, stored.Status)
}

func TestChunkStep_PassThroughRequiresAssignableTypes(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	writer := &intWriter{}

	s := NewChunkStep[string, int]("step", newListReader(2), nil, writer, 2, repo, nil)
	err := s.Execute(context.Background(), se)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

type intWriter struct{}

func (intWriter) Write(context.Context, []int) error { return nil }

func TestChunkStep_OneTransactionPerChunk(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	txn := &test.MockTx{}
	tm := &test.MockTxManager{}
	tm.On("Begin", mock.Anything, mock.Anything).Return(txn, nil)
	tm.On("Commit", txn).Return(nil)
	tm.On("Rollback", txn).Return(nil)

	s := NewChunkStep[string, string]("step", newListReader(4), nil, &recordingWriter{}, 2, repo, tm)
	require.NoError(t, s.Execute(context.Background(), se))

	// Two full chunks, then an empty one that only releases its transaction.
	tm.AssertNumberOfCalls(t, "Begin", 3)
	tm.AssertNumberOfCalls(t, "Commit", 2)
	tm.AssertNumberOfCalls(t, "Rollback", 1)
	assert.Equal(t, 2, se.CommitCount)
}

func TestChunkStep_CommitFailureFailsStep(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	txn := &test.MockTx{}
	tm := &test.MockTxManager{}
	tm.On("Begin", mock.Anything, mock.Anything).Return(txn, nil)
	tm.On("Commit", txn).Return(errors.New("connection reset"))
	tm.On("Rollback", txn).Return(nil).Maybe()
	writer := &recordingWriter{}

	s := NewChunkStep[string, string]("step", newListReader(4), nil, writer, 2, repo, tm)
	err := s.Execute(context.Background(), se)
	require.Error(t, err)

	assert.True(t, exception.IsKind(err, exception.KindChunkRolledBack))
	assert.Equal(t, model.BatchStatusFailed, se.Status)
	assert.Equal(t, model.ExitCodeFatalException, se.ExitStatus.ExitCode)
	assert.Zero(t, se.CommitCount)
	assert.Zero(t, se.WriteCount)
	assert.Equal(t, 1, se.RollbackCount)
	tm.AssertNumberOfCalls(t, "Commit", 1)
}

// failingContextRepository fails the n-th UpdateExecutionContext call.
type failingContextRepository struct {
	*inmemory.InMemoryJobRepository
	failAt int
	calls  int
}

func (r *failingContextRepository) UpdateExecutionContext(ctx context.Context, se *model.StepExecution) error {
	r.calls++
	if r.calls == r.failAt {
		return errors.New("metadata table locked")
	}
	return r.InMemoryJobRepository.UpdateExecutionContext(ctx, se)
}

func TestChunkStep_FailedCommitKeepsLastCheckpoint(t *testing.T) {
	tests := []struct {
		name  string
		setup func(reader *listReader, repo *inmemory.InMemoryJobRepository) (repository.JobRepository, tx.TransactionManager)
	}{
		{
			name: "stream update fails",
			setup: func(reader *listReader, repo *inmemory.InMemoryJobRepository) (repository.JobRepository, tx.TransactionManager) {
				reader.failUpdate = 2
				return repo, nil
			},
		},
		{
			name: "execution context save fails",
			setup: func(_ *listReader, repo *inmemory.InMemoryJobRepository) (repository.JobRepository, tx.TransactionManager) {
				return &failingContextRepository{InMemoryJobRepository: repo, failAt: 2}, nil
			},
		},
		{
			name: "transaction commit fails",
			setup: func(_ *listReader, repo *inmemory.InMemoryJobRepository) (repository.JobRepository, tx.TransactionManager) {
				txn := &test.MockTx{}
				tm := &test.MockTxManager{}
				tm.On("Begin", mock.Anything, mock.Anything).Return(txn, nil)
				tm.On("Commit", txn).Return(nil).Once()
				tm.On("Commit", txn).Return(errors.New("connection reset"))
				tm.On("Rollback", txn).Return(nil).Maybe()
				return repo, tm
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			repo := inmemory.NewInMemoryJobRepository()
			se := newStepExecution(t, repo)
			reader := newListReader(6)
			stepRepo, tm := tt.setup(reader, repo)

			first := NewChunkStep[string, string]("step", reader, nil, &recordingWriter{}, 2, stepRepo, tm)
			require.Error(t, first.Execute(ctx, se))

			stored, err := repo.GetStepExecution(ctx, se.JobExecutionID, se.ID)
			require.NoError(t, err)
			assert.Equal(t, model.BatchStatusFailed, stored.Status)
			assert.Equal(t, 1, stored.CommitCount)
			assert.Equal(t, 2, stored.ReadCount)
			assert.Equal(t, 2, stored.WriteCount)
			assert.Equal(t, 1, stored.RollbackCount)
			pos, _ := stored.ExecutionContext.GetInt(posKey)
			assert.Equal(t, 2, pos, "position of the last committed chunk")

			restart := se.JobExecution.CreateStepExecution("step")
			restart.ExecutionContext = stored.ExecutionContext.Copy()
			require.NoError(t, repo.SaveStepExecution(ctx, restart))

			writer := &recordingWriter{}
			second := NewChunkStep[string, string]("step", newListReader(6), nil, writer, 2, repo, nil)
			require.NoError(t, second.Execute(ctx, restart))

			assert.Equal(t, model.BatchStatusCompleted, restart.Status)
			assert.Equal(t, [][]string{{"3", "4"}, {"5", "6"}}, writer.chunks)
		})
	}
}

func TestChunkStep_AbandonedWriteRetryIsForgotten(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	se := newStepExecution(t, repo)
	writer := &recordingWriter{fail: func(int, []string) error {
		se.SetTerminateOnly()
		return exception.NewBatchError(exception.KindTransient, "test", "deadlock", nil)
	}}

	s := NewChunkStep[string, string]("step", newListReader(4), nil, writer, 2, repo, nil)
	policy, err := retry.NewSimpleRetryPolicy(5, exception.KindTransient)
	require.NoError(t, err)
	s.SetWriteRetry(policy, nil)
	require.Error(t, s.Execute(context.Background(), se))

	assert.Equal(t, model.BatchStatusStopped, se.Status)
	assert.Equal(t, 1, writer.calls)
	assert.False(t, s.writeRetry.IsPending(writeKey(se, 1)))
}

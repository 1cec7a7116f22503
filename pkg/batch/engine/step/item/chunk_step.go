// Package item implements chunk-oriented steps: items are read one at a time,
// processed, and written in chunks that each commit in one transaction.
package item

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/skip"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ChunkStep is a port.Step that reads items of type I, processes them into O and writes them in chunks.
type ChunkStep[I, O any] struct {
	step.Base

	reader    port.ItemReader[I]
	processor port.ItemProcessor[I, O]
	writer    port.ItemWriter[O]
	streams   []port.ItemStream
	chunkSize int

	txManager tx.TransactionManager
	txOptions *sql.TxOptions

	skipPolicy   skip.SkipPolicy
	readRetry    *retry.Template
	processRetry *retry.Template
	writeRetry   *retry.Template

	chunkListeners []port.ChunkListener
	skipListeners  []port.SkipListener
}

// Verify that ChunkStep implements the port.Step interface.
var _ port.Step = (*ChunkStep[any, any])(nil)

// NewChunkStep creates a chunk step. A nil processor passes items through unchanged,
// which requires I to be assignable to O. Readers, processors and writers that
// implement port.ItemStream or port.StepExecutionListener are registered as such.
func NewChunkStep[I, O any](
	name string,
	reader port.ItemReader[I],
	processor port.ItemProcessor[I, O],
	writer port.ItemWriter[O],
	chunkSize int,
	jobRepository repository.JobRepository,
	txManager tx.TransactionManager,
) *ChunkStep[I, O] {
	if chunkSize <= 0 {
		chunkSize = repeat.DefaultChunkSize
	}
	if txManager == nil {
		txManager = tx.NewResourcelessTransactionManager()
	}
	s := &ChunkStep[I, O]{
		Base:       step.NewBase(name, jobRepository),
		reader:     reader,
		processor:  processor,
		writer:     writer,
		chunkSize:  chunkSize,
		txManager:  txManager,
		skipPolicy: skip.NeverSkipPolicy{},
	}
	for _, c := range []interface{}{reader, processor, writer} {
		if c == nil {
			continue
		}
		if st, ok := c.(port.ItemStream); ok {
			s.streams = append(s.streams, st)
		}
		if l, ok := c.(port.StepExecutionListener); ok {
			s.RegisterListener(l)
		}
	}
	return s
}

// ChunkSize returns the commit interval.
func (s *ChunkStep[I, O]) ChunkSize() int {
	return s.chunkSize
}

// SetTransactionOptions sets the options every chunk transaction begins with.
func (s *ChunkStep[I, O]) SetTransactionOptions(opts *sql.TxOptions) {
	s.txOptions = opts
}

// SetSkipPolicy sets the policy consulted for failed items. The default never skips.
func (s *ChunkStep[I, O]) SetSkipPolicy(p skip.SkipPolicy) {
	if p != nil {
		s.skipPolicy = p
	}
}

// SetReadRetry retries failed reads in place.
func (s *ChunkStep[I, O]) SetReadRetry(policy retry.Policy, backOff retry.BackOffPolicy) {
	s.readRetry = newTemplate(policy, backOff)
}

// SetProcessRetry retries failed processing of an item in place.
func (s *ChunkStep[I, O]) SetProcessRetry(policy retry.Policy, backOff retry.BackOffPolicy) {
	s.processRetry = newTemplate(policy, backOff)
}

// SetWriteRetry retries failed chunk writes. Each failed attempt rolls the chunk
// back; the processed items are kept and written again in a new transaction.
func (s *ChunkStep[I, O]) SetWriteRetry(policy retry.Policy, backOff retry.BackOffPolicy) {
	s.writeRetry = newTemplate(policy, backOff, retry.ParentExhaustingListener{})
}

func newTemplate(policy retry.Policy, backOff retry.BackOffPolicy, listeners ...retry.Listener) *retry.Template {
	if policy == nil {
		return nil
	}
	if backOff == nil {
		backOff = retry.NoBackOff{}
	}
	return retry.NewTemplate(policy, retry.WithBackOff(backOff), retry.WithListeners(listeners...))
}

// RegisterStream adds a stream opened, updated and closed with the step.
func (s *ChunkStep[I, O]) RegisterStream(st port.ItemStream) {
	s.streams = append(s.streams, st)
}

// RegisterChunkListener adds a ChunkListener.
func (s *ChunkStep[I, O]) RegisterChunkListener(l port.ChunkListener) {
	s.chunkListeners = append(s.chunkListeners, l)
}

// RegisterSkipListener adds a SkipListener.
func (s *ChunkStep[I, O]) RegisterSkipListener(l port.SkipListener) {
	s.skipListeners = append(s.skipListeners, l)
}

// pendingChunk is a processed chunk whose write failed and will be retried.
type pendingChunk[O any] struct {
	chunk        *model.Chunk[O]
	contribution *model.StepContribution
	attempt      *retry.Context
}

type loopState[O any] struct {
	sequence int
	pending  *pendingChunk[O]
}

// Execute runs the chunk loop until the reader is exhausted or a fatal failure occurs.
func (s *ChunkStep[I, O]) Execute(ctx context.Context, se *model.StepExecution) error {
	return s.Run(ctx, se, s.doExecute)
}

func (s *ChunkStep[I, O]) doExecute(ctx context.Context, se *model.StepExecution) (exit model.ExitStatus, err error) {
	if se.ExecutionContext == nil {
		se.ExecutionContext = model.NewExecutionContext()
	}

	// 1. Open streams against the step's ExecutionContext
	opened := 0
	for _, st := range s.streams {
		if oerr := st.Open(ctx, se.ExecutionContext); oerr != nil {
			err = exception.NewBatchError(exception.KindItemStream, s.Name(), "failed to open item stream", oerr)
			break
		}
		opened++
	}
	defer func() {
		if cerr := closeStreams(context.WithoutCancel(ctx), s.streams[:opened]); cerr != nil {
			logger.Warnf("ChunkStep '%s': failed to close item streams: %v", s.Name(), cerr)
			closeErr := exception.NewBatchError(exception.KindItemStream, s.Name(), "failed to close item streams", cerr)
			if err == nil {
				err = closeErr
			} else {
				err = multierror.Append(err, closeErr)
			}
		}
	}()
	if err != nil {
		return model.ExitStatusFailed, err
	}

	// 2. Step loop, one iteration per chunk
	state := &loopState[O]{}
	defer s.dropPending(se, state)
	handler := repeat.ExceptionHandlerFunc(func(_ context.Context, _ *repeat.Context, cerr error) error {
		if state.pending != nil && !state.pending.attempt.IsExhaustedOnly() {
			logger.Warnf("ChunkStep '%s': write of chunk %d failed, retrying: %v", s.Name(), state.pending.chunk.Sequence, cerr)
			return nil
		}
		return cerr
	})
	stepLoop := repeat.NewTemplate(repeat.DefaultCompletionPolicy{}, handler)
	if _, err = stepLoop.Iterate(ctx, nil, func(ctx context.Context, _ *repeat.Context) (repeat.Status, error) {
		return s.doChunk(ctx, se, state)
	}); err != nil {
		return model.ExitStatusFailed, err
	}
	return model.ExitStatusCompleted, nil
}

func closeStreams(ctx context.Context, streams []port.ItemStream) error {
	var result *multierror.Error
	for i := len(streams) - 1; i >= 0; i-- {
		if err := streams[i].Close(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *ChunkStep[I, O]) interrupted(ctx context.Context, se *model.StepExecution) error {
	if se.IsTerminateOnly() {
		return exception.NewBatchError(exception.KindInterrupted, s.Name(), "step execution was stopped", nil)
	}
	if err := ctx.Err(); err != nil {
		return exception.NewBatchError(exception.KindInterrupted, s.Name(), "step execution was interrupted", err)
	}
	return nil
}

// doChunk runs one chunk transaction.
func (s *ChunkStep[I, O]) doChunk(ctx context.Context, se *model.StepExecution, state *loopState[O]) (repeat.Status, error) {
	// Interruption is checked before a new transaction starts.
	if err := s.interrupted(ctx, se); err != nil {
		s.dropPending(se, state)
		return repeat.Finished, err
	}

	if state.pending == nil {
		state.sequence++
	}
	chunkCtx, endSpan := s.Tracer().StartChunkSpan(ctx, se, state.sequence)
	defer endSpan()
	started := time.Now()

	for _, l := range s.chunkListeners {
		l.BeforeChunk(chunkCtx, se)
	}

	// 1. Begin transaction
	t, err := s.txManager.Begin(chunkCtx, s.txOptions)
	if err != nil {
		s.dropPending(se, state)
		err = exception.NewBatchError(exception.KindOf(err), s.Name(), "failed to begin chunk transaction", err)
		s.notifyChunkError(chunkCtx, se, err)
		return repeat.Finished, err
	}
	txCtx := tx.WithTx(chunkCtx, t)

	// 2. Read and process, unless a failed write is being retried
	if state.pending == nil {
		contribution := &model.StepContribution{}
		in, err := s.provide(txCtx, se, state.sequence, contribution)
		if err != nil {
			return s.rollback(txCtx, se, t, state, err)
		}
		if in.End && in.IsEmpty() && contribution.ReadSkipCount == 0 {
			// Nothing left to read.
			if rerr := s.txManager.Rollback(t); rerr != nil {
				logger.Warnf("ChunkStep '%s': failed to release empty chunk transaction: %v", s.Name(), rerr)
			}
			for _, l := range s.chunkListeners {
				l.AfterChunk(chunkCtx, se)
			}
			return repeat.Finished, nil
		}
		out, err := s.transform(txCtx, se, in, contribution)
		if err != nil {
			return s.rollback(txCtx, se, t, state, err)
		}
		state.pending = &pendingChunk[O]{chunk: out, contribution: contribution, attempt: retry.NewContext(nil)}
	}
	pending := state.pending

	// 3. Write
	if err := s.write(txCtx, se, pending); err != nil {
		if scan, ok := err.(*scanRequest); ok {
			if rerr := s.txManager.Rollback(t); rerr != nil {
				logger.Warnf("ChunkStep '%s': rollback before scan failed: %v", s.Name(), rerr)
			}
			se.RollbackCount++
			s.clearWriter(txCtx)
			s.MetricRecorder().RecordChunkRollback(txCtx, s.Name())
			return s.scan(chunkCtx, se, state, scan.cause, started)
		}
		return s.rollback(txCtx, se, t, state, err)
	}

	// 4. Commit
	return s.commit(chunkCtx, txCtx, t, se, state, true, started)
}

// commit flushes the writer, records the stream positions and counters inside the
// transaction, commits it, then saves the StepExecution. Any failure before the
// commit completes puts se back to the last committed chunk, so a restart rereads
// the chunk that was lost.
func (s *ChunkStep[I, O]) commit(chunkCtx, txCtx context.Context, t tx.Tx, se *model.StepExecution, state *loopState[O], flush bool, started time.Time) (repeat.Status, error) {
	pending := state.pending
	snapshot := se.Copy()
	abort := func(cause error) (repeat.Status, error) {
		se.RestoreCheckpoint(snapshot)
		s.dropPending(se, state)
		return s.rollback(txCtx, se, t, state, cause)
	}

	if flush {
		if tw, ok := s.writer.(port.TransactionalWriter); ok {
			if err := tw.Flush(txCtx); err != nil {
				return abort(s.fail(exception.KindItemWrite, "failed to flush item writer", err))
			}
		}
	}
	for _, st := range s.streams {
		if err := st.Update(txCtx, se.ExecutionContext); err != nil {
			return abort(exception.NewBatchError(exception.KindItemStream, s.Name(), "failed to update item stream", err))
		}
	}

	se.Apply(pending.contribution)
	se.CommitCount++
	if err := s.JobRepository().UpdateExecutionContext(txCtx, se); err != nil {
		return abort(exception.NewRolledBackError(s.Name(), "failed to save execution context", err))
	}
	if err := s.txManager.Commit(t); err != nil {
		se.RestoreCheckpoint(snapshot)
		s.dropPending(se, state)
		se.RollbackCount++
		s.clearWriter(txCtx)
		s.MetricRecorder().RecordChunkRollback(txCtx, s.Name())
		err = exception.NewRolledBackError(s.Name(), "chunk commit failed", err)
		s.notifyChunkError(chunkCtx, se, err)
		return repeat.Finished, err
	}
	s.dropPending(se, state)

	s.MetricRecorder().RecordChunkCommit(chunkCtx, s.Name(), pending.contribution.WriteCount)
	for _, l := range s.chunkListeners {
		l.AfterChunk(chunkCtx, se)
	}
	if err := s.JobRepository().UpdateStepExecution(chunkCtx, se); err != nil {
		return repeat.Finished, repositoryError(s.Name(), "failed to update StepExecution after commit", err)
	}
	s.MetricRecorder().RecordDuration(chunkCtx, "chunk_duration", time.Since(started), map[string]string{"step": s.Name()})

	logger.Debugf("ChunkStep '%s': chunk %d committed (read: %d, written: %d, skipped: %d).",
		s.Name(), pending.chunk.Sequence, pending.contribution.ReadCount, pending.contribution.WriteCount, pending.contribution.SkipCount())

	if pending.chunk.End {
		return repeat.Finished, nil
	}
	return repeat.Continuable, nil
}

// dropPending abandons the pending chunk and the write retry state kept for it.
func (s *ChunkStep[I, O]) dropPending(se *model.StepExecution, state *loopState[O]) {
	if state.pending != nil && s.writeRetry != nil {
		s.writeRetry.Forget(writeKey(se, state.pending.chunk.Sequence))
	}
	state.pending = nil
}

// rollback undoes the chunk transaction. A chunk whose write will be retried stays pending.
func (s *ChunkStep[I, O]) rollback(txCtx context.Context, se *model.StepExecution, t tx.Tx, state *loopState[O], cause error) (repeat.Status, error) {
	if err := s.txManager.Rollback(t); err != nil {
		logger.Errorf("ChunkStep '%s': rollback failed: %v", s.Name(), err)
		cause = multierror.Append(cause, repositoryError(s.Name(), "chunk rollback failed", err))
		s.dropPending(se, state)
	}
	se.RollbackCount++
	s.clearWriter(txCtx)
	s.MetricRecorder().RecordChunkRollback(txCtx, s.Name())

	if state.pending != nil && !s.retryPending(se, state.pending) {
		s.dropPending(se, state)
	}
	s.notifyChunkError(txCtx, se, cause)
	return repeat.Finished, cause
}

func (s *ChunkStep[I, O]) retryPending(se *model.StepExecution, p *pendingChunk[O]) bool {
	return s.writeRetry != nil && !p.attempt.IsExhaustedOnly() && s.writeRetry.IsPending(writeKey(se, p.chunk.Sequence))
}

func writeKey(se *model.StepExecution, sequence int) string {
	return fmt.Sprintf("%s:%d", se.ID, sequence)
}

func (s *ChunkStep[I, O]) clearWriter(ctx context.Context) {
	if tw, ok := s.writer.(port.TransactionalWriter); ok {
		if err := tw.Clear(ctx); err != nil {
			logger.Warnf("ChunkStep '%s': failed to clear item writer: %v", s.Name(), err)
		}
	}
}

func (s *ChunkStep[I, O]) notifyChunkError(ctx context.Context, se *model.StepExecution, err error) {
	for _, l := range s.chunkListeners {
		l.AfterChunkError(ctx, se, err)
	}
}

// fail wraps err with the phase it happened in. Interruptions and skip limit
// failures keep their own kind.
func (s *ChunkStep[I, O]) fail(kind exception.Kind, msg string, err error) error {
	if exception.IsKind(err, exception.KindInterrupted) || exception.IsKind(err, exception.KindSkipLimitExceeded) {
		return err
	}
	return exception.NewBatchError(kind, s.Name(), msg, err)
}

func repositoryError(module, msg string, err error) error {
	kind := exception.KindRepository
	if exception.IsOptimisticLockingFailure(err) {
		kind = exception.KindOptimisticLockingFailure
	}
	return exception.NewBatchError(kind, module, msg, err)
}

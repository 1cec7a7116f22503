package item

import (
	"context"
	"errors"
	"fmt"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// provide assembles a chunk of input items. Read failures go through the skip policy.
func (s *ChunkStep[I, O]) provide(ctx context.Context, se *model.StepExecution, sequence int, contribution *model.StepContribution) (*model.Chunk[I], error) {
	chunk := model.NewChunk[I](sequence, s.chunkSize)
	chunkLoop := repeat.NewTemplate(repeat.NewSimpleCompletionPolicy(s.chunkSize), nil)

	_, err := chunkLoop.Iterate(ctx, nil, func(ctx context.Context, _ *repeat.Context) (repeat.Status, error) {
		if err := s.interrupted(ctx, se); err != nil {
			return repeat.Finished, err
		}
		item, eof, err := s.read(ctx)
		if eof {
			chunk.End = true
			return repeat.Finished, nil
		}
		if err != nil {
			ok, limitErr := s.shouldSkip(err, se, contribution)
			if limitErr != nil {
				return repeat.Finished, limitErr
			}
			if !ok {
				return repeat.Finished, s.fail(exception.KindItemRead, "item read failed", err)
			}
			contribution.ReadSkipCount++
			chunk.Skip(nil, err)
			se.AddFailure(err)
			logger.Warnf("ChunkStep '%s': item read skipped (skip count: %d): %v", s.Name(), se.SkipCount()+contribution.SkipCount(), err)
			s.notifySkipInRead(ctx, err)
			return repeat.Continuable, nil
		}
		contribution.ReadCount++
		chunk.Add(item)
		s.MetricRecorder().RecordItemRead(ctx, s.Name())
		return repeat.Continuable, nil
	})
	return chunk, err
}

// read returns the next item, retrying failures when a read retry is configured.
func (s *ChunkStep[I, O]) read(ctx context.Context) (item I, eof bool, err error) {
	readOnce := func(ctx context.Context, rc *retry.Context) error {
		if rc != nil && rc.RetryCount() > 0 {
			s.MetricRecorder().RecordItemRetry(ctx, s.Name(), metrics.PhaseRead)
		}
		v, rerr := s.reader.Read(ctx)
		if errors.Is(rerr, port.ErrNoMoreItems) {
			eof = true
			return nil
		}
		if rerr != nil {
			return rerr
		}
		item = v
		return nil
	}
	if s.readRetry == nil {
		err = readOnce(ctx, nil)
	} else {
		err = s.readRetry.Execute(ctx, nil, readOnce)
	}
	return item, eof, err
}

// transform processes every input item. Filtered items are counted, failures go
// through the skip policy.
func (s *ChunkStep[I, O]) transform(ctx context.Context, se *model.StepExecution, in *model.Chunk[I], contribution *model.StepContribution) (*model.Chunk[O], error) {
	out := model.NewChunk[O](in.Sequence, in.Size())
	out.End = in.End
	out.Skips = append(out.Skips, in.Skips...)

	for _, item := range in.Items {
		result, err := s.process(ctx, item)
		switch {
		case err == nil:
			s.MetricRecorder().RecordItemProcess(ctx, s.Name())
			out.Add(result)
		case errors.Is(err, port.ErrItemFiltered):
			contribution.FilterCount++
			s.MetricRecorder().RecordItemFilter(ctx, s.Name())
		default:
			ok, limitErr := s.shouldSkip(err, se, contribution)
			if limitErr != nil {
				return nil, limitErr
			}
			if !ok {
				return nil, s.fail(exception.KindItemProcess, "item processing failed", err)
			}
			contribution.ProcessSkipCount++
			out.Skip(item, err)
			se.AddFailure(err)
			logger.Warnf("ChunkStep '%s': item process skipped (skip count: %d): %v", s.Name(), se.SkipCount()+contribution.SkipCount(), err)
			s.notifySkipInProcess(ctx, item, err)
		}
	}
	return out, nil
}

func (s *ChunkStep[I, O]) process(ctx context.Context, item I) (O, error) {
	if s.processor == nil {
		out, ok := any(item).(O)
		if !ok {
			var zero O
			return zero, exception.NewBatchErrorf(exception.KindConfiguration, s.Name(),
				"no processor configured and item of type %T is not assignable to the writer's item type", item)
		}
		return out, nil
	}
	if s.processRetry == nil {
		return s.processor.Process(ctx, item)
	}
	return retry.Do(ctx, s.processRetry, nil, func(ctx context.Context, rc *retry.Context) (O, error) {
		if rc.RetryCount() > 0 {
			s.MetricRecorder().RecordItemRetry(ctx, s.Name(), metrics.PhaseProcess)
		}
		return s.processor.Process(ctx, item)
	})
}

// scanRequest asks the chunk loop to write the pending chunk item by item.
type scanRequest struct {
	cause error
}

func (r *scanRequest) Error() string { return "scan required: " + r.cause.Error() }
func (r *scanRequest) Unwrap() error { return r.cause }

// write writes the pending chunk. Without a write retry a failure is handled at once;
// with one it is rethrown until the retry policy is exhausted.
func (s *ChunkStep[I, O]) write(ctx context.Context, se *model.StepExecution, p *pendingChunk[O]) error {
	if p.chunk.IsEmpty() {
		return nil
	}
	items := p.chunk.Items

	recoverWrite := func(_ context.Context, _ *retry.Context, err error) error {
		if exception.IsKind(err, exception.KindInterrupted) {
			return err
		}
		ok, limitErr := s.shouldSkip(err, se, p.contribution)
		if limitErr != nil {
			return limitErr
		}
		if ok {
			return &scanRequest{cause: err}
		}
		return s.fail(exception.KindItemWrite, "item write failed", err)
	}

	if s.writeRetry == nil {
		if err := s.writer.Write(ctx, items); err != nil {
			return recoverWrite(ctx, nil, err)
		}
	} else {
		err := s.writeRetry.ExecuteStateful(ctx, p.attempt, writeKey(se, p.chunk.Sequence),
			func(ctx context.Context, rc *retry.Context) error {
				if rc.RetryCount() > 0 {
					s.MetricRecorder().RecordItemRetry(ctx, s.Name(), metrics.PhaseWrite)
				}
				return s.writer.Write(ctx, items)
			}, recoverWrite)
		if err != nil {
			return err
		}
	}
	p.contribution.WriteCount += len(items)
	s.MetricRecorder().RecordItemWrite(ctx, s.Name(), len(items))
	return nil
}

// scan writes the pending chunk one item per transaction so that only the failing
// items are skipped, then commits the chunk's bookkeeping in a final transaction.
func (s *ChunkStep[I, O]) scan(ctx context.Context, se *model.StepExecution, state *loopState[O], cause error, started time.Time) (repeat.Status, error) {
	p := state.pending
	logger.Warnf("ChunkStep '%s': write of chunk %d failed, writing items one by one: %v", s.Name(), p.chunk.Sequence, cause)

	for i, item := range p.chunk.Items {
		t, err := s.txManager.Begin(ctx, s.txOptions)
		if err != nil {
			s.dropPending(se, state)
			return repeat.Finished, exception.NewBatchError(exception.KindOf(err), s.Name(), "failed to begin transaction for item scan", err)
		}
		txCtx := tx.WithTx(ctx, t)

		werr := s.writer.Write(txCtx, []O{item})
		if werr == nil {
			if tw, ok := s.writer.(port.TransactionalWriter); ok {
				werr = tw.Flush(txCtx)
			}
		}
		if werr == nil {
			if cerr := s.txManager.Commit(t); cerr != nil {
				s.dropPending(se, state)
				return repeat.Finished, exception.NewRolledBackError(s.Name(), "failed to commit item during scan", cerr)
			}
			p.contribution.WriteCount++
			s.MetricRecorder().RecordItemWrite(ctx, s.Name(), 1)
			continue
		}

		if rerr := s.txManager.Rollback(t); rerr != nil {
			logger.Warnf("ChunkStep '%s': rollback during scan failed: %v", s.Name(), rerr)
		}
		s.clearWriter(txCtx)

		ok, limitErr := s.shouldSkip(werr, se, p.contribution)
		if limitErr != nil {
			s.dropPending(se, state)
			s.notifyChunkError(ctx, se, limitErr)
			return repeat.Finished, limitErr
		}
		if !ok {
			s.dropPending(se, state)
			err := s.fail(exception.KindItemWrite, fmt.Sprintf("item write failed during scan at index %d", i), werr)
			s.notifyChunkError(ctx, se, err)
			return repeat.Finished, err
		}
		p.contribution.WriteSkipCount++
		p.chunk.Skip(item, werr)
		se.AddFailure(werr)
		logger.Warnf("ChunkStep '%s': item skipped during scan: %+v", s.Name(), item)
		s.notifySkipInWrite(txCtx, item, werr)
	}

	t, err := s.txManager.Begin(ctx, s.txOptions)
	if err != nil {
		s.dropPending(se, state)
		return repeat.Finished, exception.NewBatchError(exception.KindOf(err), s.Name(), "failed to begin transaction after scan", err)
	}
	return s.commit(ctx, tx.WithTx(ctx, t), t, se, state, false, started)
}

func (s *ChunkStep[I, O]) shouldSkip(err error, se *model.StepExecution, contribution *model.StepContribution) (bool, error) {
	return s.skipPolicy.ShouldSkip(err, se.SkipCount()+contribution.SkipCount())
}

// --- Listener Notifiers ---

func (s *ChunkStep[I, O]) notifySkipAware(ctx context.Context) {
	if sa, ok := s.reader.(port.SkipAware); ok {
		sa.Skip(ctx)
	}
	if sa, ok := s.writer.(port.SkipAware); ok {
		sa.Skip(ctx)
	}
}

func (s *ChunkStep[I, O]) notifySkipInRead(ctx context.Context, err error) {
	s.Tracer().RecordError(ctx, s.Name(), err)
	s.MetricRecorder().RecordItemSkip(ctx, s.Name(), metrics.PhaseRead)
	s.notifySkipAware(ctx)
	for _, l := range s.skipListeners {
		l.OnSkipInRead(ctx, err)
	}
}

func (s *ChunkStep[I, O]) notifySkipInProcess(ctx context.Context, item I, err error) {
	s.Tracer().RecordError(ctx, s.Name(), err)
	s.MetricRecorder().RecordItemSkip(ctx, s.Name(), metrics.PhaseProcess)
	s.notifySkipAware(ctx)
	for _, l := range s.skipListeners {
		l.OnSkipInProcess(ctx, item, err)
	}
}

func (s *ChunkStep[I, O]) notifySkipInWrite(ctx context.Context, item O, err error) {
	s.Tracer().RecordError(ctx, s.Name(), err)
	s.MetricRecorder().RecordItemSkip(ctx, s.Name(), metrics.PhaseWrite)
	for _, l := range s.skipListeners {
		l.OnSkipInWrite(ctx, item, err)
	}
}

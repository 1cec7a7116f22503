// Package logging provides listeners that log job, step, chunk and skip events.
package logging

import (
	"context"
	"time"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// --- Job Execution Listener ---

// JobListener logs job start and end.
type JobListener struct {
	// Parameters adds the job parameters to the start line.
	Parameters bool
}

func (l *JobListener) BeforeJob(_ context.Context, je *model.JobExecution) {
	if l.Parameters {
		logger.Infof("Job '%s' (execution %s) starting with parameters %s.", je.JobName, je.ID, je.Parameters)
		return
	}
	logger.Infof("Job '%s' (execution %s) starting.", je.JobName, je.ID)
}

func (l *JobListener) AfterJob(_ context.Context, je *model.JobExecution) {
	log := logger.Infof
	if je.Status != model.BatchStatusCompleted {
		log = logger.Warnf
	}
	log("Job '%s' (execution %s) finished: status %s, exit %s, took %s.",
		je.JobName, je.ID, je.Status, je.ExitStatus.ExitCode, elapsed(je.StartTime, je.EndTime))
}

var _ port.JobExecutionListener = (*JobListener)(nil)

// --- Step Execution Listener ---

// StepListener logs step start and end with the step counters.
type StepListener struct{}

func (StepListener) BeforeStep(_ context.Context, se *model.StepExecution) {
	logger.Infof("Step '%s' (execution %s) starting.", se.StepName, se.ID)
}

func (StepListener) AfterStep(_ context.Context, se *model.StepExecution) {
	logger.Infof("Step '%s' finished: status %s, exit %s, read %d, written %d, filtered %d, skipped %d, commits %d, rollbacks %d.",
		se.StepName, se.Status, se.ExitStatus.ExitCode, se.ReadCount, se.WriteCount, se.FilterCount,
		se.SkipCount(), se.CommitCount, se.RollbackCount)
}

var _ port.StepExecutionListener = StepListener{}

// --- Chunk Listener ---

// ChunkListener logs chunk boundaries at debug level and chunk failures as warnings.
type ChunkListener struct{}

func (ChunkListener) BeforeChunk(_ context.Context, se *model.StepExecution) {
	logger.Debugf("Step '%s': chunk starting (commits so far: %d).", se.StepName, se.CommitCount)
}

func (ChunkListener) AfterChunk(_ context.Context, se *model.StepExecution) {
	logger.Debugf("Step '%s': chunk committed (read %d, written %d).", se.StepName, se.ReadCount, se.WriteCount)
}

func (ChunkListener) AfterChunkError(_ context.Context, se *model.StepExecution, err error) {
	logger.Warnf("Step '%s': chunk rolled back: %v", se.StepName, err)
}

var _ port.ChunkListener = ChunkListener{}

// --- Skip Listener ---

// SkipListener logs every skipped item.
type SkipListener struct{}

func (SkipListener) OnSkipInRead(_ context.Context, err error) {
	logger.Warnf("Skipped a read item: %v", err)
}

func (SkipListener) OnSkipInProcess(_ context.Context, item any, err error) {
	logger.Warnf("Skipped item %+v in process: %v", item, err)
}

func (SkipListener) OnSkipInWrite(_ context.Context, item any, err error) {
	logger.Warnf("Skipped item %+v in write: %v", item, err)
}

var _ port.SkipListener = SkipListener{}

func elapsed(start, end *time.Time) time.Duration {
	if start == nil || end == nil {
		return 0
	}
	return end.Sub(*start).Round(time.Millisecond)
}

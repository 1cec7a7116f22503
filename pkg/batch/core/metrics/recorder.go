package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Item phases reported with skip and retry metrics.
const (
	PhaseRead    = "read"
	PhaseProcess = "process"
	PhaseWrite   = "write"
)

// MetricRecorder is an abstract interface for recording metrics related to batch execution.
//
// This interface provides a standardized way to record metrics for job, step, item-level events,
// and chunk processing, so that different backends (Prometheus, OpenTelemetry Metrics) can be plugged in.
type MetricRecorder interface {
	// RecordJobStart records the start of a JobExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the started JobExecution.
	RecordJobStart(ctx context.Context, execution *model.JobExecution)

	// RecordJobEnd records the end of a JobExecution, including its final status.
	//
	// ctx: The context for the operation.
	// execution: Details of the ended JobExecution.
	RecordJobEnd(ctx context.Context, execution *model.JobExecution)

	// RecordStepStart records the start of a StepExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the started StepExecution.
	RecordStepStart(ctx context.Context, execution *model.StepExecution)

	// RecordStepEnd records the end of a StepExecution.
	//
	// ctx: The context for the operation.
	// execution: Details of the ended StepExecution.
	RecordStepEnd(ctx context.Context, execution *model.StepExecution)

	// RecordItemRead records the successful reading of an item.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the item was read.
	RecordItemRead(ctx context.Context, stepName string)

	// RecordItemProcess records the successful processing of an item.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the item was processed.
	RecordItemProcess(ctx context.Context, stepName string)

	// RecordItemFilter records an item dropped by its processor.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the item was filtered.
	RecordItemFilter(ctx context.Context, stepName string)

	// RecordItemWrite records the successful writing of items.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the items were written.
	// count: The number of items written.
	RecordItemWrite(ctx context.Context, stepName string, count int)

	// RecordItemSkip records the skipping of an item.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the item was skipped.
	// phase: One of PhaseRead, PhaseProcess or PhaseWrite.
	RecordItemSkip(ctx context.Context, stepName string, phase string)

	// RecordItemRetry records a retried attempt.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the attempt was retried.
	// phase: One of PhaseRead, PhaseProcess or PhaseWrite.
	RecordItemRetry(ctx context.Context, stepName string, phase string)

	// RecordChunkCommit records the commitment of a chunk.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the chunk was committed.
	// count: The number of items written by the chunk.
	RecordChunkCommit(ctx context.Context, stepName string, count int)

	// RecordChunkRollback records a rolled back chunk transaction.
	//
	// ctx: The context for the operation.
	// stepName: The name of the step where the chunk was rolled back.
	RecordChunkRollback(ctx context.Context, stepName string)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "chunk_duration").
	// duration: The length of the duration to record.
	// tags: Additional attributes to associate with the duration, e.g. `{"step": "load"}`.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}

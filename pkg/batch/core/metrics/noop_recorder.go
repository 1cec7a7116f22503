package metrics

import (
	"context"
	"time"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

func (r *NoOpMetricRecorder) RecordJobStart(context.Context, *model.JobExecution)   {}
func (r *NoOpMetricRecorder) RecordJobEnd(context.Context, *model.JobExecution)     {}
func (r *NoOpMetricRecorder) RecordStepStart(context.Context, *model.StepExecution) {}
func (r *NoOpMetricRecorder) RecordStepEnd(context.Context, *model.StepExecution)   {}
func (r *NoOpMetricRecorder) RecordItemRead(context.Context, string)                {}
func (r *NoOpMetricRecorder) RecordItemProcess(context.Context, string)             {}
func (r *NoOpMetricRecorder) RecordItemFilter(context.Context, string)              {}
func (r *NoOpMetricRecorder) RecordItemWrite(context.Context, string, int)          {}
func (r *NoOpMetricRecorder) RecordItemSkip(context.Context, string, string)        {}
func (r *NoOpMetricRecorder) RecordItemRetry(context.Context, string, string)       {}
func (r *NoOpMetricRecorder) RecordChunkCommit(context.Context, string, int)        {}
func (r *NoOpMetricRecorder) RecordChunkRollback(context.Context, string)           {}
func (r *NoOpMetricRecorder) RecordDuration(context.Context, string, time.Duration, map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartJobSpan returns ctx unchanged.
func (t *NoOpTracer) StartJobSpan(ctx context.Context, _ *model.JobExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartStepSpan returns ctx unchanged.
func (t *NoOpTracer) StartStepSpan(ctx context.Context, _ *model.StepExecution) (context.Context, func()) {
	return ctx, func() {}
}

// StartChunkSpan returns ctx unchanged.
func (t *NoOpTracer) StartChunkSpan(ctx context.Context, _ *model.StepExecution, _ int) (context.Context, func()) {
	return ctx, func() {}
}

func (t *NoOpTracer) RecordError(context.Context, string, error)                  {}
func (t *NoOpTracer) RecordEvent(context.Context, string, map[string]interface{}) {}

var _ Tracer = (*NoOpTracer)(nil)

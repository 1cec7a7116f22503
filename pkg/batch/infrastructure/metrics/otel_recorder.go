package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// OpenTelemetryRecorder is a metrics.MetricRecorder on an OpenTelemetry meter.
// Instrument names follow the Prometheus recorder with dots instead of underscores.
type OpenTelemetryRecorder struct {
	jobsRunning    otelmetric.Int64UpDownCounter
	jobsFinished   otelmetric.Int64Counter
	jobDuration    otelmetric.Float64Histogram
	stepsFinished  otelmetric.Int64Counter
	stepDuration   otelmetric.Float64Histogram
	itemsRead      otelmetric.Int64Counter
	itemsProcessed otelmetric.Int64Counter
	itemsFiltered  otelmetric.Int64Counter
	itemsWritten   otelmetric.Int64Counter
	itemsSkipped   otelmetric.Int64Counter
	itemRetries    otelmetric.Int64Counter
	chunkCommits   otelmetric.Int64Counter
	chunkRollbacks otelmetric.Int64Counter
	operations     otelmetric.Float64Histogram
}

// NewOpenTelemetryRecorder creates the instruments on a meter of mp.
func NewOpenTelemetryRecorder(mp otelmetric.MeterProvider) (*OpenTelemetryRecorder, error) {
	m := mp.Meter(instrumentationName)
	r := &OpenTelemetryRecorder{}
	var err error
	counter := func(name, desc string) otelmetric.Int64Counter {
		if err != nil {
			return nil
		}
		var c otelmetric.Int64Counter
		c, err = m.Int64Counter(name, otelmetric.WithDescription(desc))
		return c
	}
	histogram := func(name, desc string) otelmetric.Float64Histogram {
		if err != nil {
			return nil
		}
		var h otelmetric.Float64Histogram
		h, err = m.Float64Histogram(name, otelmetric.WithDescription(desc), otelmetric.WithUnit("s"))
		return h
	}

	r.jobsFinished = counter("batch.job.status", "Finished job executions by status.")
	r.jobDuration = histogram("batch.job.duration", "Duration of job executions.")
	r.stepsFinished = counter("batch.step.status", "Finished step executions by status.")
	r.stepDuration = histogram("batch.step.duration", "Duration of step executions.")
	r.itemsRead = counter("batch.item.read", "Items read.")
	r.itemsProcessed = counter("batch.item.process", "Items processed.")
	r.itemsFiltered = counter("batch.item.filter", "Items filtered by processors.")
	r.itemsWritten = counter("batch.item.write", "Items written.")
	r.itemsSkipped = counter("batch.item.skip", "Items skipped by phase.")
	r.itemRetries = counter("batch.item.retry", "Retried attempts by phase.")
	r.chunkCommits = counter("batch.chunk.commit", "Committed chunks.")
	r.chunkRollbacks = counter("batch.chunk.rollback", "Rolled back chunks.")
	r.operations = histogram("batch.operation.duration", "Duration of engine operations.")
	if err != nil {
		return nil, err
	}
	r.jobsRunning, err = m.Int64UpDownCounter("batch.jobs.running", otelmetric.WithDescription("Running job executions."))
	if err != nil {
		return nil, err
	}
	return r, nil
}

func stepAttr(stepName string) otelmetric.MeasurementOption {
	return otelmetric.WithAttributes(attribute.String("step_name", stepName))
}

// RecordJobStart implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobsRunning.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("job_name", execution.JobName)))
}

// RecordJobEnd implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("job_name", execution.JobName),
		attribute.String("status", execution.Status.String()),
		attribute.String("exit_code", execution.ExitStatus.ExitCode),
	)
	r.jobsFinished.Add(ctx, 1, attrs)
	if d, ok := elapsed(execution.StartTime, execution.EndTime); ok {
		r.jobsRunning.Add(ctx, -1, otelmetric.WithAttributes(attribute.String("job_name", execution.JobName)))
		r.jobDuration.Record(ctx, d, attrs)
	}
	logger.Debugf("Metrics: Job '%s' ended with status %s.", execution.JobName, execution.Status)
}

// RecordStepStart implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordStepStart(context.Context, *model.StepExecution) {}

// RecordStepEnd implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	attrs := otelmetric.WithAttributes(
		attribute.String("job_name", jobNameOf(execution)),
		attribute.String("step_name", execution.StepName),
		attribute.String("status", execution.Status.String()),
		attribute.String("exit_code", execution.ExitStatus.ExitCode),
	)
	r.stepsFinished.Add(ctx, 1, attrs)
	if d, ok := elapsed(execution.StartTime, execution.EndTime); ok {
		r.stepDuration.Record(ctx, d, attrs)
	}
}

// RecordItemRead implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.itemsRead.Add(ctx, 1, stepAttr(stepName))
}

// RecordItemProcess implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.itemsProcessed.Add(ctx, 1, stepAttr(stepName))
}

// RecordItemFilter implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.itemsFiltered.Add(ctx, 1, stepAttr(stepName))
}

// RecordItemWrite implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemsWritten.Add(ctx, int64(count), stepAttr(stepName))
}

// RecordItemSkip implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string) {
	r.itemsSkipped.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("step_name", stepName), attribute.String("phase", phase)))
}

// RecordItemRetry implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordItemRetry(ctx context.Context, stepName string, phase string) {
	r.itemRetries.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("step_name", stepName), attribute.String("phase", phase)))
}

// RecordChunkCommit implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommits.Add(ctx, 1, stepAttr(stepName))
}

// RecordChunkRollback implements metrics.MetricRecorder.
func (r *OpenTelemetryRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunkRollbacks.Add(ctx, 1, stepAttr(stepName))
}

// RecordDuration implements metrics.MetricRecorder. Every tag becomes an attribute.
func (r *OpenTelemetryRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	attrs := []attribute.KeyValue{attribute.String("operation", name)}
	for k, v := range tags {
		attrs = append(attrs, attribute.String(k, v))
	}
	r.operations.Record(ctx, duration.Seconds(), otelmetric.WithAttributes(attrs...))
}

var _ metrics.MetricRecorder = (*OpenTelemetryRecorder)(nil)

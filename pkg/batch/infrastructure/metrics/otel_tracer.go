package metrics

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
)

const instrumentationName = "github.com/tigerroll/chunkbatch/pkg/batch"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Job, step and chunk spans nest through the context.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a tracer on the given provider.
func NewOpenTelemetryTracer(tp trace.TracerProvider) *OpenTelemetryTracer {
	return &OpenTelemetryTracer{tracer: tp.Tracer(instrumentationName)}
}

func endWithStatus(span trace.Span, status model.BatchStatus, exit model.ExitStatus) {
	span.SetAttributes(
		attribute.String("batch.status", status.String()),
		attribute.String("batch.exit_code", exit.ExitCode),
	)
	if status.IsUnsuccessful() {
		span.SetStatus(codes.Error, exit.ExitDescription)
	}
	span.End()
}

// StartJobSpan starts a new span for a JobExecution. The span records the
// execution's final status when it ends.
func (t *OpenTelemetryTracer) StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "job "+execution.JobName, trace.WithAttributes(
		attribute.String("batch.job.name", execution.JobName),
		attribute.String("batch.job.execution_id", execution.ID),
		attribute.String("batch.job.instance_id", execution.JobInstanceID),
	))
	return ctx, func() { endWithStatus(span, execution.Status, execution.ExitStatus) }
}

// StartStepSpan starts a new span for a StepExecution.
func (t *OpenTelemetryTracer) StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "step "+execution.StepName, trace.WithAttributes(
		attribute.String("batch.step.name", execution.StepName),
		attribute.String("batch.step.execution_id", execution.ID),
	))
	return ctx, func() {
		span.SetAttributes(
			attribute.Int("batch.step.read_count", execution.ReadCount),
			attribute.Int("batch.step.write_count", execution.WriteCount),
			attribute.Int("batch.step.skip_count", execution.SkipCount()),
			attribute.Int("batch.step.commit_count", execution.CommitCount),
			attribute.Int("batch.step.rollback_count", execution.RollbackCount),
		)
		endWithStatus(span, execution.Status, execution.ExitStatus)
	}
}

// StartChunkSpan starts a new span for one chunk transaction.
func (t *OpenTelemetryTracer) StartChunkSpan(ctx context.Context, execution *model.StepExecution, sequence int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "chunk", trace.WithAttributes(
		attribute.String("batch.step.name", execution.StepName),
		attribute.Int("batch.chunk.sequence", sequence),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("batch.module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

func toAttributes(values map[string]interface{}) []attribute.KeyValue {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		switch v := values[k].(type) {
		case string:
			attrs = append(attrs, attribute.String(k, v))
		case bool:
			attrs = append(attrs, attribute.Bool(k, v))
		case int:
			attrs = append(attrs, attribute.Int(k, v))
		case int64:
			attrs = append(attrs, attribute.Int64(k, v))
		case float64:
			attrs = append(attrs, attribute.Float64(k, v))
		default:
			attrs = append(attrs, attribute.String(k, fmt.Sprint(v)))
		}
	}
	return attrs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)

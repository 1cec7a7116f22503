package metrics

import (
	"context"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
)

// Tracer opens spans around job, step and chunk execution.
// Every Start method returns the derived context and a function that ends the span.
type Tracer interface {
	StartJobSpan(ctx context.Context, execution *model.JobExecution) (context.Context, func())
	// StartStepSpan is normally called with a context carrying the job span.
	StartStepSpan(ctx context.Context, execution *model.StepExecution) (context.Context, func())
	// StartChunkSpan covers one chunk transaction; sequence counts chunks within the step execution.
	StartChunkSpan(ctx context.Context, execution *model.StepExecution, sequence int) (context.Context, func())

	// RecordError marks the span in ctx as failed. module names the failing component ("reader", "writer").
	RecordError(ctx context.Context, module string, err error)
	// RecordEvent adds a named event such as "item_skipped" to the span in ctx.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}

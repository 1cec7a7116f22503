// Package item provides generic item components: no-op readers and writers,
// a pass-through processor, a slice reader and a writer counting into the
// ExecutionContext.
package item

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// DefaultWriteCountKey is the ExecutionContext key used when none is configured.
const DefaultWriteCountKey = "writer.write_count"

// ExecutionContextItemWriter is an ItemWriter that stores the number of items written to the ExecutionContext.
// It is primarily used for testing and debugging.
type ExecutionContextItemWriter[T any] struct {
	key     string
	count   int
	pending int
}

// NewExecutionContextItemWriter creates a new instance of ExecutionContextItemWriter.
func NewExecutionContextItemWriter[T any](key string) *ExecutionContextItemWriter[T] {
	if key == "" {
		key = DefaultWriteCountKey
	}
	return &ExecutionContextItemWriter[T]{key: key}
}

// Open restores the count saved by a previous execution.
func (w *ExecutionContextItemWriter[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	w.count, w.pending = 0, 0
	if n, ok := ec.GetInt(w.key); ok {
		w.count = n
	}
	return nil
}

// Write counts items. The count becomes durable when the chunk commits.
func (w *ExecutionContextItemWriter[T]) Write(_ context.Context, items []T) error {
	logger.Debugf("ExecutionContextItemWriter: Counting %d items into key '%s'.", len(items), w.key)
	w.pending += len(items)
	return nil
}

// Flush adds the pending items to the count just before the chunk commits.
func (w *ExecutionContextItemWriter[T]) Flush(context.Context) error {
	w.count += w.pending
	w.pending = 0
	return nil
}

// Clear forgets the items of a rolled back chunk.
func (w *ExecutionContextItemWriter[T]) Clear(context.Context) error {
	w.pending = 0
	return nil
}

// Update saves the count.
func (w *ExecutionContextItemWriter[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(w.key, w.count)
	return nil
}

// Close implements [port.ItemStream].
func (w *ExecutionContextItemWriter[T]) Close(context.Context) error {
	return nil
}

// Count returns the number of committed items.
func (w *ExecutionContextItemWriter[T]) Count() int {
	return w.count
}

var (
	_ port.ItemWriter[any]     = (*ExecutionContextItemWriter[any])(nil)
	_ port.ItemStream          = (*ExecutionContextItemWriter[any])(nil)
	_ port.TransactionalWriter = (*ExecutionContextItemWriter[any])(nil)
)

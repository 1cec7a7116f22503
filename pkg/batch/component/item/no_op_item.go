package item

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NoOpItemReader is an implementation of [port.ItemReader] that is always exhausted.
type NoOpItemReader[T any] struct{}

// NewNoOpItemReader creates a new instance of [NoOpItemReader].
func NewNoOpItemReader[T any]() *NoOpItemReader[T] {
	return &NoOpItemReader[T]{}
}

// Read always returns [port.ErrNoMoreItems].
func (r *NoOpItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	return zero, port.ErrNoMoreItems
}

// NoOpItemWriter is an implementation of [port.ItemWriter] that discards every chunk.
type NoOpItemWriter[T any] struct{}

// NewNoOpItemWriter creates a new instance of [NoOpItemWriter].
func NewNoOpItemWriter[T any]() *NoOpItemWriter[T] {
	return &NoOpItemWriter[T]{}
}

// Write discards items.
func (w *NoOpItemWriter[T]) Write(ctx context.Context, items []T) error {
	logger.Debugf("NoOpItemWriter: Discarding %d items.", len(items))
	return nil
}

// Verify that the no-op components implement their interfaces.
var (
	_ port.ItemReader[any] = (*NoOpItemReader[any])(nil)
	_ port.ItemWriter[any] = (*NoOpItemWriter[any])(nil)
)

package item

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
)

// PassThroughItemProcessor hands every item to the writer unchanged, registered
// as passThroughItemProcessor for JSL that wants to name one explicitly.
type PassThroughItemProcessor[T any] struct{}

func NewPassThroughItemProcessor[T any]() *PassThroughItemProcessor[T] {
	return &PassThroughItemProcessor[T]{}
}

func (PassThroughItemProcessor[T]) Process(_ context.Context, item T) (T, error) {
	return item, nil
}

var _ port.ItemProcessor[any, any] = (*PassThroughItemProcessor[any])(nil)

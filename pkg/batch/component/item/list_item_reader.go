package item

import (
	"context"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// DefaultListReaderKey is the ExecutionContext key holding the read position.
const DefaultListReaderKey = "list_reader.read_count"

// ListItemReader reads the items of a slice in order. Its position is saved at
// every commit so a restarted step resumes after the last committed item.
type ListItemReader[T any] struct {
	items []T
	pos   int
	key   string
}

// NewListItemReader creates a reader over items, saving its position under key.
func NewListItemReader[T any](items []T, key string) *ListItemReader[T] {
	if key == "" {
		key = DefaultListReaderKey
	}
	return &ListItemReader[T]{items: items, key: key}
}

// Read returns the next item, or [port.ErrNoMoreItems] at the end of the slice.
func (r *ListItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if r.pos >= len(r.items) {
		return zero, port.ErrNoMoreItems
	}
	item := r.items[r.pos]
	r.pos++
	return item, nil
}

// Open restores the position saved in ec.
func (r *ListItemReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.pos = 0
	if pos, ok := ec.GetInt(r.key); ok {
		if pos < 0 || pos > len(r.items) {
			return exception.NewBatchErrorf(exception.KindItemStream, "list_reader", "saved position %d is outside the %d items", pos, len(r.items))
		}
		r.pos = pos
	}
	return nil
}

// Update saves the position.
func (r *ListItemReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(r.key, r.pos)
	return nil
}

// Close implements [port.ItemStream].
func (r *ListItemReader[T]) Close(context.Context) error {
	return nil
}

var (
	_ port.ItemReader[any] = (*ListItemReader[any])(nil)
	_ port.ItemStream      = (*ListItemReader[any])(nil)
)

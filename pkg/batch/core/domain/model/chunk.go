package model

// SkippedItem records an item discarded from a chunk and the failure that caused it.
type SkippedItem struct {
	Item interface{}
	Err  error
}

// Chunk is a bounded, ordered batch of items processed and committed together.
// It only lives for one read-process-write cycle.
type Chunk[T any] struct {
	Sequence int
	Items    []T
	Skips    []SkippedItem
	// End is set when the item source reported end-of-data while assembling this chunk.
	End bool
}

// NewChunk creates an empty chunk with capacity for size items.
func NewChunk[T any](sequence, size int) *Chunk[T] {
	return &Chunk[T]{Sequence: sequence, Items: make([]T, 0, size)}
}

// Add appends an item.
func (c *Chunk[T]) Add(item T) {
	c.Items = append(c.Items, item)
}

// Skip records a discarded item.
func (c *Chunk[T]) Skip(item interface{}, err error) {
	c.Skips = append(c.Skips, SkippedItem{Item: item, Err: err})
}

// Size returns the number of items.
func (c *Chunk[T]) Size() int {
	return len(c.Items)
}

// IsEmpty reports whether the chunk holds no items.
func (c *Chunk[T]) IsEmpty() bool {
	return len(c.Items) == 0
}

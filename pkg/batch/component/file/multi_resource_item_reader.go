package file

import (
	"context"
	"errors"
	"path"
	"sort"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// MultiResourceConfig selects the inputs of a MultiResourceItemReader.
type MultiResourceConfig struct {
	// Name prefixes the ExecutionContext keys of the reader.
	Name   string
	Bucket string
	// Prefix restricts the listed objects.
	Prefix string
	// Pattern, when set, is matched against the base name of each object (path.Match syntax).
	Pattern string
	// Strict makes an empty listing an error.
	Strict bool
}

// MultiResourceItemReader reads the objects matching a prefix one after the
// other, in lexical order, through a delegate reader. It saves the index of the
// current object alongside the delegate's own position.
type MultiResourceItemReader[T any] struct {
	conn     storage.Executor
	cfg      MultiResourceConfig
	delegate *FlatFileItemReader[T]

	objects []string
	index   int
	open    bool
}

// NewMultiResourceItemReader creates a reader over the objects selected by cfg.
// The delegate's object is replaced for every input.
func NewMultiResourceItemReader[T any](conn storage.Executor, cfg MultiResourceConfig, delegate *FlatFileItemReader[T]) *MultiResourceItemReader[T] {
	if cfg.Name == "" {
		cfg.Name = "multi_resource_reader"
	}
	delegate.cfg.Bucket = cfg.Bucket
	return &MultiResourceItemReader[T]{conn: conn, cfg: cfg, delegate: delegate}
}

func (r *MultiResourceItemReader[T]) indexKey() string {
	return r.cfg.Name + ".resource.index"
}

// Objects returns the inputs found by the last Open.
func (r *MultiResourceItemReader[T]) Objects() []string {
	return append([]string(nil), r.objects...)
}

// Open lists the inputs and opens the delegate on the saved one.
func (r *MultiResourceItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.objects, r.index, r.open = nil, 0, false
	err := r.conn.ListObjects(ctx, r.cfg.Bucket, r.cfg.Prefix, func(name string) error {
		if r.cfg.Pattern != "" {
			ok, err := path.Match(r.cfg.Pattern, path.Base(name))
			if err != nil || !ok {
				return err
			}
		}
		r.objects = append(r.objects, name)
		return nil
	})
	if err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to list inputs", err)
	}
	sort.Strings(r.objects)

	if len(r.objects) == 0 {
		if r.cfg.Strict {
			return exception.NewBatchErrorf(exception.KindItemStream, module, "no input found under '%s'", r.cfg.Prefix)
		}
		logger.Warnf("MultiResourceItemReader '%s': no input found under '%s'.", r.cfg.Name, r.cfg.Prefix)
		return nil
	}

	if idx, ok := ec.GetInt(r.indexKey()); ok {
		if idx < 0 || idx >= len(r.objects) {
			return exception.NewBatchErrorf(exception.KindItemStream, module,
				"saved input index %d is outside the %d inputs found", idx, len(r.objects))
		}
		r.index = idx
	}
	r.delegate.SetObject(r.objects[r.index])
	if err := r.delegate.Open(ctx, ec); err != nil {
		return err
	}
	r.open = true
	return nil
}

// Read returns the next item of the current input, moving on to the next input
// when the current one is exhausted.
func (r *MultiResourceItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if !r.open {
		return zero, port.ErrNoMoreItems
	}
	for {
		item, err := r.delegate.Read(ctx)
		if !errors.Is(err, port.ErrNoMoreItems) {
			return item, err
		}
		if err := r.delegate.Close(ctx); err != nil {
			return zero, exception.NewBatchError(exception.KindItemStream, module, "failed to close input", err)
		}
		r.index++
		if r.index >= len(r.objects) {
			r.open = false
			return zero, port.ErrNoMoreItems
		}
		r.delegate.SetObject(r.objects[r.index])
		if err := r.delegate.Open(ctx, model.NewExecutionContext()); err != nil {
			r.open = false
			return zero, err
		}
		logger.Debugf("MultiResourceItemReader '%s': reading '%s'.", r.cfg.Name, r.objects[r.index])
	}
}

// Update saves the input index and the delegate position.
func (r *MultiResourceItemReader[T]) Update(ctx context.Context, ec model.ExecutionContext) error {
	if len(r.objects) == 0 {
		return nil
	}
	index := r.index
	if index >= len(r.objects) {
		index = len(r.objects) - 1
	}
	ec.Put(r.indexKey(), index)
	return r.delegate.Update(ctx, ec)
}

// Close closes the delegate.
func (r *MultiResourceItemReader[T]) Close(ctx context.Context) error {
	r.open = false
	return r.delegate.Close(ctx)
}

var (
	_ port.ItemReader[any] = (*MultiResourceItemReader[any])(nil)
	_ port.ItemStream      = (*MultiResourceItemReader[any])(nil)
)

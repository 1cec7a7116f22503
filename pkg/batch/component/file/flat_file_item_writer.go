package file

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// LineAggregator renders an item as one line, without the line separator.
type LineAggregator[T any] func(item T) (string, error)

// WriterConfig configures a FlatFileItemWriter.
type WriterConfig struct {
	// Name prefixes the ExecutionContext keys of the writer.
	Name string
	// Path is the output file.
	Path string
	// Header and Footer, when set, are written as the first and last line.
	Header string
	Footer string
	// Append keeps the existing content of Path on a fresh start.
	Append bool
	// DeleteIfEmpty removes the output at Close when no item was written.
	DeleteIfEmpty bool
	// LineSeparator defaults to "\n".
	LineSeparator string
}

// FlatFileItemWriter writes one line per item to a local file. Lines of a chunk
// are buffered and only reach the file when the chunk commits. The committed
// size of the file is saved at every commit; a restarted step truncates the file
// back to it, discarding lines of chunks that never committed.
type FlatFileItemWriter[T any] struct {
	cfg        WriterConfig
	aggregator LineAggregator[T]

	file         *os.File
	pending      bytes.Buffer
	pendingLines int
	position     int64
	lineCount    int64
}

// NewFlatFileItemWriter creates a writer for cfg.Path.
func NewFlatFileItemWriter[T any](cfg WriterConfig, aggregator LineAggregator[T]) *FlatFileItemWriter[T] {
	if cfg.Name == "" {
		cfg.Name = "flat_file_writer"
	}
	if cfg.LineSeparator == "" {
		cfg.LineSeparator = "\n"
	}
	return &FlatFileItemWriter[T]{cfg: cfg, aggregator: aggregator}
}

func (w *FlatFileItemWriter[T]) positionKey() string { return w.cfg.Name + ".current.position" }
func (w *FlatFileItemWriter[T]) linesKey() string    { return w.cfg.Name + ".written" }

// Open opens the output, restoring the committed position on restart.
func (w *FlatFileItemWriter[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	if w.cfg.Path == "" {
		return exception.NewBatchErrorf(exception.KindConfiguration, module, "writer '%s' has no output path", w.cfg.Name)
	}
	if err := os.MkdirAll(filepath.Dir(w.cfg.Path), 0o755); err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to create output directory", err)
	}
	f, err := os.OpenFile(w.cfg.Path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to open output '"+w.cfg.Path+"'", err)
	}
	w.file = f
	w.pending.Reset()
	w.pendingLines = 0

	saved, restarted := ec.GetInt64(w.positionKey())
	if restarted {
		info, err := f.Stat()
		if err != nil {
			return w.openFailed(err)
		}
		if info.Size() < saved {
			return w.openFailed(exception.NewBatchErrorf(exception.KindItemStream, module,
				"output '%s' is %d bytes, shorter than the restart position %d", w.cfg.Path, info.Size(), saved))
		}
		if err := f.Truncate(saved); err != nil {
			return w.openFailed(err)
		}
		w.position = saved
		w.lineCount, _ = ec.GetInt64(w.linesKey())
		logger.Infof("FlatFileItemWriter '%s': resumed '%s' at byte %d.", w.cfg.Name, w.cfg.Path, saved)
	} else {
		w.lineCount = 0
		if !w.cfg.Append {
			if err := f.Truncate(0); err != nil {
				return w.openFailed(err)
			}
		}
		info, err := f.Stat()
		if err != nil {
			return w.openFailed(err)
		}
		w.position = info.Size()
	}
	if _, err := f.Seek(w.position, io.SeekStart); err != nil {
		return w.openFailed(err)
	}

	if !restarted && w.position == 0 && w.cfg.Header != "" {
		if err := w.writeNow(w.cfg.Header + w.cfg.LineSeparator); err != nil {
			return w.openFailed(err)
		}
	}
	return nil
}

func (w *FlatFileItemWriter[T]) openFailed(err error) error {
	w.file.Close()
	w.file = nil
	return exception.NewBatchError(exception.KindItemStream, module, "failed to open output '"+w.cfg.Path+"'", err)
}

func (w *FlatFileItemWriter[T]) writeNow(s string) error {
	n, err := w.file.WriteString(s)
	w.position += int64(n)
	if err != nil {
		return err
	}
	return w.file.Sync()
}

// Write renders items into the pending buffer.
func (w *FlatFileItemWriter[T]) Write(_ context.Context, items []T) error {
	if w.file == nil {
		return exception.NewBatchErrorf(exception.KindIllegalState, module, "writer '%s' is not open", w.cfg.Name)
	}
	for _, item := range items {
		line, err := w.aggregator(item)
		if err != nil {
			return exception.NewBatchError(exception.KindDataConversion, module, "item could not be rendered as a line", err)
		}
		w.pending.WriteString(line)
		w.pending.WriteString(w.cfg.LineSeparator)
		w.pendingLines++
	}
	return nil
}

// Flush appends the pending lines to the file and syncs it.
func (w *FlatFileItemWriter[T]) Flush(context.Context) error {
	if w.pending.Len() == 0 {
		return nil
	}
	if err := w.writeNow(w.pending.String()); err != nil {
		return exception.NewBatchError(exception.KindItemWrite, module, "failed to write '"+w.cfg.Path+"'", err)
	}
	w.lineCount += int64(w.pendingLines)
	w.pending.Reset()
	w.pendingLines = 0
	return nil
}

// Clear discards the pending lines.
func (w *FlatFileItemWriter[T]) Clear(context.Context) error {
	w.pending.Reset()
	w.pendingLines = 0
	return nil
}

// Update saves the committed position and line count.
func (w *FlatFileItemWriter[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(w.positionKey(), w.position)
	ec.Put(w.linesKey(), w.lineCount)
	return nil
}

// Close writes the footer and closes the file.
func (w *FlatFileItemWriter[T]) Close(context.Context) error {
	if w.file == nil {
		return nil
	}
	f := w.file
	w.file = nil
	if w.cfg.Footer != "" {
		if _, err := f.WriteString(w.cfg.Footer + w.cfg.LineSeparator); err != nil {
			f.Close()
			return exception.NewBatchError(exception.KindItemStream, module, "failed to write footer", err)
		}
	}
	if err := f.Close(); err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to close '"+w.cfg.Path+"'", err)
	}
	if w.cfg.DeleteIfEmpty && w.lineCount == 0 {
		if err := os.Remove(w.cfg.Path); err != nil {
			return exception.NewBatchError(exception.KindItemStream, module, "failed to delete empty output", err)
		}
		logger.Debugf("FlatFileItemWriter '%s': deleted empty output '%s'.", w.cfg.Name, w.cfg.Path)
	}
	return nil
}

// LineCount returns the number of committed lines, header and footer excluded.
func (w *FlatFileItemWriter[T]) LineCount() int64 {
	return w.lineCount
}

var (
	_ port.ItemWriter[any]     = (*FlatFileItemWriter[any])(nil)
	_ port.ItemStream          = (*FlatFileItemWriter[any])(nil)
	_ port.TransactionalWriter = (*FlatFileItemWriter[any])(nil)
)

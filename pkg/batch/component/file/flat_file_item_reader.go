package file

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// LineMapper turns one line into an item. lineNumber counts from 1 and includes
// skipped and comment lines.
type LineMapper[T any] func(line string, lineNumber int) (T, error)

// ReaderConfig configures a FlatFileItemReader.
type ReaderConfig struct {
	// Name prefixes the ExecutionContext keys of the reader.
	Name string
	// Bucket and Object locate the input. An empty bucket selects the connection default.
	Bucket string
	Object string
	// LinesToSkip lines at the top of the input are not mapped to items.
	LinesToSkip int
	// SkippedLines receives every skipped line, typically to read a header.
	SkippedLines func(line string) error
	// Comments lists the prefixes of lines that are ignored. Defaults to "#".
	Comments []string
	// Strict makes a missing input an error. Otherwise the reader returns no items.
	Strict bool
}

// FlatFileItemReader reads items line by line from a storage object. It saves the
// number of items read at every commit and, on restart, skips that many items.
// Blank lines are ignored.
type FlatFileItemReader[T any] struct {
	conn   storage.Executor
	cfg    ReaderConfig
	mapper LineMapper[T]

	rc         io.ReadCloser
	scanner    *bufio.Scanner
	lineNumber int
	itemCount  int
	noInput    bool
}

// NewFlatFileItemReader creates a reader for cfg.Object on conn.
func NewFlatFileItemReader[T any](conn storage.Executor, cfg ReaderConfig, mapper LineMapper[T]) *FlatFileItemReader[T] {
	if cfg.Name == "" {
		cfg.Name = "flat_file_reader"
	}
	if cfg.Comments == nil {
		cfg.Comments = []string{"#"}
	}
	return &FlatFileItemReader[T]{conn: conn, cfg: cfg, mapper: mapper}
}

// SetObject changes the input. It takes effect at the next Open.
func (r *FlatFileItemReader[T]) SetObject(object string) {
	r.cfg.Object = object
}

// Object returns the current input.
func (r *FlatFileItemReader[T]) Object() string {
	return r.cfg.Object
}

func (r *FlatFileItemReader[T]) countKey() string {
	return r.cfg.Name + ".read.count"
}

// Open downloads the input, skips the header lines and fast-forwards past the
// items read by a previous execution.
func (r *FlatFileItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	r.lineNumber, r.itemCount, r.noInput = 0, 0, false
	rc, err := r.conn.Download(ctx, r.cfg.Bucket, r.cfg.Object)
	if err != nil {
		if r.cfg.Strict {
			return exception.NewBatchErrorf(exception.KindItemStream, module, "input '%s' could not be opened: %v", r.cfg.Object, err)
		}
		logger.Warnf("FlatFileItemReader '%s': input '%s' is not readable, no items will be read: %v", r.cfg.Name, r.cfg.Object, err)
		r.noInput = true
		return nil
	}
	r.rc = rc
	r.scanner = bufio.NewScanner(rc)
	r.scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	for i := 0; i < r.cfg.LinesToSkip; i++ {
		line, ok, err := r.nextRaw()
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if r.cfg.SkippedLines != nil {
			if err := r.cfg.SkippedLines(line); err != nil {
				return exception.NewBatchError(exception.KindItemStream, module, "skipped line callback failed", err)
			}
		}
	}

	restart, _ := ec.GetInt(r.countKey())
	for r.itemCount < restart {
		if _, ok, err := r.nextLine(); err != nil {
			return err
		} else if !ok {
			return exception.NewBatchErrorf(exception.KindItemStream, module,
				"input '%s' ended after %d items, before the restart position %d", r.cfg.Object, r.itemCount, restart)
		}
		r.itemCount++
	}
	if restart > 0 {
		logger.Infof("FlatFileItemReader '%s': resumed '%s' after %d items.", r.cfg.Name, r.cfg.Object, restart)
	}
	return nil
}

// Read maps the next line. A line that fails to map is returned as a
// DataConversion error; the reader has already moved past it.
func (r *FlatFileItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if r.noInput {
		return zero, port.ErrNoMoreItems
	}
	if r.scanner == nil {
		return zero, exception.NewBatchErrorf(exception.KindIllegalState, module, "reader '%s' is not open", r.cfg.Name)
	}
	line, ok, err := r.nextLine()
	if err != nil {
		return zero, err
	}
	if !ok {
		return zero, port.ErrNoMoreItems
	}
	r.itemCount++
	item, err := r.mapper(line, r.lineNumber)
	if err != nil {
		return zero, parseError(r.cfg.Object, r.lineNumber, line, err)
	}
	return item, nil
}

// Update saves the number of items read.
func (r *FlatFileItemReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(r.countKey(), r.itemCount)
	return nil
}

// Close releases the input.
func (r *FlatFileItemReader[T]) Close(context.Context) error {
	r.scanner = nil
	if r.rc == nil {
		return nil
	}
	err := r.rc.Close()
	r.rc = nil
	return err
}

// nextLine returns the next line that is neither blank nor a comment.
func (r *FlatFileItemReader[T]) nextLine() (string, bool, error) {
	for {
		line, ok, err := r.nextRaw()
		if err != nil || !ok {
			return "", ok, err
		}
		if strings.TrimSpace(line) == "" || r.isComment(line) {
			continue
		}
		return line, true, nil
	}
}

func (r *FlatFileItemReader[T]) nextRaw() (string, bool, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return "", false, exception.NewBatchError(exception.KindItemRead, module, "failed to read '"+r.cfg.Object+"'", err)
		}
		return "", false, nil
	}
	r.lineNumber++
	return strings.TrimSuffix(r.scanner.Text(), "\r"), true, nil
}

func (r *FlatFileItemReader[T]) isComment(line string) bool {
	for _, prefix := range r.cfg.Comments {
		if prefix != "" && strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

var (
	_ port.ItemReader[any] = (*FlatFileItemReader[any])(nil)
	_ port.ItemStream      = (*FlatFileItemReader[any])(nil)
)

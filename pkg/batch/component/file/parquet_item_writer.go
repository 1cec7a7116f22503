package file

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// ParquetConfig configures a ParquetItemWriter.
type ParquetConfig struct {
	// Name prefixes the ExecutionContext keys of the writer.
	Name   string
	Bucket string
	// OutputDir is the object prefix of the dataset.
	OutputDir string
	// Compression is "SNAPPY" (default), "GZIP" or "NONE".
	Compression string
	// PartitionKey, when set, returns the Hive style partition directory of an
	// item (for example "dt=2024-01-31").
	PartitionKey func(item any) (string, error)
}

type rowWriter interface {
	Write(row interface{}) error
	WriteStop() error
}

// ParquetItemWriter writes each committed chunk as one Parquet file per partition
// and uploads it to storage. Files are named part-NNNNN.parquet; the part counter
// is saved at every commit, so a restarted step overwrites the files of a chunk
// that failed to commit instead of duplicating them.
type ParquetItemWriter[T any] struct {
	conn  storage.Executor
	cfg   ParquetConfig
	codec parquet.CompressionCodec
	open  func(w io.Writer) (rowWriter, error)
	row   func(item T) (interface{}, error)

	pending map[string][]T
	part    int
}

// NewParquetItemWriter creates a writer whose schema is reflected from the
// parquet tags of prototype.
func NewParquetItemWriter[T any](conn storage.Executor, cfg ParquetConfig, prototype *T) (*ParquetItemWriter[T], error) {
	w, err := newParquetItemWriter[T](conn, cfg)
	if err != nil {
		return nil, err
	}
	w.open = func(out io.Writer) (rowWriter, error) {
		pw, err := writer.NewParquetWriterFromWriter(out, prototype, 1)
		if err != nil {
			return nil, err
		}
		pw.CompressionType = w.codec
		return pw, nil
	}
	w.row = func(item T) (interface{}, error) { return item, nil }
	return w, nil
}

// NewParquetRecordWriter creates a writer of string columns for Record and map
// items, such as those produced by the flat file reader.
func NewParquetRecordWriter(conn storage.Executor, cfg ParquetConfig, columns []string) (*ParquetItemWriter[any], error) {
	if len(columns) == 0 {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "parquet record writer requires columns", nil)
	}
	schema, err := stringSchema(columns)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "failed to build parquet schema", err)
	}
	w, err := newParquetItemWriter[any](conn, cfg)
	if err != nil {
		return nil, err
	}
	w.open = func(out io.Writer) (rowWriter, error) {
		jw, err := writer.NewJSONWriterFromWriter(schema, out, 1)
		if err != nil {
			return nil, err
		}
		jw.CompressionType = w.codec
		return jw, nil
	}
	w.row = func(item any) (interface{}, error) {
		values, err := recordValues(item)
		if err != nil {
			return nil, err
		}
		row := make(map[string]string, len(columns))
		for _, c := range columns {
			row[c] = values[c]
		}
		data, err := json.Marshal(row)
		return string(data), err
	}
	return w, nil
}

func newParquetItemWriter[T any](conn storage.Executor, cfg ParquetConfig) (*ParquetItemWriter[T], error) {
	if cfg.Name == "" {
		cfg.Name = "parquet_writer"
	}
	if cfg.OutputDir == "" {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "parquet writer '%s' requires an output directory", cfg.Name)
	}
	codec, err := compressionCodec(cfg.Compression)
	if err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, module, "invalid parquet compression", err)
	}
	return &ParquetItemWriter[T]{conn: conn, cfg: cfg, codec: codec, pending: make(map[string][]T)}, nil
}

func (w *ParquetItemWriter[T]) partKey() string { return w.cfg.Name + ".part" }

// Open restores the part counter.
func (w *ParquetItemWriter[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	w.pending = make(map[string][]T)
	w.part, _ = ec.GetInt(w.partKey())
	return nil
}

// Write buffers items by partition.
func (w *ParquetItemWriter[T]) Write(_ context.Context, items []T) error {
	for _, item := range items {
		key := ""
		if w.cfg.PartitionKey != nil {
			k, err := w.cfg.PartitionKey(item)
			if err != nil {
				return exception.NewBatchError(exception.KindDataConversion, module, "failed to derive partition key", err)
			}
			key = k
		}
		w.pending[key] = append(w.pending[key], item)
	}
	return nil
}

// Flush encodes and uploads the buffered partitions.
func (w *ParquetItemWriter[T]) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	keys := make([]string, 0, len(w.pending))
	for k := range w.pending {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs *multierror.Error
	for _, key := range keys {
		objectName := path.Join(w.cfg.OutputDir, key, fmt.Sprintf("part-%05d.parquet", w.part))
		buf, err := w.encode(w.pending[key])
		if err == nil {
			err = w.conn.Upload(ctx, w.cfg.Bucket, objectName, buf, "application/vnd.apache.parquet")
		}
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", objectName, err))
			continue
		}
		w.part++
		logger.Debugf("ParquetItemWriter '%s': uploaded %d rows to '%s'.", w.cfg.Name, len(w.pending[key]), objectName)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return exception.NewBatchError(exception.KindItemWrite, module, "failed to write parquet files", err)
	}
	w.pending = make(map[string][]T)
	return nil
}

// encode writes items into an in-memory Parquet file. WriteStop panics on some
// malformed inputs; the panic is returned as an error.
func (w *ParquetItemWriter[T]) encode(items []T) (buf *bytes.Buffer, err error) {
	buf = new(bytes.Buffer)
	pw, err := w.open(buf)
	if err != nil {
		return nil, err
	}
	defer func() {
		if r := recover(); r != nil {
			buf, err = nil, fmt.Errorf("parquet encoding panicked: %v", r)
		}
	}()
	for _, item := range items {
		row, err := w.row(item)
		if err != nil {
			return nil, exception.NewBatchError(exception.KindDataConversion, module, "item could not be encoded", err)
		}
		if err := pw.Write(row); err != nil {
			return nil, err
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, err
	}
	return buf, nil
}

// Clear discards the buffered items.
func (w *ParquetItemWriter[T]) Clear(context.Context) error {
	w.pending = make(map[string][]T)
	return nil
}

// Update saves the part counter.
func (w *ParquetItemWriter[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(w.partKey(), w.part)
	return nil
}

// Close implements port.ItemStream.
func (w *ParquetItemWriter[T]) Close(context.Context) error {
	if n := len(w.pending); n > 0 {
		logger.Warnf("ParquetItemWriter '%s': %d uncommitted partitions discarded at close.", w.cfg.Name, n)
	}
	w.pending = make(map[string][]T)
	return nil
}

func compressionCodec(name string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(name) {
	case "SNAPPY", "":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "UNCOMPRESSED":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", name)
	}
}

type schemaNode struct {
	Tag    string       `json:"Tag"`
	Fields []schemaNode `json:"Fields,omitempty"`
}

func stringSchema(columns []string) (string, error) {
	root := schemaNode{Tag: "name=parquet_go_root, repetitiontype=REQUIRED"}
	for _, c := range columns {
		if c == "" || strings.ContainsAny(c, ", =") {
			return "", fmt.Errorf("invalid column name %q", c)
		}
		root.Fields = append(root.Fields, schemaNode{
			Tag: fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", c),
		})
	}
	data, err := json.Marshal(root)
	return string(data), err
}

func recordValues(item any) (map[string]string, error) {
	switch v := item.(type) {
	case Record:
		return v.Map(), nil
	case map[string]string:
		return v, nil
	case map[string]any:
		m := make(map[string]string, len(v))
		for k, val := range v {
			m[k] = fmt.Sprint(val)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unsupported item type %T", item)
	}
}

var (
	_ port.ItemWriter[any]     = (*ParquetItemWriter[any])(nil)
	_ port.ItemStream          = (*ParquetItemWriter[any])(nil)
	_ port.TransactionalWriter = (*ParquetItemWriter[any])(nil)
)

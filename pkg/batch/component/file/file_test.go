package file_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	storageconfig "github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/file"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func newStore(t *testing.T) *local.Adapter {
	t.Helper()
	a, err := local.NewAdapter("files", storageconfig.StorageConfig{Type: "local", BaseDir: t.TempDir()})
	require.NoError(t, err)
	return a
}

func put(t *testing.T, a *local.Adapter, object, content string) {
	t.Helper()
	require.NoError(t, a.Upload(context.Background(), "", object, strings.NewReader(content), "text/csv"))
}

func recordReader(a storage.Executor, object string, names ...string) *file.FlatFileItemReader[file.Record] {
	tok := &file.DelimitedLineTokenizer{Names: names, Strict: len(names) > 0}
	return file.NewFlatFileItemReader(a, file.ReaderConfig{Name: "people", Object: object, LinesToSkip: 1},
		func(line string, _ int) (file.Record, error) { return tok.Tokenize(line) })
}

func readAll[T any](t *testing.T, r port.ItemReader[T]) []T {
	t.Helper()
	var out []T
	for {
		item, err := r.Read(context.Background())
		if errors.Is(err, port.ErrNoMoreItems) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func TestDelimitedLineTokenizer(t *testing.T) {
	tok := &file.DelimitedLineTokenizer{Names: []string{"id", "name"}}

	rec, err := tok.Tokenize(`7,"Smith, Jane"`)
	require.NoError(t, err)
	name, ok := rec.Get("name")
	assert.True(t, ok)
	assert.Equal(t, "Smith, Jane", name)

	rec, err = tok.Tokenize("1,a,extra")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"id": "1", "name": "a", "column3": "extra"}, rec.Map())

	tok.Strict = true
	_, err = tok.Tokenize("1,a,extra")
	assert.ErrorContains(t, err, "expected 2 columns")

	pipe := &file.DelimitedLineTokenizer{Delimiter: '|'}
	rec, err = pipe.Tokenize("x|y")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "y"}, rec.Values)
}

func TestDelimitedLineAggregator(t *testing.T) {
	agg := &file.DelimitedLineAggregator{Names: []string{"name", "id"}}

	line, err := agg.Aggregate(file.Record{Names: []string{"id", "name"}, Values: []string{"1", "Smith, Jane"}})
	require.NoError(t, err)
	assert.Equal(t, `"Smith, Jane",1`, line)

	line, err = agg.Aggregate(map[string]string{"id": "2", "name": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "bob,2", line)

	line, err = agg.Aggregate(42)
	require.NoError(t, err)
	assert.Equal(t, "42", line)

	_, err = (&file.DelimitedLineAggregator{}).Aggregate(map[string]string{"id": "1"})
	assert.Error(t, err)
}

func TestFlatFileItemReader_ResumesAfterCommittedItems(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)
	put(t, a, "in/people.csv", "id,name\n1,alice\n# comment\n\n2,bob\n3,carol\n")

	r := recordReader(a, "in/people.csv", "id", "name")
	ec := model.NewExecutionContext()
	require.NoError(t, r.Open(ctx, ec))
	first, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "alice"}, first.Values)
	_, err = r.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, ec))
	require.NoError(t, r.Close(ctx))

	count, _ := ec.GetInt("people.read.count")
	assert.Equal(t, 2, count)

	restarted := recordReader(a, "in/people.csv", "id", "name")
	require.NoError(t, restarted.Open(ctx, ec))
	rest := readAll[file.Record](t, restarted)
	require.Len(t, rest, 1)
	assert.Equal(t, []string{"3", "carol"}, rest[0].Values)
}

func TestFlatFileItemReader_ParseErrorCarriesLineNumber(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)
	put(t, a, "bad.csv", "id,name\n1,alice\n2\n3,carol\n")

	r := recordReader(a, "bad.csv", "id", "name")
	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	_, err := r.Read(ctx)
	require.NoError(t, err)

	_, err = r.Read(ctx)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindDataConversion))
	var pe *file.ParseError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 3, pe.LineNumber)
	assert.Equal(t, "2", pe.Line)

	next, err := r.Read(ctx)
	require.NoError(t, err, "the reader moves past a line that fails to map")
	assert.Equal(t, []string{"3", "carol"}, next.Values)
}

func TestFlatFileItemReader_MissingInput(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)
	noop := func(line string, _ int) (string, error) { return line, nil }

	lenient := file.NewFlatFileItemReader(a, file.ReaderConfig{Object: "absent.csv"}, noop)
	require.NoError(t, lenient.Open(ctx, model.NewExecutionContext()))
	_, err := lenient.Read(ctx)
	assert.ErrorIs(t, err, port.ErrNoMoreItems)

	strict := file.NewFlatFileItemReader(a, file.ReaderConfig{Object: "absent.csv", Strict: true}, noop)
	err = strict.Open(ctx, model.NewExecutionContext())
	assert.True(t, exception.IsKind(err, exception.KindItemStream))
}

func TestFlatFileItemWriter_TruncatesUncommittedLinesOnRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "out", "people.csv")
	agg := func(s string) (string, error) { return s, nil }
	cfg := file.WriterConfig{Name: "out", Path: path, Header: "name", Footer: "END"}

	w := file.NewFlatFileItemWriter(cfg, agg)
	ec := model.NewExecutionContext()
	require.NoError(t, w.Open(ctx, ec))
	require.NoError(t, w.Write(ctx, []string{"alice", "bob"}))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Update(ctx, ec))

	// A chunk that reached the file but whose commit failed.
	require.NoError(t, w.Write(ctx, []string{"lost"}))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Close(ctx))

	w = file.NewFlatFileItemWriter(cfg, agg)
	require.NoError(t, w.Open(ctx, ec))
	assert.Equal(t, int64(2), w.LineCount())
	require.NoError(t, w.Write(ctx, []string{"carol"}))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Update(ctx, ec))
	require.NoError(t, w.Close(ctx))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "name\nalice\nbob\ncarol\nEND\n", string(data))
}

func TestFlatFileItemWriter_ClearAndDeleteIfEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "empty.csv")
	w := file.NewFlatFileItemWriter(file.WriterConfig{Path: path, DeleteIfEmpty: true}, func(s string) (string, error) { return s, nil })

	require.NoError(t, w.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, w.Write(ctx, []string{"rolled back"}))
	require.NoError(t, w.Clear(ctx))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Close(ctx))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestMultiResourceItemReader_ReadsInputsInOrderAndResumes(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)
	put(t, a, "in/b.csv", "id\n3\n4\n")
	put(t, a, "in/a.csv", "id\n1\n2\n")
	put(t, a, "in/skip.txt", "id\n99\n")
	put(t, a, "other/c.csv", "id\n5\n")

	newReader := func() *file.MultiResourceItemReader[string] {
		delegate := file.NewFlatFileItemReader(a, file.ReaderConfig{Name: "delegate", LinesToSkip: 1},
			func(line string, _ int) (string, error) { return line, nil })
		return file.NewMultiResourceItemReader(a, file.MultiResourceConfig{Name: "inputs", Prefix: "in/", Pattern: "*.csv"}, delegate)
	}

	r := newReader()
	ec := model.NewExecutionContext()
	require.NoError(t, r.Open(ctx, ec))
	assert.Equal(t, []string{"in/a.csv", "in/b.csv"}, r.Objects())
	for _, want := range []string{"1", "2", "3"} {
		got, err := r.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	require.NoError(t, r.Update(ctx, ec))
	require.NoError(t, r.Close(ctx))

	idx, _ := ec.GetInt("inputs.resource.index")
	assert.Equal(t, 1, idx)

	r = newReader()
	require.NoError(t, r.Open(ctx, ec))
	assert.Equal(t, []string{"4"}, readAll[string](t, r))
	require.NoError(t, r.Close(ctx))
}

type reading struct {
	Station string  `parquet:"name=station, type=BYTE_ARRAY, convertedtype=UTF8"`
	Value   float64 `parquet:"name=value, type=DOUBLE"`
}

func download(t *testing.T, a *local.Adapter, object string) []byte {
	t.Helper()
	rc, err := a.Download(context.Background(), "", object)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	return data
}

func assertParquet(t *testing.T, data []byte) {
	t.Helper()
	require.Greater(t, len(data), 8)
	assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
	assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
}

func TestParquetItemWriter_WritesOnePartPerCommittedPartition(t *testing.T) {
	ctx := context.Background()
	a := newStore(t)
	w, err := file.NewParquetItemWriter(a, file.ParquetConfig{
		Name:        "readings",
		OutputDir:   "readings",
		Compression: "none",
		PartitionKey: func(item any) (string, error) {
			return "station=" + item.(reading).Station, nil
		},
	}, new(reading))
	require.NoError(t, err)

	ec := model.NewExecutionContext()
	require.NoError(t, w.Open(ctx, ec))
	require.NoError(t, w.Write(ctx, []reading{{"a", 1}, {"b", 2}, {"a", 3}}))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Update(ctx, ec))

	require.NoError(t, w.Write(ctx, []reading{{"c", 4}}))
	require.NoError(t, w.Clear(ctx))
	require.NoError(t, w.Flush(ctx))
	require.NoError(t, w.Close(ctx))

	var names []string
	require.NoError(t, a.ListObjects(ctx, "", "readings/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"readings/station=a/part-00000.parquet", "readings/station=b/part-00001.parquet"}, names)
	assertParquet(t, download(t, a, names[0]))

	part, _ := ec.GetInt("readings.part")
	assert.Equal(t, 2, part)
}

func TestParquetRecordWriter_ValidatesConfiguration(t *testing.T) {
	a := newStore(t)

	_, err := file.NewParquetRecordWriter(a, file.ParquetConfig{OutputDir: "x"}, nil)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = file.NewParquetRecordWriter(a, file.ParquetConfig{OutputDir: "x"}, []string{"bad,name"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = file.NewParquetRecordWriter(a, file.ParquetConfig{OutputDir: "x", Compression: "lz77"}, []string{"id"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = file.NewParquetRecordWriter(a, file.ParquetConfig{}, []string{"id"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestComponents_BuildFromProperties(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	registry := storage.NewRegistry(map[string]interface{}{
		"files": map[string]interface{}{"type": "local", "base_dir": dir},
	}, local.NewProvider())
	conn, err := registry.GetConnection("files")
	require.NoError(t, err)
	require.NoError(t, conn.Upload(ctx, "", "in/people.tsv", strings.NewReader("id\tname\n1\talice\n2\tbob\n"), "text/plain"))

	cfg := config.NewConfig()
	built, err := file.NewFlatFileItemReaderComponent(registry).Builder(cfg, map[string]string{
		"storage": "files", "object": "in/people.tsv", "delimiter": "tab", "header": "true",
	})
	require.NoError(t, err)
	reader, ok := built.(port.ItemReader[any])
	require.True(t, ok)
	require.NoError(t, reader.(port.ItemStream).Open(ctx, model.NewExecutionContext()))
	items := readAll[any](t, reader)
	require.Len(t, items, 2)
	assert.Equal(t, map[string]string{"id": "2", "name": "bob"}, items[1].(file.Record).Map())

	built, err = file.NewParquetItemWriterComponent(registry).Builder(cfg, map[string]string{
		"storage": "files", "output-dir": "out", "columns": "id,name", "partition-column": "id",
	})
	require.NoError(t, err)
	pw := built.(*file.ParquetItemWriter[any])
	require.NoError(t, pw.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, pw.Write(ctx, items))
	require.NoError(t, pw.Flush(ctx))
	data, err := os.ReadFile(filepath.Join(dir, "out", "id=1", "part-00000.parquet"))
	require.NoError(t, err)
	assertParquet(t, data)

	built, err = file.NewFlatFileItemWriterComponent(registry).Builder(cfg, map[string]string{
		"storage": "files", "object": "out/people.csv", "names": "name,id", "header": "name,id",
	})
	require.NoError(t, err)
	fw := built.(*file.FlatFileItemWriter[any])
	require.NoError(t, fw.Open(ctx, model.NewExecutionContext()))
	require.NoError(t, fw.Write(ctx, items))
	require.NoError(t, fw.Flush(ctx))
	require.NoError(t, fw.Close(ctx))
	data, err = os.ReadFile(filepath.Join(dir, "out", "people.csv"))
	require.NoError(t, err)
	assert.Equal(t, "name,id\nalice,1\nbob,2\n", string(data))

	_, err = file.NewFlatFileItemReaderComponent(registry).Builder(cfg, map[string]string{"storage": "files"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
	_, err = file.NewFlatFileItemReaderComponent(registry).Builder(cfg, map[string]string{"storage": "files", "object": "x", "delimiter": "ab"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

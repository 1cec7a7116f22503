package file

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/storage"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Component references registered by Module.
const (
	RefFlatFileItemReader      = "flatFileItemReader"
	RefMultiResourceItemReader = "multiResourceItemReader"
	RefFlatFileItemWriter      = "flatFileItemWriter"
	RefParquetItemWriter       = "parquetItemWriter"
)

// lineProperties are the tokenizer settings shared by the flat file readers.
type lineProperties struct {
	Name        string   `yaml:"name"`
	Storage     string   `yaml:"storage"`
	Bucket      string   `yaml:"bucket"`
	Delimiter   string   `yaml:"delimiter"`
	Names       []string `yaml:"names"`
	Header      bool     `yaml:"header"`
	LinesToSkip int      `yaml:"lines-to-skip"`
	Strict      bool     `yaml:"strict"`
}

type multiResourceProperties struct {
	Prefix  string `yaml:"prefix"`
	Pattern string `yaml:"pattern"`
}

type writerProperties struct {
	Name          string   `yaml:"name"`
	Path          string   `yaml:"path"`
	Storage       string   `yaml:"storage"`
	Bucket        string   `yaml:"bucket"`
	Object        string   `yaml:"object"`
	Delimiter     string   `yaml:"delimiter"`
	Names         []string `yaml:"names"`
	Header        string   `yaml:"header"`
	Footer        string   `yaml:"footer"`
	Append        bool     `yaml:"append"`
	DeleteIfEmpty bool     `yaml:"delete-if-empty"`
}

type parquetProperties struct {
	Name            string   `yaml:"name"`
	Storage         string   `yaml:"storage"`
	Bucket          string   `yaml:"bucket"`
	OutputDir       string   `yaml:"output-dir"`
	Compression     string   `yaml:"compression"`
	Columns         []string `yaml:"columns"`
	PartitionColumn string   `yaml:"partition-column"`
}

func bind(ref string, properties map[string]string, target interface{}) error {
	if err := configbinder.BindStringProperties(properties, target); err != nil {
		return exception.NewBatchError(exception.KindConfiguration, module, fmt.Sprintf("invalid properties for '%s'", ref), err)
	}
	return nil
}

func parseDelimiter(s string) (rune, error) {
	switch strings.ToLower(s) {
	case "":
		return ',', nil
	case "tab", `\t`:
		return '\t', nil
	}
	r, size := utf8.DecodeRuneInString(s)
	if size != len(s) {
		return 0, exception.NewBatchErrorf(exception.KindConfiguration, module, "delimiter %q must be a single character", s)
	}
	return r, nil
}

func connection(resolver storage.Resolver, ref, name string) (storage.Connection, error) {
	if name == "" {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'storage' property", ref)
	}
	return resolver.GetConnection(name)
}

// lineReader builds a flat file reader producing Records from p.
func lineReader(conn storage.Executor, p lineProperties, object string) (*FlatFileItemReader[any], error) {
	delim, err := parseDelimiter(p.Delimiter)
	if err != nil {
		return nil, err
	}
	tok := &DelimitedLineTokenizer{Delimiter: delim, Names: p.Names, Strict: p.Strict}
	cfg := ReaderConfig{Name: p.Name, Bucket: p.Bucket, Object: object, LinesToSkip: p.LinesToSkip, Strict: p.Strict}
	if p.Header {
		if cfg.LinesToSkip < 1 {
			cfg.LinesToSkip = 1
		}
		if len(p.Names) == 0 {
			headerTok := &DelimitedLineTokenizer{Delimiter: delim}
			cfg.SkippedLines = func(line string) error {
				if len(tok.Names) > 0 {
					return nil
				}
				rec, err := headerTok.Tokenize(line)
				if err != nil {
					return err
				}
				tok.Names = rec.Values
				return nil
			}
		}
	}
	return NewFlatFileItemReader(conn, cfg, func(line string, _ int) (any, error) {
		return tok.Tokenize(line)
	}), nil
}

// NewFlatFileItemReaderComponent registers the delimited file reader.
func NewFlatFileItemReaderComponent(resolver storage.Resolver) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefFlatFileItemReader, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var p lineProperties
		if err := bind(RefFlatFileItemReader, properties, &p); err != nil {
			return nil, err
		}
		object := properties["object"]
		if object == "" {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'object' property", RefFlatFileItemReader)
		}
		conn, err := connection(resolver, RefFlatFileItemReader, p.Storage)
		if err != nil {
			return nil, err
		}
		return lineReader(conn, p, object)
	}}
}

// NewMultiResourceItemReaderComponent registers the reader over every object under a prefix.
func NewMultiResourceItemReaderComponent(resolver storage.Resolver) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefMultiResourceItemReader, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var (
			lp lineProperties
			p  multiResourceProperties
		)
		if err := bind(RefMultiResourceItemReader, properties, &lp); err != nil {
			return nil, err
		}
		if err := bind(RefMultiResourceItemReader, properties, &p); err != nil {
			return nil, err
		}
		conn, err := connection(resolver, RefMultiResourceItemReader, lp.Storage)
		if err != nil {
			return nil, err
		}
		if lp.Name == "" {
			lp.Name = "multi_resource_reader"
		}
		delegateProps := lp
		delegateProps.Name = lp.Name + ".delegate"
		delegate, err := lineReader(conn, delegateProps, "")
		if err != nil {
			return nil, err
		}
		return NewMultiResourceItemReader(conn, MultiResourceConfig{
			Name:    lp.Name,
			Bucket:  lp.Bucket,
			Prefix:  p.Prefix,
			Pattern: p.Pattern,
			Strict:  lp.Strict,
		}, delegate), nil
	}}
}

// localPather is implemented by storage connections backed by the local file system.
type localPather interface {
	Path(bucket, objectName string) (string, error)
}

// NewFlatFileItemWriterComponent registers the delimited file writer. The output
// is either 'path' or an 'object' of a local 'storage' entry.
func NewFlatFileItemWriterComponent(resolver storage.Resolver) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefFlatFileItemWriter, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var p writerProperties
		if err := bind(RefFlatFileItemWriter, properties, &p); err != nil {
			return nil, err
		}
		if p.Path == "" {
			conn, err := connection(resolver, RefFlatFileItemWriter, p.Storage)
			if err != nil {
				return nil, err
			}
			lp, ok := conn.(localPather)
			if !ok {
				return nil, exception.NewBatchErrorf(exception.KindConfiguration, module,
					"'%s' writes local files, storage '%s' is of type '%s'", RefFlatFileItemWriter, p.Storage, conn.Type())
			}
			if p.Path, err = lp.Path(p.Bucket, p.Object); err != nil {
				return nil, exception.NewBatchError(exception.KindConfiguration, module, "invalid output object", err)
			}
		}
		delim, err := parseDelimiter(p.Delimiter)
		if err != nil {
			return nil, err
		}
		agg := &DelimitedLineAggregator{Delimiter: delim, Names: p.Names}
		return NewFlatFileItemWriter(WriterConfig{
			Name:          p.Name,
			Path:          p.Path,
			Header:        p.Header,
			Footer:        p.Footer,
			Append:        p.Append,
			DeleteIfEmpty: p.DeleteIfEmpty,
		}, agg.Aggregate), nil
	}}
}

// NewParquetItemWriterComponent registers the Parquet writer of string columns.
// 'partition-column' partitions the dataset by the value of that column.
func NewParquetItemWriterComponent(resolver storage.Resolver) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefParquetItemWriter, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var p parquetProperties
		if err := bind(RefParquetItemWriter, properties, &p); err != nil {
			return nil, err
		}
		conn, err := connection(resolver, RefParquetItemWriter, p.Storage)
		if err != nil {
			return nil, err
		}
		cfg := ParquetConfig{Name: p.Name, Bucket: p.Bucket, OutputDir: p.OutputDir, Compression: p.Compression}
		if col := p.PartitionColumn; col != "" {
			cfg.PartitionKey = func(item any) (string, error) {
				values, err := recordValues(item)
				if err != nil {
					return "", err
				}
				return col + "=" + values[col], nil
			}
		}
		return NewParquetRecordWriter(conn, cfg, p.Columns)
	}}
}

// Module registers the file components into the "components" group. It needs a
// storage.Resolver, provided by storage.Module.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewFlatFileItemReaderComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewMultiResourceItemReaderComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewFlatFileItemWriterComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewParquetItemWriterComponent, fx.ResultTags(`group:"components"`)),
	),
)

package database

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"gorm.io/gorm"

	dbadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	jsl "github.com/tigerroll/chunkbatch/pkg/batch/core/config/jsl"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Component references registered by Module.
const (
	RefPagingItemReader = "gormPagingItemReader"
	RefCursorItemReader = "gormCursorItemReader"
	RefGormItemWriter   = "gormItemWriter"
)

type pagingProperties struct {
	Name     string   `yaml:"name"`
	Database string   `yaml:"database"`
	Table    string   `yaml:"table"`
	Columns  []string `yaml:"columns"`
	Where    string   `yaml:"where"`
	Order    string   `yaml:"order"`
	PageSize int      `yaml:"page-size"`
}

type cursorProperties struct {
	Name     string `yaml:"name"`
	Database string `yaml:"database"`
	Query    string `yaml:"query"`
}

type writerProperties struct {
	Name            string   `yaml:"name"`
	Database        string   `yaml:"database"`
	Table           string   `yaml:"table"`
	BatchSize       int      `yaml:"batch-size"`
	ConflictColumns []string `yaml:"conflict-columns"`
	UpdateColumns   []string `yaml:"update-columns"`
}

// row is the item type of readers built from properties.
type row = map[string]interface{}

// streamReader exposes a typed reader and stream as an untyped reader.
type streamReader[T any] interface {
	port.ItemReader[T]
	port.ItemStream
}

// connection resolves a database entry at call time. Components built from
// properties hold one instead of a *gorm.DB, so they keep working after the
// provider re-establishes the connection (as the migration tasklet does).
type connection func() (*gorm.DB, error)

// lazyReader builds its delegate on Open, from the connection current at that time.
type lazyReader[T any] struct {
	name  string
	db    connection
	build func(db *gorm.DB) streamReader[T]
	r     streamReader[T]
}

func (l *lazyReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	db, err := l.db()
	if err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to resolve the connection of '"+l.name+"'", err)
	}
	l.r = l.build(db)
	return l.r.Open(ctx, ec)
}

func (l *lazyReader[T]) Read(ctx context.Context) (any, error) {
	if l.r == nil {
		return nil, exception.NewBatchErrorf(exception.KindItemStream, module, "reader '%s' was not opened", l.name)
	}
	item, err := l.r.Read(ctx)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (l *lazyReader[T]) Update(ctx context.Context, ec model.ExecutionContext) error {
	if l.r == nil {
		return nil
	}
	return l.r.Update(ctx, ec)
}

func (l *lazyReader[T]) Close(ctx context.Context) error {
	if l.r == nil {
		return nil
	}
	return l.r.Close(ctx)
}

// lazyWriter writes each chunk through the connection current at that time.
type lazyWriter struct {
	db  connection
	cfg WriterConfig
}

func (w lazyWriter) Write(ctx context.Context, items []any) error {
	db, err := w.db()
	if err != nil {
		return exception.NewBatchError(exception.KindItemWrite, module, "failed to resolve the connection of '"+w.cfg.Name+"'", err)
	}
	return NewGormItemWriter[any](db, w.cfg).Write(ctx, items)
}

func bind(ref string, properties map[string]string, target interface{}) error {
	if err := configbinder.BindStringProperties(properties, target); err != nil {
		return exception.NewBatchError(exception.KindConfiguration, module, fmt.Sprintf("invalid properties for '%s'", ref), err)
	}
	return nil
}

// gormDB checks that the named entry can be opened and returns its resolver.
func gormDB(provider dbadapter.DBProvider, ref, name string) (connection, error) {
	if name == "" {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'database' property", ref)
	}
	if _, err := provider.GetConnection(name); err != nil {
		return nil, err
	}
	return func() (*gorm.DB, error) {
		conn, err := provider.GetConnection(name)
		if err != nil {
			return nil, err
		}
		return conn.GormDB(), nil
	}, nil
}

// NewPagingItemReaderComponent registers the paging reader. 'table' and 'order'
// are required; 'columns' and 'where' narrow the query.
func NewPagingItemReaderComponent(provider dbadapter.DBProvider) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefPagingItemReader, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var p pagingProperties
		if err := bind(RefPagingItemReader, properties, &p); err != nil {
			return nil, err
		}
		if p.Table == "" || p.Order == "" {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'table' and 'order' properties", RefPagingItemReader)
		}
		db, err := gormDB(provider, RefPagingItemReader, p.Database)
		if err != nil {
			return nil, err
		}
		query := func(q *gorm.DB) *gorm.DB {
			q = q.Table(p.Table).Order(p.Order)
			if len(p.Columns) > 0 {
				q = q.Select(p.Columns)
			}
			if p.Where != "" {
				q = q.Where(p.Where)
			}
			return q
		}
		return &lazyReader[row]{name: RefPagingItemReader, db: db, build: func(db *gorm.DB) streamReader[row] {
			return NewPagingItemReader[row](db, p.Name, p.PageSize, query)
		}}, nil
	}}
}

// NewCursorItemReaderComponent registers the cursor reader over a raw 'query'.
func NewCursorItemReaderComponent(provider dbadapter.DBProvider) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefCursorItemReader, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var p cursorProperties
		if err := bind(RefCursorItemReader, properties, &p); err != nil {
			return nil, err
		}
		if p.Query == "" {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'query' property", RefCursorItemReader)
		}
		db, err := gormDB(provider, RefCursorItemReader, p.Database)
		if err != nil {
			return nil, err
		}
		return &lazyReader[row]{name: RefCursorItemReader, db: db, build: func(db *gorm.DB) streamReader[row] {
			return NewCursorItemReader[row](db, p.Name, p.Query, nil, nil)
		}}, nil
	}}
}

// NewGormItemWriterComponent registers the table writer. Items are column maps
// or values exposing Map() map[string]string.
func NewGormItemWriterComponent(provider dbadapter.DBProvider) jsl.ComponentRegistration {
	return jsl.ComponentRegistration{Ref: RefGormItemWriter, Builder: func(_ *config.Config, properties map[string]string) (interface{}, error) {
		var p writerProperties
		if err := bind(RefGormItemWriter, properties, &p); err != nil {
			return nil, err
		}
		if p.Table == "" {
			return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "'%s' requires the 'table' property", RefGormItemWriter)
		}
		db, err := gormDB(provider, RefGormItemWriter, p.Database)
		if err != nil {
			return nil, err
		}
		return lazyWriter{db: db, cfg: WriterConfig{
			Name:            p.Name,
			Table:           p.Table,
			BatchSize:       p.BatchSize,
			ConflictColumns: p.ConflictColumns,
			UpdateColumns:   p.UpdateColumns,
		}}, nil
	}}
}

// Module registers the database components into the "components" group. It
// needs a database.DBProvider, provided by the GORM adapter module.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewPagingItemReaderComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewCursorItemReaderComponent, fx.ResultTags(`group:"components"`)),
		fx.Annotate(NewGormItemWriterComponent, fx.ResultTags(`group:"components"`)),
	),
)

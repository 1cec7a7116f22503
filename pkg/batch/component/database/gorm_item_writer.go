package database

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// WriterConfig configures a GormItemWriter.
type WriterConfig struct {
	// Name identifies the writer in logs.
	Name string
	// Table is required for map items; model items default to their GORM table.
	Table string
	// BatchSize bounds the rows of one INSERT statement. Zero writes a chunk at once.
	BatchSize int
	// ConflictColumns turns inserts into upserts on these columns.
	ConflictColumns []string
	// UpdateColumns are overwritten on conflict. Empty means DO NOTHING.
	UpdateColumns []string
}

// GormItemWriter inserts chunks through the chunk transaction carried by the
// context, or directly on the connection when none is active.
type GormItemWriter[T any] struct {
	db  *gorm.DB
	cfg WriterConfig

	columnsOnce sync.Once
	columns     map[string]columnKind
}

// NewGormItemWriter creates a writer on db.
func NewGormItemWriter[T any](db *gorm.DB, cfg WriterConfig) *GormItemWriter[T] {
	if cfg.Name == "" {
		cfg.Name = "gorm_writer"
	}
	return &GormItemWriter[T]{db: db, cfg: cfg}
}

// Write inserts items.
func (w *GormItemWriter[T]) Write(ctx context.Context, items []T) error {
	if len(items) == 0 {
		return nil
	}
	rows, err := toRows(items)
	if err != nil {
		return exception.NewBatchError(exception.KindDataConversion, module, "items cannot be written by '"+w.cfg.Name+"'", err)
	}

	q := gormadapter.DB(ctx, w.db)
	if w.cfg.Table != "" {
		if maps, ok := rows.([]map[string]interface{}); ok {
			w.normalize(q, maps)
		}
		q = q.Table(w.cfg.Table)
	}
	if len(w.cfg.ConflictColumns) > 0 {
		onConflict := clause.OnConflict{Columns: make([]clause.Column, 0, len(w.cfg.ConflictColumns))}
		for _, c := range w.cfg.ConflictColumns {
			onConflict.Columns = append(onConflict.Columns, clause.Column{Name: c})
		}
		if len(w.cfg.UpdateColumns) > 0 {
			onConflict.DoUpdates = clause.AssignmentColumns(w.cfg.UpdateColumns)
		} else {
			onConflict.DoNothing = true
		}
		q = q.Clauses(onConflict)
	}

	batch := w.cfg.BatchSize
	if batch <= 0 {
		batch = len(items)
	}
	if err := q.CreateInBatches(rows, batch).Error; err != nil {
		return exception.NewBatchError(exception.KindItemWrite, module, fmt.Sprintf("failed to write %d items with '%s'", len(items), w.cfg.Name), err)
	}
	logger.Debugf("GormItemWriter '%s': wrote %d items.", w.cfg.Name, len(items))
	return nil
}

type columnKind int

const (
	columnOther columnKind = iota
	columnInteger
	columnFloat
	columnBool
	columnText
)

func kindOfColumn(databaseType string) columnKind {
	t := strings.ToUpper(databaseType)
	switch {
	case strings.Contains(t, "INT") && !strings.Contains(t, "POINT") && !strings.Contains(t, "INTERVAL"), strings.Contains(t, "SERIAL"):
		return columnInteger
	case strings.Contains(t, "BOOL"):
		return columnBool
	case strings.Contains(t, "REAL"), strings.Contains(t, "FLOA"), strings.Contains(t, "DOUB"), strings.Contains(t, "NUMERIC"), strings.Contains(t, "DECIMAL"):
		return columnFloat
	case strings.Contains(t, "CHAR"), strings.Contains(t, "TEXT"), strings.Contains(t, "CLOB"):
		return columnText
	default:
		return columnOther
	}
}

// normalize converts map values to the Go type of their column, so that a batch
// mixing map[string]string and typed maps binds every column the same way.
// Column types are read once per writer; when they cannot be read the rows are
// written as given.
func (w *GormItemWriter[T]) normalize(q *gorm.DB, rows []map[string]interface{}) {
	w.columnsOnce.Do(func() {
		types, err := q.Migrator().ColumnTypes(w.cfg.Table)
		if err != nil {
			logger.Debugf("GormItemWriter '%s': column types of '%s' unavailable: %v", w.cfg.Name, w.cfg.Table, err)
			return
		}
		w.columns = make(map[string]columnKind, len(types))
		for _, ct := range types {
			w.columns[ct.Name()] = kindOfColumn(ct.DatabaseTypeName())
		}
	})
	if len(w.columns) == 0 {
		return
	}
	for _, row := range rows {
		for k, v := range row {
			row[k] = coerce(v, w.columns[k])
		}
	}
}

func coerce(v interface{}, kind columnKind) interface{} {
	switch val := v.(type) {
	case string:
		switch kind {
		case columnInteger:
			if n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
				return n
			}
		case columnFloat:
			if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
				return f
			}
		case columnBool:
			if b, err := strconv.ParseBool(strings.TrimSpace(val)); err == nil {
				return b
			}
		}
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64, bool:
		if kind == columnText {
			return fmt.Sprint(val)
		}
	}
	return v
}

type mapper interface {
	Map() map[string]string
}

// toRows returns items as GORM accepts them: the slice itself for concrete item
// types, or a slice of column maps when T is an interface type.
func toRows[T any](items []T) (interface{}, error) {
	var zero T
	if any(zero) != nil {
		return items, nil
	}
	rows := make([]map[string]interface{}, 0, len(items))
	for _, item := range items {
		switch v := any(item).(type) {
		case map[string]interface{}:
			m := make(map[string]interface{}, len(v))
			for k, val := range v {
				m[k] = val
			}
			rows = append(rows, m)
		case map[string]string:
			m := make(map[string]interface{}, len(v))
			for k, val := range v {
				m[k] = val
			}
			rows = append(rows, m)
		case mapper:
			m := make(map[string]interface{})
			for k, val := range v.Map() {
				m[k] = val
			}
			rows = append(rows, m)
		default:
			return nil, fmt.Errorf("unsupported item type %T", item)
		}
	}
	return rows, nil
}

var _ port.ItemWriter[any] = (*GormItemWriter[any])(nil)

package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// RowMapper maps the current row of rows to an item.
type RowMapper[T any] func(db *gorm.DB, rows *sql.Rows) (T, error)

// ScanRow is the default RowMapper. It scans the row into T with GORM, matching
// columns to fields the way GORM does for models, or by key for maps.
func ScanRow[T any](db *gorm.DB, rows *sql.Rows) (T, error) {
	var item T
	err := db.ScanRows(rows, &item)
	return item, err
}

// CursorItemReader streams the rows of a raw query over one open cursor. The
// cursor is opened outside any chunk transaction and held until Close. On restart
// the rows read by the previous execution are skipped.
type CursorItemReader[T any] struct {
	db     *gorm.DB
	name   string
	query  string
	args   []interface{}
	mapper RowMapper[T]

	rows      *sql.Rows
	readCount int
}

// NewCursorItemReader creates a reader for query. A nil mapper selects ScanRow.
func NewCursorItemReader[T any](db *gorm.DB, name, query string, args []interface{}, mapper RowMapper[T]) *CursorItemReader[T] {
	if name == "" {
		name = "cursor_reader"
	}
	if mapper == nil {
		mapper = ScanRow[T]
	}
	return &CursorItemReader[T]{db: db, name: name, query: query, args: args, mapper: mapper}
}

func (r *CursorItemReader[T]) countKey() string { return r.name + ".read.count" }

// Open runs the query and moves past the rows already read.
func (r *CursorItemReader[T]) Open(ctx context.Context, ec model.ExecutionContext) error {
	rows, err := r.db.WithContext(ctx).Raw(r.query, r.args...).Rows()
	if err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to open cursor for '"+r.name+"'", err)
	}
	r.rows = rows
	r.readCount = 0

	restart, _ := ec.GetInt(r.countKey())
	for r.readCount < restart {
		if !rows.Next() {
			err := rows.Err()
			r.Close(ctx)
			if err != nil {
				return exception.NewBatchError(exception.KindItemStream, module, "failed to skip rows for '"+r.name+"'", err)
			}
			return exception.NewBatchErrorf(exception.KindItemStream, module,
				"cursor '%s' ended after %d rows, before the restart position %d", r.name, r.readCount, restart)
		}
		r.readCount++
	}
	if restart > 0 {
		logger.Infof("CursorItemReader '%s': resumed after %d rows.", r.name, restart)
	}
	return nil
}

// Read maps the next row.
func (r *CursorItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if r.rows == nil {
		return zero, exception.NewBatchErrorf(exception.KindIllegalState, module, "cursor '%s' is not open", r.name)
	}
	if !r.rows.Next() {
		if err := r.rows.Err(); err != nil {
			return zero, exception.NewBatchError(exception.KindItemRead, module, "cursor iteration failed for '"+r.name+"'", err)
		}
		return zero, port.ErrNoMoreItems
	}
	r.readCount++
	item, err := r.mapper(r.db, r.rows)
	if err != nil {
		return zero, exception.NewBatchError(exception.KindDataConversion, module, "failed to map row for '"+r.name+"'", err)
	}
	return item, nil
}

// Update saves the number of rows read.
func (r *CursorItemReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(r.countKey(), r.readCount)
	return nil
}

// Close closes the cursor.
func (r *CursorItemReader[T]) Close(context.Context) error {
	if r.rows == nil {
		return nil
	}
	err := r.rows.Close()
	r.rows = nil
	if err != nil {
		return exception.NewBatchError(exception.KindItemStream, module, "failed to close cursor for '"+r.name+"'", err)
	}
	return nil
}

var (
	_ port.ItemReader[any] = (*CursorItemReader[any])(nil)
	_ port.ItemStream      = (*CursorItemReader[any])(nil)
)

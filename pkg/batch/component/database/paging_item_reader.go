// Package database provides item readers and writers over GORM connections.
package database

import (
	"context"

	"gorm.io/gorm"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "database"

// QueryFunc shapes the query of a paging reader: table, columns, filters and,
// required for stable paging, an ORDER BY.
type QueryFunc func(db *gorm.DB) *gorm.DB

// PagingItemReader reads a query page by page with LIMIT and OFFSET. Each page is
// fetched through the chunk transaction when one is active. The number of items
// read is saved at every commit; a restart resumes at that offset.
type PagingItemReader[T any] struct {
	db       *gorm.DB
	name     string
	pageSize int
	query    QueryFunc

	page      []T
	pagePos   int
	readCount int
	exhausted bool
}

// NewPagingItemReader creates a reader of pageSize rows per query.
func NewPagingItemReader[T any](db *gorm.DB, name string, pageSize int, query QueryFunc) *PagingItemReader[T] {
	if name == "" {
		name = "paging_reader"
	}
	if pageSize <= 0 {
		pageSize = 100
	}
	return &PagingItemReader[T]{db: db, name: name, pageSize: pageSize, query: query}
}

func (r *PagingItemReader[T]) countKey() string { return r.name + ".read.count" }

// Open restores the offset.
func (r *PagingItemReader[T]) Open(_ context.Context, ec model.ExecutionContext) error {
	r.page, r.pagePos, r.exhausted = nil, 0, false
	r.readCount, _ = ec.GetInt(r.countKey())
	if r.readCount < 0 {
		return exception.NewBatchErrorf(exception.KindItemStream, module, "saved read count %d is negative", r.readCount)
	}
	return nil
}

// Read returns the next row, fetching a new page when the current one is consumed.
func (r *PagingItemReader[T]) Read(ctx context.Context) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if r.pagePos >= len(r.page) {
		if r.exhausted {
			return zero, port.ErrNoMoreItems
		}
		if err := r.fetch(ctx); err != nil {
			return zero, err
		}
		if len(r.page) == 0 {
			return zero, port.ErrNoMoreItems
		}
	}
	item := r.page[r.pagePos]
	r.pagePos++
	r.readCount++
	return item, nil
}

func (r *PagingItemReader[T]) fetch(ctx context.Context) error {
	var page []T
	q := gormadapter.DB(ctx, r.db)
	if r.query != nil {
		q = r.query(q)
	}
	if err := q.Offset(r.readCount).Limit(r.pageSize).Find(&page).Error; err != nil {
		return exception.NewBatchError(exception.KindItemRead, module, "failed to fetch page for '"+r.name+"'", err)
	}
	r.page, r.pagePos = page, 0
	r.exhausted = len(page) < r.pageSize
	return nil
}

// Update saves the number of items read.
func (r *PagingItemReader[T]) Update(_ context.Context, ec model.ExecutionContext) error {
	ec.Put(r.countKey(), r.readCount)
	return nil
}

// Close drops the current page.
func (r *PagingItemReader[T]) Close(context.Context) error {
	r.page = nil
	return nil
}

var (
	_ port.ItemReader[any] = (*PagingItemReader[any])(nil)
	_ port.ItemStream      = (*PagingItemReader[any])(nil)
)

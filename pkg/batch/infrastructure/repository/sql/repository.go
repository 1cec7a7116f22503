// Package sql provides a JobRepository persisting batch metadata through GORM.
// Operations join the chunk transaction carried by the context, if any.
package sql

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const module = "SQLJobRepository"

// SQLJobRepository implements repository.JobRepository on the batch_* tables.
type SQLJobRepository struct {
	provider database.DBProvider
	// dbName is the name of the database connection used by this JobRepository (e.g., "metadata").
	dbName string
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)

// NewSQLJobRepository creates a repository on the connection named dbName.
// The connection is resolved on every call so that a re-established pool is picked up.
func NewSQLJobRepository(provider database.DBProvider, dbName string) *SQLJobRepository {
	return &SQLJobRepository{provider: provider, dbName: dbName}
}

// db returns the transaction handle carried by ctx, or the connection handle.
func (r *SQLJobRepository) db(ctx context.Context) (*gorm.DB, error) {
	conn, err := r.provider.GetConnection(r.dbName)
	if err != nil {
		return nil, exception.NewBatchErrorf(exception.KindRepository, module, "failed to resolve DB connection '%s'", r.dbName, err)
	}
	return gormadapter.DB(ctx, conn.GormDB()), nil
}

// Close releases resources used by the repository. Connections belong to the provider.
func (r *SQLJobRepository) Close() error {
	return nil
}

func storeError(format string, args ...interface{}) error {
	return exception.NewBatchErrorf(exception.KindRepository, module, format, args...)
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

package sql

import (
	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// NewJobRepositoryFromConfig creates a SQLJobRepository on the configured db_ref connection.
func NewJobRepositoryFromConfig(cfg *config.Config, provider database.DBProvider) *SQLJobRepository {
	return NewSQLJobRepository(provider, cfg.Chunkbatch.Infrastructure.JobRepository.DBRef)
}

// NewTransactionManagerFromConfig creates a transaction manager on the same connection
// as the repository, so that chunk writes and metadata updates commit together.
func NewTransactionManagerFromConfig(cfg *config.Config, provider database.DBProvider) *gormadapter.TransactionManager {
	return gormadapter.NewConnectionTransactionManager(provider, cfg.Chunkbatch.Infrastructure.JobRepository.DBRef)
}

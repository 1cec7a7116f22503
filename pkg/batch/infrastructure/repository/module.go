// Package repository selects the JobRepository implementation named by
// chunkbatch.infrastructure.job_repository.type.
package repository

import (
	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	domainrepo "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Params are the dependencies of NewFromConfig. Provider is required only for the SQL repository.
type Params struct {
	fx.In
	Config   *config.Config
	Provider database.DBProvider `optional:"true"`
}

// Result carries the selected repository and the transaction manager chunks commit against.
type Result struct {
	fx.Out
	Repository         domainrepo.JobRepository
	TransactionManager tx.TransactionManager
}

// NewFromConfig builds the configured JobRepository.
func NewFromConfig(p Params) (Result, error) {
	repoCfg := p.Config.Chunkbatch.Infrastructure.JobRepository
	switch repoCfg.Type {
	case "", config.RepositoryTypeInMemory:
		logger.Debugf("Using the in-memory job repository.")
		return Result{
			Repository:         inmemory.NewInMemoryJobRepository(),
			TransactionManager: tx.NewResourcelessTransactionManager(),
		}, nil
	case config.RepositoryTypeSQL:
		if p.Provider == nil {
			return Result{}, exception.NewBatchError(exception.KindConfiguration, "repository",
				"the sql job repository requires a database provider", nil)
		}
		logger.Debugf("Using the SQL job repository on '%s'.", repoCfg.DBRef)
		return Result{
			Repository:         sqlrepo.NewJobRepositoryFromConfig(p.Config, p.Provider),
			TransactionManager: sqlrepo.NewTransactionManagerFromConfig(p.Config, p.Provider),
		}, nil
	default:
		return Result{}, exception.NewBatchErrorf(exception.KindConfiguration, "repository",
			"unknown job repository type '%s'", repoCfg.Type)
	}
}

// Module provides the configured JobRepository and TransactionManager.
var Module = fx.Options(
	fx.Provide(NewFromConfig),
)

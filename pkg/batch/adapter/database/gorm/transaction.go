package gorm

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

// Tx implements tx.Tx on a GORM transaction.
type Tx struct {
	db *gorm.DB
	// pool is the connection pool the transaction was begun on.
	pool gorm.ConnPool
}

// DB returns the transaction handle.
func (t *Tx) DB() *gorm.DB { return t.db }

// Savepoint implements tx.Tx.
func (t *Tx) Savepoint(name string) error {
	return t.db.SavePoint(name).Error
}

// RollbackToSavepoint implements tx.Tx.
func (t *Tx) RollbackToSavepoint(name string) error {
	return t.db.RollbackTo(name).Error
}

// TransactionManager implements tx.TransactionManager on a GORM connection.
type TransactionManager struct {
	resolve func() (*gorm.DB, error)
}

var _ tx.TransactionManager = (*TransactionManager)(nil)

// NewTransactionManager creates a TransactionManager for db.
func NewTransactionManager(db *gorm.DB) *TransactionManager {
	return &TransactionManager{resolve: func() (*gorm.DB, error) { return db, nil }}
}

// NewConnectionTransactionManager creates a TransactionManager that begins transactions
// on the connection named name, looked up in provider at every Begin.
func NewConnectionTransactionManager(provider database.DBProvider, name string) *TransactionManager {
	return &TransactionManager{resolve: func() (*gorm.DB, error) {
		conn, err := provider.GetConnection(name)
		if err != nil {
			return nil, err
		}
		return conn.GormDB(), nil
	}}
}

// Begin implements tx.TransactionManager.
func (m *TransactionManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	db, err := m.resolve()
	if err != nil {
		return nil, exception.NewBatchError(exception.KindRepository, moduleName, "failed to resolve connection", err)
	}
	t := db.WithContext(ctx).Begin(opts...)
	if t.Error != nil {
		return nil, exception.NewBatchError(exception.KindRepository, moduleName, "failed to begin transaction", t.Error)
	}
	return &Tx{db: t, pool: db.ConnPool}, nil
}

// Commit implements tx.TransactionManager.
func (m *TransactionManager) Commit(t tx.Tx) error {
	g, err := asGormTx(t)
	if err != nil {
		return err
	}
	return g.db.Commit().Error
}

// Rollback implements tx.TransactionManager.
func (m *TransactionManager) Rollback(t tx.Tx) error {
	g, err := asGormTx(t)
	if err != nil {
		return err
	}
	return g.db.Rollback().Error
}

func asGormTx(t tx.Tx) (*Tx, error) {
	g, ok := t.(*Tx)
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindIllegalState, moduleName, "transaction of type %T was not begun by the GORM transaction manager", t)
	}
	return g, nil
}

// DB returns the handle of the GORM transaction carried by ctx when it was begun
// on the same connection as fallback, and fallback otherwise. Either way the
// handle is bound to ctx.
func DB(ctx context.Context, fallback *gorm.DB) *gorm.DB {
	if t, ok := tx.FromContext(ctx); ok {
		if g, ok := t.(*Tx); ok && g.pool == fallback.ConnPool {
			return g.db.WithContext(ctx)
		}
	}
	return fallback.WithContext(ctx)
}

// Package tx abstracts the transactional resource a chunk commits against.
// The engine begins one transaction per chunk, makes it available through the
// context to repositories and writers, and commits or rolls it back as a unit.
package tx

import (
	"context"
	"database/sql"
)

// Tx represents an ongoing transaction.
type Tx interface {
	// Savepoint creates a named savepoint within the transaction.
	Savepoint(name string) error
	// RollbackToSavepoint undoes work done after the named savepoint.
	RollbackToSavepoint(name string) error
}

// TransactionManager manages the lifecycle of transactions.
type TransactionManager interface {
	// Begin starts a new transaction.
	Begin(ctx context.Context, opts ...*sql.TxOptions) (Tx, error)
	// Commit persists all changes made within t.
	Commit(t Tx) error
	// Rollback undoes all changes made within t.
	Rollback(t Tx) error
}

type txKey struct{}

// WithTx returns a context carrying t.
func WithTx(ctx context.Context, t Tx) context.Context {
	return context.WithValue(ctx, txKey{}, t)
}

// FromContext returns the transaction carried by ctx, if any.
func FromContext(ctx context.Context) (Tx, bool) {
	t, ok := ctx.Value(txKey{}).(Tx)
	return t, ok
}

// ResourcelessTransactionManager is a TransactionManager for work that touches no
// transactional resource, such as the in-memory repository.
type ResourcelessTransactionManager struct{}

// NewResourcelessTransactionManager returns a ResourcelessTransactionManager.
func NewResourcelessTransactionManager() *ResourcelessTransactionManager {
	return &ResourcelessTransactionManager{}
}

type resourcelessTx struct{}

func (resourcelessTx) Savepoint(string) error           { return nil }
func (resourcelessTx) RollbackToSavepoint(string) error { return nil }

// Begin implements TransactionManager.
func (m *ResourcelessTransactionManager) Begin(ctx context.Context, _ ...*sql.TxOptions) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return resourcelessTx{}, nil
}

// Commit implements TransactionManager.
func (m *ResourcelessTransactionManager) Commit(Tx) error { return nil }

// Rollback implements TransactionManager.
func (m *ResourcelessTransactionManager) Rollback(Tx) error { return nil }

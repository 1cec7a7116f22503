// Package test holds helpers shared by the framework's tests: transaction mocks,
// execution fixtures and throwaway SQLite connections.
package test

import (
	"context"
	"database/sql"

	"github.com/stretchr/testify/mock"

	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
)

// MockTx is a tx.Tx handed out by MockTxManager. Savepoints are no-ops.
type MockTx struct{}

func (*MockTx) Savepoint(string) error { return nil }

func (*MockTx) RollbackToSavepoint(string) error { return nil }

// MockTxManager is a mock implementation of the tx.TransactionManager interface.
type MockTxManager struct {
	mock.Mock
}

func (m *MockTxManager) Begin(ctx context.Context, opts ...*sql.TxOptions) (tx.Tx, error) {
	args := m.Called(ctx, opts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(tx.Tx), args.Error(1)
}

func (m *MockTxManager) Commit(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

func (m *MockTxManager) Rollback(t tx.Tx) error {
	args := m.Called(t)
	return args.Error(0)
}

var (
	_ tx.Tx                 = (*MockTx)(nil)
	_ tx.TransactionManager = (*MockTxManager)(nil)
)

package gorm_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func memoryEntries() map[string]interface{} {
	return map[string]interface{}{
		"metadata": map[string]interface{}{
			"type":     "sqlite",
			"database": ":memory:",
			"pool":     map[string]interface{}{"max_open_conns": 1},
		},
		"broken": map[string]interface{}{"type": "oracle"},
	}
}

type record struct {
	ID   int `gorm:"primaryKey"`
	Name string
}

func TestProvider_OpensAndCachesConnections(t *testing.T) {
	p := gormadapter.NewProvider(memoryEntries())
	defer p.CloseAll()

	conn, err := p.GetConnection("metadata")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", conn.Type())
	assert.Equal(t, 1, conn.Config().Pool.MaxOpenConns)

	again, err := p.GetConnection("metadata")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	sqlDB, err := conn.SQLDB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
}

func TestProvider_UnknownEntryAndType(t *testing.T) {
	p := gormadapter.NewProvider(memoryEntries())

	_, err := p.GetConnection("missing")
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = p.GetConnection("broken")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no dialector registered")
}

func TestProvider_ForceReconnectReplacesConnection(t *testing.T) {
	p := gormadapter.NewProvider(memoryEntries())
	defer p.CloseAll()

	first, err := p.GetConnection("metadata")
	require.NoError(t, err)
	second, err := p.ForceReconnect("metadata")
	require.NoError(t, err)
	assert.NotSame(t, first, second)

	latest, err := p.GetConnection("metadata")
	require.NoError(t, err)
	assert.Same(t, second, latest)
}

func TestTransactionManager_CommitAndRollback(t *testing.T) {
	p := gormadapter.NewProvider(memoryEntries())
	defer p.CloseAll()
	conn, err := p.GetConnection("metadata")
	require.NoError(t, err)
	db := conn.GormDB()
	require.NoError(t, db.AutoMigrate(&record{}))

	tm := gormadapter.NewTransactionManager(db)
	ctx := context.Background()

	rolledBack, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, gormadapter.DB(tx.WithTx(ctx, rolledBack), db).Create(&record{ID: 1, Name: "a"}).Error)
	require.NoError(t, tm.Rollback(rolledBack))

	committed, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, gormadapter.DB(tx.WithTx(ctx, committed), db).Create(&record{ID: 2, Name: "b"}).Error)
	require.NoError(t, tm.Commit(committed))

	var ids []int
	require.NoError(t, db.Model(&record{}).Order("id").Pluck("id", &ids).Error)
	assert.Equal(t, []int{2}, ids)
}

func TestTransactionManager_SavepointRollback(t *testing.T) {
	p := gormadapter.NewProvider(memoryEntries())
	defer p.CloseAll()
	conn, err := p.GetConnection("metadata")
	require.NoError(t, err)
	db := conn.GormDB()
	require.NoError(t, db.AutoMigrate(&record{}))

	tm := gormadapter.NewTransactionManager(db)
	ctx := context.Background()
	trx, err := tm.Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, trx)

	require.NoError(t, gormadapter.DB(txCtx, db).Create(&record{ID: 1}).Error)
	require.NoError(t, trx.Savepoint("item"))
	require.NoError(t, gormadapter.DB(txCtx, db).Create(&record{ID: 2}).Error)
	require.NoError(t, trx.RollbackToSavepoint("item"))
	require.NoError(t, tm.Commit(trx))

	var count int64
	require.NoError(t, db.Model(&record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestTransactionManager_RejectsForeignTx(t *testing.T) {
	tm := gormadapter.NewTransactionManager(nil)
	foreign, err := tx.NewResourcelessTransactionManager().Begin(context.Background())
	require.NoError(t, err)

	err = tm.Commit(foreign)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindIllegalState))
}

func TestIsTableNotExistError(t *testing.T) {
	p := gormadapter.NewProvider(memoryEntries())
	defer p.CloseAll()
	conn, err := p.GetConnection("metadata")
	require.NoError(t, err)

	err = conn.GormDB().Raw("SELECT * FROM nowhere").Scan(&[]record{}).Error
	require.Error(t, err)
	assert.True(t, conn.IsTableNotExistError(err))
	assert.False(t, gormadapter.IsTableNotExistError(nil))
}

func TestDB_IgnoresTransactionOfAnotherConnection(t *testing.T) {
	entries := memoryEntries()
	entries["app"] = map[string]interface{}{
		"type":     "sqlite",
		"database": ":memory:",
		"pool":     map[string]interface{}{"max_open_conns": 1},
	}
	p := gormadapter.NewProvider(entries)
	defer p.CloseAll()
	app, err := p.GetConnection("app")
	require.NoError(t, err)
	require.NoError(t, app.GormDB().AutoMigrate(&record{}))

	ctx := context.Background()
	trx, err := gormadapter.NewConnectionTransactionManager(p, "metadata").Begin(ctx)
	require.NoError(t, err)
	txCtx := tx.WithTx(ctx, trx)

	require.NoError(t, gormadapter.DB(txCtx, app.GormDB()).Create(&record{ID: 9, Name: "outside"}).Error)
	require.NoError(t, trx.(*gormadapter.Tx).DB().Rollback().Error)

	var count int64
	require.NoError(t, app.GormDB().Model(&record{}).Count(&count).Error)
	assert.Equal(t, int64(1), count, "the write went to app, not into the metadata transaction")
}

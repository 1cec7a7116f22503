package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/database"
	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/factory"
	"github.com/tigerroll/chunkbatch/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/test"
)

type person struct {
	ID   int `gorm:"primaryKey"`
	Name string
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&person{}))
	require.NoError(t, db.Create([]person{{1, "alice"}, {2, "bob"}, {3, "carol"}, {4, "dave"}, {5, "erin"}}).Error)
	return db
}

func readAll[T any](t *testing.T, r port.ItemReader[T]) []T {
	t.Helper()
	var out []T
	for {
		item, err := r.Read(context.Background())
		if errors.Is(err, port.ErrNoMoreItems) {
			return out
		}
		require.NoError(t, err)
		out = append(out, item)
	}
}

func names(people []person) []string {
	var out []string
	for _, p := range people {
		out = append(out, p.Name)
	}
	return out
}

func byID(q *gorm.DB) *gorm.DB { return q.Model(&person{}).Order("id") }

func TestPagingItemReader_PagesAndResumes(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	r := database.NewPagingItemReader[person](db, "people", 2, byID)
	ec := model.NewExecutionContext()
	require.NoError(t, r.Open(ctx, ec))
	for _, want := range []string{"alice", "bob", "carol"} {
		p, err := r.Read(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, p.Name)
	}
	require.NoError(t, r.Update(ctx, ec))
	require.NoError(t, r.Close(ctx))

	r = database.NewPagingItemReader[person](db, "people", 2, byID)
	require.NoError(t, r.Open(ctx, ec))
	assert.Equal(t, []string{"dave", "erin"}, names(readAll[person](t, r)))
}

func TestCursorItemReader_SkipsRowsReadBeforeRestart(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	r := database.NewCursorItemReader[person](db, "cursor", "SELECT id, name FROM people ORDER BY id", nil, nil)
	ec := model.NewExecutionContext()
	require.NoError(t, r.Open(ctx, ec))
	_, err := r.Read(ctx)
	require.NoError(t, err)
	_, err = r.Read(ctx)
	require.NoError(t, err)
	require.NoError(t, r.Update(ctx, ec))
	require.NoError(t, r.Close(ctx))

	r = database.NewCursorItemReader[person](db, "cursor", "SELECT id, name FROM people ORDER BY id", nil, nil)
	require.NoError(t, r.Open(ctx, ec))
	assert.Equal(t, []string{"carol", "dave", "erin"}, names(readAll[person](t, r)))
	require.NoError(t, r.Close(ctx))

	ec.Put("cursor.read.count", 9)
	err = r.Open(ctx, ec)
	assert.True(t, exception.IsKind(err, exception.KindItemStream))
}

func TestGormItemWriter_WritesInsideTheChunkTransaction(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	tm := gormadapter.NewTransactionManager(db)
	w := database.NewGormItemWriter[person](db, database.WriterConfig{BatchSize: 1})

	rolledBack, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(tx.WithTx(ctx, rolledBack), []person{{6, "frank"}}))
	require.NoError(t, tm.Rollback(rolledBack))

	committed, err := tm.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, w.Write(tx.WithTx(ctx, committed), []person{{7, "grace"}, {8, "heidi"}}))
	require.NoError(t, tm.Commit(committed))

	var count int64
	require.NoError(t, db.Model(&person{}).Count(&count).Error)
	assert.Equal(t, int64(7), count)
	assert.Error(t, db.First(&person{}, 6).Error)
}

func TestGormItemWriter_Upserts(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)

	w := database.NewGormItemWriter[any](db, database.WriterConfig{
		Table:           "people",
		ConflictColumns: []string{"id"},
		UpdateColumns:   []string{"name"},
	})
	typed := map[string]interface{}{"id": 1, "name": "alicia"}
	require.NoError(t, w.Write(ctx, []any{
		typed,
		map[string]string{"id": "9", "name": "ivan"},
		map[string]interface{}{"id": "10", "name": 7},
	}))
	assert.Equal(t, map[string]interface{}{"id": 1, "name": "alicia"}, typed, "items are not modified")

	nameOf := func(id int) string {
		var p person
		require.NoError(t, db.First(&p, id).Error)
		return p.Name
	}
	assert.Equal(t, "alicia", nameOf(1))
	assert.Equal(t, "ivan", nameOf(9))
	assert.Equal(t, "7", nameOf(10))

	var count int64
	require.NoError(t, db.Model(&person{}).Count(&count).Error)
	assert.Equal(t, int64(7), count)

	err := w.Write(ctx, []any{42})
	assert.True(t, exception.IsKind(err, exception.KindDataConversion))
}

func TestComponents_CopyTableInChunkStep(t *testing.T) {
	ctx := context.Background()
	provider := test.NewSQLiteProvider(t, "app")
	conn, err := provider.GetConnection("app")
	require.NoError(t, err)
	db := conn.GormDB()
	require.NoError(t, db.AutoMigrate(&person{}))
	require.NoError(t, db.Create([]person{{1, "alice"}, {2, "bob"}, {3, "carol"}}).Error)
	require.NoError(t, db.Exec("CREATE TABLE people_copy (id INTEGER PRIMARY KEY, name TEXT)").Error)

	cfg := config.NewConfig()
	reader, err := database.NewPagingItemReaderComponent(provider).Builder(cfg, map[string]string{
		"database": "app", "table": "people", "order": "id", "columns": "id,name", "page-size": "2",
	})
	require.NoError(t, err)
	writer, err := database.NewGormItemWriterComponent(provider).Builder(cfg, map[string]string{
		"database": "app", "table": "people_copy",
	})
	require.NoError(t, err)

	repo := inmemory.NewInMemoryJobRepository()
	f := factory.NewDefaultStepFactory(factory.DefaultStepFactoryParams{
		JobRepository:  repo,
		TxManager:      gormadapter.NewTransactionManager(db),
		MetricRecorder: metrics.NewNoOpMetricRecorder(),
		Tracer:         metrics.NewNoOpTracer(),
		BatchConfig:    &config.BatchConfig{ChunkSize: 2},
	})
	s, err := f.CreateChunkStep("copy", reader.(port.ItemReader[any]), nil, writer.(port.ItemWriter[any]), factory.ChunkOptions{})
	require.NoError(t, err)

	se := test.NewStepExecution(t, repo, "copyJob", "copy")
	require.NoError(t, s.Execute(ctx, se))
	assert.Equal(t, model.BatchStatusCompleted, se.Status)
	assert.Equal(t, 3, se.WriteCount)

	var copied []person
	require.NoError(t, db.Table("people_copy").Order("id").Find(&copied).Error)
	assert.Equal(t, []string{"alice", "bob", "carol"}, names(copied))

	_, err = database.NewGormItemWriterComponent(provider).Builder(cfg, map[string]string{"database": "app"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
	_, err = database.NewCursorItemReaderComponent(provider).Builder(cfg, map[string]string{"query": "SELECT 1"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestComponents_ResolveConnectionAfterReconnect(t *testing.T) {
	ctx := context.Background()
	provider := test.NewSQLiteProvider(t, "app")
	cfg := config.NewConfig()

	reader, err := database.NewPagingItemReaderComponent(provider).Builder(cfg, map[string]string{
		"database": "app", "table": "people", "order": "id",
	})
	require.NoError(t, err)
	writer, err := database.NewGormItemWriterComponent(provider).Builder(cfg, map[string]string{
		"database": "app", "table": "people",
	})
	require.NoError(t, err)

	// The previous pool is closed; the components must use the new one.
	conn, err := provider.ForceReconnect("app")
	require.NoError(t, err)
	require.NoError(t, conn.GormDB().AutoMigrate(&person{}))

	w := writer.(port.ItemWriter[any])
	require.NoError(t, w.Write(ctx, []any{map[string]interface{}{"id": 1, "name": "alice"}}))

	r := reader.(interface {
		port.ItemReader[any]
		port.ItemStream
	})
	_, err = r.Read(ctx)
	assert.True(t, exception.IsKind(err, exception.KindItemStream), "read before open")

	require.NoError(t, r.Open(ctx, model.NewExecutionContext()))
	item, err := r.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, "alice", item.(map[string]interface{})["name"])
	require.NoError(t, r.Close(ctx))
}

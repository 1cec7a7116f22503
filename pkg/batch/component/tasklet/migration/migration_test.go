package migration

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/migration/filesystem"
	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/repeat"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

func fileProvider(t *testing.T) *gormadapter.Provider {
	t.Helper()
	p := gormadapter.NewProvider(map[string]interface{}{
		"metadata": map[string]interface{}{
			"type":     "sqlite",
			"database": filepath.Join(t.TempDir(), "meta.db"),
			"pool":     map[string]interface{}{"max_open_conns": 1},
		},
	})
	t.Cleanup(func() { _ = p.CloseAll() })
	return p
}

func tableExists(t *testing.T, p database.DBProvider, table string) bool {
	t.Helper()
	conn, err := p.GetConnection("metadata")
	require.NoError(t, err)
	return conn.GormDB().Migrator().HasTable(table)
}

func TestMigrateFramework_CreatesMetadataTables(t *testing.T) {
	p := fileProvider(t)

	require.NoError(t, MigrateFramework(context.Background(), p, "metadata"))

	for _, table := range []string{"batch_job_instance", "batch_job_execution", "batch_step_execution", FrameworkMigrationsTable} {
		assert.True(t, tableExists(t, p, table), table)
	}

	// Applying again is a no-op.
	assert.NoError(t, MigrateFramework(context.Background(), p, "metadata"))
}

func TestMigrationTasklet_UpAndDownApplicationScripts(t *testing.T) {
	p := fileProvider(t)
	scripts := fstest.MapFS{
		"app/000001_orders.up.sql":   {Data: []byte("CREATE TABLE orders (id INTEGER PRIMARY KEY, total REAL);")},
		"app/000001_orders.down.sql": {Data: []byte("DROP TABLE orders;")},
	}

	up, err := NewMigrationTasklet(p, scripts, map[string]string{"dbRef": "metadata", "migrationDir": "app"})
	require.NoError(t, err)
	ec := model.NewExecutionContext()
	status, err := up.Execute(context.Background(), &model.StepContribution{}, ec)
	require.NoError(t, err)
	assert.Equal(t, repeat.Finished, status)
	assert.True(t, tableExists(t, p, "orders"))
	assert.True(t, tableExists(t, p, AppMigrationsTable))
	cmd, _ := ec.GetString(ContextKeyCommand)
	assert.Equal(t, CommandUp, cmd)

	down, err := NewMigrationTasklet(p, scripts, map[string]string{"dbRef": "metadata", "migrationDir": "app", "command": "down"})
	require.NoError(t, err)
	_, err = down.Execute(context.Background(), &model.StepContribution{}, model.NewExecutionContext())
	require.NoError(t, err)
	assert.False(t, tableExists(t, p, "orders"))
}

func TestNewMigrationTasklet_ValidatesProperties(t *testing.T) {
	p := fileProvider(t)
	scripts := fstest.MapFS{}

	_, err := NewMigrationTasklet(p, scripts, map[string]string{})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = NewMigrationTasklet(p, scripts, map[string]string{"dbRef": "metadata", "command": "sideways"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = NewMigrationTasklet(p, nil, map[string]string{"dbRef": "metadata"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

type failingMigrator struct{ calls int }

func (m *failingMigrator) Up(context.Context, fs.FS, string, string) error {
	m.calls++
	return errors.New("dirty database version 1")
}

func (m *failingMigrator) Down(context.Context, fs.FS, string, string) error { return nil }

func TestMigrationTasklet_FailureStillReconnects(t *testing.T) {
	p := fileProvider(t)
	before, err := p.GetConnection("metadata")
	require.NoError(t, err)

	tk, err := NewMigrationTasklet(p, fstest.MapFS{}, map[string]string{"dbRef": "metadata"})
	require.NoError(t, err)
	fm := &failingMigrator{}
	tk.newMigrator = func(database.DBConnection) Migrator { return fm }

	_, err = tk.Execute(context.Background(), &model.StepContribution{}, model.NewExecutionContext())
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindRepository))
	assert.Equal(t, 1, fm.calls)

	after, err := p.GetConnection("metadata")
	require.NoError(t, err)
	assert.NotSame(t, before, after)
}

func TestMigrationTaskletComponent_SelectsScripts(t *testing.T) {
	p := fileProvider(t)
	app := fstest.MapFS{
		"migrations/sqlite/000001_people.up.sql":   {Data: []byte("CREATE TABLE people (id INTEGER PRIMARY KEY);")},
		"migrations/sqlite/000001_people.down.sql": {Data: []byte("DROP TABLE people;")},
	}
	rooted, err := filesystem.Rooted(app, "migrations")
	require.NoError(t, err)

	reg := NewMigrationTaskletComponent(componentParams{Provider: p, Framework: filesystem.FrameworkMigrationsFS(), Application: rooted})
	assert.Equal(t, RefMigrationTasklet, reg.Ref)

	built, err := reg.Builder(nil, map[string]string{"dbRef": "metadata"})
	require.NoError(t, err)
	_, err = built.(*MigrationTasklet).Execute(context.Background(), &model.StepContribution{}, model.NewExecutionContext())
	require.NoError(t, err)
	assert.True(t, tableExists(t, p, "people"))

	built, err = reg.Builder(nil, map[string]string{"dbRef": "metadata", "isFramework": "true"})
	require.NoError(t, err)
	_, err = built.(*MigrationTasklet).Execute(context.Background(), &model.StepContribution{}, model.NewExecutionContext())
	require.NoError(t, err)
	assert.True(t, tableExists(t, p, "batch_job_instance"))

	noApp := NewMigrationTaskletComponent(componentParams{Provider: p, Framework: filesystem.FrameworkMigrationsFS()})
	_, err = noApp.Builder(nil, map[string]string{"dbRef": "metadata"})
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))

	_, err = filesystem.Rooted(app, "missing")
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

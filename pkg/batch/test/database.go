package test

import (
	"testing"

	"github.com/stretchr/testify/require"

	gormadapter "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/chunkbatch/pkg/batch/adapter/database/gorm/sqlite"
)

// NewSQLiteProvider returns a provider with one private in-memory SQLite entry
// called name. The pool is limited to a single connection so every handle sees
// the same database. Connections are closed when the test ends.
func NewSQLiteProvider(t *testing.T, name string) *gormadapter.Provider {
	t.Helper()
	provider := gormadapter.NewProvider(map[string]interface{}{
		name: map[string]interface{}{
			"type":      "sqlite",
			"database":  ":memory:",
			"log_level": "silent",
			"pool":      map[string]interface{}{"max_open_conns": 1},
		},
	})
	t.Cleanup(func() { provider.CloseAll() })
	_, err := provider.GetConnection(name)
	require.NoError(t, err)
	return provider
}

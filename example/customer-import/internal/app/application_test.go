package app

import (
	"os"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
)

func TestModules_GraphIsComplete(t *testing.T) {
	cfg, err := os.ReadFile("../../cmd/customer-import/resources/application.yaml")
	require.NoError(t, err)
	jsl, err := os.ReadFile("../../cmd/customer-import/resources/job.yaml")
	require.NoError(t, err)

	require.NoError(t, fx.ValidateApp(
		Modules(Options{Config: cfg, JSL: jsl, Migrations: fstest.MapFS{}}),
		fx.Invoke(func(fx.Shutdowner) {}),
	))
}

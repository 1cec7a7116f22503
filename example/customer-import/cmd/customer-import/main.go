package main

import (
	"context"
	"embed"
	"os"
	"os/signal"
	"syscall"

	"github.com/tigerroll/chunkbatch/example/customer-import/internal/app"
	"github.com/tigerroll/chunkbatch/pkg/batch/component/tasklet/migration/filesystem"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

//go:embed resources/application.yaml
var embeddedConfig []byte

//go:embed resources/job.yaml
var embeddedJSL []byte

//go:embed all:resources/migrations
var migrationsFS embed.FS

// main runs the customer import job. Arguments are job parameters in the
// "name(type)=value" notation; without any, the next run.id is used.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	migrations, err := filesystem.Rooted(migrationsFS, "resources/migrations")
	if err != nil {
		logger.Fatalf("Failed to open embedded migrations: %v", err)
	}

	envFilePath := os.Getenv("ENV_FILE_PATH")
	if envFilePath == "" {
		envFilePath = ".env"
	}

	code, err := app.Run(ctx, app.Options{
		EnvFilePath: envFilePath,
		Config:      embeddedConfig,
		JSL:         embeddedJSL,
		Migrations:  migrations,
		Parameters:  os.Args[1:],
	})
	if err != nil {
		logger.Errorf("Application run failed: %v", err)
		if code == 0 {
			code = 1
		}
	}
	os.Exit(code)
}

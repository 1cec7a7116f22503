package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/adapter/database"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// NewProviderFromConfig creates the Provider for the configured database entries
// and closes its connections when the application stops.
func NewProviderFromConfig(lc fx.Lifecycle, cfg *config.Config) *Provider {
	p := NewProvider(cfg.Chunkbatch.Databases)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.CloseAll()
		},
	})
	return p
}

// Module provides the GORM connection provider. Import the dialect subpackages
// (sqlite, postgres, mysql) needed by the configured entries.
var Module = fx.Options(
	fx.Provide(
		NewProviderFromConfig,
		func(p *Provider) database.DBProvider { return p },
	),
)

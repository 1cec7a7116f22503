package storage

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/chunkbatch/pkg/batch/core/config"
)

// RegistryParams collects the providers contributed by the backend modules.
type RegistryParams struct {
	fx.In
	Lifecycle fx.Lifecycle
	Config    *config.Config
	Providers []Provider `group:"storage_providers"`
}

// NewRegistryFromConfig creates the Registry for the configured storage entries
// and closes its connections when the application stops.
func NewRegistryFromConfig(p RegistryParams) *Registry {
	r := NewRegistry(p.Config.Chunkbatch.Storage, p.Providers...)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return r.CloseAll()
		},
	})
	return r
}

// Module provides the storage Registry. Add the backend modules (local, s3, gcs)
// for the types used by the configured entries.
var Module = fx.Options(
	fx.Provide(
		NewRegistryFromConfig,
		func(r *Registry) Resolver { return r },
	),
)

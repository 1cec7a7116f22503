package config

import "go.uber.org/fx"

// Params defines the dependencies for NewConfigProvider.
type Params struct {
	fx.In
	EmbeddedConfig EmbeddedConfig      `optional:"true"`
	EnvFilePath    string              `name:"envFilePath" optional:"true"`
	Expander       EnvironmentExpander `optional:"true"`
}

// NewConfigProvider loads the configuration and applies its process-wide settings.
func NewConfigProvider(p Params) (*Config, error) {
	cfg, err := Load(p.EnvFilePath, p.EmbeddedConfig, p.Expander)
	if err != nil {
		return nil, err
	}
	Apply(cfg)
	return cfg, nil
}

// NewBatchConfigProvider extracts *BatchConfig from *Config.
func NewBatchConfigProvider(cfg *Config) *BatchConfig {
	return &cfg.Chunkbatch.Batch
}

// Module provides *Config and its sub-configurations to Fx.
var Module = fx.Options(
	fx.Provide(NewConfigProvider),
	fx.Provide(NewBatchConfigProvider),
)

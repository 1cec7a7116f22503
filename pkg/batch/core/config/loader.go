package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const moduleName = "config"

// Load builds the configuration in four layers: defaults from NewConfig, the YAML
// document raw (after placeholder expansion), then CHUNKBATCH_* environment
// variables. Variables from envFilePath, or from ./.env when it is empty, are
// loaded into the environment first without overriding variables already set.
func Load(envFilePath string, raw []byte, expander EnvironmentExpander) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else if err := godotenv.Load(); err != nil {
		logger.Debugf(".env file not found or could not be loaded: %v", err)
	}

	cfg := NewConfig()
	if len(raw) > 0 {
		if expander == nil {
			expander = NewOsEnvironmentExpander()
		}
		expanded, err := expander.Expand(raw)
		if err != nil {
			return nil, exception.NewBatchError(exception.KindConfiguration, moduleName, "failed to expand environment placeholders", err)
		}
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, exception.NewBatchError(exception.KindConfiguration, moduleName, "failed to unmarshal config", err)
		}
	}
	if err := env.Parse(cfg); err != nil {
		return nil, exception.NewBatchError(exception.KindConfiguration, moduleName, "failed to load config from environment variables", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks settings that cannot be fixed by defaults. Every problem found is reported.
func Validate(cfg *Config) error {
	var errs *multierror.Error
	c := cfg.Chunkbatch

	if c.Batch.ChunkSize <= 0 {
		errs = multierror.Append(errs, fmt.Errorf("batch.chunk_size must be positive, got %d", c.Batch.ChunkSize))
	}
	if c.Batch.Retry.MaxAttempts < 1 {
		errs = multierror.Append(errs, fmt.Errorf("batch.retry.max_attempts must be at least 1, got %d", c.Batch.Retry.MaxAttempts))
	}
	if c.Batch.Skip.SkipLimit < 0 {
		errs = multierror.Append(errs, fmt.Errorf("batch.skip.skip_limit cannot be negative, got %d", c.Batch.Skip.SkipLimit))
	}
	for _, k := range c.Batch.Retry.RetryableKinds {
		if !exception.DefaultHierarchy.IsRegistered(exception.Kind(k)) {
			errs = multierror.Append(errs, fmt.Errorf("batch.retry.retryable_kinds references unknown kind '%s'", k))
		}
	}
	for _, k := range c.Batch.Skip.SkippableKinds {
		if !exception.DefaultHierarchy.IsRegistered(exception.Kind(k)) {
			errs = multierror.Append(errs, fmt.Errorf("batch.skip.skippable_kinds references unknown kind '%s'", k))
		}
	}
	switch c.Infrastructure.JobRepository.Type {
	case RepositoryTypeInMemory:
	case RepositoryTypeSQL:
		if _, ok := c.Databases[c.Infrastructure.JobRepository.DBRef]; !ok {
			errs = multierror.Append(errs, fmt.Errorf("infrastructure.job_repository.db_ref '%s' has no database entry", c.Infrastructure.JobRepository.DBRef))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown infrastructure.job_repository.type '%s'", c.Infrastructure.JobRepository.Type))
	}
	switch c.Observability.MetricsExporter {
	case ExporterNone, ExporterPrometheus, ExporterOTLP:
	default:
		errs = multierror.Append(errs, fmt.Errorf("unknown observability.metrics_exporter '%s'", c.Observability.MetricsExporter))
	}
	if p := c.Observability.OTLP.Protocol; p != "grpc" && p != "http" {
		errs = multierror.Append(errs, fmt.Errorf("unknown observability.otlp.protocol '%s'", p))
	}
	if _, err := time.LoadLocation(c.System.Timezone); err != nil {
		errs = multierror.Append(errs, fmt.Errorf("system.timezone: %w", err))
	}

	if err := errs.ErrorOrNil(); err != nil {
		return exception.NewBatchError(exception.KindConfiguration, moduleName, "invalid configuration", err)
	}
	return nil
}

// Apply pushes process-wide settings (log level and format, masked parameter keys) into effect.
func Apply(cfg *Config) {
	c := cfg.Chunkbatch
	logger.SetFormat(c.System.Logging.Format)
	logger.SetLogLevel(c.System.Logging.Level)
	model.SetMaskedParameterKeys(c.Security.MaskedParameterKeys)
	logger.Infof("Log level set to: %s", c.System.Logging.Level)
}

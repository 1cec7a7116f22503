// Package config provides structures and utilities for managing application configuration.
package config

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
type EmbeddedConfig []byte

// RetryConfig holds item-level retry settings for chunk steps.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per item, the first included.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// InitialIntervalMillis is the first backoff pause. Zero disables backoff.
	InitialIntervalMillis int `yaml:"initial_interval_millis" env:"INITIAL_INTERVAL_MILLIS"`
	// MaxIntervalMillis caps the exponential backoff pause.
	MaxIntervalMillis int `yaml:"max_interval_millis" env:"MAX_INTERVAL_MILLIS"`
	// Multiplier grows the pause between attempts.
	Multiplier float64 `yaml:"multiplier" env:"MULTIPLIER"`
	// RetryableKinds lists the failure kinds that are retried.
	RetryableKinds []string `yaml:"retryable_kinds" env:"RETRYABLE_KINDS" envSeparator:","`
}

// SkipConfig holds item-level skip settings for chunk steps.
type SkipConfig struct {
	// SkipLimit is the maximum number of skipped items per step execution.
	SkipLimit int `yaml:"skip_limit" env:"SKIP_LIMIT"`
	// SkippableKinds lists the failure kinds that may be skipped.
	SkippableKinds []string `yaml:"skippable_kinds" env:"SKIPPABLE_KINDS" envSeparator:","`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in JobParameters whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys" env:"MASKED_PARAMETER_KEYS" envSeparator:","`
}

// BatchConfig holds configuration specific to the batch processing engine.
type BatchConfig struct {
	// ChunkSize is the default commit interval of chunk steps.
	ChunkSize int `yaml:"chunk_size" env:"CHUNK_SIZE"`
	// Retry is the default item retry configuration.
	Retry RetryConfig `yaml:"retry" envPrefix:"RETRY_"`
	// Skip is the default item skip configuration.
	Skip SkipConfig `yaml:"skip" envPrefix:"SKIP_"`
	// LaunchConcurrency bounds the jobs running at once. Zero means unbounded.
	LaunchConcurrency int `yaml:"launch_concurrency" env:"LAUNCH_CONCURRENCY"`
	// SplitConcurrency bounds the flows of a split running at once. Zero means unbounded.
	SplitConcurrency int `yaml:"split_concurrency" env:"SPLIT_CONCURRENCY"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level" env:"LEVEL"`
	// Format is "console" or "json".
	Format string `yaml:"format" env:"FORMAT"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone" env:"TIMEZONE"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging" envPrefix:"LOGGING_"`
}

// Job repository types.
const (
	RepositoryTypeInMemory = "inmemory"
	RepositoryTypeSQL      = "sql"
)

// JobRepositoryConfig selects and configures the JobRepository.
type JobRepositoryConfig struct {
	// Type is "inmemory" or "sql".
	Type string `yaml:"type" env:"TYPE"`
	// DBRef is the name of the database entry used by the SQL repository.
	DBRef string `yaml:"db_ref" env:"DB_REF"`
	// AutoMigrate applies the metadata schema migrations at startup.
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// InfrastructureConfig holds logical dependency settings for infrastructure components.
type InfrastructureConfig struct {
	JobRepository JobRepositoryConfig `yaml:"job_repository" envPrefix:"JOB_REPOSITORY_"`
}

// OTLPConfig configures an OpenTelemetry collector endpoint.
type OTLPConfig struct {
	// Endpoint is host:port of the collector.
	Endpoint string `yaml:"endpoint" env:"ENDPOINT"`
	// Protocol is "grpc" or "http".
	Protocol string `yaml:"protocol" env:"PROTOCOL"`
	// Insecure disables TLS.
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// Metric exporters.
const (
	ExporterNone       = "none"
	ExporterPrometheus = "prometheus"
	ExporterOTLP       = "otlp"
)

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	// ServiceName is reported as the OpenTelemetry service.name resource attribute.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// MetricsExporter is "none", "prometheus" or "otlp".
	MetricsExporter string `yaml:"metrics_exporter" env:"METRICS_EXPORTER"`
	// TracingEnabled exports spans to the OTLP endpoint.
	TracingEnabled bool `yaml:"tracing_enabled" env:"TRACING_ENABLED"`
	// OTLP configures the collector used by the "otlp" exporter and by tracing.
	OTLP OTLPConfig `yaml:"otlp" envPrefix:"OTLP_"`
	// MetricsAsyncBufferSize, when positive, records metrics on a background
	// goroutine through a queue of that size.
	MetricsAsyncBufferSize int `yaml:"metrics_async_buffer_size" env:"METRICS_ASYNC_BUFFER_SIZE"`
	// ExportIntervalSeconds is the period of the OTLP metric reader.
	ExportIntervalSeconds int `yaml:"export_interval_seconds" env:"EXPORT_INTERVAL_SECONDS"`
}

// ServerConfig configures the HTTP endpoint serving the job operator API and metrics.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Addr    string `yaml:"addr" env:"ADDR"`
}

// Notifiers.
const (
	NotifierLog   = "log"
	NotifierRedis = "redis"
)

// RedisConfig configures the Redis client used by the redis notifier.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Channel is the pub/sub channel job notifications are published to.
	Channel string `yaml:"channel" env:"CHANNEL"`
}

// NotificationConfig selects the notifier used by the job notification listener.
type NotificationConfig struct {
	// Type is "log" or "redis".
	Type  string      `yaml:"type" env:"TYPE"`
	Redis RedisConfig `yaml:"redis" envPrefix:"REDIS_"`
}

// FrameworkConfig holds all configuration under the "chunkbatch" top-level key.
type FrameworkConfig struct {
	Batch          BatchConfig          `yaml:"batch" envPrefix:"BATCH_"`
	System         SystemConfig         `yaml:"system" envPrefix:"SYSTEM_"`
	Infrastructure InfrastructureConfig `yaml:"infrastructure" envPrefix:"INFRASTRUCTURE_"`
	Security       SecurityConfig       `yaml:"security" envPrefix:"SECURITY_"`
	Observability  ObservabilityConfig  `yaml:"observability" envPrefix:"OBSERVABILITY_"`
	Server         ServerConfig         `yaml:"server" envPrefix:"SERVER_"`
	Notification   NotificationConfig   `yaml:"notification" envPrefix:"NOTIFICATION_"`
	// Databases holds the named database entries. They are decoded by the database adapter.
	Databases map[string]interface{} `yaml:"database"`
	// Storage holds the named storage entries. They are decoded by the storage adapter.
	Storage map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Chunkbatch FrameworkConfig `yaml:"chunkbatch" envPrefix:"CHUNKBATCH_"`
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	return &Config{
		Chunkbatch: FrameworkConfig{
			Batch: BatchConfig{
				ChunkSize: 10,
				Retry: RetryConfig{
					MaxAttempts:           3,
					InitialIntervalMillis: 100,
					MaxIntervalMillis:     2000,
					Multiplier:            2.0,
					RetryableKinds:        []string{"Transient"},
				},
				Skip: SkipConfig{
					SkipLimit:      0,
					SkippableKinds: []string{"DataConversion"},
				},
			},
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO", Format: "console"},
			},
			Infrastructure: InfrastructureConfig{
				JobRepository: JobRepositoryConfig{Type: RepositoryTypeInMemory, DBRef: "metadata"},
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret"},
			},
			Observability: ObservabilityConfig{
				ServiceName:           "chunkbatch",
				MetricsExporter:       ExporterPrometheus,
				OTLP:                  OTLPConfig{Endpoint: "localhost:4317", Protocol: "grpc", Insecure: true},
				ExportIntervalSeconds: 15,
			},
			Server: ServerConfig{Addr: ":8080"},
			Notification: NotificationConfig{
				Type:  NotifierLog,
				Redis: RedisConfig{Addr: "localhost:6379", Channel: "chunkbatch:jobs"},
			},
			Databases: map[string]interface{}{},
			Storage:   map[string]interface{}{},
		},
	}
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
)

const sampleYAML = `
chunkbatch:
  batch:
    chunk_size: 50
    retry:
      max_attempts: 5
      retryable_kinds: [Transient, OptimisticLockingFailure]
    skip:
      skip_limit: 3
  infrastructure:
    job_repository:
      type: sql
      db_ref: metadata
  database:
    metadata:
      type: sqlite
      database: ${CHUNKBATCH_TEST_DB}
`

func TestLoad_DefaultsWithoutDocument(t *testing.T) {
	cfg, err := Load("testdata-missing.env", nil, nil)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Chunkbatch.Batch.ChunkSize)
	assert.Equal(t, RepositoryTypeInMemory, cfg.Chunkbatch.Infrastructure.JobRepository.Type)
	assert.Equal(t, "INFO", cfg.Chunkbatch.System.Logging.Level)
}

func TestLoad_YAMLOverridesDefaultsAndExpandsPlaceholders(t *testing.T) {
	t.Setenv("CHUNKBATCH_TEST_DB", "/tmp/meta.db")

	cfg, err := Load("testdata-missing.env", []byte(sampleYAML), nil)
	require.NoError(t, err)

	b := cfg.Chunkbatch.Batch
	assert.Equal(t, 50, b.ChunkSize)
	assert.Equal(t, 5, b.Retry.MaxAttempts)
	assert.Equal(t, 100, b.Retry.InitialIntervalMillis, "unset keys keep their defaults")
	assert.Equal(t, []string{"Transient", "OptimisticLockingFailure"}, b.Retry.RetryableKinds)
	assert.Equal(t, 3, b.Skip.SkipLimit)

	db, ok := cfg.Chunkbatch.Databases["metadata"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "/tmp/meta.db", db["database"])
}

func TestLoad_EnvironmentOverridesYAML(t *testing.T) {
	t.Setenv("CHUNKBATCH_TEST_DB", "x.db")
	t.Setenv("CHUNKBATCH_BATCH_CHUNK_SIZE", "7")
	t.Setenv("CHUNKBATCH_BATCH_SKIP_SKIPPABLE_KINDS", "DataConversion,ItemRead")
	t.Setenv("CHUNKBATCH_SYSTEM_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load("testdata-missing.env", []byte(sampleYAML), nil)
	require.NoError(t, err)

	assert.Equal(t, 7, cfg.Chunkbatch.Batch.ChunkSize)
	assert.Equal(t, []string{"DataConversion", "ItemRead"}, cfg.Chunkbatch.Batch.Skip.SkippableKinds)
	assert.Equal(t, "DEBUG", cfg.Chunkbatch.System.Logging.Level)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load("testdata-missing.env", []byte("chunkbatch: [unclosed"), nil)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
}

func TestValidate_ReportsEveryProblem(t *testing.T) {
	cfg := NewConfig()
	cfg.Chunkbatch.Batch.ChunkSize = 0
	cfg.Chunkbatch.Batch.Retry.RetryableKinds = []string{"NoSuchKind"}
	cfg.Chunkbatch.Infrastructure.JobRepository.Type = RepositoryTypeSQL
	cfg.Chunkbatch.Observability.MetricsExporter = "statsd"

	err := Validate(cfg)
	require.Error(t, err)
	assert.True(t, exception.IsKind(err, exception.KindConfiguration))
	msg := err.Error()
	assert.Contains(t, msg, "chunk_size")
	assert.Contains(t, msg, "NoSuchKind")
	assert.Contains(t, msg, "db_ref")
	assert.Contains(t, msg, "statsd")
}

func TestValidate_AcceptsApplicationKinds(t *testing.T) {
	require.NoError(t, exception.RegisterKind("ConfigTestRemoteBusy", exception.KindTransient))

	cfg := NewConfig()
	cfg.Chunkbatch.Batch.Retry.RetryableKinds = []string{"ConfigTestRemoteBusy"}
	assert.NoError(t, Validate(cfg))
}

func TestOsEnvironmentExpander_Defaults(t *testing.T) {
	env := map[string]string{"HOST": "db.internal", "EMPTY": ""}
	e := &OsEnvironmentExpander{lookup: func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}}

	out, err := e.Expand([]byte("host: ${HOST:localhost}\nport: ${PORT:5432}\nuser: $EMPTY\nempty: ${EMPTY:fallback}\nmissing: ${MISSING}"))
	require.NoError(t, err)
	assert.Equal(t, "host: db.internal\nport: 5432\nuser: \nempty: \nmissing: ", string(out))
}

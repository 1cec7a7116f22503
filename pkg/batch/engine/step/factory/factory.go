// Package factory builds executable steps from step settings, injecting the
// repository, transaction manager, metrics and tracing every step needs.
package factory

import (
	"database/sql"
	"strings"
	"time"

	"go.uber.org/fx"

	port "github.com/tigerroll/chunkbatch/pkg/batch/core/application/port"
	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	repository "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	"github.com/tigerroll/chunkbatch/pkg/batch/core/support/classifier"
	tx "github.com/tigerroll/chunkbatch/pkg/batch/core/tx"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step"
	itemstep "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/item"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/retry"
	"github.com/tigerroll/chunkbatch/pkg/batch/engine/step/skip"
	taskletstep "github.com/tigerroll/chunkbatch/pkg/batch/engine/step/tasklet"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

const module = "step_factory"

// StepOptions holds the settings shared by every kind of step.
type StepOptions struct {
	// StartLimit is the maximum number of attempts per JobInstance. Zero means unlimited.
	StartLimit int
	// AllowStartIfComplete reruns the step on restart even if it completed before.
	AllowStartIfComplete bool
	// IsolationLevel is the isolation of the step's transactions, e.g. "READ_COMMITTED".
	// Empty uses the driver default.
	IsolationLevel string
	// TransactionManager replaces the factory's transaction manager for this step.
	TransactionManager tx.TransactionManager
	// Listeners observe the step executions.
	Listeners []port.StepExecutionListener
}

// ChunkOptions holds the settings of a chunk-oriented step.
type ChunkOptions struct {
	StepOptions
	// ChunkSize is the commit interval. Zero uses the configured default.
	ChunkSize int
	// Retry overrides the configured item retry settings.
	Retry *config.RetryConfig
	// Skip overrides the configured item skip settings.
	Skip *config.SkipConfig
	ChunkListeners []port.ChunkListener
	SkipListeners  []port.SkipListener
	// Streams are opened, updated and closed with the step in addition to the
	// reader, processor and writer that implement port.ItemStream.
	Streams []port.ItemStream
}

// StepFactory is an interface for creating port.Step instances.
type StepFactory interface {
	// CreateChunkStep constructs a chunk-oriented Step. A nil processor passes items through.
	CreateChunkStep(name string, reader port.ItemReader[any], processor port.ItemProcessor[any, any], writer port.ItemWriter[any], opts ChunkOptions) (port.Step, error)
	// CreateTaskletStep constructs a tasklet-oriented Step.
	CreateTaskletStep(name string, tasklet port.Tasklet, opts StepOptions) (port.Step, error)
}

// DefaultStepFactory is the default implementation of the StepFactory interface.
type DefaultStepFactory struct {
	jobRepository  repository.JobRepository
	txManager      tx.TransactionManager
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	defaults       config.BatchConfig
	skipPolicies   *skip.DefaultSkipPolicyFactory
}

// DefaultStepFactoryParams defines the parameters that NewDefaultStepFactory
// receives via dependency injection (Fx).
type DefaultStepFactoryParams struct {
	fx.In
	JobRepository  repository.JobRepository
	TxManager      tx.TransactionManager
	MetricRecorder metrics.MetricRecorder
	Tracer         metrics.Tracer
	BatchConfig    *config.BatchConfig
}

// NewDefaultStepFactory creates a new instance of DefaultStepFactory.
func NewDefaultStepFactory(p DefaultStepFactoryParams) *DefaultStepFactory {
	f := &DefaultStepFactory{
		jobRepository:  p.JobRepository,
		txManager:      p.TxManager,
		metricRecorder: p.MetricRecorder,
		tracer:         p.Tracer,
		skipPolicies:   skip.NewDefaultSkipPolicyFactory(),
	}
	if p.BatchConfig != nil {
		f.defaults = *p.BatchConfig
	}
	return f
}

var isolationLevels = map[string]sql.IsolationLevel{
	"DEFAULT":          sql.LevelDefault,
	"READ_UNCOMMITTED": sql.LevelReadUncommitted,
	"READ_COMMITTED":   sql.LevelReadCommitted,
	"WRITE_COMMITTED":  sql.LevelWriteCommitted,
	"REPEATABLE_READ":  sql.LevelRepeatableRead,
	"SNAPSHOT":         sql.LevelSnapshot,
	"SERIALIZABLE":     sql.LevelSerializable,
	"LINEARIZABLE":     sql.LevelLinearizable,
}

// ParseIsolationLevel converts names such as "SERIALIZABLE" or "read committed"
// into transaction options. An empty name yields nil options.
func ParseIsolationLevel(name string) (*sql.TxOptions, error) {
	if name == "" {
		return nil, nil
	}
	key := strings.ToUpper(strings.NewReplacer(" ", "_", "-", "_").Replace(strings.TrimSpace(name)))
	level, ok := isolationLevels[key]
	if !ok {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "unknown isolation level '%s'", name)
	}
	return &sql.TxOptions{Isolation: level}, nil
}

func (f *DefaultStepFactory) transactionManager(opts StepOptions) tx.TransactionManager {
	if opts.TransactionManager != nil {
		return opts.TransactionManager
	}
	return f.txManager
}

func (f *DefaultStepFactory) configure(b *step.Base, opts StepOptions) {
	b.SetStartLimit(opts.StartLimit)
	b.SetAllowStartIfComplete(opts.AllowStartIfComplete)
	b.SetMetricRecorder(f.metricRecorder)
	b.SetTracer(f.tracer)
	for _, l := range opts.Listeners {
		b.RegisterListener(l)
	}
}

// RetrySettings builds the retry policy and backoff of cfg. A nil policy means
// failures are not retried.
func RetrySettings(cfg config.RetryConfig) (retry.Policy, retry.BackOffPolicy, error) {
	if cfg.MaxAttempts <= 1 {
		return nil, nil, nil
	}
	kinds, err := classifier.ParseKinds(cfg.RetryableKinds)
	if err != nil {
		return nil, nil, err
	}
	policy, err := retry.NewSimpleRetryPolicy(cfg.MaxAttempts, kinds...)
	if err != nil {
		return nil, nil, exception.NewBatchError(exception.KindConfiguration, module, "invalid retry settings", err)
	}
	if cfg.InitialIntervalMillis <= 0 {
		return policy, retry.NoBackOff{}, nil
	}
	return policy, retry.ExponentialBackOff{
		Initial:    time.Duration(cfg.InitialIntervalMillis) * time.Millisecond,
		Max:        time.Duration(cfg.MaxIntervalMillis) * time.Millisecond,
		Multiplier: cfg.Multiplier,
	}, nil
}

// CreateChunkStep implements StepFactory.
func (f *DefaultStepFactory) CreateChunkStep(
	name string,
	reader port.ItemReader[any],
	processor port.ItemProcessor[any, any],
	writer port.ItemWriter[any],
	opts ChunkOptions,
) (port.Step, error) {
	if reader == nil || writer == nil {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "chunk step '%s' requires a reader and a writer", name)
	}
	txOptions, err := ParseIsolationLevel(opts.IsolationLevel)
	if err != nil {
		return nil, err
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = f.defaults.ChunkSize
	}
	retryCfg := f.defaults.Retry
	if opts.Retry != nil {
		retryCfg = *opts.Retry
	}
	skipCfg := f.defaults.Skip
	if opts.Skip != nil {
		skipCfg = *opts.Skip
	}

	s := itemstep.NewChunkStep[any, any](name, reader, processor, writer, chunkSize, f.jobRepository, f.transactionManager(opts.StepOptions))
	f.configure(&s.Base, opts.StepOptions)
	s.SetTransactionOptions(txOptions)

	if skipCfg.SkipLimit != 0 || len(skipCfg.SkippableKinds) > 0 {
		skipPolicy, err := f.skipPolicies.Create(skipCfg.SkipLimit, skipCfg.SkippableKinds, nil)
		if err != nil {
			return nil, err
		}
		s.SetSkipPolicy(skipPolicy)
	}

	policy, backOff, err := RetrySettings(retryCfg)
	if err != nil {
		return nil, err
	}
	if policy != nil {
		s.SetReadRetry(policy, backOff)
		s.SetProcessRetry(policy, backOff)
		s.SetWriteRetry(policy, backOff)
	}

	for _, l := range opts.ChunkListeners {
		s.RegisterChunkListener(l)
	}
	for _, l := range opts.SkipListeners {
		s.RegisterSkipListener(l)
	}
	for _, st := range opts.Streams {
		s.RegisterStream(st)
	}
	logger.Debugf("Chunk Step '%s' built (chunk size: %d, skip limit: %d, retry attempts: %d).", name, s.ChunkSize(), skipCfg.SkipLimit, retryCfg.MaxAttempts)
	return s, nil
}

// CreateTaskletStep implements StepFactory.
func (f *DefaultStepFactory) CreateTaskletStep(name string, tasklet port.Tasklet, opts StepOptions) (port.Step, error) {
	if tasklet == nil {
		return nil, exception.NewBatchErrorf(exception.KindConfiguration, module, "tasklet step '%s' requires a tasklet", name)
	}
	txOptions, err := ParseIsolationLevel(opts.IsolationLevel)
	if err != nil {
		return nil, err
	}
	s := taskletstep.NewTaskletStep(name, tasklet, f.jobRepository, f.transactionManager(opts))
	f.configure(&s.Base, opts)
	s.SetTransactionOptions(txOptions)
	logger.Debugf("Tasklet Step '%s' built.", name)
	return s, nil
}

// Verify that DefaultStepFactory implements the StepFactory interface.
var _ StepFactory = (*DefaultStepFactory)(nil)

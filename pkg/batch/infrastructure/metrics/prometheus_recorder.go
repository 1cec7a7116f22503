package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	model "github.com/tigerroll/chunkbatch/pkg/batch/core/domain/model"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job Metrics
	jobsRunning        *prometheus.GaugeVec
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Step Metrics
	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	// Item Metrics
	itemReadCounter    *prometheus.CounterVec
	itemProcessCounter *prometheus.CounterVec
	itemFilterCounter  *prometheus.CounterVec
	itemWriteCounter   *prometheus.CounterVec
	itemSkipCounter    *prometheus.CounterVec
	itemRetryCounter   *prometheus.CounterVec

	// Chunk Metrics
	chunkCommitCounter   *prometheus.CounterVec
	chunkRollbackCounter *prometheus.CounterVec
	operationSeconds     *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a recorder on its own registry, which also
// carries the Go runtime and process collectors.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobsRunning: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "batch_jobs_running",
			Help: "Number of job executions currently running.",
		}, []string{"job_name"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_job_duration_seconds",
			Help:    "Duration of batch job executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_job_status_total",
			Help: "Total number of finished batch job executions by status and exit code.",
		}, []string{"job_name", "status", "exit_code"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_step_duration_seconds",
			Help:    "Duration of batch step executions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"job_name", "step_name", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_step_status_total",
			Help: "Total number of finished batch step executions by status and exit code.",
		}, []string{"job_name", "step_name", "status", "exit_code"}),
		itemReadCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_read_total",
			Help: "Total items read by step.",
		}, []string{"step_name"}),
		itemProcessCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_process_total",
			Help: "Total items processed by step.",
		}, []string{"step_name"}),
		itemFilterCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_filter_total",
			Help: "Total items filtered by step.",
		}, []string{"step_name"}),
		itemWriteCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_write_total",
			Help: "Total items written by step.",
		}, []string{"step_name"}),
		itemSkipCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_skip_total",
			Help: "Total items skipped by step and phase.",
		}, []string{"step_name", "phase"}), // phase: read, process, write
		itemRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_item_retry_total",
			Help: "Total retried attempts by step and phase.",
		}, []string{"step_name", "phase"}),
		chunkCommitCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_commit_total",
			Help: "Total chunk commits by step.",
		}, []string{"step_name"}),
		chunkRollbackCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "batch_chunk_rollback_total",
			Help: "Total chunk rollbacks by step.",
		}, []string{"step_name"}),
		operationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "batch_operation_duration_seconds",
			Help:    "Duration of engine operations such as chunk transactions.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation", "step_name"}),
	}

	registry.MustRegister(
		r.jobsRunning,
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.itemReadCounter,
		r.itemProcessCounter,
		r.itemFilterCounter,
		r.itemWriteCounter,
		r.itemSkipCounter,
		r.itemRetryCounter,
		r.chunkCommitCounter,
		r.chunkRollbackCounter,
		r.operationSeconds,
	)
	return r
}

// Registry returns the Prometheus registry.
func (r *PrometheusRecorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}

func elapsed(start, end *time.Time) (float64, bool) {
	if start == nil || end == nil {
		return 0, false
	}
	return end.Sub(*start).Seconds(), true
}

func jobNameOf(se *model.StepExecution) string {
	if se.JobExecution == nil {
		return ""
	}
	return se.JobExecution.JobName
}

// RecordJobStart records the start of a JobExecution.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, execution *model.JobExecution) {
	r.jobsRunning.WithLabelValues(execution.JobName).Inc()
	logger.Debugf("Metrics: Job '%s' started.", execution.JobName)
}

// RecordJobEnd records the end of a JobExecution.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, execution *model.JobExecution) {
	r.jobStatusCounter.WithLabelValues(execution.JobName, execution.Status.String(), execution.ExitStatus.ExitCode).Inc()
	duration, ok := elapsed(execution.StartTime, execution.EndTime)
	if !ok {
		// The job never started.
		return
	}
	r.jobsRunning.WithLabelValues(execution.JobName).Dec()
	r.jobDurationSeconds.WithLabelValues(execution.JobName, execution.Status.String()).Observe(duration)
	logger.Debugf("Metrics: Job '%s' ended. Duration: %.3fs", execution.JobName, duration)
}

// RecordStepStart records the start of a StepExecution.
func (r *PrometheusRecorder) RecordStepStart(ctx context.Context, execution *model.StepExecution) {
	logger.Debugf("Metrics: Step '%s' started.", execution.StepName)
}

// RecordStepEnd records the end of a StepExecution.
func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, execution *model.StepExecution) {
	jobName := jobNameOf(execution)
	r.stepStatusCounter.WithLabelValues(jobName, execution.StepName, execution.Status.String(), execution.ExitStatus.ExitCode).Inc()
	if duration, ok := elapsed(execution.StartTime, execution.EndTime); ok {
		r.stepDurationSeconds.WithLabelValues(jobName, execution.StepName, execution.Status.String()).Observe(duration)
		logger.Debugf("Metrics: Step '%s' ended. Duration: %.3fs", execution.StepName, duration)
	}
}

// RecordItemRead records successful item reads.
func (r *PrometheusRecorder) RecordItemRead(ctx context.Context, stepName string) {
	r.itemReadCounter.WithLabelValues(stepName).Inc()
}

// RecordItemProcess records successful item processing.
func (r *PrometheusRecorder) RecordItemProcess(ctx context.Context, stepName string) {
	r.itemProcessCounter.WithLabelValues(stepName).Inc()
}

// RecordItemFilter records items dropped by a processor.
func (r *PrometheusRecorder) RecordItemFilter(ctx context.Context, stepName string) {
	r.itemFilterCounter.WithLabelValues(stepName).Inc()
}

// RecordItemWrite records successful item writes.
func (r *PrometheusRecorder) RecordItemWrite(ctx context.Context, stepName string, count int) {
	r.itemWriteCounter.WithLabelValues(stepName).Add(float64(count))
}

// RecordItemSkip records item skips.
func (r *PrometheusRecorder) RecordItemSkip(ctx context.Context, stepName string, phase string) {
	r.itemSkipCounter.WithLabelValues(stepName, phase).Inc()
}

// RecordItemRetry records retried attempts.
func (r *PrometheusRecorder) RecordItemRetry(ctx context.Context, stepName string, phase string) {
	r.itemRetryCounter.WithLabelValues(stepName, phase).Inc()
}

// RecordChunkCommit records chunk commits.
func (r *PrometheusRecorder) RecordChunkCommit(ctx context.Context, stepName string, count int) {
	r.chunkCommitCounter.WithLabelValues(stepName).Inc()
}

// RecordChunkRollback records chunk rollbacks.
func (r *PrometheusRecorder) RecordChunkRollback(ctx context.Context, stepName string) {
	r.chunkRollbackCounter.WithLabelValues(stepName).Inc()
}

// RecordDuration records the execution time of a specific operation. The "step" tag
// becomes the step_name label; other tags are ignored.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.operationSeconds.WithLabelValues(name, tags["step"]).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)

package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	metrics "github.com/tigerroll/chunkbatch/pkg/batch/core/metrics"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewTelemetryFromConfig builds the OpenTelemetry providers and shuts them down when the application stops.
func NewTelemetryFromConfig(lc fx.Lifecycle, cfg *config.Config) (*Telemetry, error) {
	t, err := NewTelemetry(context.Background(), cfg.Chunkbatch.Observability)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: t.Shutdown,
	})
	return t, nil
}

type recorderParams struct {
	fx.In
	Lifecycle  fx.Lifecycle
	Config     *config.Config
	Recorder   metrics.MetricRecorder
	Prometheus *PrometheusRecorder
	Telemetry  *Telemetry
}

// DecorateMetricRecorder replaces the no-op recorder with the configured backend,
// wrapped in an AsyncMetricRecorder when an async buffer size is set.
func DecorateMetricRecorder(p recorderParams) (metrics.MetricRecorder, error) {
	obs := p.Config.Chunkbatch.Observability
	recorder := p.Recorder
	switch obs.MetricsExporter {
	case config.ExporterPrometheus:
		recorder = p.Prometheus
	case config.ExporterOTLP:
		otelRecorder, err := NewOpenTelemetryRecorder(p.Telemetry.MeterProvider)
		if err != nil {
			return nil, err
		}
		recorder = otelRecorder
	}
	logger.Debugf("MetricRecorder: using '%s' exporter.", obs.MetricsExporter)

	if obs.MetricsAsyncBufferSize <= 0 {
		return recorder, nil
	}
	async := NewAsyncMetricRecorder(obs.MetricsAsyncBufferSize, recorder)
	p.Lifecycle.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		},
	})
	logger.Debugf("MetricRecorder decorated with asynchronous wrapper.")
	return async, nil
}

// DecorateTracer replaces the no-op tracer when tracing is enabled.
func DecorateTracer(cfg *config.Config, tracer metrics.Tracer, t *Telemetry) metrics.Tracer {
	if !cfg.Chunkbatch.Observability.TracingEnabled {
		return tracer
	}
	return NewOpenTelemetryTracer(t.TracerProvider)
}

// Module wires the metric and tracing backends over the no-op defaults of the core metrics module.
var Module = fx.Options(
	fx.Provide(NewPrometheusRecorder),
	fx.Provide(NewTelemetryFromConfig),
	fx.Decorate(DecorateMetricRecorder),
	fx.Decorate(DecorateTracer),
)

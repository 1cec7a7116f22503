package metrics

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	otelmetric "go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	config "github.com/tigerroll/chunkbatch/pkg/batch/core/config"
	exception "github.com/tigerroll/chunkbatch/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// Telemetry holds the OpenTelemetry providers built from the observability settings.
// Providers that are not configured are no-ops.
type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  otelmetric.MeterProvider
	shutdowns      []func(context.Context) error
}

// NewTelemetry creates the providers. Exporters connect lazily, so an unreachable
// collector does not fail startup.
func NewTelemetry(ctx context.Context, cfg config.ObservabilityConfig) (*Telemetry, error) {
	t := &Telemetry{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}
	res := resource.NewSchemaless(attribute.String("service.name", cfg.ServiceName))

	if cfg.TracingEnabled {
		exporter, err := newTraceExporter(ctx, cfg.OTLP)
		if err != nil {
			return nil, exception.NewBatchError(exception.KindConfiguration, "metrics", "failed to create OTLP trace exporter", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res))
		t.TracerProvider = tp
		t.shutdowns = append(t.shutdowns, tp.Shutdown)
		logger.Infof("OpenTelemetry tracing enabled (endpoint: %s, protocol: %s).", cfg.OTLP.Endpoint, cfg.OTLP.Protocol)
	}

	if cfg.MetricsExporter == config.ExporterOTLP {
		exporter, err := newMetricExporter(ctx, cfg.OTLP)
		if err != nil {
			_ = t.Shutdown(ctx)
			return nil, exception.NewBatchError(exception.KindConfiguration, "metrics", "failed to create OTLP metric exporter", err)
		}
		interval := time.Duration(cfg.ExportIntervalSeconds) * time.Second
		if interval <= 0 {
			interval = 15 * time.Second
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
			sdkmetric.WithResource(res),
		)
		t.MeterProvider = mp
		t.shutdowns = append(t.shutdowns, mp.Shutdown)
		logger.Infof("OpenTelemetry metrics enabled (endpoint: %s, interval: %s).", cfg.OTLP.Endpoint, interval)
	}
	return t, nil
}

func newTraceExporter(ctx context.Context, cfg config.OTLPConfig) (sdktrace.SpanExporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)
	}
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func newMetricExporter(ctx context.Context, cfg config.OTLPConfig) (sdkmetric.Exporter, error) {
	if cfg.Protocol == "http" {
		opts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

// Shutdown flushes and stops every SDK provider.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	for i := len(t.shutdowns) - 1; i >= 0; i-- {
		if err := t.shutdowns[i](ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	t.shutdowns = nil
	return result.ErrorOrNil()
}

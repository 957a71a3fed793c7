package infra

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/tnqbao/gau-lipsync-orchestrator/config"
	"go.opentelemetry.io/contrib/instrumentation/runtime"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/tnqbao/gau-lipsync-orchestrator"

type Telemetry struct {
	TracerProvider trace.TracerProvider
	MeterProvider  metric.MeterProvider
	shutdowns      []func(context.Context) error
}

// InitTelemetry wires traces, metrics and Go runtime metrics to the Grafana OTLP endpoint.
// Without an endpoint everything is a no-op.
func InitTelemetry(cfg *config.EnvConfig) *Telemetry {
	if cfg.Grafana.OTLPEndpoint == "" {
		return NoopTelemetry()
	}

	ctx := context.Background()
	res, err := newResource(ctx, cfg)
	if err != nil {
		log.Printf("Warning: failed to build telemetry resource: %v", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Grafana.OTLPEndpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Grafana.OTLPEndpoint)}
	if cfg.Grafana.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(traceOpts...))
	if err != nil {
		panic("Failed to create OTLP trace exporter: " + err.Error())
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)

	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		panic("Failed to create OTLP metric exporter: " + err.Error())
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(30*time.Second))),
		sdkmetric.WithResource(res),
	)

	otel.SetTracerProvider(tracerProvider)
	otel.SetMeterProvider(meterProvider)

	if err := runtime.Start(runtime.WithMeterProvider(meterProvider)); err != nil {
		log.Printf("Warning: failed to start runtime metrics: %v", err)
	}

	return &Telemetry{
		TracerProvider: tracerProvider,
		MeterProvider:  meterProvider,
		shutdowns:      []func(context.Context) error{tracerProvider.Shutdown, meterProvider.Shutdown},
	}
}

func NoopTelemetry() *Telemetry {
	return &Telemetry{
		TracerProvider: tracenoop.NewTracerProvider(),
		MeterProvider:  metricnoop.NewMeterProvider(),
	}
}

func (t *Telemetry) Tracer() trace.Tracer {
	return t.TracerProvider.Tracer(instrumentationName)
}

func (t *Telemetry) Meter() metric.Meter {
	return t.MeterProvider.Meter(instrumentationName)
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for _, shutdown := range t.shutdowns {
		errs = append(errs, shutdown(ctx))
	}
	return errors.Join(errs...)
}

func newResource(ctx context.Context, cfg *config.EnvConfig) (*resource.Resource, error) {
	return resource.New(ctx,
		resource.WithAttributes(
			attribute.String("service.name", cfg.Grafana.ServiceName),
			attribute.String("service.namespace", cfg.Environment.Group),
			attribute.String("deployment.environment", cfg.Environment.Mode),
		),
		resource.WithHost(),
		resource.WithProcessRuntimeName(),
	)
}

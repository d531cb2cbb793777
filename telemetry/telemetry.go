// Package telemetry wires OpenTelemetry tracing and metrics for pipeline runs.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const scope = "github.com/shono-io/shipwright"

type Config struct {
	// Endpoint is the OTLP/HTTP collector address; empty disables export.
	Endpoint string
	Insecure bool
}

type Shutdown func(ctx context.Context) error

// Init installs global tracer and meter providers exporting to cfg.Endpoint. With no
// endpoint the global no-op providers stay in place.
func Init(ctx context.Context, cfg Config, serviceName, version string) (Shutdown, error) {
	if cfg.Endpoint == "" {
		return func(ctx context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceNameKey.String(serviceName),
			semconv.ServiceVersionKey.String(version),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("unable to create telemetry resource: %w", err)
	}

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
	}
	traceExp, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExp, sdktrace.WithBatchTimeout(5*time.Second)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}
	metricExp, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create metric exporter: %w", err)
	}

	// a release run is short lived; the final collection happens on shutdown
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(15*time.Second))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(ctx context.Context) error {
		var firstErr error
		if err := tp.Shutdown(ctx); err != nil {
			firstErr = err
		}
		if err := mp.Shutdown(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
		return firstErr
	}, nil
}

func Tracer() trace.Tracer {
	return otel.Tracer(scope)
}

// Recorder measures stages and target builds of one run.
type Recorder struct {
	tracer  trace.Tracer
	stages  metric.Float64Histogram
	targets metric.Int64Counter
}

// NewRecorder uses the global providers, so it is a no-op unless Init configured an exporter.
func NewRecorder() *Recorder {
	meter := otel.GetMeterProvider().Meter(scope)

	r := &Recorder{tracer: Tracer()}
	// instrument creation only fails on invalid names; fall back to no-op instruments
	if h, err := meter.Float64Histogram("shipwright.stage.duration",
		metric.WithUnit("s"),
		metric.WithDescription("duration of a pipeline stage")); err == nil {
		r.stages = h
	}
	if c, err := meter.Int64Counter("shipwright.target.builds",
		metric.WithDescription("target builds by outcome")); err == nil {
		r.targets = c
	}
	return r
}

// Stage starts a span for a pipeline stage. The returned func ends it with the stage status.
func (r *Recorder) Stage(ctx context.Context, runID, stage string) (context.Context, func(status string, err error)) {
	start := time.Now()
	ctx, span := r.tracer.Start(ctx, "stage."+stage, trace.WithAttributes(
		attribute.String("shipwright.run_id", runID),
		attribute.String("shipwright.stage", stage),
	))

	return ctx, func(status string, err error) {
		span.SetAttributes(attribute.String("shipwright.status", status))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()

		if r.stages != nil {
			r.stages.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.String("stage", stage),
				attribute.String("status", status),
			))
		}
	}
}

func (r *Recorder) Target(ctx context.Context, triple, status string) {
	if r.targets == nil {
		return
	}
	r.targets.Add(ctx, 1, metric.WithAttributes(
		attribute.String("target", triple),
		attribute.String("status", status),
	))
}

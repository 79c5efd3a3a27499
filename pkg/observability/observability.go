// Package observability provides OpenTelemetry tracing and RED metrics for
// certificate validation.
//
// Telemetry is disabled by default. A disabled Provider records into no-op
// instruments, so callers never need to nil-check it.
package observability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const scope = "github.com/Mindburn-Labs/dccvalidate"

type Config struct {
	ServiceName  string
	OTLPEndpoint string // gRPC, e.g. "localhost:4317"
	Insecure     bool   // plaintext gRPC
	Enabled      bool
}

func DefaultConfig() *Config {
	return &Config{
		ServiceName:  "hcert-validator",
		OTLPEndpoint: "localhost:4317",
	}
}

// Provider records validation spans and metrics.
type Provider struct {
	tracer   trace.Tracer
	shutdown []func(context.Context) error

	validations metric.Int64Counter
	failures    metric.Int64Counter
	duration    metric.Float64Histogram
	active      metric.Int64UpDownCounter
}

// Disabled returns a Provider that records nothing.
func Disabled() *Provider {
	// No-op instruments cannot fail to register.
	p, _ := NewWithProviders(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return p
}

// New exports over OTLP gRPC when config.Enabled is set and returns a
// disabled provider otherwise.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return Disabled(), nil
	}

	res, err := resource.Merge(resource.Default(),
		resource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(config.ServiceName)))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	traceOpts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(config.OTLPEndpoint)}
	metricOpts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(config.OTLPEndpoint)}
	if config.Insecure {
		traceOpts = append(traceOpts, otlptracegrpc.WithInsecure())
		metricOpts = append(metricOpts, otlpmetricgrpc.WithInsecure())
	}

	spanExporter, err := otlptracegrpc.New(ctx, traceOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	metricExporter, err := otlpmetricgrpc.New(ctx, metricOpts...)
	if err != nil {
		_ = spanExporter.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create metric exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(sdktrace.WithResource(res), sdktrace.WithBatcher(spanExporter))
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter)))

	p, err := NewWithProviders(tp, mp)
	if err != nil {
		return nil, err
	}
	p.shutdown = []func(context.Context) error{tp.Shutdown, mp.Shutdown}

	slog.Default().InfoContext(ctx, "telemetry enabled",
		"component", "observability", "endpoint", config.OTLPEndpoint)
	return p, nil
}

// NewWithProviders records into caller-owned providers. Shutdown leaves
// them running.
func NewWithProviders(tp trace.TracerProvider, mp metric.MeterProvider) (*Provider, error) {
	meter := mp.Meter(scope)
	p := &Provider{tracer: tp.Tracer(scope)}

	var err error
	if p.validations, err = meter.Int64Counter("hcert.validations.total",
		metric.WithDescription("Completed certificate validations by status")); err != nil {
		return nil, err
	}
	if p.failures, err = meter.Int64Counter("hcert.errors.total",
		metric.WithDescription("Failed operations by error code")); err != nil {
		return nil, err
	}
	if p.duration, err = meter.Float64Histogram("hcert.validation.duration",
		metric.WithDescription("Operation duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10)); err != nil {
		return nil, err
	}
	if p.active, err = meter.Int64UpDownCounter("hcert.operations.active",
		metric.WithDescription("Operations in flight")); err != nil {
		return nil, err
	}
	return p, nil
}

// Shutdown flushes exporters created by New.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	for _, fn := range p.shutdown {
		errs = append(errs, fn(ctx))
	}
	return errors.Join(errs...)
}

// RecordValidation counts one finished validation.
func (p *Provider) RecordValidation(ctx context.Context, status string, attrs ...attribute.KeyValue) {
	attrs = append([]attribute.KeyValue{attribute.String("hcert.status", status)}, attrs...)
	p.validations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// TrackOperation starts a span and returns the function that ends it,
// recording duration and, when non-nil, the error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	attrs = append([]attribute.KeyValue{attribute.String("hcert.operation", name)}, attrs...)
	set := metric.WithAttributes(attrs...)

	ctx, span := p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	p.active.Add(ctx, 1, set)

	return ctx, func(err error) {
		p.active.Add(ctx, -1, set)
		p.duration.Record(ctx, time.Since(start).Seconds(), set)
		if err != nil {
			span.RecordError(err)
			coded := append([]attribute.KeyValue{attribute.String("error.type", errorCode(err))}, attrs...)
			p.failures.Add(ctx, 1, metric.WithAttributes(coded...))
		}
		span.End()
	}
}

func errorCode(err error) string {
	var coded interface{ Code() string }
	if errors.As(err, &coded) {
		return coded.Code()
	}
	return fmt.Sprintf("%T", err)
}

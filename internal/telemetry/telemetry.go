// Package telemetry provides OpenTelemetry instrumentation for trailpipe.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/credentials"

	"github.com/yairfalse/trailpipe/internal/config"
)

// PushJob is the job label used when pushing to a Prometheus push gateway.
const PushJob = "trailpipe"

// Object outcome labels for the objects counter.
const (
	StatusExtracted = "extracted"
	StatusFailed    = "failed"
)

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter

	registry    *promclient.Registry
	pushGateway string

	objects     metric.Int64Counter
	delivered   metric.Int64Counter
	dropped     metric.Int64Counter
	sinkErrors  metric.Int64Counter
	runDuration metric.Float64Histogram
}

// NewProvider creates a new telemetry provider.
func NewProvider(ctx context.Context, cfg config.TelemetryConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{pushGateway: cfg.PushGateway}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		return nil, err
	}

	return p, nil
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts, sdktrace.WithBatcher(exp), sdktrace.WithSampler(sampler))
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	p.tracer = p.tracerProvider.Tracer("trailpipe")

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.TelemetryConfig, res *resource.Resource) error {
	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
	}

	// Batch runs end before any scrape, so the registry is only read by Push.
	p.registry = promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}
	opts = append(opts, sdkmetric.WithReader(promExporter))

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("trailpipe")

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.TelemetryConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	} else {
		opts = append(opts, otlptracegrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.TelemetryConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	} else {
		opts = append(opts, otlpmetricgrpc.WithTLSCredentials(credentials.NewClientTLSFromCert(nil, "")))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.objects, err = p.meter.Int64Counter(
		"trailpipe_objects_total",
		metric.WithDescription("Log objects processed, by outcome"),
	)
	if err != nil {
		return fmt.Errorf("create objects: %w", err)
	}

	p.delivered, err = p.meter.Int64Counter(
		"trailpipe_records_delivered_total",
		metric.WithDescription("Records routed to the sinks"),
	)
	if err != nil {
		return fmt.Errorf("create records_delivered: %w", err)
	}

	p.dropped, err = p.meter.Int64Counter(
		"trailpipe_records_dropped_total",
		metric.WithDescription("Records dropped by the filter"),
	)
	if err != nil {
		return fmt.Errorf("create records_dropped: %w", err)
	}

	p.sinkErrors, err = p.meter.Int64Counter(
		"trailpipe_sink_errors_total",
		metric.WithDescription("Failed deliveries, by sink"),
	)
	if err != nil {
		return fmt.Errorf("create sink_errors: %w", err)
	}

	p.runDuration, err = p.meter.Float64Histogram(
		"trailpipe_run_duration_seconds",
		metric.WithDescription("Duration of ingestion runs"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create run_duration: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Registry returns the Prometheus registry the meter exports into.
func (p *Provider) Registry() *promclient.Registry {
	return p.registry
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name)
}

// ObjectProcessed counts one object with the given outcome.
func (p *Provider) ObjectProcessed(ctx context.Context, status string) {
	p.objects.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordsDelivered counts records routed to the sinks.
func (p *Provider) RecordsDelivered(ctx context.Context, n int) {
	p.delivered.Add(ctx, int64(n))
}

// RecordsDropped counts records removed by the filter.
func (p *Provider) RecordsDropped(ctx context.Context, n int) {
	p.dropped.Add(ctx, int64(n))
}

// SinkError counts one failed delivery.
func (p *Provider) SinkError(ctx context.Context, sink string) {
	p.sinkErrors.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

// RunFinished records the duration of a run.
func (p *Provider) RunFinished(ctx context.Context, d time.Duration) {
	p.runDuration.Record(ctx, d.Seconds())
}

// Push sends the current metric values to the configured push gateway.
// It does nothing when no gateway is configured.
func (p *Provider) Push(ctx context.Context) error {
	if p.pushGateway == "" {
		return nil
	}
	if err := push.New(p.pushGateway, PushJob).Gatherer(p.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", p.pushGateway, err)
	}
	return nil
}

// Shutdown pushes metrics when configured, then flushes and shuts down the
// providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if err := p.Push(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracer: %w", err))
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown meter: %w", err))
		}
	}
	return errors.Join(errs...)
}

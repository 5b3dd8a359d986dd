// Package tracing sets up OpenTelemetry export and HTTP instrumentation.
package tracing

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Config holds configuration for the TracerProvider setup.
type Config struct {
	// Endpoint is the OTLP HTTP endpoint (e.g., "localhost:4318").
	Endpoint       string
	ServiceName    string
	ServiceVersion string
	// Insecure disables TLS for the OTLP exporter.
	Insecure bool
	// SampleRate is the root sampling ratio. Values outside (0, 1) sample
	// everything.
	SampleRate float64
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Endpoint:    "localhost:4318",
		ServiceName: "enfyra",
		Insecure:    true,
		SampleRate:  1.0,
	}
}

// Provider wraps an OpenTelemetry TracerProvider and handles lifecycle.
type Provider struct {
	tp     *sdktrace.TracerProvider
	tracer trace.Tracer
}

// NewProvider exports to the configured OTLP endpoint and installs the
// provider globally.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}
	return NewProviderWithExporter(ctx, cfg, sdktrace.NewBatchSpanProcessor(exporter))
}

// NewProviderWithExporter installs a provider that hands spans to
// processor.
func NewProviderWithExporter(ctx context.Context, cfg Config, processor sdktrace.SpanProcessor) (*Provider, error) {
	attrs := []resource.Option{
		resource.WithAttributes(semconv.ServiceNameKey.String(cfg.ServiceName)),
	}
	if cfg.ServiceVersion != "" {
		attrs = append(attrs, resource.WithAttributes(semconv.ServiceVersionKey.String(cfg.ServiceVersion)))
	}
	res, err := resource.New(ctx, attrs...)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSpanProcessor(processor),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	return &Provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName)}, nil
}

func sampler(rate float64) sdktrace.Sampler {
	if rate <= 0 || rate >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
}

// Tracer returns the service tracer.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// TracerProvider returns the underlying SDK TracerProvider.
func (p *Provider) TracerProvider() *sdktrace.TracerProvider { return p.tp }

// Shutdown flushes pending spans.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp != nil {
		return p.tp.Shutdown(ctx)
	}
	return nil
}

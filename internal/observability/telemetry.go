// Package observability traces backend calls, cache loads and mutations
// with OpenTelemetry. Until Init enables it, every span is a no-op.
package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config holds tracing settings.
type Config struct {
	Enabled        bool
	Exporter       string // otlp-http (default), noop
	Endpoint       string // host:port of the OTLP HTTP collector
	ServiceName    string
	ServiceVersion string
	SampleRate     float64 // fraction of new traces kept, 0.0 to 1.0
}

// DefaultServiceName is used when Config.ServiceName is empty.
const DefaultServiceName = "sellerd"

const shutdownTimeout = 5 * time.Second

type provider struct {
	tp      *sdktrace.TracerProvider
	tracer  trace.Tracer
	enabled bool
}

var current = disabled()

func disabled() *provider {
	return &provider{tracer: noop.NewTracerProvider().Tracer(DefaultServiceName)}
}

// Init installs the process-wide tracer provider and W3C propagator. With
// tracing disabled it resets to no-op spans.
func Init(ctx context.Context, cfg Config) error {
	if !cfg.Enabled {
		current = disabled()
		return nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return err
	}
	res, err := resource.New(ctx,
		resource.WithHost(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return fmt.Errorf("tracing resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(newSampler(cfg.SampleRate)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	current = &provider{tp: tp, tracer: tp.Tracer(cfg.ServiceName), enabled: true}
	return nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "otlp-http", "otlp":
		opts := []otlptracehttp.Option{otlptracehttp.WithInsecure()}
		if cfg.Endpoint != "" {
			opts = append(opts, otlptracehttp.WithEndpoint(cfg.Endpoint))
		}
		exp, err := otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("otlp exporter: %w", err)
		}
		return exp, nil
	case "noop":
		return discardExporter{}, nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.Exporter)
	}
}

// newSampler keeps child spans with their parent's decision and samples new
// traces at rate.
func newSampler(rate float64) sdktrace.Sampler {
	root := sdktrace.AlwaysSample()
	if rate >= 0 && rate < 1 {
		root = sdktrace.TraceIDRatioBased(rate)
	}
	return sdktrace.ParentBased(root)
}

// Shutdown flushes pending spans and stops the provider.
func Shutdown(ctx context.Context) error {
	p := current
	if p.tp == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	current = disabled()
	return p.tp.Shutdown(ctx)
}

// Tracer returns the active tracer.
func Tracer() trace.Tracer {
	return current.tracer
}

// Enabled reports whether spans are recorded and exported.
func Enabled() bool {
	return current.enabled
}

// discardExporter records spans in-process and drops them on export.
type discardExporter struct{}

func (discardExporter) ExportSpans(context.Context, []sdktrace.ReadOnlySpan) error { return nil }

func (discardExporter) Shutdown(context.Context) error { return nil }

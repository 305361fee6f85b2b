package obsbus

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerConfig controls the runtime's OpenTelemetry tracer provider.
type TracerConfig struct {
	Enabled      bool
	Exporter     string // "stdout"; any other value selects OTLP over gRPC
	Endpoint     string
	SamplingRate float64
	ServiceName  string
}

// InitTracerProvider wires a tracer provider from cfg and installs it as
// the global provider, mirroring the teacher's InitGlobalTracer.
func InitTracerProvider(ctx context.Context, cfg TracerConfig) (trace.TracerProvider, error) {
	if !cfg.Enabled {
		return noop.NewTracerProvider(), nil
	}

	var exporter sdktrace.SpanExporter
	var err error

	switch cfg.Exporter {
	case "stdout":
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		exporter, err = otlptracegrpc.New(ctx,
			otlptracegrpc.WithEndpoint(cfg.Endpoint),
			otlptracegrpc.WithInsecure(),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("obsbus: create span exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes())
	if err != nil {
		return nil, fmt.Errorf("obsbus: build resource: %w", err)
	}

	rate := cfg.SamplingRate
	if rate <= 0 {
		rate = 1.0
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.TraceIDRatioBased(rate)),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// Tracer returns a named tracer from the global provider.
func Tracer(name string) trace.Tracer { return otel.Tracer(name) }

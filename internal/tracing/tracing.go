package tracing

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Environment knobs read by GetConfig.
const (
	EnvEnabled     = "STUDYRELAY_OTEL_ENABLED"      // "true" in any case enables export
	EnvSampleRatio = "STUDYRELAY_OTEL_SAMPLE_RATIO" // fraction of new root traces kept
)

// Config holds tracing configuration.
type Config struct {
	Enabled     bool
	Endpoint    string
	ServiceName string
	// SampleRatio applies to traces started by the relay. Spans with a
	// sampled remote parent are always kept.
	SampleRatio float64
}

// GetConfig reads tracing configuration from the environment.
// OTEL_EXPORTER_OTLP_ENDPOINT defaults to "localhost:4317" and the sample
// ratio to 1. Ratios outside [0,1] fall back to 1.
func GetConfig(serviceName string) Config {
	cfg := Config{
		Enabled:     strings.EqualFold(os.Getenv(EnvEnabled), "true"),
		Endpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		ServiceName: serviceName,
		SampleRatio: 1,
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "localhost:4317"
	}
	if r, err := strconv.ParseFloat(os.Getenv(EnvSampleRatio), 64); err == nil && r >= 0 && r <= 1 {
		cfg.SampleRatio = r
	}
	return cfg
}

// Tracing owns the process tracer and the exporter pipeline behind it.
type Tracing struct {
	Tracer trace.Tracer

	sdk    *sdktrace.TracerProvider // nil when export is disabled
	logger *slog.Logger
}

// Initialize installs the W3C trace-context and baggage propagator, so trace
// context on inbound events reaches outbound messages even when export is
// disabled. When enabled, spans are batched to an OTLP gRPC collector.
func Initialize(ctx context.Context, cfg Config, logger *slog.Logger) (*Tracing, error) {
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if !cfg.Enabled {
		logger.Info("span export disabled, using no-op tracer")
		return &Tracing{Tracer: noop.NewTracerProvider().Tracer(cfg.ServiceName), logger: logger}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(sdk)

	logger.Info("span export enabled",
		"endpoint", cfg.Endpoint,
		"service", cfg.ServiceName,
		"sample_ratio", cfg.SampleRatio,
	)
	return newTracing(sdk, cfg.ServiceName, logger), nil
}

func newTracing(sdk *sdktrace.TracerProvider, serviceName string, logger *slog.Logger) *Tracing {
	return &Tracing{Tracer: sdk.Tracer(serviceName), sdk: sdk, logger: logger}
}

// Flush exports buffered spans. Lambda freezes the process between
// invocations, so the Lambda source calls this after every event.
func (t *Tracing) Flush(ctx context.Context) error {
	if t == nil || t.sdk == nil {
		return nil
	}
	return t.sdk.ForceFlush(ctx)
}

// Shutdown flushes and stops the exporter pipeline.
func (t *Tracing) Shutdown(ctx context.Context) error {
	if t == nil || t.sdk == nil {
		return nil
	}
	t.logger.Info("shutting down span export")
	return t.sdk.Shutdown(ctx)
}

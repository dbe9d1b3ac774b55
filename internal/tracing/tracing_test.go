package tracing

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig("test-service")

	if cfg.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.Endpoint != "localhost:4317" {
		t.Errorf("expected endpoint localhost:4317, got %s", cfg.Endpoint)
	}
	if cfg.ServiceName != "test-service" {
		t.Errorf("expected service name test-service, got %s", cfg.ServiceName)
	}
}

func TestGetConfig_CustomEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	if cfg := GetConfig("test-service"); cfg.Endpoint != "collector:4317" {
		t.Errorf("expected endpoint collector:4317, got %s", cfg.Endpoint)
	}
}

func TestGetConfig_Enabled(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		enabled bool
	}{
		{"lowercase true", "true", true},
		{"uppercase TRUE", "TRUE", true},
		{"mixed case True", "True", true},
		{"false", "false", false},
		{"empty", "", false},
		{"random", "random", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvEnabled, tt.envVal)
			if cfg := GetConfig("test-service"); cfg.Enabled != tt.enabled {
				t.Errorf("expected enabled %v, got %v", tt.enabled, cfg.Enabled)
			}
		})
	}
}

func TestGetConfig_SampleRatio(t *testing.T) {
	tests := []struct {
		envVal string
		want   float64
	}{
		{"", 1},
		{"0.25", 0.25},
		{"0", 0},
		{"1.5", 1},
		{"-1", 1},
		{"half", 1},
	}

	for _, tt := range tests {
		t.Run(tt.envVal, func(t *testing.T) {
			t.Setenv(EnvSampleRatio, tt.envVal)
			if got := GetConfig("test-service").SampleRatio; got != tt.want {
				t.Errorf("sample ratio = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestInitialize_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tr, err := Initialize(context.Background(), Config{ServiceName: "test-service"}, logger)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.Tracer == nil {
		t.Error("expected non-nil tracer")
	}
	if otel.GetTextMapPropagator() == nil || len(otel.GetTextMapPropagator().Fields()) == 0 {
		t.Error("expected propagator to be installed when tracing is disabled")
	}
	if err := tr.Flush(context.Background()); err != nil {
		t.Errorf("unexpected flush error: %v", err)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}
}

func TestTracing_FlushExportsBatchedSpans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	sdk := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(time.Hour)))
	tr := newTracing(sdk, "test-service", slog.Default())

	_, span := StartSpan(context.Background(), tr.Tracer, SpanHandle)
	span.End()
	if n := len(exporter.GetSpans()); n != 0 {
		t.Fatalf("expected span to be buffered, got %d exported", n)
	}

	if err := tr.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if n := len(exporter.GetSpans()); n != 1 {
		t.Errorf("expected 1 exported span after flush, got %d", n)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestTracing_NilSafe(t *testing.T) {
	var tr *Tracing
	if err := tr.Flush(context.Background()); err != nil {
		t.Errorf("flush: %v", err)
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestStartSpan_NilTracer(t *testing.T) {
	ctx := context.Background()
	got, span := StartSpan(ctx, nil, SpanHandle)
	if got != ctx {
		t.Error("expected same context for nil tracer")
	}
	if span.IsRecording() {
		t.Error("expected non-recording span")
	}
	if IsTraced(got) {
		t.Error("expected untraced context")
	}
}

func TestSpanStatus(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tracer := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)).Tracer("test")

	ctx, span := StartSpan(context.Background(), tracer, SpanPublish)
	if !IsTraced(ctx) {
		t.Error("expected traced context")
	}
	SetSpanError(span, errors.New("rejected"))
	span.End()

	_, ok := StartSpan(context.Background(), tracer, SpanTransform)
	SetSpanOK(ok)
	ok.End()

	ended := rec.Ended()
	if len(ended) != 2 {
		t.Fatalf("expected 2 spans, got %d", len(ended))
	}
	if ended[0].Status().Code != codes.Error || ended[0].Status().Description != "rejected" {
		t.Errorf("unexpected error status %+v", ended[0].Status())
	}
	if len(ended[0].Events()) != 1 {
		t.Errorf("expected recorded error event, got %d events", len(ended[0].Events()))
	}
	if ended[1].Status().Code != codes.Ok {
		t.Errorf("unexpected ok status %+v", ended[1].Status())
	}
}

func TestSetSpanHelpers_Nil(t *testing.T) {
	SetSpanError(nil, errors.New("x"))
	SetSpanOK(nil)
}

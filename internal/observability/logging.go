package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"
)

// EnvLogLevel names the environment variable read by GetLogLevel.
const EnvLogLevel = "STUDYRELAY_LOG_LEVEL"

// NewLogger creates a structured JSON logger for studyrelay components.
func NewLogger(component string, level slog.Level) *slog.Logger {
	return NewLoggerTo(os.Stdout, component, level)
}

// NewLoggerTo is NewLogger writing to w.
func NewLoggerTo(w io.Writer, component string, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler).With("component", component)
}

type scopeKey struct{}

type scope struct {
	correlationID string
}

// TraceLogger wraps a logger to automatically add trace context and the
// invocation scope from the context.
type TraceLogger struct {
	logger *slog.Logger
	active *atomic.Int64
}

// NewTraceLogger creates a new TraceLogger that extracts trace_id, span_id and
// correlation_id from context.
func NewTraceLogger(logger *slog.Logger) *TraceLogger {
	return &TraceLogger{logger: logger, active: new(atomic.Int64)}
}

// BeginScope tags every line logged with the returned context with
// correlationID. The release func is idempotent.
func (l *TraceLogger) BeginScope(ctx context.Context, correlationID string) (context.Context, func()) {
	l.active.Add(1)
	var once sync.Once
	release := func() {
		once.Do(func() { l.active.Add(-1) })
	}
	return context.WithValue(ctx, scopeKey{}, &scope{correlationID: correlationID}), release
}

// ActiveScopes reports scopes begun but not yet released.
func (l *TraceLogger) ActiveScopes() int64 {
	return l.active.Load()
}

// CorrelationID returns the id of the scope in ctx, if any.
func CorrelationID(ctx context.Context) string {
	if s, ok := ctx.Value(scopeKey{}).(*scope); ok {
		return s.correlationID
	}
	return ""
}

// WithTraceContext returns a logger with correlation_id, trace_id and span_id
// attributes for whatever of them ctx carries.
func (l *TraceLogger) WithTraceContext(ctx context.Context) *slog.Logger {
	logger := l.logger
	if id := CorrelationID(ctx); id != "" {
		logger = logger.With("correlation_id", id)
	}

	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return logger
	}

	return logger.With(
		"trace_id", span.SpanContext().TraceID().String(),
		"span_id", span.SpanContext().SpanID().String(),
	)
}

// Debug logs at debug level with trace context.
func (l *TraceLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).DebugContext(ctx, msg, args...)
}

// Info logs at info level with trace context.
func (l *TraceLogger) Info(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).InfoContext(ctx, msg, args...)
}

// Warn logs at warn level with trace context.
func (l *TraceLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).WarnContext(ctx, msg, args...)
}

// Error logs at error level with trace context.
func (l *TraceLogger) Error(ctx context.Context, msg string, args ...any) {
	l.WithTraceContext(ctx).ErrorContext(ctx, msg, args...)
}

// With returns a new TraceLogger with additional key-value pairs. The scope
// counter is shared with l.
func (l *TraceLogger) With(args ...any) *TraceLogger {
	return &TraceLogger{logger: l.logger.With(args...), active: l.active}
}

// ParseLogLevel parses a log level string into slog.Level.
// Accepts: debug, info, warn, error (case-insensitive).
// Returns LevelInfo if the input is invalid or empty.
func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// GetLogLevel returns the effective log level from CLI flag and environment variable.
// CLI flag takes precedence over STUDYRELAY_LOG_LEVEL.
func GetLogLevel(flagLevel string) slog.Level {
	if flagLevel != "" {
		return ParseLogLevel(flagLevel)
	}
	if envLevel := os.Getenv(EnvLogLevel); envLevel != "" {
		return ParseLogLevel(envLevel)
	}
	return slog.LevelInfo
}

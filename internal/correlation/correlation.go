// Package correlation resolves the id that ties together every log line and
// message produced for one relayed event.
package correlation

import (
	"context"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
)

const (
	HeaderCorrelationID  = "studyrelay-correlation-id"
	HeaderXCorrelationID = "x-correlation-id"
	HeaderXRequestID     = "x-request-id"
	HeaderTraceparent    = "traceparent"

	// EnvLambdaTrace is set by the Lambda runtime for every invocation.
	EnvLambdaTrace = "_X_AMZN_TRACE_ID"

	SourceLambdaTrace   = "x-amzn-trace-id"
	SourceLambdaRequest = "lambda-request-id"
	SourceGenerated     = "generated"
)

type ID struct {
	Value  string
	Source string
}

// ExtractOrGenerate extracts correlation ID from headers or generates a new UUID.
// Priority: studyrelay-correlation-id > x-correlation-id > x-request-id > traceparent > new UUID
func ExtractOrGenerate(headers map[string]string) ID {
	if id, ok := Extract(headers); ok {
		return id
	}
	return Generate()
}

// Extract is ExtractOrGenerate without the fallback.
func Extract(headers map[string]string) (ID, bool) {
	for _, h := range []string{HeaderCorrelationID, HeaderXCorrelationID, HeaderXRequestID} {
		if id := headers[h]; id != "" {
			return ID{Value: id, Source: h}, true
		}
	}
	if tp := headers[HeaderTraceparent]; tp != "" {
		if traceID := extractTraceID(tp); traceID != "" {
			return ID{Value: traceID, Source: HeaderTraceparent}, true
		}
	}
	return ID{}, false
}

// Generate returns a fresh random id.
func Generate() ID {
	return ID{Value: uuid.NewString(), Source: SourceGenerated}
}

// FromLambda resolves the correlation id of a Lambda invocation: the Root of
// the X-Ray trace header, then the request id, then a new UUID.
func FromLambda(ctx context.Context) ID {
	return fromLambda(ctx, os.Getenv(EnvLambdaTrace))
}

func fromLambda(ctx context.Context, traceHeader string) ID {
	if root := traceRoot(traceHeader); root != "" {
		return ID{Value: root, Source: SourceLambdaTrace}
	}
	if lc, ok := lambdacontext.FromContext(ctx); ok && lc.AwsRequestID != "" {
		return ID{Value: lc.AwsRequestID, Source: SourceLambdaRequest}
	}
	return Generate()
}

// traceRoot parses "Root=1-5759e988-bd862e3fe1be46a994272793;Parent=...;Sampled=1".
func traceRoot(header string) string {
	for _, part := range strings.Split(header, ";") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if ok && strings.EqualFold(k, "Root") {
			return v
		}
	}
	return ""
}

// extractTraceID parses W3C traceparent format: version-traceid-parentid-flags
func extractTraceID(traceparent string) string {
	parts := strings.Split(traceparent, "-")
	if len(parts) >= 2 && len(parts[1]) == 32 {
		return parts[1]
	}
	return ""
}

// AddToHeaders adds correlation ID to headers map (creates map if nil)
func AddToHeaders(headers map[string]string, id ID) map[string]string {
	if headers == nil {
		headers = make(map[string]string, 1)
	}
	headers[HeaderCorrelationID] = id.Value
	return headers
}

// InjectTraceContext writes the span context of ctx into headers using the
// global propagator.
func InjectTraceContext(ctx context.Context, headers map[string]string) map[string]string {
	if headers == nil {
		headers = make(map[string]string)
	}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))
	return headers
}

// ExtractTraceContext returns ctx with the remote span context found in headers.
func ExtractTraceContext(ctx context.Context, headers map[string]string) context.Context {
	if headers == nil {
		return ctx
	}
	return otel.GetTextMapPropagator().Extract(ctx, headerCarrier(headers))
}

type headerCarrier map[string]string

func (c headerCarrier) Get(key string) string {
	if c == nil {
		return ""
	}
	return c[key]
}

func (c headerCarrier) Set(key, value string) {
	if c == nil {
		return
	}
	c[key] = value
}

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

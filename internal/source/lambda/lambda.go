// Package lambda receives study updates as AWS Lambda invocations, usually
// EventBridge rule targets.
package lambda

import (
	"context"
	"encoding/json"
	"log/slog"

	awslambda "github.com/aws/aws-lambda-go/lambda"
	"github.com/aws/aws-lambda-go/lambdacontext"

	"github.com/curie/studyrelay/internal/correlation"
	"github.com/curie/studyrelay/internal/source"
)

// Source adapts the Lambda runtime API to source.Source.
type Source struct {
	logger *slog.Logger
	// AfterInvoke runs once per invocation after the handler returns, before
	// the runtime freezes the process.
	AfterInvoke func(ctx context.Context)

	start func(handler any, opts ...awslambda.Option)
}

// NewSource creates a Lambda source.
func NewSource(logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	return &Source{logger: logger, start: awslambda.StartWithOptions}
}

// Start hands control to the Lambda runtime. The runtime loop only returns
// by exiting the process.
func (s *Source) Start(ctx context.Context, handler func(context.Context, source.Event) error) error {
	s.logger.Info("lambda source starting")
	s.start(s.Invoke(handler), awslambda.WithContext(ctx), awslambda.WithEnableSIGTERM())
	return nil
}

// Invoke wraps handler as a Lambda handler function taking the raw payload.
// The handler error becomes the invocation error.
func (s *Source) Invoke(handler func(context.Context, source.Event) error) func(context.Context, json.RawMessage) error {
	return func(ctx context.Context, raw json.RawMessage) error {
		if s.AfterInvoke != nil {
			defer s.AfterInvoke(ctx)
		}

		evt := source.Event{
			Value:         raw,
			Headers:       map[string]string{},
			Origin:        source.OriginLambda,
			CorrelationID: correlation.FromLambda(ctx).Value,
		}
		if lc, ok := lambdacontext.FromContext(ctx); ok {
			evt.Headers[correlation.SourceLambdaRequest] = lc.AwsRequestID
			evt.Headers["invoked-function-arn"] = lc.InvokedFunctionArn
		}
		return handler(ctx, evt)
	}
}

// Close is a no-op; the runtime owns the process lifecycle.
func (s *Source) Close() error { return nil }

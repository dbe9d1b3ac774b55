package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute key constants for consistent span attributes.
const (
	AttrCorrelationID  = "studyrelay.correlation_id"
	AttrStudyID        = "studyrelay.study_id"
	AttrOperation      = "studyrelay.operation"
	AttrReloadTrigger  = "studyrelay.config.reload_trigger"
	AttrQueueBackend   = "messaging.system"
	AttrDestination    = "messaging.destination.name"
	AttrMessageID      = "messaging.message.id"
	AttrGroupKey       = "messaging.message.group_key"
	AttrOutcomeStatus  = "studyrelay.outcome.status_code"
	AttrOutcomeDupe    = "studyrelay.outcome.duplicate"
	AttrKafkaPartition = "messaging.kafka.partition"
	AttrErrorType      = "error.type"
)

// Span name constants for consistent span naming.
const (
	SpanHandle       = "studyrelay.handle"
	SpanConfigReload = "studyrelay.config.reload"
	SpanTransform    = "studyrelay.transform"
	SpanPublish      = "studyrelay.publish"
	SpanHTTPReceive  = "studyrelay.http.receive"
)

// StartSpan starts a new span with the given name and options.
// Returns the new context with the span and the span itself.
// If tracer is nil, returns a no-op span.
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// SetSpanError records an error on the span and sets the status to Error.
func SetSpanError(span trace.Span, err error) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanOK sets the span status to Ok.
func SetSpanOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

func CorrelationAttr(id string) attribute.KeyValue {
	return attribute.String(AttrCorrelationID, id)
}

func StudyAttr(id string) attribute.KeyValue {
	return attribute.String(AttrStudyID, id)
}

func OperationAttr(op string) attribute.KeyValue {
	return attribute.String(AttrOperation, op)
}

func ReloadTriggerAttr(trigger string) attribute.KeyValue {
	return attribute.String(AttrReloadTrigger, trigger)
}

func BackendAttr(backend string) attribute.KeyValue {
	return attribute.String(AttrQueueBackend, backend)
}

func DestinationAttr(dest string) attribute.KeyValue {
	return attribute.String(AttrDestination, dest)
}

func MessageIDAttr(id string) attribute.KeyValue {
	return attribute.String(AttrMessageID, id)
}

func GroupKeyAttr(key string) attribute.KeyValue {
	return attribute.String(AttrGroupKey, key)
}

func OutcomeStatusAttr(code int) attribute.KeyValue {
	return attribute.Int(AttrOutcomeStatus, code)
}

func DuplicateAttr(dup bool) attribute.KeyValue {
	return attribute.Bool(AttrOutcomeDupe, dup)
}

func KafkaPartitionAttr(partition int32) attribute.KeyValue {
	return attribute.Int64(AttrKafkaPartition, int64(partition))
}

func ErrorTypeAttr(errType string) attribute.KeyValue {
	return attribute.String(AttrErrorType, errType)
}

// IsTraced returns true if there is a valid recording span in the context.
func IsTraced(ctx context.Context) bool {
	span := trace.SpanFromContext(ctx)
	return span.SpanContext().IsValid() && span.IsRecording()
}

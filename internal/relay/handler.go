// Package relay turns study update notifications into ordered, deduplicated
// queue messages.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/curie/studyrelay/internal/config"
	"github.com/curie/studyrelay/internal/correlation"
	"github.com/curie/studyrelay/internal/event"
	"github.com/curie/studyrelay/internal/observability"
	"github.com/curie/studyrelay/internal/queue"
	"github.com/curie/studyrelay/internal/tracing"
	"github.com/curie/studyrelay/internal/transform"
)

// EnvForceReload forces a configuration reload on every invocation when set
// to exactly "true".
const EnvForceReload = "reload"

// Invocation statuses recorded in studyrelay_events_total.
const (
	StatusSuccess         = "success"
	StatusReloadFailed    = "reload_failed"
	StatusTransformFailed = "transform_failed"
	StatusRejected        = "rejected"
	StatusPublishFailed   = "publish_failed"
)

// ConfigProvider supplies the configuration snapshot and reloads it on demand.
type ConfigProvider interface {
	Snapshot() *config.Snapshot
	Reload(ctx context.Context) (*config.Snapshot, error)
}

// Logger emits leveled log lines, optionally inside a correlation scope.
type Logger interface {
	BeginScope(ctx context.Context, correlationID string) (context.Context, func())
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
}

// Handler relays one study update per call. It holds no per-invocation state
// and is safe for concurrent use.
type Handler struct {
	cfg       ConfigProvider
	log       Logger
	publisher queue.Publisher

	metrics   *observability.Metrics
	tracer    trace.Tracer
	lookupEnv func(string) (string, bool)
	dedupKey  func() string
	groupKey  func(event.Message) string
	backend   string
}

// Option configures a Handler.
type Option func(*Handler)

// WithMetrics records invocation, publish and reload metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Handler) { h.metrics = m }
}

// WithTracer starts a span per invocation and per step.
func WithTracer(t trace.Tracer) Option {
	return func(h *Handler) { h.tracer = t }
}

// WithEnvLookup replaces os.LookupEnv for the force-reload flag.
func WithEnvLookup(fn func(string) (string, bool)) Option {
	return func(h *Handler) { h.lookupEnv = fn }
}

// WithDedupKeyFunc replaces the random UUID dedup key.
func WithDedupKeyFunc(fn func() string) Option {
	return func(h *Handler) { h.dedupKey = fn }
}

// WithGroupKeyFunc replaces the group key derivation.
func WithGroupKeyFunc(fn func(event.Message) string) Option {
	return func(h *Handler) { h.groupKey = fn }
}

// WithBackendName labels publish metrics and spans.
func WithBackendName(name string) Option {
	return func(h *Handler) { h.backend = name }
}

// NewHandler creates a handler publishing through publisher.
func NewHandler(cfg ConfigProvider, log Logger, publisher queue.Publisher, opts ...Option) *Handler {
	h := &Handler{
		cfg:       cfg,
		log:       log,
		publisher: publisher,
		lookupEnv: os.LookupEnv,
		dedupKey:  uuid.NewString,
		groupKey:  GroupKey,
		backend:   string(queue.BackendSQS),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// GroupKey is the ordering key of a message: the study id joined with itself.
func GroupKey(msg event.Message) string {
	return msg.StudyID + "_" + msg.StudyID
}

// Handle relays evt: reload configuration if asked to, transform, publish,
// and fail unless the queue acknowledged the message. The first failing step
// ends the invocation; nothing is retried here.
func (h *Handler) Handle(ctx context.Context, evt event.StudyUpdate, correlationID string) error {
	ctx, release := h.log.BeginScope(ctx, correlationID)
	defer release()

	ctx, span := tracing.StartSpan(ctx, h.tracer, tracing.SpanHandle, trace.WithAttributes(
		tracing.CorrelationAttr(correlationID),
		tracing.StudyAttr(evt.StudyIdentifier),
		tracing.OperationAttr(evt.Operation),
	))
	defer span.End()

	status, err := h.handle(ctx, evt, correlationID)
	if h.metrics != nil {
		h.metrics.EventsTotal.WithLabelValues(status).Inc()
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		span.SetAttributes(tracing.ErrorTypeAttr(status))
		h.log.Error(ctx, "study update failed", "status", status, "error", err)
		return err
	}
	tracing.SetSpanOK(span)
	return nil
}

func (h *Handler) handle(ctx context.Context, evt event.StudyUpdate, correlationID string) (string, error) {
	snap, err := h.maybeReload(ctx)
	if err != nil {
		return StatusReloadFailed, err
	}

	raw, err := json.Marshal(evt)
	if err != nil {
		return StatusTransformFailed, fmt.Errorf("encode event: %w", err)
	}
	h.log.Info(ctx, "received study update",
		"study_id", evt.StudyIdentifier,
		"event", string(raw),
		config.KeyDiagnostic, snap.Get(config.KeyDiagnostic),
	)

	msg, err := transform.Transform(evt)
	if err != nil {
		return StatusTransformFailed, fmt.Errorf("transform: %w", err)
	}
	body, err := msg.Encode()
	if err != nil {
		return StatusTransformFailed, fmt.Errorf("encode message: %w", err)
	}

	dest := snap.Get(config.KeyQueueDestination)
	if dest == "" {
		return StatusPublishFailed, fmt.Errorf("%w: %s", ErrNoDestination, config.KeyQueueDestination)
	}

	req := queue.Request{
		Destination: dest,
		Body:        body,
		GroupKey:    h.groupKey(msg),
		DedupKey:    h.dedupKey(),
	}
	return h.publish(ctx, req, correlationID)
}

// maybeReload returns the snapshot to use for this invocation, reloading
// first when the environment flag or the Refresh key asks for it.
func (h *Handler) maybeReload(ctx context.Context) (*config.Snapshot, error) {
	snap := h.cfg.Snapshot()

	trigger := ""
	if v, ok := h.lookupEnv(EnvForceReload); ok && v == "true" {
		trigger = "env"
	} else if snap.Bool(config.KeyRefresh) {
		trigger = "refresh"
	}
	if trigger == "" {
		return snap, nil
	}

	ctx, span := tracing.StartSpan(ctx, h.tracer, tracing.SpanConfigReload,
		trace.WithAttributes(tracing.ReloadTriggerAttr(trigger)))
	defer span.End()

	h.log.Debug(ctx, "reloading configuration", "trigger", trigger)
	reloaded, err := h.cfg.Reload(ctx)
	if err != nil {
		h.countReload(trigger, "error")
		tracing.SetSpanError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrConfigReload, err)
	}
	h.countReload(trigger, "success")
	tracing.SetSpanOK(span)
	return reloaded, nil
}

func (h *Handler) countReload(trigger, status string) {
	if h.metrics != nil {
		h.metrics.ConfigReloads.WithLabelValues(trigger, status).Inc()
	}
}

func (h *Handler) publish(ctx context.Context, req queue.Request, correlationID string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, h.tracer, tracing.SpanPublish, trace.WithAttributes(
		tracing.BackendAttr(h.backend),
		tracing.DestinationAttr(req.Destination),
		tracing.GroupKeyAttr(req.GroupKey),
	))
	defer span.End()

	req.Attributes = correlation.InjectTraceContext(ctx, correlation.AddToHeaders(nil, correlation.ID{Value: correlationID}))

	start := time.Now()
	outcome, err := h.publisher.Publish(ctx, req)
	if h.metrics != nil {
		h.metrics.PublishDuration.WithLabelValues(h.backend).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		tracing.SetSpanError(span, err)
		return StatusPublishFailed, fmt.Errorf("publish to %s: %w", req.Destination, err)
	}

	span.SetAttributes(
		tracing.OutcomeStatusAttr(outcome.StatusCode),
		tracing.MessageIDAttr(outcome.MessageID),
		tracing.DuplicateAttr(outcome.Duplicate),
	)
	if !outcome.Accepted {
		rejected := &PublishRejectedError{Outcome: outcome}
		if h.metrics != nil {
			h.metrics.PublishRejections.WithLabelValues(h.backend, strconv.Itoa(outcome.StatusCode)).Inc()
		}
		tracing.SetSpanError(span, rejected)
		return StatusRejected, rejected
	}

	tracing.SetSpanOK(span)
	h.log.Info(ctx, "study update published",
		"destination", req.Destination,
		"message_id", outcome.MessageID,
		"dedup_key", req.DedupKey,
		"duplicate", outcome.Duplicate,
	)
	return StatusSuccess, nil
}

// IsRejected reports whether err came from a queue rejection.
func IsRejected(err error) bool {
	var rejected *PublishRejectedError
	return errors.As(err, &rejected)
}

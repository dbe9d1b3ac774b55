package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/curie/studyrelay/internal/correlation"
	"github.com/curie/studyrelay/internal/event"
	"github.com/curie/studyrelay/internal/queue"
	"github.com/curie/studyrelay/internal/source"
)

// EventHandler handles one decoded study update.
type EventHandler interface {
	Handle(ctx context.Context, evt event.StudyUpdate, correlationID string) error
}

// Runner feeds events from a source into a handler.
type Runner struct {
	source    source.Source
	handler   EventHandler
	publisher queue.Publisher
	logger    *slog.Logger
}

// NewRunner creates a runner. The publisher is only used for shutdown.
func NewRunner(src source.Source, h EventHandler, pub queue.Publisher, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{source: src, handler: h, publisher: pub, logger: logger}
}

// Run starts the source. Blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting relay")
	return r.source.Start(ctx, r.process)
}

func (r *Runner) process(ctx context.Context, raw source.Event) error {
	evt, err := event.Decode(raw.Value)
	if err != nil {
		r.logger.ErrorContext(ctx, "dropping undecodable event", "origin", raw.Origin, "error", err)
		return err
	}

	id := raw.CorrelationID
	if id == "" {
		id = correlation.ExtractOrGenerate(raw.Headers).Value
	}
	if !trace.SpanContextFromContext(ctx).IsValid() {
		ctx = correlation.ExtractTraceContext(ctx, raw.Headers)
	}
	return r.handler.Handle(ctx, evt, id)
}

// Shutdown closes the source and then the publisher. Returns all errors joined.
func (r *Runner) Shutdown(_ context.Context) error {
	r.logger.Info("shutting down relay")

	var errs []error
	if err := r.source.Close(); err != nil {
		r.logger.Error("source close error", "error", err)
		errs = append(errs, fmt.Errorf("source close: %w", err))
	}
	if r.publisher != nil {
		if err := r.publisher.Close(); err != nil {
			r.logger.Error("publisher close error", "error", err)
			errs = append(errs, fmt.Errorf("publisher close: %w", err))
		}
	}

	r.logger.Info("relay shutdown complete")
	return errors.Join(errs...)
}

package relay

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/curie/studyrelay/internal/correlation"
	"github.com/curie/studyrelay/internal/event"
	"github.com/curie/studyrelay/internal/source"
)

// fakeSource replays events through the handler passed to Start.
type fakeSource struct {
	events   []source.Event
	errs     []error
	closeErr error
	closed   bool
}

func (s *fakeSource) Start(ctx context.Context, handler func(context.Context, source.Event) error) error {
	for _, evt := range s.events {
		s.errs = append(s.errs, handler(ctx, evt))
	}
	return nil
}

func (s *fakeSource) Close() error {
	s.closed = true
	return s.closeErr
}

type call struct {
	evt           event.StudyUpdate
	correlationID string
	traceID       string
}

type recordingHandler struct {
	calls []call
	err   error
}

func (h *recordingHandler) Handle(ctx context.Context, evt event.StudyUpdate, correlationID string) error {
	h.calls = append(h.calls, call{evt, correlationID, trace.SpanContextFromContext(ctx).TraceID().String()})
	return h.err
}

func TestRunner_DecodesAndResolvesCorrelation(t *testing.T) {
	detail := []byte(`{"studyIdentifier":"S1","datastoreIdentifier":"D1","operation":"update"}`)
	src := &fakeSource{events: []source.Event{
		{Value: detail, CorrelationID: "from-source"},
		{Value: detail, Headers: map[string]string{correlation.HeaderXRequestID: "req-9"}},
		{Value: detail, Headers: map[string]string{
			correlation.HeaderTraceparent: "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01",
		}},
		{Value: detail},
	}}
	h := &recordingHandler{}

	if err := NewRunner(src, h, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if len(h.calls) != 4 {
		t.Fatalf("expected 4 calls, got %d", len(h.calls))
	}
	if h.calls[0].correlationID != "from-source" {
		t.Errorf("call 0 correlation = %q", h.calls[0].correlationID)
	}
	if h.calls[1].correlationID != "req-9" {
		t.Errorf("call 1 correlation = %q", h.calls[1].correlationID)
	}
	if h.calls[2].traceID != "4bf92f3577b34da6a3ce929d0e0e4736" {
		t.Errorf("call 2 trace = %q, want remote trace from headers", h.calls[2].traceID)
	}
	if len(h.calls[3].correlationID) != 36 {
		t.Errorf("call 3 correlation = %q, want generated uuid", h.calls[3].correlationID)
	}
	if h.calls[0].evt.StudyIdentifier != "S1" {
		t.Errorf("unexpected event %+v", h.calls[0].evt)
	}
}

func TestRunner_PropagatesErrors(t *testing.T) {
	src := &fakeSource{events: []source.Event{
		{Value: []byte(`not json`)},
		{Value: []byte(`{"studyIdentifier":"S1","datastoreIdentifier":"D1","operation":"update"}`)},
	}}
	h := &recordingHandler{err: &PublishRejectedError{}}

	if err := NewRunner(src, h, nil, nil).Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if !errors.Is(src.errs[0], event.ErrMalformed) {
		t.Errorf("expected malformed error, got %v", src.errs[0])
	}
	if !IsRejected(src.errs[1]) {
		t.Errorf("expected handler error, got %v", src.errs[1])
	}
	if len(h.calls) != 1 {
		t.Errorf("undecodable events should not reach the handler, got %d calls", len(h.calls))
	}
}

func TestRunner_Shutdown(t *testing.T) {
	src := &fakeSource{closeErr: errors.New("listener closed")}
	pub := &fakePublisher{}

	err := NewRunner(src, &recordingHandler{}, pub, nil).Shutdown(context.Background())
	if !errors.Is(err, src.closeErr) {
		t.Errorf("expected source close error, got %v", err)
	}
	if !src.closed || !pub.closed {
		t.Error("expected source and publisher to be closed")
	}
}

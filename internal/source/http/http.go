// Package http receives study updates as HTTP POST requests. Plain JSON and
// CloudEvents in structured or binary mode are accepted.
package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	cehttp "github.com/cloudevents/sdk-go/v2/protocol/http"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/curie/studyrelay/internal/correlation"
	"github.com/curie/studyrelay/internal/source"
	"github.com/curie/studyrelay/internal/tracing"
)

const maxBodyBytes = 1 << 20

// Config holds HTTP source configuration.
type Config struct {
	ListenAddr string
	Path       string
	// RateLimit is the sustained requests per second; zero disables limiting.
	RateLimit float64
	Burst     int
	// Requests, when set, counts responses by status code.
	Requests *prometheus.CounterVec
}

// Source receives events via HTTP POST and dispatches them to the handler.
type Source struct {
	server     *http.Server
	logger     *slog.Logger
	addr       string
	path       string
	limiter    *rate.Limiter
	requests   *prometheus.CounterVec
	ListenAddr string
	ready      chan struct{}
}

// NewSource creates a new HTTP source.
func NewSource(cfg Config, logger *slog.Logger) (*Source, error) {
	if cfg.ListenAddr == "" {
		return nil, fmt.Errorf("HTTP listen address is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	path := cfg.Path
	if path == "" {
		path = "/"
	}
	s := &Source{
		addr:     cfg.ListenAddr,
		path:     path,
		logger:   logger,
		requests: cfg.Requests,
		ready:    make(chan struct{}),
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = max(int(cfg.RateLimit), 1)
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	return s, nil
}

// Handler returns the instrumented request handler, without a listener.
func (s *Source) Handler(handler func(context.Context, source.Event) error) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, func(w http.ResponseWriter, r *http.Request) {
		code, msg := s.serve(r, handler)
		if s.requests != nil {
			s.requests.WithLabelValues(strconv.Itoa(code)).Inc()
		}
		if code != http.StatusOK {
			http.Error(w, msg, code)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	return otelhttp.NewHandler(mux, tracing.SpanHTTPReceive)
}

func (s *Source) serve(r *http.Request, handler func(context.Context, source.Event) error) (int, string) {
	if r.Method != http.MethodPost {
		return http.StatusMethodNotAllowed, "method not allowed"
	}
	if s.limiter != nil && !s.limiter.Allow() {
		return http.StatusTooManyRequests, "rate limit exceeded"
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return http.StatusBadRequest, "failed to read body"
	}
	if len(body) > maxBodyBytes {
		return http.StatusRequestEntityTooLarge, "body too large"
	}

	evt := source.Event{
		Value:   body,
		Headers: make(map[string]string, len(r.Header)),
		Origin:  source.OriginHTTP,
	}
	for k, v := range r.Header {
		if len(v) > 0 {
			evt.Headers[strings.ToLower(k)] = v[0]
		}
	}

	if isCloudEvent(r) {
		r.Body = io.NopCloser(bytes.NewReader(body))
		ce, err := cehttp.NewEventFromHTTPRequest(r)
		if err != nil {
			return http.StatusBadRequest, "invalid cloudevent: " + err.Error()
		}
		evt.Value = ce.Data()
		evt.Headers["ce-id"] = ce.ID()
		evt.Headers["ce-type"] = ce.Type()
		evt.Headers["ce-source"] = ce.Source()
		if _, ok := correlation.Extract(evt.Headers); !ok {
			evt.CorrelationID = ce.ID()
		}
	}

	if err := handler(r.Context(), evt); err != nil {
		s.logger.ErrorContext(r.Context(), "handler error", "error", err)
		return http.StatusInternalServerError, err.Error()
	}
	return http.StatusOK, ""
}

func isCloudEvent(r *http.Request) bool {
	if r.Header.Get("Ce-Specversion") != "" {
		return true
	}
	return strings.HasPrefix(r.Header.Get("Content-Type"), "application/cloudevents")
}

// Start begins accepting HTTP requests and dispatching events to the handler.
// Blocks until ctx is cancelled.
func (s *Source) Start(ctx context.Context, handler func(context.Context, source.Event) error) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.addr, err)
	}
	s.ListenAddr = lis.Addr().String()

	s.server = &http.Server{
		Handler:           s.Handler(handler),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http source starting", "addr", s.ListenAddr, "path", s.path)
		close(s.ready)
		if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("http server shutdown error", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Close stops the HTTP server.
func (s *Source) Close() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// Package queue defines the ordered, deduplicated publish contract shared by
// the SQS, Kafka and Redis backends.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Backend names a queue transport.
type Backend string

const (
	BackendSQS   Backend = "sqs"
	BackendKafka Backend = "kafka"
	BackendRedis Backend = "redis"
)

// ParseBackend resolves a backend name. Empty selects SQS.
func ParseBackend(s string) (Backend, error) {
	switch Backend(strings.ToLower(strings.TrimSpace(s))) {
	case "", BackendSQS:
		return BackendSQS, nil
	case BackendKafka:
		return BackendKafka, nil
	case BackendRedis:
		return BackendRedis, nil
	default:
		return "", fmt.Errorf("unsupported queue backend: %q", s)
	}
}

// Request is a single enqueue call.
type Request struct {
	Destination string            // queue URL, topic or stream
	Body        []byte            // serialized message
	GroupKey    string            // ordering domain
	DedupKey    string            // deduplication token
	Attributes  map[string]string // correlation and trace context
}

// Validate checks that every required field is present.
func (r Request) Validate() error {
	var errs []error
	if r.Destination == "" {
		errs = append(errs, errors.New("destination is required"))
	}
	if len(r.Body) == 0 {
		errs = append(errs, errors.New("body is required"))
	}
	if r.GroupKey == "" {
		errs = append(errs, errors.New("group key is required"))
	}
	if r.DedupKey == "" {
		errs = append(errs, errors.New("dedup key is required"))
	}
	return errors.Join(errs...)
}

// Outcome is the transport-level result of an enqueue attempt.
type Outcome struct {
	Accepted       bool   `json:"accepted"`
	StatusCode     int    `json:"statusCode,omitempty"`
	MessageID      string `json:"messageId,omitempty"`
	SequenceNumber string `json:"sequenceNumber,omitempty"`
	Duplicate      bool   `json:"duplicate,omitempty"`
	Detail         string `json:"detail,omitempty"`
}

// String returns the JSON form of the outcome, used in diagnostics.
func (o Outcome) String() string {
	b, err := json.Marshal(o)
	if err != nil {
		return fmt.Sprintf("%+v", struct {
			Accepted   bool
			StatusCode int
		}{o.Accepted, o.StatusCode})
	}
	return string(b)
}

// Publisher enqueues messages.
type Publisher interface {
	// Publish enqueues req. A non-nil error means no response was obtained
	// from the transport; a response that is not an acknowledgment is
	// reported as an Outcome with Accepted false.
	Publish(ctx context.Context, req Request) (Outcome, error)

	// Close releases the underlying client.
	Close() error
}

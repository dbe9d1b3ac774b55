// Package source defines how raw study update payloads enter the relay.
package source

import "context"

// Origins reported in Event.Origin.
const (
	OriginHTTP   = "http"
	OriginLambda = "lambda"
)

// Event represents a raw payload received from a source.
type Event struct {
	Value []byte
	// Headers are transport metadata with lower-cased keys.
	Headers       map[string]string
	Origin        string
	CorrelationID string
}

// Source receives events from an external system.
type Source interface {
	// Start begins receiving events. Blocks until ctx is cancelled.
	// Events are delivered to the handler function; a handler error is
	// reported back to the sender.
	Start(ctx context.Context, handler func(context.Context, Event) error) error

	// Close performs graceful shutdown.
	Close() error
}

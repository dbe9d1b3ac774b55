package relay

import (
	"errors"

	"github.com/curie/studyrelay/internal/queue"
)

var (
	// ErrConfigReload wraps a failed configuration reload.
	ErrConfigReload = errors.New("configuration reload failed")
	// ErrNoDestination is returned when the queue destination key is unset.
	ErrNoDestination = errors.New("queue destination is not configured")
)

// PublishRejectedError is returned when the queue answered a publish with
// anything other than an acknowledgment.
type PublishRejectedError struct {
	Outcome queue.Outcome
}

func (e *PublishRejectedError) Error() string {
	return "publish rejected: " + e.Outcome.String()
}

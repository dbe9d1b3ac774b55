// Package redis publishes study update messages to a Redis stream. A stream is
// totally ordered, so every group keeps its send order; the deduplication
// window is emulated with a SET NX key that expires after Config.DedupWindow.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/curie/studyrelay/internal/queue"
)

// DefaultDedupWindow matches the SQS FIFO deduplication interval.
const DefaultDedupWindow = 5 * time.Minute

const dedupKeyPrefix = "studyrelay:dedup:"

// dedupKeyFor scopes the dedup window to the destination stream, as SQS
// scopes it to the queue.
func dedupKeyFor(req queue.Request) string {
	return dedupKeyPrefix + req.Destination + ":" + req.DedupKey
}

// streamClient abstracts the redis client methods used by Publisher for testing.
type streamClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

// Config holds Redis publisher configuration.
type Config struct {
	URL         string
	DedupWindow time.Duration
	MaxLen      int64 // approximate stream cap, 0 keeps everything
}

// Publisher appends messages to Redis streams.
type Publisher struct {
	client streamClient
	cfg    Config
	logger *slog.Logger
}

// NewPublisher connects to the Redis server at cfg.URL.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return newPublisher(redis.NewClient(opts), cfg, logger), nil
}

func newPublisher(client streamClient, cfg Config, logger *slog.Logger) *Publisher {
	if cfg.DedupWindow <= 0 {
		cfg.DedupWindow = DefaultDedupWindow
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{client: client, cfg: cfg, logger: logger}
}

// Publish appends req to the stream named by req.Destination unless the dedup
// key was seen within the window, in which case the message is acknowledged
// as a duplicate without being appended.
func (p *Publisher) Publish(ctx context.Context, req queue.Request) (queue.Outcome, error) {
	if err := req.Validate(); err != nil {
		return queue.Outcome{}, fmt.Errorf("redis request: %w", err)
	}

	dedupKey := dedupKeyFor(req)
	fresh, err := p.client.SetNX(ctx, dedupKey, req.Destination, p.cfg.DedupWindow).Result()
	if err != nil {
		return p.classify(ctx, req, "dedup check", err)
	}
	if !fresh {
		p.logger.InfoContext(ctx, "duplicate message suppressed", "stream", req.Destination, "dedup_key", req.DedupKey)
		return queue.Outcome{Accepted: true, Duplicate: true, Detail: "duplicate within dedup window"}, nil
	}

	values := map[string]any{
		"body":      string(req.Body),
		"group_key": req.GroupKey,
		"dedup_key": req.DedupKey,
	}
	for k, v := range req.Attributes {
		values["attr:"+k] = v
	}

	args := &redis.XAddArgs{Stream: req.Destination, Values: values}
	if p.cfg.MaxLen > 0 {
		args.MaxLen = p.cfg.MaxLen
		args.Approx = true
	}

	id, err := p.client.XAdd(ctx, args).Result()
	if err != nil {
		// Release the dedup key so a redelivery is not swallowed.
		if delErr := p.client.Del(ctx, dedupKey).Err(); delErr != nil {
			p.logger.ErrorContext(ctx, "failed to release dedup key", "dedup_key", req.DedupKey, "error", delErr)
		}
		return p.classify(ctx, req, "xadd", err)
	}

	return queue.Outcome{Accepted: true, MessageID: id, SequenceNumber: id}, nil
}

// classify turns a server error reply into a rejected outcome and anything
// else into a transport error.
func (p *Publisher) classify(ctx context.Context, req queue.Request, op string, err error) (queue.Outcome, error) {
	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		p.logger.WarnContext(ctx, "redis rejected message", "stream", req.Destination, "op", op, "error", err)
		return queue.Outcome{Accepted: false, Detail: op + ": " + redisErr.Error()}, nil
	}
	return queue.Outcome{}, fmt.Errorf("redis %s: %w", op, err)
}

// Close closes the redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}

// Package kafka publishes study update messages to a Kafka topic. The group key
// is the record key, so every message of a group lands on one partition and is
// consumed in send order. Kafka has no broker-side deduplication window; the
// dedup key travels as a header for consumers, and the idempotent producer
// suppresses duplicates caused by its own retries.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	intkafka "github.com/curie/studyrelay/internal/kafka"
	"github.com/curie/studyrelay/internal/queue"
)

// HeaderDedupKey carries the deduplication token on each record.
const HeaderDedupKey = "studyrelay-dedup-id"

// producer abstracts the kafka client methods used by Publisher for testing.
type producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Close()
}

// Publisher produces messages to Kafka topics.
type Publisher struct {
	client producer
	logger *slog.Logger
}

// NewPublisher creates a Publisher for the given cluster.
func NewPublisher(cluster *intkafka.ClusterConfig, logger *slog.Logger) (*Publisher, error) {
	if cluster == nil {
		return nil, fmt.Errorf("cluster config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	opts, err := intkafka.ProducerOptions(cluster)
	if err != nil {
		return nil, fmt.Errorf("cluster options: %w", err)
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("kafka publisher client: %w", err)
	}

	return &Publisher{client: client, logger: logger}, nil
}

// Publish produces req to the topic named by req.Destination and waits for
// the broker acknowledgment.
func (p *Publisher) Publish(ctx context.Context, req queue.Request) (queue.Outcome, error) {
	if err := req.Validate(); err != nil {
		return queue.Outcome{}, fmt.Errorf("kafka request: %w", err)
	}

	record := &kgo.Record{
		Topic: req.Destination,
		Key:   []byte(req.GroupKey),
		Value: req.Body,
		Headers: []kgo.RecordHeader{
			{Key: HeaderDedupKey, Value: []byte(req.DedupKey)},
		},
	}
	for k, v := range req.Attributes {
		record.Headers = append(record.Headers, kgo.RecordHeader{Key: k, Value: []byte(v)})
	}

	produced, err := p.client.ProduceSync(ctx, record).First()
	if err != nil {
		var ke *kerr.Error
		if !errors.As(err, &ke) {
			return queue.Outcome{}, fmt.Errorf("kafka publish: %w", err)
		}
		outcome := queue.Outcome{
			Accepted:   false,
			StatusCode: int(ke.Code),
			Detail:     ke.Message + ": " + ke.Description,
		}
		p.logger.WarnContext(ctx, "kafka rejected message",
			"topic", req.Destination,
			"code", ke.Code,
			"detail", outcome.Detail,
		)
		return outcome, nil
	}

	return queue.Outcome{
		Accepted:       true,
		MessageID:      fmt.Sprintf("%s/%d/%d", produced.Topic, produced.Partition, produced.Offset),
		SequenceNumber: strconv.FormatInt(produced.Offset, 10),
	}, nil
}

// Close shuts down the producer, flushing nothing: Publish is synchronous.
func (p *Publisher) Close() error {
	p.client.Close()
	return nil
}

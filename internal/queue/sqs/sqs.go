// Package sqs publishes study update messages to an SQS FIFO queue.
package sqs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsmiddleware "github.com/aws/aws-sdk-go-v2/aws/middleware"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/aws/smithy-go"
	"github.com/aws/smithy-go/middleware"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/curie/studyrelay/internal/queue"
)

// maxMessageAttributes is the SQS limit on message attributes per message.
const maxMessageAttributes = 10

// sendMessageAPI abstracts the SQS client for testing.
type sendMessageAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Config holds SQS publisher configuration.
type Config struct {
	// Endpoint overrides the service endpoint (e.g. LocalStack). Optional.
	Endpoint string
}

// Publisher sends messages to SQS FIFO queues.
type Publisher struct {
	client sendMessageAPI
	logger *slog.Logger
}

// NewPublisher creates a Publisher from an AWS configuration.
func NewPublisher(awsCfg aws.Config, cfg Config, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	})
	return &Publisher{client: client, logger: logger}
}

// Publish sends req to the queue URL in req.Destination using the group key as
// MessageGroupId and the dedup key as MessageDeduplicationId.
func (p *Publisher) Publish(ctx context.Context, req queue.Request) (queue.Outcome, error) {
	if err := req.Validate(); err != nil {
		return queue.Outcome{}, fmt.Errorf("sqs request: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:               aws.String(req.Destination),
		MessageBody:            aws.String(string(req.Body)),
		MessageGroupId:         aws.String(req.GroupKey),
		MessageDeduplicationId: aws.String(req.DedupKey),
		MessageAttributes:      messageAttributes(req.Attributes),
	}

	out, err := p.client.SendMessage(ctx, input)
	if err != nil {
		var respErr *awshttp.ResponseError
		if !errors.As(err, &respErr) {
			return queue.Outcome{}, fmt.Errorf("sqs send: %w", err)
		}
		outcome := queue.Outcome{
			Accepted:   false,
			StatusCode: respErr.HTTPStatusCode(),
			Detail:     err.Error(),
		}
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			outcome.Detail = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
		}
		if id := respErr.ServiceRequestID(); id != "" {
			outcome.Detail += " (request id " + id + ")"
		}
		p.logger.WarnContext(ctx, "sqs rejected message",
			"queue", req.Destination,
			"status", outcome.StatusCode,
			"detail", outcome.Detail,
		)
		return outcome, nil
	}

	outcome := queue.Outcome{
		Accepted:       true,
		StatusCode:     statusCode(out.ResultMetadata),
		MessageID:      aws.ToString(out.MessageId),
		SequenceNumber: aws.ToString(out.SequenceNumber),
	}
	if outcome.StatusCode != http.StatusOK {
		outcome.Accepted = false
		outcome.Detail = "unexpected status " + http.StatusText(outcome.StatusCode)
	}
	return outcome, nil
}

// Close is a no-op; the SQS client holds no long-lived connections of its own.
func (p *Publisher) Close() error { return nil }

// statusCode returns the HTTP status of the raw response, or 200 when the
// response was not retained (the SDK only returns nil errors on 2xx).
func statusCode(md middleware.Metadata) int {
	if resp, ok := awsmiddleware.GetRawResponse(md).(*smithyhttp.Response); ok && resp != nil && resp.Response != nil {
		return resp.StatusCode
	}
	return http.StatusOK
}

func messageAttributes(attrs map[string]string) map[string]types.MessageAttributeValue {
	if len(attrs) == 0 {
		return nil
	}
	keys := make([]string, 0, len(attrs))
	for k, v := range attrs {
		if v != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > maxMessageAttributes {
		keys = keys[:maxMessageAttributes]
	}

	out := make(map[string]types.MessageAttributeValue, len(keys))
	for _, k := range keys {
		out[k] = types.MessageAttributeValue{
			DataType:    aws.String("String"),
			StringValue: aws.String(attrs[k]),
		}
	}
	return out
}

// Package queue publishes reservation lifecycle events to SQS for the
// downstream consumers (receipt generation, notifications).
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/sony/gobreaker/v2"

	"parking/internal/types"
)

// SQSSender is the subset of *sqs.Client the publisher uses.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSPublisher implements types.EventPublisher. Sends go through a circuit
// breaker so a dead queue fails fast instead of stalling every request that
// commits a transition.
type SQSPublisher struct {
	client   SQSSender
	queueURL string
	breaker  *gobreaker.CircuitBreaker[*sqs.SendMessageOutput]
	logger   *slog.Logger
}

// NewSQSPublisher creates a publisher for queueURL.
func NewSQSPublisher(client SQSSender, queueURL string, logger *slog.Logger) *SQSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	cb := gobreaker.NewCircuitBreaker[*sqs.SendMessageOutput](gobreaker.Settings{
		Name:        "sqs-reservation-events",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &SQSPublisher{client: client, queueURL: queueURL, breaker: cb, logger: logger}
}

// Publish serializes evt and sends it. The event type travels as a message
// attribute so consumers can filter without decoding the body.
func (p *SQSPublisher) Publish(ctx context.Context, evt types.ReservationEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("queue: failed to marshal %s event: %w", evt.Type, err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]sqsTypes.MessageAttributeValue{
			"event_type": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(evt.Type)),
			},
		},
	}

	out, err := p.breaker.Execute(func() (*sqs.SendMessageOutput, error) {
		return p.client.SendMessage(ctx, input)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return types.NewAppError(types.ErrCodeUpstreamQueue, "event queue circuit is open", err)
		}
		return types.NewAppError(types.ErrCodeUpstreamQueue, "failed to publish event to "+p.queueURL, err)
	}

	p.logger.DebugContext(ctx, "event published",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"reservation_code", evt.ReservationCode,
		"message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// LogPublisher logs events instead of sending them. Used when no queue is
// configured (local runs, the ops CLI).
type LogPublisher struct {
	Logger *slog.Logger
}

// Publish implements types.EventPublisher.
func (p LogPublisher) Publish(ctx context.Context, evt types.ReservationEvent) error {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "lifecycle event",
		"event_id", evt.ID,
		"event_type", evt.Type,
		"lot_id", evt.LotID,
		"plaza", evt.PlazaNumber,
		"reservation_code", evt.ReservationCode,
		"occupancy_id", evt.OccupancyID,
	)
	return nil
}

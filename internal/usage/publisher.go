// Package usage provides metered request capture and processing.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/crudmeter/crudmeter/internal/metrics"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "stream:usage_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:usage_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// EventPayload is the compressed event format for the Redis stream.
type EventPayload struct {
	UserID      string `json:"u"`           // user_id
	Endpoint    string `json:"e"`           // endpoint (route pattern)
	Method      string `json:"m"`           // HTTP method
	StatusCode  int    `json:"s"`           // response status
	RequestedAt int64  `json:"t"`           // Unix milliseconds
	RequestID   string `json:"rid,omitempty"`
}

// Publisher enqueues usage events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds a usage event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true, // ~MAXLEN for performance
		ID:     "*",  // Auto-generate ID
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()

	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned (fire-and-forget): a dropped usage
// record never fails the request that already paid for it.
func (p *Publisher) PublishAsync(event EventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"user_id", event.UserID,
				"endpoint", event.Endpoint,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"user_id", event.UserID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// ValidateEventPayload checks the fields a persisted usage row requires.
func ValidateEventPayload(payload EventPayload) error {
	if payload.UserID == "" {
		return fmt.Errorf("missing user id")
	}
	if payload.Endpoint == "" {
		return fmt.Errorf("missing endpoint")
	}
	if payload.Method == "" {
		return fmt.Errorf("missing method")
	}
	if payload.RequestedAt <= 0 {
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/mediafetch/fetchd/internal/core/domain"
)

const eventStream = "downloads:events"

// EventEmitter implements events.Emitter on a Redis Stream. Downstream
// consumers (library sync, analytics) read the stream independently.
type EventEmitter struct {
	rdb *redis.Client
}

// NewEventEmitter creates a Redis Stream event emitter.
func NewEventEmitter(client *Client) *EventEmitter {
	return &EventEmitter{rdb: client.rdb}
}

// Emit appends one event to the stream.
func (e *EventEmitter) Emit(ctx context.Context, event *domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := e.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: eventStream,
		Values: map[string]any{
			"event_type": string(event.EventType),
			"payload":    payload,
		},
	}).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// Close is a no-op; the shared client owns the connection.
func (e *EventEmitter) Close() error { return nil }

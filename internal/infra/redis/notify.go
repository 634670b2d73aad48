package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const notificationKey = "notifications:push"

// NotificationDispatcher implements notify.Dispatcher on a Redis list. The
// push-notification sender consumes the list downstream.
type NotificationDispatcher struct {
	rdb *redis.Client
}

// NewNotificationDispatcher creates a Redis-backed notification dispatcher.
func NewNotificationDispatcher(client *Client) *NotificationDispatcher {
	return &NotificationDispatcher{rdb: client.rdb}
}

type notificationMessage struct {
	UserID    string            `json:"user_id"`
	FileID    string            `json:"file_id"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Enqueue pushes one notification message for one user.
func (d *NotificationDispatcher) Enqueue(ctx context.Context, userID, fileID string, meta map[string]string) error {
	msg := notificationMessage{
		UserID:    userID,
		FileID:    fileID,
		Meta:      meta,
		CreatedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.rdb.LPush(ctx, notificationKey, payload).Err(); err != nil {
		return fmt.Errorf("lpush failed: %w", err)
	}
	return nil
}

package notify

import (
	"context"
	"log/slog"
)

// Dispatcher enqueues one push-notification message per waiting user. The
// push sender itself is a downstream consumer, not this service.
type Dispatcher interface {
	Enqueue(ctx context.Context, userID, fileID string, meta map[string]string) error
}

// LogDispatcher logs notifications instead of enqueuing them. Development
// fallback when no notification queue is configured.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LogDispatcher{log: log}
}

func (d *LogDispatcher) Enqueue(ctx context.Context, userID, fileID string, meta map[string]string) error {
	d.log.Info("notification enqueued", "user_id", userID, "file_id", fileID)
	return nil
}

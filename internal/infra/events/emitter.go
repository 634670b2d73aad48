package events

import (
	"context"
	"log/slog"

	"github.com/mediafetch/fetchd/internal/core/domain"
)

// Emitter defines the interface for emitting download domain events
type Emitter interface {
	// Emit sends a single event
	Emit(ctx context.Context, event *domain.Event) error

	// Close closes the emitter connection
	Close() error
}

// LogEmitter writes events to the log. Used in DB-less development mode and
// as a fallback when no event bus is configured.
type LogEmitter struct {
	log *slog.Logger
}

func NewLogEmitter(log *slog.Logger) *LogEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &LogEmitter{log: log}
}

func (e *LogEmitter) Emit(ctx context.Context, event *domain.Event) error {
	e.log.Info("event emitted",
		"event_type", event.EventType,
		"file_id", event.FileID,
		"correlation_id", event.CorrelationID)
	return nil
}

func (e *LogEmitter) Close() error { return nil }

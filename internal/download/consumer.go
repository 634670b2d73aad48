package download

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/metrics"
)

// Message is one delivered download request plus its transport identifier.
type Message struct {
	ID      string
	Request domain.DownloadRequest
}

// Redelivery marks a message that must be delivered again, no earlier than At.
type Redelivery struct {
	Message Message
	At      time.Time
}

// Transport is the queue the consumer drains. Implemented by the Redis Streams
// queue; faked in tests.
type Transport interface {
	// ReadBatch blocks until messages are available or the context ends.
	ReadBatch(ctx context.Context) ([]Message, error)

	// Ack resolves messages so they are never redelivered.
	Ack(ctx context.Context, ids ...string) error

	// ScheduleRetry arranges a future redelivery of the request.
	ScheduleRetry(ctx context.Context, req domain.DownloadRequest, at time.Time) error

	// ReclaimStale takes over messages abandoned by dead consumers.
	ReclaimStale(ctx context.Context) ([]Message, error)
}

// Consumer drains download request batches and applies the orchestrator to
// each message independently. Only failed-retryable messages go back to the
// queue; completed and terminal outcomes resolve the message either way.
type Consumer struct {
	transport Transport
	orch      *Orchestrator
	log       *slog.Logger
	now       func() time.Time
}

// NewConsumer creates a batch consumer.
func NewConsumer(transport Transport, orch *Orchestrator, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{
		transport: transport,
		orch:      orch,
		log:       log,
		now:       time.Now,
	}
}

// Run consumes batches until the context is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	reclaim := time.NewTicker(time.Minute)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaim.C:
			stale, err := c.transport.ReclaimStale(ctx)
			if err != nil {
				c.log.Error("failed to reclaim stale messages", "error", err)
				continue
			}
			if len(stale) > 0 {
				c.dispatch(ctx, stale)
			}
		default:
		}

		msgs, err := c.transport.ReadBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Error("failed to read batch", "error", err)
			continue
		}
		if len(msgs) == 0 {
			continue
		}
		c.dispatch(ctx, msgs)
	}
}

func (c *Consumer) dispatch(ctx context.Context, msgs []Message) {
	metrics.BatchSize.Observe(float64(len(msgs)))

	redeliveries := c.HandleBatch(ctx, msgs)

	// A successfully re-scheduled message is acked like everything else; the
	// delayed copy carries it forward. A failed schedule leaves the original
	// entry pending so the reclaim pass redelivers it.
	leavePending := make(map[string]bool, len(redeliveries))
	for _, rd := range redeliveries {
		if err := c.transport.ScheduleRetry(ctx, rd.Message.Request, rd.At); err != nil {
			c.log.Error("failed to schedule retry",
				"message_id", rd.Message.ID, "file_id", rd.Message.Request.FileID, "error", err)
			leavePending[rd.Message.ID] = true
			continue
		}
		metrics.RetriesScheduled.Inc()
	}

	acked := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if leavePending[m.ID] {
			continue
		}
		acked = append(acked, m.ID)
	}
	if len(acked) > 0 {
		if err := c.transport.Ack(ctx, acked...); err != nil {
			c.log.Error("failed to ack batch", "error", err)
		}
	}
}

// HandleBatch applies the orchestrator to every message in the batch,
// isolating failures: a panic or unexpected error while processing one
// message never prevents the rest from running. The returned subset is
// exactly the messages needing redelivery.
func (c *Consumer) HandleBatch(ctx context.Context, msgs []Message) []Redelivery {
	var redeliveries []Redelivery
	for _, msg := range msgs {
		result := c.processOne(ctx, msg)
		if result.Outcome == OutcomeRetryable {
			redeliveries = append(redeliveries, Redelivery{Message: msg, At: result.RetryAfter})
		}
	}
	return redeliveries
}

// processOne runs the orchestrator with a per-message recover boundary. An
// unexpected crash defaults to retryable: a spurious retry beats silently
// dropping a message.
func (c *Consumer) processOne(ctx context.Context, msg Message) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic while processing message",
				"message_id", msg.ID, "file_id", msg.Request.FileID, "panic", fmt.Sprintf("%v", r))
			result = Result{
				Outcome:    OutcomeRetryable,
				RetryAfter: c.orch.cfg.Backoff.NextRetry(c.now(), 0),
			}
		}
	}()

	result, err := c.orch.Process(ctx, &msg.Request)
	if err != nil {
		c.log.Error("unexpected processing error",
			"message_id", msg.ID, "file_id", msg.Request.FileID, "error", err)
		return Result{
			Outcome:    OutcomeRetryable,
			RetryAfter: c.orch.cfg.Backoff.NextRetry(c.now(), 0),
		}
	}
	return result
}

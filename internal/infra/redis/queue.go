package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/download"
	"github.com/mediafetch/fetchd/internal/metrics"
)

// QueueConfig holds download queue configuration.
type QueueConfig struct {
	Stream      string        `yaml:"stream"`
	Group       string        `yaml:"group"`
	Consumer    string        `yaml:"consumer"`
	BatchSize   int64         `yaml:"batch_size"`
	Block       time.Duration `yaml:"block"`
	ReclaimIdle time.Duration `yaml:"reclaim_idle"`
}

// Queue is the Redis Streams transport for download requests. Delivered
// entries stay pending until acked; retryable failures are parked on a delay
// sorted set (score = retry-after epoch seconds) because streams have no
// native delay-until-timestamp, and a promoter moves due entries back onto
// the stream.
type Queue struct {
	rdb *redis.Client
	cfg QueueConfig
	log *slog.Logger
}

// NewQueue creates a download queue over an existing client.
func NewQueue(client *Client, cfg QueueConfig, log *slog.Logger) *Queue {
	if cfg.Stream == "" {
		cfg.Stream = "downloads:requests"
	}
	if cfg.Group == "" {
		cfg.Group = "fetchd"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "fetchd-1"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = 15 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Queue{rdb: client.rdb, cfg: cfg, log: log}
}

func (q *Queue) delayKey() string {
	return fmt.Sprintf("%s:delayed", q.cfg.Stream)
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (q *Queue) EnsureGroup(ctx context.Context) error {
	err := q.rdb.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Enqueue adds a download request to the stream.
func (q *Queue) Enqueue(ctx context.Context, req *domain.DownloadRequest) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{"payload": payload},
	}).Err(); err != nil {
		return fmt.Errorf("xadd failed: %w", err)
	}
	return nil
}

// ReadBatch blocks for up to the configured interval and returns the next
// batch of messages. A malformed entry is acked and skipped: redelivering it
// can never help.
func (q *Queue) ReadBatch(ctx context.Context) ([]download.Message, error) {
	streams, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		Streams:  []string{q.cfg.Stream, ">"},
		Count:    q.cfg.BatchSize,
		Block:    q.cfg.Block,
	}).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("xreadgroup failed: %w", err)
	}

	var msgs []download.Message
	for _, stream := range streams {
		msgs = append(msgs, q.decodeEntries(ctx, stream.Messages)...)
	}
	return msgs, nil
}

func (q *Queue) decodeEntries(ctx context.Context, entries []redis.XMessage) []download.Message {
	var msgs []download.Message
	for _, entry := range entries {
		req, err := decodeEntry(entry)
		if err != nil {
			q.log.Error("dropping malformed queue entry", "entry_id", entry.ID, "error", err)
			_ = q.Ack(ctx, entry.ID)
			continue
		}
		msgs = append(msgs, download.Message{ID: entry.ID, Request: *req})
	}
	return msgs
}

func decodeEntry(entry redis.XMessage) (*domain.DownloadRequest, error) {
	raw, ok := entry.Values["payload"]
	if !ok {
		return nil, fmt.Errorf("entry %s has no payload", entry.ID)
	}
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("entry %s payload is not a string", entry.ID)
	}
	var req domain.DownloadRequest
	if err := json.Unmarshal([]byte(s), &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry %s: %w", entry.ID, err)
	}
	if req.FileID == "" {
		return nil, fmt.Errorf("entry %s has no file_id", entry.ID)
	}
	return &req, nil
}

// Ack resolves delivered messages.
func (q *Queue) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := q.rdb.XAck(ctx, q.cfg.Stream, q.cfg.Group, ids...).Err(); err != nil {
		return fmt.Errorf("xack failed: %w", err)
	}
	return nil
}

// ScheduleRetry parks the request on the delay set until its retry time.
func (q *Queue) ScheduleRetry(ctx context.Context, req domain.DownloadRequest, at time.Time) error {
	req.Attempt++
	payload, err := json.Marshal(&req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}
	if err := q.rdb.ZAdd(ctx, q.delayKey(), redis.Z{
		Score:  float64(at.Unix()),
		Member: string(payload),
	}).Err(); err != nil {
		return fmt.Errorf("zadd failed: %w", err)
	}
	return nil
}

// PromoteDue moves delay-set entries whose retry time has passed back onto
// the stream. Returns the number promoted.
func (q *Queue) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, q.delayKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: 100,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("zrangebyscore failed: %w", err)
	}

	promoted := 0
	for _, member := range members {
		if err := q.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: q.cfg.Stream,
			Values: map[string]any{"payload": member},
		}).Err(); err != nil {
			return promoted, fmt.Errorf("xadd failed: %w", err)
		}
		if err := q.rdb.ZRem(ctx, q.delayKey(), member).Err(); err != nil {
			return promoted, fmt.Errorf("zrem failed: %w", err)
		}
		promoted++
	}
	return promoted, nil
}

// RunPromoter periodically promotes due retries until the context ends.
func (q *Queue) RunPromoter(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := q.PromoteDue(ctx, time.Now())
			if err != nil {
				q.log.Error("failed to promote due retries", "error", err)
				continue
			}
			if n > 0 {
				q.log.Debug("promoted due retries", "count", n)
			}
			if depth, err := q.Depth(ctx); err == nil {
				metrics.QueueDepth.Set(float64(depth))
			}
		}
	}
}

// ReclaimStale takes over messages left pending by dead consumers.
func (q *Queue) ReclaimStale(ctx context.Context) ([]download.Message, error) {
	entries, _, err := q.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.ReclaimIdle,
		Start:    "0-0",
		Count:    q.cfg.BatchSize,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("xautoclaim failed: %w", err)
	}
	return q.decodeEntries(ctx, entries), nil
}

// Depth returns the number of entries waiting on the stream plus the delay set.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	streamLen, err := q.rdb.XLen(ctx, q.cfg.Stream).Result()
	if err != nil {
		return 0, fmt.Errorf("xlen failed: %w", err)
	}
	delayed, err := q.rdb.ZCard(ctx, q.delayKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("zcard failed: %w", err)
	}
	return streamLen + delayed, nil
}

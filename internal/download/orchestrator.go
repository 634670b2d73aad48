package download

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/download/classify"
	"github.com/mediafetch/fetchd/internal/infra/events"
	"github.com/mediafetch/fetchd/internal/infra/incident"
	"github.com/mediafetch/fetchd/internal/infra/notify"
	"github.com/mediafetch/fetchd/internal/infra/storage"
	"github.com/mediafetch/fetchd/internal/metrics"
)

// Outcome is the per-message processing verdict.
type Outcome string

const (
	// OutcomeCompleted means the file was downloaded and stored.
	OutcomeCompleted Outcome = "completed"
	// OutcomeRetryable means the message should be redelivered later.
	OutcomeRetryable Outcome = "failed_retryable"
	// OutcomeTerminal means the message is resolved and must not be
	// redelivered: it can never succeed.
	OutcomeTerminal Outcome = "failed_terminal"
)

// Result is what one processed message produced.
type Result struct {
	Outcome    Outcome
	Category   domain.ErrorCategory
	RetryAfter time.Time // set when Outcome is OutcomeRetryable
}

// Artifact describes a stored download.
type Artifact struct {
	SizeBytes  int64
	StorageURL string
	Duration   time.Duration
}

// MediaProvider fetches video metadata and downloads media into storage.
type MediaProvider interface {
	// FetchInfo resolves metadata for a video URL. On failure it may still
	// return partial metadata alongside the error — a scheduled video's
	// release time arrives attached to the "not yet available" error.
	FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error)

	// Download fetches the media and stores it, returning the stored artifact.
	Download(ctx context.Context, sourceURL string, info *domain.VideoInfo) (*Artifact, error)
}

// Config holds orchestrator policy knobs.
type Config struct {
	MaxRetries int
	Backoff    classify.BackoffConfig
}

// Orchestrator processes one download request end to end: metadata fetch,
// download, retry-state bookkeeping, event emission and notification fan-out.
type Orchestrator struct {
	states    storage.RetryStateRepository
	files     storage.FileRepository
	users     storage.UserFileRepository
	media     MediaProvider
	events    events.Emitter
	notify    notify.Dispatcher
	incidents incident.Notifier
	cfg       Config
	log       *slog.Logger
	now       func() time.Time
}

// NewOrchestrator creates a download orchestrator.
func NewOrchestrator(
	states storage.RetryStateRepository,
	files storage.FileRepository,
	users storage.UserFileRepository,
	media MediaProvider,
	emitter events.Emitter,
	dispatcher notify.Dispatcher,
	incidents incident.Notifier,
	cfg Config,
	log *slog.Logger,
) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Backoff.BaseDelay == 0 {
		cfg.Backoff = classify.DefaultBackoff
	}
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		states:    states,
		files:     files,
		users:     users,
		media:     media,
		events:    emitter,
		notify:    dispatcher,
		incidents: incidents,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Process handles one download request message. Returned errors are unexpected
// collaborator failures; the consumer converts them into a retryable outcome.
func (o *Orchestrator) Process(ctx context.Context, msg *domain.DownloadRequest) (Result, error) {
	state, err := o.states.Get(ctx, msg.FileID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to load retry state: %w", err)
	}
	if state == nil {
		state, err = o.states.Create(ctx, msg.FileID, msg.SourceURL, msg.CorrelationID, o.cfg.MaxRetries)
		if err != nil {
			return Result{}, fmt.Errorf("failed to create retry state: %w", err)
		}
	}

	// A duplicate delivery of an already-resolved file is acked without
	// reprocessing. The stores hold the terminal verdict and downstream
	// consumers have already been told; re-running would overwrite a good
	// FileRecord or emit duplicate events and incidents.
	switch state.Status {
	case domain.DownloadStatusDownloaded:
		o.log.Info("duplicate delivery of downloaded file",
			"file_id", msg.FileID, "correlation_id", msg.CorrelationID)
		return Result{Outcome: OutcomeCompleted}, nil
	case domain.DownloadStatusFailed:
		o.log.Info("duplicate delivery of failed file",
			"file_id", msg.FileID, "correlation_id", msg.CorrelationID,
			"category", state.ErrorCategory)
		return Result{Outcome: OutcomeTerminal, Category: state.ErrorCategory}, nil
	}

	info, fetchErr := o.media.FetchInfo(ctx, msg.SourceURL)
	if fetchErr != nil {
		// Partial metadata returned with the error still feeds classification.
		return o.handleFailure(ctx, msg, state, fetchErr, info)
	}

	// Metadata is known; record it before attempting the download.
	record := fileRecordFromInfo(msg.FileID, info)
	if err := o.files.Upsert(ctx, record); err != nil {
		return Result{}, fmt.Errorf("failed to upsert file metadata: %w", err)
	}

	start := o.now()
	artifact, dlErr := o.media.Download(ctx, msg.SourceURL, info)
	if dlErr != nil {
		return o.handleFailure(ctx, msg, state, dlErr, info)
	}
	metrics.DownloadDuration.Observe(o.now().Sub(start).Seconds())

	// Success. Persistence happens before the event is emitted: a consumer
	// must never hear "completed" while the stores still disagree.
	record.SizeBytes = artifact.SizeBytes
	record.StorageURL = artifact.StorageURL
	record.Status = domain.FileStatusDownloaded
	if err := o.files.Upsert(ctx, record); err != nil {
		return Result{}, fmt.Errorf("failed to upsert file record: %w", err)
	}

	// Unconditional terminal overwrite: a concurrent duplicate delivery that
	// already succeeded re-writes the same verdict.
	downloaded := domain.DownloadStatusDownloaded
	if _, err := o.states.Update(ctx, msg.FileID, storage.RetryStatePatch{Status: &downloaded}); err != nil {
		return Result{}, fmt.Errorf("failed to mark retry state downloaded: %w", err)
	}

	if err := o.emitEvent(ctx, domain.EventTypeDownloadCompleted, msg, map[string]any{
		"title":       record.Title,
		"size_bytes":  artifact.SizeBytes,
		"storage_url": artifact.StorageURL,
	}); err != nil {
		return Result{}, err
	}

	o.fanOut(ctx, msg.FileID, record)

	metrics.DownloadsProcessed.WithLabelValues(string(OutcomeCompleted)).Inc()
	o.log.Info("download completed",
		"file_id", msg.FileID,
		"correlation_id", msg.CorrelationID,
		"size_bytes", artifact.SizeBytes)
	return Result{Outcome: OutcomeCompleted}, nil
}

// handleFailure classifies a failure and decides retry vs terminal. The retry
// budget is authoritative: an exhausted budget terminates even a nominally
// retryable category.
func (o *Orchestrator) handleFailure(
	ctx context.Context,
	msg *domain.DownloadRequest,
	state *domain.RetryState,
	cause error,
	info *domain.VideoInfo,
) (Result, error) {
	now := o.now()
	cls := classify.Classify(cause, info, o.cfg.Backoff, now)
	metrics.DownloadErrors.WithLabelValues(string(cls.Category)).Inc()

	maxRetries := state.MaxRetries
	if cls.MaxRetries > 0 {
		maxRetries = cls.MaxRetries
	}

	failed := domain.DownloadStatusFailed

	if !cls.Retryable {
		patch := storage.RetryStatePatch{
			Status:        &failed,
			ErrorCategory: &cls.Category,
			LastError:     &cls.Reason,
		}
		if _, err := o.states.Update(ctx, msg.FileID, patch); err != nil {
			return Result{}, fmt.Errorf("failed to mark retry state failed: %w", err)
		}

		tag := domain.FailureTagPermanent
		if cls.Category == domain.ErrorCategoryCookieExpired {
			tag = domain.FailureTagCookieExpired
		}
		if err := o.emitFailed(ctx, msg, cls, tag); err != nil {
			return Result{}, err
		}
		o.escalate(ctx, msg, state, cls, tag)

		metrics.DownloadsProcessed.WithLabelValues(string(OutcomeTerminal)).Inc()
		o.log.Warn("download failed terminally",
			"file_id", msg.FileID,
			"correlation_id", msg.CorrelationID,
			"category", cls.Category,
			"reason", cls.Reason)
		return Result{Outcome: OutcomeTerminal, Category: cls.Category}, nil
	}

	if state.RetryCount >= maxRetries {
		patch := storage.RetryStatePatch{
			Status:        &failed,
			ErrorCategory: &cls.Category,
			LastError:     &cls.Reason,
		}
		if _, err := o.states.Update(ctx, msg.FileID, patch); err != nil {
			return Result{}, fmt.Errorf("failed to mark retry state exhausted: %w", err)
		}
		if err := o.emitFailed(ctx, msg, cls, domain.FailureTagRetryExhausted); err != nil {
			return Result{}, err
		}
		o.escalate(ctx, msg, state, cls, domain.FailureTagRetryExhausted)

		metrics.DownloadsProcessed.WithLabelValues(string(OutcomeTerminal)).Inc()
		o.log.Warn("retry budget exhausted",
			"file_id", msg.FileID,
			"correlation_id", msg.CorrelationID,
			"category", cls.Category,
			"retry_count", state.RetryCount)
		return Result{Outcome: OutcomeTerminal, Category: cls.Category}, nil
	}

	retryAt := cls.RetryAfter
	if cls.Category == domain.ErrorCategoryTransient {
		// Grow the delay with the attempts already spent.
		retryAt = o.cfg.Backoff.NextRetry(now, state.RetryCount)
	}

	newCount := state.RetryCount + 1
	patch := storage.RetryStatePatch{
		RetryCount:    &newCount,
		ErrorCategory: &cls.Category,
		LastError:     &cls.Reason,
		RetryAfter:    &retryAt,
	}
	if cls.Category == domain.ErrorCategoryScheduled && info != nil && info.ReleaseTimestamp > 0 {
		release := time.Unix(info.ReleaseTimestamp, 0)
		patch.ScheduledReleaseTime = &release
	}
	if _, err := o.states.Update(ctx, msg.FileID, patch); err != nil {
		return Result{}, fmt.Errorf("failed to schedule retry: %w", err)
	}
	if err := o.emitFailed(ctx, msg, cls, domain.FailureTagRetryable); err != nil {
		return Result{}, err
	}

	metrics.DownloadsProcessed.WithLabelValues(string(OutcomeRetryable)).Inc()
	o.log.Info("download failed, retry scheduled",
		"file_id", msg.FileID,
		"correlation_id", msg.CorrelationID,
		"category", cls.Category,
		"retry_count", newCount,
		"retry_after", retryAt)
	return Result{Outcome: OutcomeRetryable, Category: cls.Category, RetryAfter: retryAt}, nil
}

// fanOut enqueues one completion notification per waiting user. Each enqueue
// is independent: one user's failure never blocks another's.
func (o *Orchestrator) fanOut(ctx context.Context, fileID string, record *domain.FileRecord) {
	users, err := o.users.WaitingUsers(ctx, fileID)
	if err != nil {
		o.log.Error("failed to load waiting users", "file_id", fileID, "error", err)
		return
	}

	meta := map[string]string{
		"title":       record.Title,
		"storage_url": record.StorageURL,
		"mime_type":   record.MimeType,
	}
	for _, userID := range users {
		if err := o.notify.Enqueue(ctx, userID, fileID, meta); err != nil {
			metrics.NotificationsSent.WithLabelValues("failed").Inc()
			o.log.Error("failed to enqueue notification",
				"file_id", fileID, "user_id", userID, "error", err)
			continue
		}
		metrics.NotificationsSent.WithLabelValues("sent").Inc()
	}
}

func (o *Orchestrator) emitEvent(ctx context.Context, et domain.EventType, msg *domain.DownloadRequest, meta map[string]any) error {
	event := &domain.Event{
		EventType:     et,
		FileID:        msg.FileID,
		CorrelationID: msg.CorrelationID,
		EmittedAt:     o.now().Unix(),
		Metadata:      meta,
	}
	if err := o.events.Emit(ctx, event); err != nil {
		return fmt.Errorf("failed to emit %s event: %w", et, err)
	}
	return nil
}

func (o *Orchestrator) emitFailed(ctx context.Context, msg *domain.DownloadRequest, cls classify.Classification, tag string) error {
	return o.emitEvent(ctx, domain.EventTypeDownloadFailed, msg, map[string]any{
		"tag":      tag,
		"category": string(cls.Category),
		"reason":   cls.Reason,
	})
}

// escalate raises an incident for human follow-up. Incident creation is best
// effort: the terminal outcome stands even if the escalation channel is down.
func (o *Orchestrator) escalate(ctx context.Context, msg *domain.DownloadRequest, state *domain.RetryState, cls classify.Classification, tag string) {
	summary := fmt.Sprintf("download %s: %s (%s)", msg.FileID, cls.Category, tag)
	details := map[string]string{
		"file_id":        msg.FileID,
		"source_url":     msg.SourceURL,
		"correlation_id": msg.CorrelationID,
		"category":       string(cls.Category),
		"reason":         cls.Reason,
		"retry_count":    fmt.Sprintf("%d", state.RetryCount),
	}
	if err := o.incidents.Create(ctx, summary, details); err != nil {
		o.log.Error("failed to create incident", "file_id", msg.FileID, "error", err)
		return
	}
	metrics.IncidentsCreated.Inc()
}

func fileRecordFromInfo(fileID string, info *domain.VideoInfo) *domain.FileRecord {
	record := &domain.FileRecord{
		FileID: fileID,
		Status: domain.FileStatusPending,
	}
	if info != nil {
		record.Title = info.Title
		record.UploaderName = info.UploaderName
		record.Thumbnail = info.Thumbnail
		record.MimeType = info.MimeType
	}
	return record
}

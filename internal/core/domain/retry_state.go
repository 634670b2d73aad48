package domain

import "time"

// DownloadStatus is the state of a tracked download item.
type DownloadStatus string

const (
	DownloadStatusInProgress DownloadStatus = "in_progress"
	DownloadStatusDownloaded DownloadStatus = "downloaded"
	DownloadStatusFailed     DownloadStatus = "failed"
)

// ErrorCategory classifies a download failure.
type ErrorCategory string

const (
	// ErrorCategoryScheduled means the video has a future release time.
	ErrorCategoryScheduled ErrorCategory = "scheduled"
	// ErrorCategoryLivestreamUpcoming means a livestream that has not started.
	ErrorCategoryLivestreamUpcoming ErrorCategory = "livestream_upcoming"
	// ErrorCategoryTransient means a network-level failure worth retrying.
	ErrorCategoryTransient ErrorCategory = "transient"
	// ErrorCategoryCookieExpired means the provider demands fresh credentials.
	// Requires manual intervention, never retried automatically.
	ErrorCategoryCookieExpired ErrorCategory = "cookie_expired"
	// ErrorCategoryPermanent means the video cannot be downloaded, ever.
	ErrorCategoryPermanent ErrorCategory = "permanent"
)

// RetryState is the persistent per-file retry record. Keyed by FileID, not by
// user: multiple users waiting on the same file share one retry budget.
//
// Invariant: RetryCount never exceeds MaxRetries while Status is in_progress;
// a failure at RetryCount == MaxRetries moves Status to failed and no further
// retry is scheduled.
type RetryState struct {
	FileID               string         `json:"file_id"`
	RetryCount           int            `json:"retry_count"`
	MaxRetries           int            `json:"max_retries"`
	Status               DownloadStatus `json:"status"`
	ErrorCategory        ErrorCategory  `json:"error_category,omitempty"`
	LastError            string         `json:"last_error,omitempty"`
	RetryAfter           *time.Time     `json:"retry_after,omitempty"`
	ScheduledReleaseTime *time.Time     `json:"scheduled_release_time,omitempty"`
	SourceURL            string         `json:"source_url"`
	CorrelationID        string         `json:"correlation_id"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Exhausted reports whether the retry budget is spent.
func (s *RetryState) Exhausted() bool {
	return s.RetryCount >= s.MaxRetries
}

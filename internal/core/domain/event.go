package domain

// Event represents an emitted download domain event
type Event struct {
	EventType     EventType      `json:"event_type"`
	FileID        string         `json:"file_id"`
	CorrelationID string         `json:"correlation_id"`
	EmittedAt     int64          `json:"emitted_at"` // epoch seconds
	Metadata      map[string]any `json:"metadata,omitempty"`
}

type EventType string

const (
	EventTypeDownloadCompleted EventType = "download_completed"
	EventTypeDownloadFailed    EventType = "download_failed"
)

// Failure tags attached to download_failed events.
const (
	FailureTagRetryable      = "retryable"
	FailureTagRetryExhausted = "retry_exhausted"
	FailureTagPermanent      = "permanent"
	FailureTagCookieExpired  = "cookie_expired"
)

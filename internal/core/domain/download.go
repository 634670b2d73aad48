package domain

import "time"

// DownloadRequest is one queued download attempt for a (file, requester) pair.
// The attempt counter here is informational; the authoritative count lives in
// the per-file RetryState.
type DownloadRequest struct {
	FileID        string `json:"file_id"`
	SourceURL     string `json:"source_url"`
	CorrelationID string `json:"correlation_id"`
	UserID        string `json:"user_id"`
	Attempt       int    `json:"attempt"`
}

// VideoInfo is the metadata the provider returns for a video. A failed fetch
// may still carry partial metadata (e.g. a scheduled video's release time is
// attached to the error, not a success).
type VideoInfo struct {
	ID               string `json:"id"`
	Title            string `json:"title"`
	Description      string `json:"description"`
	Thumbnail        string `json:"thumbnail"`
	UploaderID       string `json:"uploader_id"`
	UploaderName     string `json:"uploader"`
	Duration         int64  `json:"duration"`
	ReleaseTimestamp int64  `json:"release_timestamp"` // epoch seconds, 0 if unknown
	IsLive           bool   `json:"is_live"`
	LiveStatus       string `json:"live_status"` // e.g. "upcoming", "is_upcoming", "was_live"
	Availability     string `json:"availability"`
	Ext              string `json:"ext"`
	MimeType         string `json:"mime_type"`
	FormatURL        string `json:"format_url"` // best playable format, if resolved
}

// FileStatus tracks the lifecycle of a canonical file record.
type FileStatus string

const (
	FileStatusPending    FileStatus = "pending"
	FileStatusDownloaded FileStatus = "downloaded"
	FileStatusFailed     FileStatus = "failed"
)

// FileRecord is the canonical metadata for a downloaded (or downloading) file.
// One record per FileID regardless of how many users requested it.
type FileRecord struct {
	FileID       string     `json:"file_id"`
	Title        string     `json:"title"`
	UploaderName string     `json:"uploader_name"`
	Thumbnail    string     `json:"thumbnail"`
	MimeType     string     `json:"mime_type"`
	SizeBytes    int64      `json:"size_bytes"`
	StorageURL   string     `json:"storage_url"`
	Status       FileStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// UserFile associates a waiting user with a file. Read-only for the worker;
// written by the ingress API when a user requests a video.
type UserFile struct {
	UserID    string    `json:"user_id"`
	FileID    string    `json:"file_id"`
	CreatedAt time.Time `json:"created_at"`
}

package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
)

var (
	// ErrNotFound is returned when a record doesn't exist
	ErrNotFound = errors.New("record not found")
)

// RetryStatePatch carries the fields an update may change. Nil pointers leave
// the stored value untouched.
type RetryStatePatch struct {
	RetryCount           *int
	Status               *domain.DownloadStatus
	ErrorCategory        *domain.ErrorCategory
	LastError            *string
	RetryAfter           *time.Time
	ScheduledReleaseTime *time.Time
}

// RetryStateRepository handles per-file retry record storage. Last-write-wins
// per FileID is acceptable: a given file's retries are processed by at most
// one consumer at a time in the common case, and terminal writes are
// idempotent overwrites.
type RetryStateRepository interface {
	// Get retrieves the retry state for a file, nil if absent
	Get(ctx context.Context, fileID string) (*domain.RetryState, error)

	// Create inserts a fresh in-progress state with a zero retry count
	Create(ctx context.Context, fileID, sourceURL, correlationID string, maxRetries int) (*domain.RetryState, error)

	// Update applies a patch and returns the stored state
	Update(ctx context.Context, fileID string, patch RetryStatePatch) (*domain.RetryState, error)
}

// FileRepository handles canonical file metadata storage
type FileRepository interface {
	// Upsert inserts or overwrites the record for FileID
	Upsert(ctx context.Context, record *domain.FileRecord) error

	// Get retrieves a file record, nil if absent
	Get(ctx context.Context, fileID string) (*domain.FileRecord, error)
}

// UserFileRepository reads which users are waiting on a file. The worker never
// writes associations; the ingress API owns them.
type UserFileRepository interface {
	// WaitingUsers returns the user IDs waiting on a file
	WaitingUsers(ctx context.Context, fileID string) ([]string, error)
}

package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/infra/storage"
)

// RetryStateRepo implements storage.RetryStateRepository using PostgreSQL.
type RetryStateRepo struct {
	db *DB
}

// NewRetryStateRepo creates a new PostgreSQL retry state repository.
func NewRetryStateRepo(db *DB) *RetryStateRepo {
	return &RetryStateRepo{db: db}
}

type retryStateRow struct {
	FileID               string         `db:"file_id"`
	RetryCount           int            `db:"retry_count"`
	MaxRetries           int            `db:"max_retries"`
	Status               string         `db:"status"`
	ErrorCategory        sql.NullString `db:"error_category"`
	LastError            sql.NullString `db:"last_error"`
	RetryAfter           sql.NullTime   `db:"retry_after"`
	ScheduledReleaseTime sql.NullTime   `db:"scheduled_release_time"`
	SourceURL            string         `db:"source_url"`
	CorrelationID        string         `db:"correlation_id"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

func (r retryStateRow) toDomain() *domain.RetryState {
	s := &domain.RetryState{
		FileID:        r.FileID,
		RetryCount:    r.RetryCount,
		MaxRetries:    r.MaxRetries,
		Status:        domain.DownloadStatus(r.Status),
		SourceURL:     r.SourceURL,
		CorrelationID: r.CorrelationID,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
	if r.ErrorCategory.Valid {
		s.ErrorCategory = domain.ErrorCategory(r.ErrorCategory.String)
	}
	if r.LastError.Valid {
		s.LastError = r.LastError.String
	}
	if r.RetryAfter.Valid {
		t := r.RetryAfter.Time
		s.RetryAfter = &t
	}
	if r.ScheduledReleaseTime.Valid {
		t := r.ScheduledReleaseTime.Time
		s.ScheduledReleaseTime = &t
	}
	return s
}

// Get retrieves the retry state for a file, nil if absent.
func (r *RetryStateRepo) Get(ctx context.Context, fileID string) (*domain.RetryState, error) {
	query := `
		SELECT file_id, retry_count, max_retries, status, error_category, last_error,
		       retry_after, scheduled_release_time, source_url, correlation_id,
		       created_at, updated_at
		FROM retry_states
		WHERE file_id = $1
	`

	var row retryStateRow
	err := r.db.GetContext(ctx, &row, query, fileID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get retry state: %w", err)
	}
	return row.toDomain(), nil
}

// Create inserts a fresh in-progress state with a zero retry count. If a state
// already exists for the file (duplicate delivery), the existing row wins.
func (r *RetryStateRepo) Create(
	ctx context.Context,
	fileID, sourceURL, correlationID string,
	maxRetries int,
) (*domain.RetryState, error) {
	query := `
		INSERT INTO retry_states (file_id, retry_count, max_retries, status, source_url, correlation_id, created_at, updated_at)
		VALUES ($1, 0, $2, $3, $4, $5, NOW(), NOW())
		ON CONFLICT (file_id) DO NOTHING
	`
	_, err := r.db.ExecContext(ctx, query, fileID, maxRetries, string(domain.DownloadStatusInProgress), sourceURL, correlationID)
	if err != nil {
		return nil, fmt.Errorf("failed to create retry state: %w", err)
	}

	state, err := r.Get(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if state == nil {
		return nil, fmt.Errorf("retry state missing after create: %s", fileID)
	}
	return state, nil
}

// ListByStatus returns all retry states with the given status, oldest
// update first.
func (r *RetryStateRepo) ListByStatus(ctx context.Context, status domain.DownloadStatus) ([]*domain.RetryState, error) {
	query := `
		SELECT file_id, retry_count, max_retries, status, error_category, last_error,
		       retry_after, scheduled_release_time, source_url, correlation_id,
		       created_at, updated_at
		FROM retry_states
		WHERE status = $1
		ORDER BY updated_at ASC
	`

	var rows []retryStateRow
	if err := r.db.SelectContext(ctx, &rows, query, string(status)); err != nil {
		return nil, fmt.Errorf("failed to list retry states: %w", err)
	}

	states := make([]*domain.RetryState, 0, len(rows))
	for _, row := range rows {
		states = append(states, row.toDomain())
	}
	return states, nil
}

// Update applies a patch and returns the stored state. Last write wins.
func (r *RetryStateRepo) Update(
	ctx context.Context,
	fileID string,
	patch storage.RetryStatePatch,
) (*domain.RetryState, error) {
	query := `
		UPDATE retry_states SET
			retry_count            = COALESCE($2, retry_count),
			status                 = COALESCE($3, status),
			error_category         = COALESCE($4, error_category),
			last_error             = COALESCE($5, last_error),
			retry_after            = COALESCE($6, retry_after),
			scheduled_release_time = COALESCE($7, scheduled_release_time),
			updated_at             = NOW()
		WHERE file_id = $1
	`

	var category, lastErr *string
	if patch.ErrorCategory != nil {
		s := string(*patch.ErrorCategory)
		category = &s
	}
	lastErr = patch.LastError

	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	res, err := r.db.ExecContext(ctx, query,
		fileID, patch.RetryCount, status, category, lastErr,
		patch.RetryAfter, patch.ScheduledReleaseTime)
	if err != nil {
		return nil, fmt.Errorf("failed to update retry state: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, storage.ErrNotFound
	}

	return r.Get(ctx, fileID)
}

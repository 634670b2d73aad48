package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/mediafetch/fetchd/internal/core/domain"
)

// FileRepo implements storage.FileRepository using PostgreSQL.
type FileRepo struct {
	db *DB
}

// NewFileRepo creates a new PostgreSQL file repository.
func NewFileRepo(db *DB) *FileRepo {
	return &FileRepo{db: db}
}

// Upsert inserts or overwrites the canonical record for a file. Overwrite is
// deliberate: a duplicate delivery re-upserting the same record is idempotent.
func (r *FileRepo) Upsert(ctx context.Context, record *domain.FileRecord) error {
	query := `
		INSERT INTO files (file_id, title, uploader_name, thumbnail, mime_type, size_bytes, storage_url, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		ON CONFLICT (file_id) DO UPDATE SET
			title         = EXCLUDED.title,
			uploader_name = EXCLUDED.uploader_name,
			thumbnail     = EXCLUDED.thumbnail,
			mime_type     = EXCLUDED.mime_type,
			size_bytes    = EXCLUDED.size_bytes,
			storage_url   = EXCLUDED.storage_url,
			status        = EXCLUDED.status,
			updated_at    = NOW()
	`
	_, err := r.db.ExecContext(ctx, query,
		record.FileID, record.Title, record.UploaderName, record.Thumbnail,
		record.MimeType, record.SizeBytes, record.StorageURL, string(record.Status))
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

// Get retrieves a file record, nil if absent.
func (r *FileRepo) Get(ctx context.Context, fileID string) (*domain.FileRecord, error) {
	query := `
		SELECT file_id, title, uploader_name, thumbnail, mime_type, size_bytes, storage_url, status, created_at, updated_at
		FROM files
		WHERE file_id = $1
	`

	var row struct {
		FileID       string       `db:"file_id"`
		Title        string       `db:"title"`
		UploaderName string       `db:"uploader_name"`
		Thumbnail    string       `db:"thumbnail"`
		MimeType     string       `db:"mime_type"`
		SizeBytes    int64        `db:"size_bytes"`
		StorageURL   string       `db:"storage_url"`
		Status       string       `db:"status"`
		CreatedAt    sql.NullTime `db:"created_at"`
		UpdatedAt    sql.NullTime `db:"updated_at"`
	}

	err := r.db.GetContext(ctx, &row, query, fileID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}

	record := &domain.FileRecord{
		FileID:       row.FileID,
		Title:        row.Title,
		UploaderName: row.UploaderName,
		Thumbnail:    row.Thumbnail,
		MimeType:     row.MimeType,
		SizeBytes:    row.SizeBytes,
		StorageURL:   row.StorageURL,
		Status:       domain.FileStatus(row.Status),
	}
	if row.CreatedAt.Valid {
		record.CreatedAt = row.CreatedAt.Time
	}
	if row.UpdatedAt.Valid {
		record.UpdatedAt = row.UpdatedAt.Time
	}
	return record, nil
}

package postgres

import (
	"context"
	"fmt"
)

// UserFileRepo implements storage.UserFileRepository using PostgreSQL.
// Read-only: associations are written by the ingress API.
type UserFileRepo struct {
	db *DB
}

// NewUserFileRepo creates a new PostgreSQL user-file repository.
func NewUserFileRepo(db *DB) *UserFileRepo {
	return &UserFileRepo{db: db}
}

// WaitingUsers returns the user IDs waiting on a file.
func (r *UserFileRepo) WaitingUsers(ctx context.Context, fileID string) ([]string, error) {
	query := `
		SELECT user_id
		FROM user_files
		WHERE file_id = $1
		ORDER BY created_at ASC
	`

	var users []string
	if err := r.db.SelectContext(ctx, &users, query, fileID); err != nil {
		return nil, fmt.Errorf("failed to get waiting users: %w", err)
	}
	return users, nil
}

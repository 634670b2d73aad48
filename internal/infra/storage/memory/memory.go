package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/infra/storage"
)

// MemoryStorage backs the repositories when no database is configured. Also
// used by unit tests.
type MemoryStorage struct {
	states    map[string]*domain.RetryState
	files     map[string]*domain.FileRecord
	userFiles map[string][]string
	mu        sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		states:    make(map[string]*domain.RetryState),
		files:     make(map[string]*domain.FileRecord),
		userFiles: make(map[string][]string),
	}
}

// AddWaitingUser registers a user as waiting on a file. Test/dev helper; in
// production the ingress API writes associations.
func (s *MemoryStorage) AddWaitingUser(fileID, userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userFiles[fileID] = append(s.userFiles[fileID], userID)
}

// -----------------------------------------------------------------------------
// RetryState Repository
// -----------------------------------------------------------------------------

type RetryStateRepo struct {
	store *MemoryStorage
}

func NewRetryStateRepo(store *MemoryStorage) *RetryStateRepo {
	return &RetryStateRepo{store: store}
}

func (r *RetryStateRepo) Get(ctx context.Context, fileID string) (*domain.RetryState, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.states[fileID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r *RetryStateRepo) Create(
	ctx context.Context,
	fileID, sourceURL, correlationID string,
	maxRetries int,
) (*domain.RetryState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if existing, ok := r.store.states[fileID]; ok {
		cp := *existing
		return &cp, nil
	}
	now := time.Now()
	s := &domain.RetryState{
		FileID:        fileID,
		RetryCount:    0,
		MaxRetries:    maxRetries,
		Status:        domain.DownloadStatusInProgress,
		SourceURL:     sourceURL,
		CorrelationID: correlationID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	r.store.states[fileID] = s
	cp := *s
	return &cp, nil
}

func (r *RetryStateRepo) Update(
	ctx context.Context,
	fileID string,
	patch storage.RetryStatePatch,
) (*domain.RetryState, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.states[fileID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	if patch.RetryCount != nil {
		s.RetryCount = *patch.RetryCount
	}
	if patch.Status != nil {
		s.Status = *patch.Status
	}
	if patch.ErrorCategory != nil {
		s.ErrorCategory = *patch.ErrorCategory
	}
	if patch.LastError != nil {
		s.LastError = *patch.LastError
	}
	if patch.RetryAfter != nil {
		t := *patch.RetryAfter
		s.RetryAfter = &t
	}
	if patch.ScheduledReleaseTime != nil {
		t := *patch.ScheduledReleaseTime
		s.ScheduledReleaseTime = &t
	}
	s.UpdatedAt = time.Now()
	cp := *s
	return &cp, nil
}

// -----------------------------------------------------------------------------
// File Repository
// -----------------------------------------------------------------------------

type FileRepo struct {
	store *MemoryStorage
}

func NewFileRepo(store *MemoryStorage) *FileRepo {
	return &FileRepo{store: store}
}

func (r *FileRepo) Upsert(ctx context.Context, record *domain.FileRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *record
	cp.UpdatedAt = time.Now()
	if existing, ok := r.store.files[record.FileID]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else {
		cp.CreatedAt = cp.UpdatedAt
	}
	r.store.files[record.FileID] = &cp
	return nil
}

func (r *FileRepo) Get(ctx context.Context, fileID string) (*domain.FileRecord, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	f, ok := r.store.files[fileID]
	if !ok {
		return nil, nil
	}
	cp := *f
	return &cp, nil
}

// -----------------------------------------------------------------------------
// UserFile Repository
// -----------------------------------------------------------------------------

type UserFileRepo struct {
	store *MemoryStorage
}

func NewUserFileRepo(store *MemoryStorage) *UserFileRepo {
	return &UserFileRepo{store: store}
}

func (r *UserFileRepo) WaitingUsers(ctx context.Context, fileID string) ([]string, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	users := r.store.userFiles[fileID]
	out := make([]string, len(users))
	copy(out, users)
	return out, nil
}

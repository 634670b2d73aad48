package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
	"github.com/mediafetch/fetchd/internal/download/classify"
	"github.com/mediafetch/fetchd/internal/infra/storage"
	"github.com/mediafetch/fetchd/internal/infra/storage/memory"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeMedia struct {
	fetchInfo func(url string) (*domain.VideoInfo, error)
	download  func(url string) (*Artifact, error)
}

func (f *fakeMedia) FetchInfo(ctx context.Context, url string) (*domain.VideoInfo, error) {
	return f.fetchInfo(url)
}

func (f *fakeMedia) Download(ctx context.Context, url string, info *domain.VideoInfo) (*Artifact, error) {
	if f.download == nil {
		return &Artifact{SizeBytes: 1024, StorageURL: "http://store/v.mp4"}, nil
	}
	return f.download(url)
}

type fakeEmitter struct {
	events []*domain.Event
	err    error
}

func (f *fakeEmitter) Emit(ctx context.Context, event *domain.Event) error {
	if f.err != nil {
		return f.err
	}
	f.events = append(f.events, event)
	return nil
}

func (f *fakeEmitter) Close() error { return nil }

type fakeDispatcher struct {
	enqueued []string // user IDs
	failFor  map[string]bool
}

func (f *fakeDispatcher) Enqueue(ctx context.Context, userID, fileID string, meta map[string]string) error {
	if f.failFor[userID] {
		return errors.New("push queue unavailable")
	}
	f.enqueued = append(f.enqueued, userID)
	return nil
}

type fakeIncidents struct {
	summaries []string
}

func (f *fakeIncidents) Create(ctx context.Context, summary string, details map[string]string) error {
	f.summaries = append(f.summaries, summary)
	return nil
}

type testEnv struct {
	store      *memory.MemoryStorage
	states     *memory.RetryStateRepo
	files      *memory.FileRepo
	emitter    *fakeEmitter
	dispatcher *fakeDispatcher
	incidents  *fakeIncidents
	orch       *Orchestrator
}

func newTestEnv(t *testing.T, media MediaProvider) *testEnv {
	t.Helper()
	store := memory.NewMemoryStorage()
	env := &testEnv{
		store:      store,
		states:     memory.NewRetryStateRepo(store),
		files:      memory.NewFileRepo(store),
		emitter:    &fakeEmitter{},
		dispatcher: &fakeDispatcher{},
		incidents:  &fakeIncidents{},
	}
	env.orch = NewOrchestrator(
		env.states, env.files, memory.NewUserFileRepo(store),
		media, env.emitter, env.dispatcher, env.incidents,
		Config{MaxRetries: 5, Backoff: classify.DefaultBackoff},
		slog.Default(),
	)
	env.orch.now = func() time.Time { return testNow }
	return env
}

func okMedia() *fakeMedia {
	return &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return &domain.VideoInfo{
				ID: "vid-1", Title: "A Video", UploaderName: "someone",
				Ext: "mp4", MimeType: "video/mp4",
			}, nil
		},
	}
}

func request() *domain.DownloadRequest {
	return &domain.DownloadRequest{
		FileID:        "vid-1",
		SourceURL:     "https://youtube.com/watch?v=vid-1",
		CorrelationID: "corr-1",
		UserID:        "user-1",
	}
}

func TestProcessSuccess(t *testing.T) {
	env := newTestEnv(t, okMedia())
	env.store.AddWaitingUser("vid-1", "user-1")
	env.store.AddWaitingUser("vid-1", "user-2")
	env.store.AddWaitingUser("vid-1", "user-3")

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", result.Outcome)
	}

	state, _ := env.states.Get(context.Background(), "vid-1")
	if state == nil || state.Status != domain.DownloadStatusDownloaded {
		t.Errorf("retry state not marked downloaded: %+v", state)
	}

	record, _ := env.files.Get(context.Background(), "vid-1")
	if record == nil || record.Status != domain.FileStatusDownloaded {
		t.Fatalf("file record not downloaded: %+v", record)
	}
	if record.SizeBytes != 1024 || record.StorageURL != "http://store/v.mp4" {
		t.Errorf("artifact not recorded: %+v", record)
	}

	if len(env.emitter.events) != 1 || env.emitter.events[0].EventType != domain.EventTypeDownloadCompleted {
		t.Errorf("expected one completed event, got %+v", env.emitter.events)
	}
	if len(env.dispatcher.enqueued) != 3 {
		t.Errorf("expected 3 notifications, got %v", env.dispatcher.enqueued)
	}
	if len(env.incidents.summaries) != 0 {
		t.Errorf("no incidents expected, got %v", env.incidents.summaries)
	}
}

func TestProcessFanOutIndependence(t *testing.T) {
	env := newTestEnv(t, okMedia())
	env.store.AddWaitingUser("vid-1", "user-1")
	env.store.AddWaitingUser("vid-1", "user-2")
	env.store.AddWaitingUser("vid-1", "user-3")
	env.dispatcher.failFor = map[string]bool{"user-2": true}

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed", result.Outcome)
	}

	if len(env.dispatcher.enqueued) != 2 {
		t.Fatalf("expected 2 notifications, got %v", env.dispatcher.enqueued)
	}
	for _, u := range env.dispatcher.enqueued {
		if u == "user-2" {
			t.Errorf("user-2 should have failed, got %v", env.dispatcher.enqueued)
		}
	}
}

func TestProcessTransientFailure(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return nil, errors.New("read: connection reset by peer")
		},
	}
	env := newTestEnv(t, media)

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeRetryable {
		t.Fatalf("outcome = %s, want retryable", result.Outcome)
	}
	if want := testNow.Add(5 * time.Minute); !result.RetryAfter.Equal(want) {
		t.Errorf("retryAfter = %v, want %v", result.RetryAfter, want)
	}

	state, _ := env.states.Get(context.Background(), "vid-1")
	if state.RetryCount != 1 {
		t.Errorf("retryCount = %d, want 1", state.RetryCount)
	}
	if state.Status != domain.DownloadStatusInProgress {
		t.Errorf("status = %s, want in_progress", state.Status)
	}
	if state.ErrorCategory != domain.ErrorCategoryTransient {
		t.Errorf("category = %s, want transient", state.ErrorCategory)
	}

	if len(env.emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(env.emitter.events))
	}
	if tag := env.emitter.events[0].Metadata["tag"]; tag != domain.FailureTagRetryable {
		t.Errorf("tag = %v, want retryable", tag)
	}
}

func TestProcessTransientBackoffGrows(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return nil, errors.New("timeout")
		},
	}
	env := newTestEnv(t, media)

	// Two consecutive failures: second delay doubles.
	if _, err := env.orch.Process(context.Background(), request()); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}
	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if want := testNow.Add(10 * time.Minute); !result.RetryAfter.Equal(want) {
		t.Errorf("second retryAfter = %v, want %v", result.RetryAfter, want)
	}
}

func TestProcessRetryBudgetExhausted(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return nil, errors.New("ETIMEDOUT: Connection timeout")
		},
	}
	env := newTestEnv(t, media)

	ctx := context.Background()
	if _, err := env.states.Create(ctx, "vid-1", "https://youtube.com/watch?v=vid-1", "corr-1", 5); err != nil {
		t.Fatal(err)
	}
	five := 5
	if _, err := env.states.Update(ctx, "vid-1", storage.RetryStatePatch{RetryCount: &five}); err != nil {
		t.Fatal(err)
	}

	result, err := env.orch.Process(ctx, request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeTerminal {
		t.Fatalf("outcome = %s, want terminal despite transient category", result.Outcome)
	}

	state, _ := env.states.Get(ctx, "vid-1")
	if state.Status != domain.DownloadStatusFailed {
		t.Errorf("status = %s, want failed", state.Status)
	}
	if state.RetryCount != 5 {
		t.Errorf("retryCount = %d, want unchanged 5", state.RetryCount)
	}

	if len(env.emitter.events) != 1 {
		t.Fatalf("expected one event, got %d", len(env.emitter.events))
	}
	if tag := env.emitter.events[0].Metadata["tag"]; tag != domain.FailureTagRetryExhausted {
		t.Errorf("tag = %v, want retry_exhausted", tag)
	}
	if len(env.incidents.summaries) != 1 {
		t.Errorf("expected one incident, got %v", env.incidents.summaries)
	}
}

func TestProcessPermanentFailure(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return &domain.VideoInfo{Availability: "private"}, errors.New("Video is private")
		},
	}
	env := newTestEnv(t, media)

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeTerminal {
		t.Fatalf("outcome = %s, want terminal", result.Outcome)
	}
	if result.Category != domain.ErrorCategoryPermanent {
		t.Errorf("category = %s, want permanent", result.Category)
	}

	state, _ := env.states.Get(context.Background(), "vid-1")
	if state.Status != domain.DownloadStatusFailed {
		t.Errorf("status = %s, want failed", state.Status)
	}
	if state.RetryCount != 0 {
		t.Errorf("terminal failure should not consume retry budget, count = %d", state.RetryCount)
	}
	if len(env.incidents.summaries) != 1 {
		t.Errorf("expected one incident, got %v", env.incidents.summaries)
	}
}

func TestProcessCookieExpired(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return nil, errors.New("Sign in to confirm you're not a bot")
		},
	}
	env := newTestEnv(t, media)

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeTerminal {
		t.Fatalf("outcome = %s, want terminal", result.Outcome)
	}
	if tag := env.emitter.events[0].Metadata["tag"]; tag != domain.FailureTagCookieExpired {
		t.Errorf("tag = %v, want cookie_expired", tag)
	}
	if len(env.incidents.summaries) != 1 {
		t.Errorf("cookie expiry must raise an incident, got %v", env.incidents.summaries)
	}
}

func TestProcessScheduledRelease(t *testing.T) {
	release := testNow.Add(24 * time.Hour)
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			// Metadata arrives attached to the failure.
			return &domain.VideoInfo{ReleaseTimestamp: release.Unix()},
				errors.New("Premieres in 24 hours")
		},
	}
	env := newTestEnv(t, media)

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeRetryable {
		t.Fatalf("outcome = %s, want retryable", result.Outcome)
	}
	if want := release.Add(5 * time.Minute); !result.RetryAfter.Equal(want) {
		t.Errorf("retryAfter = %v, want release+5m %v", result.RetryAfter, want)
	}

	state, _ := env.states.Get(context.Background(), "vid-1")
	if state.ScheduledReleaseTime == nil || !state.ScheduledReleaseTime.Equal(release) {
		t.Errorf("scheduledReleaseTime = %v, want %v", state.ScheduledReleaseTime, release)
	}
}

func TestProcessIdempotentReRun(t *testing.T) {
	env := newTestEnv(t, okMedia())

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		result, err := env.orch.Process(ctx, request())
		if err != nil {
			t.Fatalf("Process run %d failed: %v", i+1, err)
		}
		if result.Outcome != OutcomeCompleted {
			t.Fatalf("run %d outcome = %s, want completed", i+1, result.Outcome)
		}
	}

	state, _ := env.states.Get(ctx, "vid-1")
	if state.RetryCount != 0 {
		t.Errorf("retryCount = %d after re-run, want 0", state.RetryCount)
	}
	if state.Status != domain.DownloadStatusDownloaded {
		t.Errorf("status = %s, want downloaded", state.Status)
	}

	record, _ := env.files.Get(ctx, "vid-1")
	if record.SizeBytes != 1024 {
		t.Errorf("file record corrupted by re-run: %+v", record)
	}
}

func TestProcessDuplicateAfterSuccess(t *testing.T) {
	media := okMedia()
	env := newTestEnv(t, media)

	ctx := context.Background()
	if _, err := env.orch.Process(ctx, request()); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	// The redelivered attempt would fail transiently; it must not run at all.
	media.download = func(url string) (*Artifact, error) {
		return nil, errors.New("socket hang up")
	}
	result, err := env.orch.Process(ctx, request())
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if result.Outcome != OutcomeCompleted {
		t.Fatalf("outcome = %s, want completed for duplicate delivery", result.Outcome)
	}

	record, _ := env.files.Get(ctx, "vid-1")
	if record.Status != domain.FileStatusDownloaded {
		t.Errorf("status = %s, duplicate delivery corrupted the record", record.Status)
	}
	if record.SizeBytes != 1024 || record.StorageURL != "http://store/v.mp4" {
		t.Errorf("artifact fields corrupted: size=%d url=%q", record.SizeBytes, record.StorageURL)
	}
	if len(env.emitter.events) != 1 {
		t.Errorf("expected no duplicate completed event, got %d events", len(env.emitter.events))
	}
}

func TestProcessDuplicateAfterTerminal(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			return &domain.VideoInfo{Availability: "private"}, errors.New("Video is private")
		},
	}
	env := newTestEnv(t, media)

	ctx := context.Background()
	if _, err := env.orch.Process(ctx, request()); err != nil {
		t.Fatalf("first Process failed: %v", err)
	}

	result, err := env.orch.Process(ctx, request())
	if err != nil {
		t.Fatalf("second Process failed: %v", err)
	}
	if result.Outcome != OutcomeTerminal {
		t.Fatalf("outcome = %s, want terminal for duplicate delivery", result.Outcome)
	}
	if result.Category != domain.ErrorCategoryPermanent {
		t.Errorf("category = %s, want permanent from stored state", result.Category)
	}

	if len(env.emitter.events) != 1 {
		t.Errorf("expected no duplicate failed event, got %d events", len(env.emitter.events))
	}
	if len(env.incidents.summaries) != 1 {
		t.Errorf("expected no duplicate incident, got %d", len(env.incidents.summaries))
	}
}

func TestProcessDownloadFailureAfterMetadata(t *testing.T) {
	media := okMedia()
	media.download = func(url string) (*Artifact, error) {
		return nil, errors.New("socket hang up")
	}
	env := newTestEnv(t, media)

	result, err := env.orch.Process(context.Background(), request())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if result.Outcome != OutcomeRetryable {
		t.Fatalf("outcome = %s, want retryable", result.Outcome)
	}

	// Metadata was recorded before the download attempt.
	record, _ := env.files.Get(context.Background(), "vid-1")
	if record == nil || record.Title != "A Video" {
		t.Errorf("file metadata missing after download failure: %+v", record)
	}
	if record.Status != domain.FileStatusPending {
		t.Errorf("file status = %s, want pending", record.Status)
	}
}

func TestProcessEmitterFailureSurfaces(t *testing.T) {
	env := newTestEnv(t, okMedia())
	env.emitter.err = fmt.Errorf("event bus down")

	if _, err := env.orch.Process(context.Background(), request()); err == nil {
		t.Fatal("expected error when emitter is down")
	}

	// Persistence happened before the emit attempt.
	state, _ := env.states.Get(context.Background(), "vid-1")
	if state.Status != domain.DownloadStatusDownloaded {
		t.Errorf("status = %s, want downloaded despite emit failure", state.Status)
	}
}

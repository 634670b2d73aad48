// Command admin re-queues terminally failed downloads after a human has fixed
// the underlying cause (e.g. refreshed expired cookies).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/mediafetch/fetchd/internal/core/config"
	"github.com/mediafetch/fetchd/internal/core/domain"
	redisclient "github.com/mediafetch/fetchd/internal/infra/redis"
	"github.com/mediafetch/fetchd/internal/infra/storage"
	"github.com/mediafetch/fetchd/internal/infra/storage/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	fileID := flag.String("file", "", "File ID to re-queue (empty = all failed)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	if cfg.Database.URL == "" {
		slog.Error("database.url is required for admin operations")
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	redisClient, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	queue := redisclient.NewQueue(redisClient, cfg.Queue, slog.Default())

	failed, err := listFailed(ctx, db, *fileID)
	if err != nil {
		slog.Error("Failed to list failed downloads", "error", err)
		os.Exit(1)
	}
	if len(failed) == 0 {
		fmt.Println("No failed downloads to re-queue")
		return
	}

	states := postgres.NewRetryStateRepo(db)
	requeued := 0
	for _, state := range failed {
		zero := 0
		inProgress := domain.DownloadStatusInProgress
		if _, err := states.Update(ctx, state.FileID, storage.RetryStatePatch{
			RetryCount: &zero,
			Status:     &inProgress,
		}); err != nil {
			slog.Error("Failed to reset retry state", "file_id", state.FileID, "error", err)
			continue
		}

		req := &domain.DownloadRequest{
			FileID:        state.FileID,
			SourceURL:     state.SourceURL,
			CorrelationID: uuid.NewString(),
		}
		if err := queue.Enqueue(ctx, req); err != nil {
			slog.Error("Failed to enqueue request", "file_id", state.FileID, "error", err)
			continue
		}
		requeued++
	}

	fmt.Printf("Re-queued %d of %d failed downloads\n", requeued, len(failed))
}

func listFailed(ctx context.Context, db *postgres.DB, fileID string) ([]*domain.RetryState, error) {
	repo := postgres.NewRetryStateRepo(db)
	if fileID != "" {
		state, err := repo.Get(ctx, fileID)
		if err != nil {
			return nil, err
		}
		if state == nil || state.Status != domain.DownloadStatusFailed {
			return nil, fmt.Errorf("file %s has no failed retry state", fileID)
		}
		return []*domain.RetryState{state}, nil
	}

	return repo.ListByStatus(ctx, domain.DownloadStatusFailed)
}

package download

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mediafetch/fetchd/internal/core/domain"
)

type fakeTransport struct {
	acked     [][]string
	scheduled []domain.DownloadRequest
	schedErr  error
}

func (f *fakeTransport) ReadBatch(ctx context.Context) ([]Message, error) { return nil, nil }

func (f *fakeTransport) Ack(ctx context.Context, ids ...string) error {
	f.acked = append(f.acked, ids)
	return nil
}

func (f *fakeTransport) ScheduleRetry(ctx context.Context, req domain.DownloadRequest, at time.Time) error {
	if f.schedErr != nil {
		return f.schedErr
	}
	f.scheduled = append(f.scheduled, req)
	return nil
}

func (f *fakeTransport) ReclaimStale(ctx context.Context) ([]Message, error) { return nil, nil }

func batchOf(ids ...string) []Message {
	msgs := make([]Message, 0, len(ids))
	for _, id := range ids {
		msgs = append(msgs, Message{
			ID: "m-" + id,
			Request: domain.DownloadRequest{
				FileID:        id,
				SourceURL:     "https://youtube.com/watch?v=" + id,
				CorrelationID: "corr-" + id,
			},
		})
	}
	return msgs
}

func TestHandleBatchIsolatesPanics(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			if url == "https://youtube.com/watch?v=vid-2" {
				panic("corrupt metadata")
			}
			return &domain.VideoInfo{ID: "x", Title: "ok", Ext: "mp4"}, nil
		},
	}
	env := newTestEnv(t, media)
	consumer := NewConsumer(&fakeTransport{}, env.orch, nil)
	consumer.now = func() time.Time { return testNow }

	redeliveries := consumer.HandleBatch(context.Background(), batchOf("vid-1", "vid-2", "vid-3"))

	if len(redeliveries) != 1 {
		t.Fatalf("expected only the panicking message redelivered, got %d", len(redeliveries))
	}
	if redeliveries[0].Message.Request.FileID != "vid-2" {
		t.Errorf("redelivered %s, want vid-2", redeliveries[0].Message.Request.FileID)
	}
	if want := testNow.Add(5 * time.Minute); !redeliveries[0].At.Equal(want) {
		t.Errorf("redelivery at %v, want %v", redeliveries[0].At, want)
	}

	// The other two completed despite the panic in between.
	for _, id := range []string{"vid-1", "vid-3"} {
		record, _ := env.files.Get(context.Background(), id)
		if record == nil || record.Status != domain.FileStatusDownloaded {
			t.Errorf("%s was not processed: %+v", id, record)
		}
	}
}

func TestHandleBatchRedeliversOnlyRetryable(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			switch url {
			case "https://youtube.com/watch?v=vid-1":
				return &domain.VideoInfo{ID: "vid-1", Title: "ok"}, nil
			case "https://youtube.com/watch?v=vid-2":
				return nil, errors.New("Video is private") // terminal
			default:
				return nil, errors.New("connection reset by peer") // retryable
			}
		},
	}
	env := newTestEnv(t, media)
	consumer := NewConsumer(&fakeTransport{}, env.orch, nil)

	redeliveries := consumer.HandleBatch(context.Background(), batchOf("vid-1", "vid-2", "vid-3"))

	if len(redeliveries) != 1 {
		t.Fatalf("expected 1 redelivery, got %d", len(redeliveries))
	}
	if redeliveries[0].Message.Request.FileID != "vid-3" {
		t.Errorf("redelivered %s, want vid-3", redeliveries[0].Message.Request.FileID)
	}
}

func TestDispatchAcksAndSchedules(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			if url == "https://youtube.com/watch?v=vid-2" {
				return nil, errors.New("ETIMEDOUT: Connection timeout")
			}
			return &domain.VideoInfo{Title: "ok"}, nil
		},
	}
	env := newTestEnv(t, media)
	transport := &fakeTransport{}
	consumer := NewConsumer(transport, env.orch, nil)

	consumer.dispatch(context.Background(), batchOf("vid-1", "vid-2"))

	if len(transport.scheduled) != 1 || transport.scheduled[0].FileID != "vid-2" {
		t.Fatalf("scheduled = %+v, want vid-2 only", transport.scheduled)
	}

	// Both messages are acked: the delayed copy carries vid-2 forward.
	if len(transport.acked) != 1 {
		t.Fatalf("expected one ack call, got %d", len(transport.acked))
	}
	acked := transport.acked[0]
	if len(acked) != 2 || acked[0] != "m-vid-1" || acked[1] != "m-vid-2" {
		t.Errorf("acked = %v, want [m-vid-1 m-vid-2]", acked)
	}
}

func TestDispatchLeavesUnscheduledPending(t *testing.T) {
	media := &fakeMedia{
		fetchInfo: func(url string) (*domain.VideoInfo, error) {
			if url == "https://youtube.com/watch?v=vid-2" {
				return nil, errors.New("socket hang up")
			}
			return &domain.VideoInfo{Title: "ok"}, nil
		},
	}
	env := newTestEnv(t, media)
	transport := &fakeTransport{schedErr: errors.New("redis down")}
	consumer := NewConsumer(transport, env.orch, nil)

	consumer.dispatch(context.Background(), batchOf("vid-1", "vid-2"))

	// vid-2 could not be rescheduled, so its entry stays pending for reclaim.
	if len(transport.acked) != 1 {
		t.Fatalf("expected one ack call, got %d", len(transport.acked))
	}
	acked := transport.acked[0]
	if len(acked) != 1 || acked[0] != "m-vid-1" {
		t.Errorf("acked = %v, want [m-vid-1]", acked)
	}
}

func TestProcessOneUnexpectedErrorIsRetryable(t *testing.T) {
	env := newTestEnv(t, okMedia())
	env.emitter.err = errors.New("event bus down")
	consumer := NewConsumer(&fakeTransport{}, env.orch, nil)
	consumer.now = func() time.Time { return testNow }

	result := consumer.processOne(context.Background(), batchOf("vid-1")[0])

	if result.Outcome != OutcomeRetryable {
		t.Fatalf("outcome = %s, want retryable", result.Outcome)
	}
	if want := testNow.Add(5 * time.Minute); !result.RetryAfter.Equal(want) {
		t.Errorf("retryAfter = %v, want %v", result.RetryAfter, want)
	}
}

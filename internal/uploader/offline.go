package uploader

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"renderwatch/internal/logging"
)

// OfflineClient satisfies Client without touching the network. Uploads are
// assigned deterministic identifiers so dry runs and tests produce stable
// ledgers.
type OfflineClient struct {
	logger  *slog.Logger
	counter atomic.Int64

	mu        sync.Mutex
	uploads   map[string]string
	schedules map[string]time.Time
}

// NewOfflineClient builds an offline client.
func NewOfflineClient(logger *slog.Logger) *OfflineClient {
	return &OfflineClient{
		logger:    logging.NewComponentLogger(logger, "uploader"),
		uploads:   make(map[string]string),
		schedules: make(map[string]time.Time),
	}
}

// Authenticate always succeeds offline.
func (c *OfflineClient) Authenticate(ctx context.Context) error {
	return nil
}

// UploadVideo records the upload and returns the next identifier in the
// test_ sequence.
func (c *OfflineClient) UploadVideo(ctx context.Context, path string, account string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	id := fmt.Sprintf("test_%06d", c.counter.Add(1))

	c.mu.Lock()
	c.uploads[id] = path
	c.mu.Unlock()

	c.logger.Info("offline upload recorded",
		logging.String(logging.FieldAccount, account),
		logging.String("video_id", id),
		logging.String("file", path),
	)
	return Result{ID: id}, nil
}

// ScheduleVideo records the publish time for an offline upload.
func (c *OfflineClient) ScheduleVideo(ctx context.Context, videoID string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.uploads[videoID]; !ok {
		return fmt.Errorf("%w: unknown video %s", ErrRemoteRejected, videoID)
	}
	c.schedules[videoID] = at
	return nil
}

// ScheduledAt reports the publish time recorded for a video, if any.
func (c *OfflineClient) ScheduledAt(videoID string) (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	at, ok := c.schedules[videoID]
	return at, ok
}

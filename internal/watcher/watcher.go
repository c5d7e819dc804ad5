package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"renderwatch/internal/config"
	"renderwatch/internal/ledger"
	"renderwatch/internal/logging"
	"renderwatch/internal/notifications"
	"renderwatch/internal/scheduler"
	"renderwatch/internal/uploader"
)

var videoExtensions = map[string]struct{}{
	".mp4": {},
	".mov": {},
	".m4v": {},
}

// Watcher polls one render folder and drives discovered files through the
// upload and schedule pipeline. Each watched folder gets its own Watcher;
// they share the ledger, scheduler, and remote client.
type Watcher struct {
	cfg      *config.Config
	folder   string
	account  string
	renders  string
	store    *ledger.Store
	sched    *scheduler.Scheduler
	client   uploader.Client
	notifier notifications.Service
	logger   *slog.Logger
}

// New builds a watcher for a single folder.
func New(
	cfg *config.Config,
	folder string,
	path config.WatchPath,
	store *ledger.Store,
	sched *scheduler.Scheduler,
	client uploader.Client,
	notifier notifications.Service,
	logger *slog.Logger,
) *Watcher {
	return &Watcher{
		cfg:      cfg,
		folder:   folder,
		account:  path.Account,
		renders:  path.RendersPath,
		store:    store,
		sched:    sched,
		client:   client,
		notifier: notifier,
		logger: logging.NewComponentLogger(logger, "watcher").With(
			logging.String(logging.FieldFolder, folder),
			logging.String(logging.FieldAccount, path.Account),
		),
	}
}

// Folder reports the watched folder name.
func (w *Watcher) Folder() string { return w.folder }

// Account reports the destination account.
func (w *Watcher) Account() string { return w.account }

// Run polls the folder until the context is cancelled. Scan errors are
// logged and the loop continues; only context cancellation stops it.
func (w *Watcher) Run(ctx context.Context) error {
	interval := time.Duration(w.cfg.WatchPollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 30 * time.Second
	}

	w.logger.Info("watcher started",
		logging.String("renders_path", w.renders),
		logging.Duration("poll_interval", interval),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := w.ScanOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("scan failed", logging.Error(err))
			if notifyErr := w.notifier.NotifyError(ctx, err, "scanning "+w.folder); notifyErr != nil {
				w.logger.Warn("notification failed", logging.Error(notifyErr))
			}
		}

		select {
		case <-ctx.Done():
			w.logger.Info("watcher stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// ScanOnce processes every eligible file in the renders folder once and
// returns how many files were newly scheduled. A failure on one file does
// not stop the others.
func (w *Watcher) ScanOnce(ctx context.Context) (int, error) {
	if err := w.repairUnscheduled(ctx); err != nil {
		w.logger.Warn("repair unscheduled uploads", logging.Error(err))
	}

	candidates, err := w.candidates()
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, path := range candidates {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		ok, err := w.processFile(ctx, path)
		if err != nil {
			w.logger.Error("process file failed",
				logging.String("file", filepath.Base(path)),
				logging.Error(err),
			)
			continue
		}
		if ok {
			processed++
		}
	}
	return processed, nil
}

// candidates lists video files in the renders folder that look finished:
// known extension, not hidden or partial, and older than the minimum age.
func (w *Watcher) candidates() ([]string, error) {
	entries, err := os.ReadDir(w.renders)
	if err != nil {
		return nil, fmt.Errorf("read renders folder: %w", err)
	}

	minAge := time.Duration(w.cfg.MinFileAgeSeconds) * time.Second
	now := time.Now()

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		if strings.HasSuffix(name, ".part") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		if _, ok := videoExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
			continue
		}
		if minAge > 0 {
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if now.Sub(info.ModTime()) < minAge {
				continue
			}
		}
		paths = append(paths, filepath.Join(w.renders, name))
	}
	return paths, nil
}

// processFile runs the full pipeline for one file: record, upload, allocate
// a slot, schedule remotely, commit. Returns true when the file ended up
// scheduled during this call.
func (w *Watcher) processFile(ctx context.Context, path string) (bool, error) {
	correlationID := uuid.NewString()
	log := w.logger.With(
		logging.String(logging.FieldCorrelationID, correlationID),
		logging.String("file", filepath.Base(path)),
	)

	existing, err := w.store.GetByPath(ctx, path)
	if err != nil {
		return false, fmt.Errorf("look up record: %w", err)
	}
	if existing != nil && !w.shouldProcess(existing) {
		return false, nil
	}

	template := w.cfg.TemplateFromPath(path)
	id, err := w.store.AddUpload(ctx, path, template, w.account)
	if err != nil {
		return false, fmt.Errorf("record upload: %w", err)
	}
	log = log.With(logging.Int64(logging.FieldRecordID, id))

	record, err := w.store.GetRecord(ctx, id)
	if err != nil {
		return false, fmt.Errorf("load record: %w", err)
	}

	if record.UploadStatus != ledger.UploadUploaded {
		if err := w.upload(ctx, log, id, path); err != nil {
			return false, err
		}
		record, err = w.store.GetRecord(ctx, id)
		if err != nil {
			return false, fmt.Errorf("reload record: %w", err)
		}
	}

	if record.ScheduleStatus == ledger.ScheduleScheduled {
		return false, nil
	}

	slot, err := w.schedule(ctx, log, id, record.VideoID)
	if err != nil {
		return false, err
	}

	if err := w.notifier.NotifyVideoScheduled(ctx, path, w.account, slot); err != nil {
		log.Warn("notification failed", logging.Error(err))
	}
	log.Info("file scheduled",
		logging.String(logging.FieldEventType, "file_scheduled"),
		logging.Time("publish_at", slot),
	)
	return true, nil
}

// shouldProcess decides whether an already recorded file needs more work.
func (w *Watcher) shouldProcess(record *ledger.Record) bool {
	switch record.UploadStatus {
	case ledger.UploadUploading:
		return false
	case ledger.UploadFailed:
		return record.AttemptCount < w.cfg.MaxUploadAttempts
	case ledger.UploadUploaded:
		return record.ScheduleStatus != ledger.ScheduleScheduled
	default:
		return true
	}
}

func (w *Watcher) upload(ctx context.Context, log *slog.Logger, id int64, path string) error {
	if err := w.store.MarkUploading(ctx, id); err != nil {
		return fmt.Errorf("mark uploading: %w", err)
	}

	uploadCtx := ctx
	if timeout := time.Duration(w.cfg.UploadTimeoutSeconds) * time.Second; timeout > 0 {
		var cancel context.CancelFunc
		uploadCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	result, err := w.client.UploadVideo(uploadCtx, path, w.account)
	if err != nil {
		if markErr := w.store.MarkUploadFailed(ctx, id, err.Error()); markErr != nil {
			log.Error("mark upload failed", logging.Error(markErr))
		}
		if notifyErr := w.notifier.NotifyUploadFailed(ctx, path, w.account, err.Error()); notifyErr != nil {
			log.Warn("notification failed", logging.Error(notifyErr))
		}
		return fmt.Errorf("upload video: %w", err)
	}

	if err := w.store.MarkUploaded(ctx, id, result.ID); err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	log.Info("file uploaded",
		logging.String(logging.FieldEventType, "file_uploaded"),
		logging.String("video_id", result.ID),
	)
	return nil
}

// schedule allocates a slot and commits it. The account lock is held across
// slot computation, the remote call, and the ledger write so concurrent
// watchers on the same account never claim the same slot.
func (w *Watcher) schedule(ctx context.Context, log *slog.Logger, id int64, videoID string) (time.Time, error) {
	release := w.sched.Acquire(w.account)
	defer release()

	slot, err := w.sched.NextSlot(ctx, w.account)
	if err != nil {
		return time.Time{}, fmt.Errorf("allocate slot: %w", err)
	}
	if err := w.client.ScheduleVideo(ctx, videoID, slot); err != nil {
		return time.Time{}, fmt.Errorf("schedule video: %w", err)
	}
	if err := w.store.MarkScheduled(ctx, id, slot); err != nil {
		return time.Time{}, fmt.Errorf("mark scheduled: %w", err)
	}
	return slot, nil
}

// repairUnscheduled finishes records that were uploaded but never got a
// slot, typically after a crash between the upload and schedule steps. The
// upload is not repeated.
func (w *Watcher) repairUnscheduled(ctx context.Context) error {
	records, err := w.store.UnscheduledUploaded(ctx, w.account)
	if err != nil {
		return err
	}

	for _, record := range records {
		log := w.logger.With(
			logging.Int64(logging.FieldRecordID, record.ID),
			logging.String("file", filepath.Base(record.FilePath)),
		)
		slot, err := w.schedule(ctx, log, record.ID, record.VideoID)
		if err != nil {
			log.Error("repair schedule failed", logging.Error(err))
			continue
		}
		log.Info("orphaned upload scheduled",
			logging.String(logging.FieldEventType, "upload_repaired"),
			logging.Time("publish_at", slot),
		)
	}
	return nil
}

package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"renderwatch/internal/config"
	"renderwatch/internal/ledger"
	"renderwatch/internal/logging"
	"renderwatch/internal/notifications"
	"renderwatch/internal/scheduler"
	"renderwatch/internal/uploader"
	"renderwatch/internal/watcher"
)

// Daemon runs one watcher per configured folder and enforces
// single-instance execution through a lock file.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *ledger.Store
	sched    *scheduler.Scheduler
	client   uploader.Client
	notifier notifications.Service

	lockPath string
	lock     *flock.Flock

	running  atomic.Bool
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	watchers []*watcher.Watcher
}

// Status reports daemon runtime information.
type Status struct {
	Running      bool
	Folders      []string
	StateDBPath  string
	LockFilePath string
	Stats        ledger.Stats
}

// New constructs a daemon with initialized dependencies.
func New(
	cfg *config.Config,
	store *ledger.Store,
	sched *scheduler.Scheduler,
	client uploader.Client,
	notifier notifications.Service,
	logger *slog.Logger,
) (*Daemon, error) {
	if cfg == nil || store == nil || sched == nil || client == nil {
		return nil, errors.New("daemon requires config, store, scheduler, and client")
	}
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	lockPath := filepath.Join(cfg.LogDir, "renderwatch.lock")
	return &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		sched:    sched,
		client:   client,
		notifier: notifier,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}, nil
}

// Start acquires the lock, authenticates against the remote API, repairs
// interrupted uploads, and launches one watcher goroutine per folder.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another renderwatch instance is already running")
	}

	if err := d.client.Authenticate(ctx); err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("authenticate: %w", err)
	}

	reset, err := d.store.ResetStuckUploading(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck uploads: %w", err)
	}
	if reset > 0 {
		d.logger.Info("reset interrupted uploads", logging.Int64("count", reset))
	}

	paths := d.cfg.WatchPaths()
	if len(paths) == 0 {
		_ = d.lock.Unlock()
		return errors.New("no watchable folders found under root")
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.watchers = d.watchers[:0]

	for folder, path := range paths {
		w := watcher.New(d.cfg, folder, path, d.store, d.sched, d.client, d.notifier, d.logger)
		d.watchers = append(d.watchers, w)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			_ = w.Run(runCtx)
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reclaimLoop(runCtx)
	}()

	d.running.Store(true)
	d.logger.Info("daemon started",
		logging.Int("watchers", len(d.watchers)),
		logging.String("lock", d.lockPath),
	)
	if err := d.notifier.NotifyWatcherStarted(ctx, len(d.watchers)); err != nil {
		d.logger.Warn("notification failed", logging.Error(err))
	}
	return nil
}

// reclaimLoop periodically returns uploads stuck in the uploading state to
// pending so a wedged transfer does not block a file forever.
func (d *Daemon) reclaimLoop(ctx context.Context) {
	stale := time.Duration(d.cfg.StaleUploadingMinutes) * time.Minute
	if stale <= 0 {
		return
	}

	ticker := time.NewTicker(stale)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-stale)
			reclaimed, err := d.store.ReclaimStaleUploading(ctx, cutoff)
			if err != nil {
				d.logger.Warn("reclaim stale uploads", logging.Error(err))
				continue
			}
			if reclaimed > 0 {
				d.logger.Info("reclaimed stale uploads", logging.Int64("count", reclaimed))
			}
		}
	}
}

// Stop halts the watchers and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("daemon stopped")
}

// Close stops the daemon and closes the ledger.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether watchers are active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the current daemon status including ledger aggregates.
func (d *Daemon) Status(ctx context.Context) (Status, error) {
	stats, err := d.store.GetStats(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("ledger stats: %w", err)
	}

	folders := make([]string, 0, len(d.watchers))
	for _, w := range d.watchers {
		folders = append(folders, w.Folder())
	}
	return Status{
		Running:      d.running.Load(),
		Folders:      folders,
		StateDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		Stats:        stats,
	}, nil
}

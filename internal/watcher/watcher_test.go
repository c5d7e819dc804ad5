package watcher_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"renderwatch/internal/config"
	"renderwatch/internal/ledger"
	"renderwatch/internal/logging"
	"renderwatch/internal/notifications"
	"renderwatch/internal/scheduler"
	"renderwatch/internal/testsupport"
	"renderwatch/internal/uploader"
	"renderwatch/internal/watcher"
)

type fixture struct {
	cfg    *config.Config
	store  *ledger.Store
	sched  *scheduler.Scheduler
	client uploader.Client
}

func newFixture(t *testing.T, client uploader.Client) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)

	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.Local)
	sched := scheduler.New(cfg, store, logging.NewNop(), scheduler.WithClock(func() time.Time { return now }))

	if client == nil {
		client = uploader.NewOfflineClient(logging.NewNop())
	}
	return &fixture{cfg: cfg, store: store, sched: sched, client: client}
}

func (f *fixture) watcher(t *testing.T, folder string) *watcher.Watcher {
	t.Helper()
	paths := f.cfg.WatchPaths()
	path, ok := paths[folder]
	if !ok {
		t.Fatalf("folder %s not watchable", folder)
	}
	notifier := notifications.NewService(f.cfg)
	return watcher.New(f.cfg, folder, path, f.store, f.sched, f.client, notifier, logging.NewNop())
}

func TestScanSchedulesRendersPerAccount(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	auroraPath := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "sunrise.mp4")
	monoPath := testsupport.WriteVideo(t, f.cfg, "Apollova-Mono", "nocturne.mp4")

	for _, folder := range []string{"Apollova-Aurora", "Apollova-Mono"} {
		processed, err := f.watcher(t, folder).ScanOnce(ctx)
		if err != nil {
			t.Fatalf("ScanOnce %s: %v", folder, err)
		}
		if processed != 1 {
			t.Fatalf("expected 1 processed in %s, got %d", folder, processed)
		}
	}

	aurora, err := f.store.GetByPath(ctx, auroraPath)
	if err != nil || aurora == nil {
		t.Fatalf("aurora record missing: %v", err)
	}
	if aurora.Account != "aurora" || aurora.Template != "aurora" {
		t.Fatalf("unexpected aurora routing: account=%q template=%q", aurora.Account, aurora.Template)
	}
	if !strings.HasPrefix(aurora.VideoID, "test_") {
		t.Fatalf("expected offline video id, got %q", aurora.VideoID)
	}
	if aurora.ScheduleStatus != ledger.ScheduleScheduled || aurora.ScheduledAt == nil {
		t.Fatalf("aurora record not scheduled: %+v", aurora)
	}

	mono, err := f.store.GetByPath(ctx, monoPath)
	if err != nil || mono == nil {
		t.Fatalf("mono record missing: %v", err)
	}
	if mono.Account != "nova" || mono.Template != "mono" {
		t.Fatalf("unexpected mono routing: account=%q template=%q", mono.Account, mono.Template)
	}
}

func TestRescanDoesNotDuplicate(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	path := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "clip.mp4")
	w := f.watcher(t, "Apollova-Aurora")

	if _, err := w.ScanOnce(ctx); err != nil {
		t.Fatalf("first scan: %v", err)
	}
	record, err := f.store.GetByPath(ctx, path)
	if err != nil || record == nil {
		t.Fatalf("record missing after first scan: %v", err)
	}
	firstVideoID := record.VideoID
	firstSlot := record.ScheduledAt

	processed, err := w.ScanOnce(ctx)
	if err != nil {
		t.Fatalf("second scan: %v", err)
	}
	if processed != 0 {
		t.Fatalf("rescan should process nothing, got %d", processed)
	}

	record, err = f.store.GetByPath(ctx, path)
	if err != nil || record == nil {
		t.Fatalf("record missing after rescan: %v", err)
	}
	if record.VideoID != firstVideoID {
		t.Fatalf("video id changed on rescan: %q vs %q", firstVideoID, record.VideoID)
	}
	if !record.ScheduledAt.Equal(*firstSlot) {
		t.Fatalf("slot changed on rescan: %v vs %v", firstSlot, record.ScheduledAt)
	}

	records, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected single record, got %d", len(records))
	}
}

func TestSlotsSpacedByInterval(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", fmt.Sprintf("clip-%d.mp4", i))
	}

	if _, err := f.watcher(t, "Apollova-Aurora").ScanOnce(ctx); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	records, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	var slots []time.Time
	for _, record := range records {
		if record.ScheduledAt == nil {
			t.Fatalf("record %d not scheduled", record.ID)
		}
		slots = append(slots, *record.ScheduledAt)
	}
	for i := 1; i < len(slots); i++ {
		if got := slots[i].Sub(slots[i-1]); got != time.Hour {
			t.Fatalf("expected 60m spacing between slot %d and %d, got %v", i-1, i, got)
		}
	}
}

func TestQuotaOverflowAcrossDays(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for i := 0; i < 13; i++ {
		testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", fmt.Sprintf("clip-%02d.mp4", i))
	}

	processed, err := f.watcher(t, "Apollova-Aurora").ScanOnce(ctx)
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if processed != 13 {
		t.Fatalf("expected 13 processed, got %d", processed)
	}

	dayOne := time.Date(2026, 5, 4, 0, 0, 0, 0, time.Local)
	countDayOne, err := f.store.CountScheduledForDate(ctx, "aurora", dayOne)
	if err != nil {
		t.Fatalf("CountScheduledForDate: %v", err)
	}
	if countDayOne != 12 {
		t.Fatalf("expected 12 slots on day one, got %d", countDayOne)
	}

	countDayTwo, err := f.store.CountScheduledForDate(ctx, "aurora", dayOne.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("CountScheduledForDate day two: %v", err)
	}
	if countDayTwo != 1 {
		t.Fatalf("expected 1 overflow slot on day two, got %d", countDayTwo)
	}

	last, err := f.store.LastScheduledTime(ctx, "aurora", dayOne.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("LastScheduledTime: %v", err)
	}
	want := time.Date(2026, 5, 5, 11, 0, 0, 0, time.Local)
	if last == nil || !last.Equal(want) {
		t.Fatalf("expected overflow slot at %v, got %v", want, last)
	}
}

// flakyClient fails uploads for files whose name contains "bad".
type flakyClient struct {
	inner uploader.Client
}

func (c *flakyClient) Authenticate(ctx context.Context) error {
	return c.inner.Authenticate(ctx)
}

func (c *flakyClient) UploadVideo(ctx context.Context, path string, account string) (uploader.Result, error) {
	if strings.Contains(path, "bad") {
		return uploader.Result{}, errors.New("simulated transfer failure")
	}
	return c.inner.UploadVideo(ctx, path, account)
}

func (c *flakyClient) ScheduleVideo(ctx context.Context, videoID string, at time.Time) error {
	return c.inner.ScheduleVideo(ctx, videoID, at)
}

func TestFailureDoesNotBlockOtherFiles(t *testing.T) {
	f := newFixture(t, &flakyClient{inner: uploader.NewOfflineClient(logging.NewNop())})
	ctx := context.Background()

	badPath := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "bad-render.mp4")
	goodPath := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "good-render.mp4")

	processed, err := f.watcher(t, "Apollova-Aurora").ScanOnce(ctx)
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected only the good file processed, got %d", processed)
	}

	good, err := f.store.GetByPath(ctx, goodPath)
	if err != nil || good == nil {
		t.Fatalf("good record missing: %v", err)
	}
	if good.ScheduleStatus != ledger.ScheduleScheduled {
		t.Fatalf("good file should be scheduled, got %+v", good)
	}

	bad, err := f.store.GetByPath(ctx, badPath)
	if err != nil || bad == nil {
		t.Fatalf("bad record missing: %v", err)
	}
	if bad.UploadStatus != ledger.UploadFailed {
		t.Fatalf("expected failed status, got %s", bad.UploadStatus)
	}
	if bad.AttemptCount != 1 {
		t.Fatalf("expected 1 attempt, got %d", bad.AttemptCount)
	}
	if !strings.Contains(bad.FailureReason, "simulated transfer failure") {
		t.Fatalf("expected failure reason recorded, got %q", bad.FailureReason)
	}
}

func TestFailedFileRetriedUntilBudgetExhausted(t *testing.T) {
	f := newFixture(t, &flakyClient{inner: uploader.NewOfflineClient(logging.NewNop())})
	ctx := context.Background()

	path := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "bad.mp4")
	w := f.watcher(t, "Apollova-Aurora")

	for i := 0; i < 5; i++ {
		if _, err := w.ScanOnce(ctx); err != nil {
			t.Fatalf("scan %d: %v", i, err)
		}
	}

	record, err := f.store.GetByPath(ctx, path)
	if err != nil || record == nil {
		t.Fatalf("record missing: %v", err)
	}
	if record.AttemptCount != f.cfg.MaxUploadAttempts {
		t.Fatalf("expected attempts capped at %d, got %d", f.cfg.MaxUploadAttempts, record.AttemptCount)
	}
}

func TestRepairSchedulesOrphanedUploads(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	// Simulate a crash between upload and schedule: uploaded, no slot.
	path := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "orphan.mp4")
	id, err := f.store.AddUpload(ctx, path, "aurora", "aurora")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}
	offline := f.client.(*uploader.OfflineClient)
	result, err := offline.UploadVideo(ctx, path, "aurora")
	if err != nil {
		t.Fatalf("UploadVideo: %v", err)
	}
	if err := f.store.MarkUploaded(ctx, id, result.ID); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	if _, err := f.watcher(t, "Apollova-Aurora").ScanOnce(ctx); err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}

	record, err := f.store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.ScheduleStatus != ledger.ScheduleScheduled {
		t.Fatalf("expected orphan to be scheduled, got %+v", record)
	}
	if record.VideoID != result.ID {
		t.Fatalf("repair must not re-upload: %q vs %q", record.VideoID, result.ID)
	}
	if _, ok := offline.ScheduledAt(result.ID); !ok {
		t.Fatal("expected remote schedule call for orphan")
	}
}

// recordingNotifier captures error notifications for assertions.
type recordingNotifier struct {
	notifications.Service
	mu     sync.Mutex
	errors []string
}

func newRecordingNotifier(cfg *config.Config) *recordingNotifier {
	return &recordingNotifier{Service: notifications.NewService(cfg)}
}

func (n *recordingNotifier) NotifyError(_ context.Context, err error, contextLabel string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.errors = append(n.errors, contextLabel+": "+err.Error())
	return nil
}

func (n *recordingNotifier) errorCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.errors)
}

func TestRunNotifiesOnScanFailure(t *testing.T) {
	f := newFixture(t, nil)

	paths := f.cfg.WatchPaths()
	path, ok := paths["Apollova-Aurora"]
	if !ok {
		t.Fatal("folder not watchable")
	}
	notifier := newRecordingNotifier(f.cfg)
	w := watcher.New(f.cfg, "Apollova-Aurora", path, f.store, f.sched, f.client, notifier, logging.NewNop())

	// Pull the renders folder out from under the watcher so the scan fails.
	if err := os.RemoveAll(path.RendersPath); err != nil {
		t.Fatalf("remove renders dir: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for notifier.errorCount() == 0 {
		if time.Now().After(deadline) {
			cancel()
			t.Fatal("scan failure was never reported through the notifier")
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not stop after cancel")
	}

	notifier.mu.Lock()
	first := notifier.errors[0]
	notifier.mu.Unlock()
	if !strings.Contains(first, "Apollova-Aurora") {
		t.Fatalf("expected folder name in error context, got %q", first)
	}
}

func TestScanSkipsNonVideoAndPartialFiles(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "notes.txt")
	testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", ".hidden.mp4")
	testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "render.mp4.part")
	testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "render.tmp")
	keeper := testsupport.WriteVideo(t, f.cfg, "Apollova-Aurora", "final.mov")

	processed, err := f.watcher(t, "Apollova-Aurora").ScanOnce(ctx)
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if processed != 1 {
		t.Fatalf("expected only final.mov processed, got %d", processed)
	}

	records, err := f.store.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 1 || records[0].FilePath != keeper {
		t.Fatalf("expected single record for %s, got %+v", keeper, records)
	}
}

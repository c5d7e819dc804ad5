package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"renderwatch/internal/ledger"
	"renderwatch/internal/logging"
	"renderwatch/internal/testsupport"
)

func TestAddUploadIsIdempotentByPath(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	path := testsupport.WriteVideo(t, cfg, "Apollova-Aurora", "clip.mp4")

	first, err := store.AddUpload(ctx, path, "aurora", "aurora")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}
	second, err := store.AddUpload(ctx, path, "other", "other")
	if err != nil {
		t.Fatalf("AddUpload repeat: %v", err)
	}
	if first != second {
		t.Fatalf("expected same id for same path, got %d and %d", first, second)
	}

	record, err := store.GetRecord(ctx, first)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.Account != "aurora" || record.Template != "aurora" {
		t.Fatalf("first write should win, got account=%q template=%q", record.Account, record.Template)
	}
	if len(record.ContentHash) != 64 {
		t.Fatalf("expected sha256 hex hash, got %q", record.ContentHash)
	}
}

func TestAddUploadToleratesUnreadableFile(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	id, err := store.AddUpload(ctx, "/nonexistent/video.mp4", "aurora", "aurora")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}
	record, err := store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.ContentHash != "" {
		t.Fatalf("expected empty hash for unreadable file, got %q", record.ContentHash)
	}
}

func TestAddUploadLogsHashFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)

	logPath := filepath.Join(t.TempDir(), "store.log")
	logger, err := logging.New(logging.Options{
		Level:       "debug",
		Format:      "console",
		OutputPaths: []string{logPath},
	})
	if err != nil {
		t.Fatalf("build logger: %v", err)
	}

	store, err := ledger.Open(cfg.StateDBPath, ledger.WithLogger(logger))
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	defer store.Close()

	if _, err := store.AddUpload(context.Background(), "/nonexistent/video.mp4", "aurora", "aurora"); err != nil {
		t.Fatalf("AddUpload: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	line := string(data)
	if !strings.Contains(line, "content hash unavailable") {
		t.Fatalf("expected hash warning in log, got %q", line)
	}
	if !strings.Contains(line, "WARN") {
		t.Fatalf("expected warn level, got %q", line)
	}
}

func TestUploadLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	path := testsupport.WriteVideo(t, cfg, "Apollova-Mono", "mono.mp4")
	id, err := store.AddUpload(ctx, path, "mono", "nova")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}

	if err := store.MarkUploading(ctx, id); err != nil {
		t.Fatalf("MarkUploading: %v", err)
	}
	if err := store.MarkUploaded(ctx, id, "vid_123"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}

	record, err := store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.UploadStatus != ledger.UploadUploaded {
		t.Fatalf("expected uploaded status, got %s", record.UploadStatus)
	}
	if record.VideoID != "vid_123" {
		t.Fatalf("expected video id recorded, got %q", record.VideoID)
	}
	if !record.Processed() {
		t.Fatal("uploaded record should report processed")
	}

	processed, err := store.IsProcessed(ctx, path)
	if err != nil {
		t.Fatalf("IsProcessed: %v", err)
	}
	if !processed {
		t.Fatal("expected path to be processed")
	}

	slot := time.Date(2026, 3, 14, 11, 0, 0, 0, time.Local)
	if err := store.MarkScheduled(ctx, id, slot); err != nil {
		t.Fatalf("MarkScheduled: %v", err)
	}
	record, err = store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord after schedule: %v", err)
	}
	if record.ScheduleStatus != ledger.ScheduleScheduled {
		t.Fatalf("expected scheduled status, got %s", record.ScheduleStatus)
	}
	if record.ScheduledAt == nil || !record.ScheduledAt.Equal(slot) {
		t.Fatalf("expected slot %v, got %v", slot, record.ScheduledAt)
	}
}

func TestFailureTracking(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	id, err := store.AddUpload(ctx, "/tmp/fail.mp4", "aurora", "aurora")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}

	if err := store.MarkUploadFailed(ctx, id, "boom"); err != nil {
		t.Fatalf("MarkUploadFailed: %v", err)
	}
	if err := store.MarkUploadFailed(ctx, id, "boom again"); err != nil {
		t.Fatalf("MarkUploadFailed: %v", err)
	}

	record, err := store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.AttemptCount != 2 {
		t.Fatalf("expected 2 attempts, got %d", record.AttemptCount)
	}
	if record.FailureReason != "boom again" {
		t.Fatalf("expected latest reason, got %q", record.FailureReason)
	}

	retryable, err := store.Retryable(ctx, 3)
	if err != nil {
		t.Fatalf("Retryable: %v", err)
	}
	if len(retryable) != 1 {
		t.Fatalf("expected 1 retryable record, got %d", len(retryable))
	}
	exhausted, err := store.Retryable(ctx, 2)
	if err != nil {
		t.Fatalf("Retryable exhausted: %v", err)
	}
	if len(exhausted) != 0 {
		t.Fatalf("expected no retryable records at budget 2, got %d", len(exhausted))
	}

	if err := store.ResetFailed(ctx, id); err != nil {
		t.Fatalf("ResetFailed: %v", err)
	}
	record, err = store.GetRecord(ctx, id)
	if err != nil {
		t.Fatalf("GetRecord after reset: %v", err)
	}
	if record.UploadStatus != ledger.UploadPending {
		t.Fatalf("expected pending after reset, got %s", record.UploadStatus)
	}
	if record.FailureReason != "" {
		t.Fatalf("expected failure reason cleared, got %q", record.FailureReason)
	}
	if record.AttemptCount != 2 {
		t.Fatalf("attempt count should survive reset, got %d", record.AttemptCount)
	}
}

func TestScheduledDayQueries(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	day := time.Date(2026, 6, 1, 0, 0, 0, 0, time.Local)
	slots := []time.Time{
		day.Add(11 * time.Hour),
		day.Add(12 * time.Hour),
		day.AddDate(0, 0, 1).Add(11 * time.Hour),
	}
	for i, slot := range slots {
		id, err := store.AddUpload(ctx, fmt.Sprintf("/tmp/day/clip-%d.mp4", i), "aurora", "aurora")
		if err != nil {
			t.Fatalf("AddUpload: %v", err)
		}
		if err := store.MarkScheduled(ctx, id, slot); err != nil {
			t.Fatalf("MarkScheduled: %v", err)
		}
	}

	otherID, err := store.AddUpload(ctx, "/tmp/day/other.mp4", "mono", "nova")
	if err != nil {
		t.Fatalf("AddUpload other account: %v", err)
	}
	if err := store.MarkScheduled(ctx, otherID, day.Add(15*time.Hour)); err != nil {
		t.Fatalf("MarkScheduled other account: %v", err)
	}

	count, err := store.CountScheduledForDate(ctx, "aurora", day)
	if err != nil {
		t.Fatalf("CountScheduledForDate: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 slots on day one, got %d", count)
	}

	last, err := store.LastScheduledTime(ctx, "aurora", day)
	if err != nil {
		t.Fatalf("LastScheduledTime: %v", err)
	}
	if last == nil || !last.Equal(day.Add(12*time.Hour)) {
		t.Fatalf("expected last slot at 12:00, got %v", last)
	}

	empty, err := store.LastScheduledTime(ctx, "aurora", day.AddDate(0, 0, 7))
	if err != nil {
		t.Fatalf("LastScheduledTime empty day: %v", err)
	}
	if empty != nil {
		t.Fatalf("expected no slot a week out, got %v", empty)
	}
}

func TestMaintenanceSweeps(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	stuckID, err := store.AddUpload(ctx, "/tmp/stuck.mp4", "aurora", "aurora")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}
	if err := store.MarkUploading(ctx, stuckID); err != nil {
		t.Fatalf("MarkUploading: %v", err)
	}

	reset, err := store.ResetStuckUploading(ctx)
	if err != nil {
		t.Fatalf("ResetStuckUploading: %v", err)
	}
	if reset != 1 {
		t.Fatalf("expected 1 reset record, got %d", reset)
	}

	if err := store.MarkUploading(ctx, stuckID); err != nil {
		t.Fatalf("MarkUploading again: %v", err)
	}

	reclaimed, err := store.ReclaimStaleUploading(ctx, time.Now().Add(-time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleUploading: %v", err)
	}
	if reclaimed != 0 {
		t.Fatalf("fresh upload should not be reclaimed, got %d", reclaimed)
	}

	reclaimed, err = store.ReclaimStaleUploading(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("ReclaimStaleUploading future cutoff: %v", err)
	}
	if reclaimed != 1 {
		t.Fatalf("expected 1 reclaimed record, got %d", reclaimed)
	}

	record, err := store.GetRecord(ctx, stuckID)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if record.UploadStatus != ledger.UploadPending {
		t.Fatalf("expected pending after reclaim, got %s", record.UploadStatus)
	}
}

func TestGetStats(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	uploadedID, err := store.AddUpload(ctx, "/tmp/a.mp4", "aurora", "aurora")
	if err != nil {
		t.Fatalf("AddUpload: %v", err)
	}
	if err := store.MarkUploaded(ctx, uploadedID, "vid_1"); err != nil {
		t.Fatalf("MarkUploaded: %v", err)
	}
	if err := store.MarkScheduled(ctx, uploadedID, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("MarkScheduled: %v", err)
	}
	if _, err := store.AddUpload(ctx, "/tmp/b.mp4", "mono", "nova"); err != nil {
		t.Fatalf("AddUpload pending: %v", err)
	}

	stats, err := store.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Total != 2 {
		t.Fatalf("expected 2 records, got %d", stats.Total)
	}
	if stats.ByUpload[ledger.UploadUploaded] != 1 || stats.ByUpload[ledger.UploadPending] != 1 {
		t.Fatalf("unexpected status counts: %+v", stats.ByUpload)
	}
	if stats.Scheduled != 1 {
		t.Fatalf("expected 1 scheduled, got %d", stats.Scheduled)
	}
	if stats.ScheduledToday["aurora"] != 1 {
		t.Fatalf("expected aurora to have 1 slot today, got %d", stats.ScheduledToday["aurora"])
	}
}

func TestGetRecordMissing(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenLedger(t, cfg)
	ctx := context.Background()

	if _, err := store.GetRecord(ctx, 42); !errors.Is(err, ledger.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}

	record, err := store.GetByPath(ctx, "/tmp/missing.mp4")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if record != nil {
		t.Fatalf("expected nil record for unknown path, got %+v", record)
	}
}

func TestComputeFileHashDeterministic(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.mp4")
	pathB := filepath.Join(dir, "b.mp4")
	if err := os.WriteFile(pathA, []byte("same-bytes"), 0o644); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(pathB, []byte("same-bytes"), 0o644); err != nil {
		t.Fatalf("write b: %v", err)
	}

	hashA, err := ledger.ComputeFileHash(pathA)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hashB, err := ledger.ComputeFileHash(pathB)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if hashA != hashB {
		t.Fatalf("identical contents must hash equal: %s vs %s", hashA, hashB)
	}
	if len(hashA) != 64 {
		t.Fatalf("expected 64 hex chars, got %d", len(hashA))
	}

	if err := os.WriteFile(pathB, []byte("different"), 0o644); err != nil {
		t.Fatalf("rewrite b: %v", err)
	}
	hashC, err := ledger.ComputeFileHash(pathB)
	if err != nil {
		t.Fatalf("hash c: %v", err)
	}
	if hashC == hashA {
		t.Fatal("different contents must hash differently")
	}
}

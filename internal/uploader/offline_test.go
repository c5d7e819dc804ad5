package uploader_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"renderwatch/internal/logging"
	"renderwatch/internal/uploader"
)

func TestOfflineClientDeterministicIDs(t *testing.T) {
	client := uploader.NewOfflineClient(logging.NewNop())
	ctx := context.Background()

	if err := client.Authenticate(ctx); err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	for i := 1; i <= 3; i++ {
		result, err := client.UploadVideo(ctx, fmt.Sprintf("/tmp/v%d.mp4", i), "aurora")
		if err != nil {
			t.Fatalf("UploadVideo: %v", err)
		}
		want := fmt.Sprintf("test_%06d", i)
		if result.ID != want {
			t.Fatalf("expected id %s, got %s", want, result.ID)
		}
	}
}

func TestOfflineClientTracksSchedules(t *testing.T) {
	client := uploader.NewOfflineClient(logging.NewNop())
	ctx := context.Background()

	result, err := client.UploadVideo(ctx, "/tmp/v.mp4", "nova")
	if err != nil {
		t.Fatalf("UploadVideo: %v", err)
	}

	slot := time.Date(2026, 5, 4, 11, 0, 0, 0, time.Local)
	if err := client.ScheduleVideo(ctx, result.ID, slot); err != nil {
		t.Fatalf("ScheduleVideo: %v", err)
	}

	got, ok := client.ScheduledAt(result.ID)
	if !ok || !got.Equal(slot) {
		t.Fatalf("expected schedule %v recorded, got %v ok=%v", slot, got, ok)
	}

	err = client.ScheduleVideo(ctx, "test_999999", slot)
	if !errors.Is(err, uploader.ErrRemoteRejected) {
		t.Fatalf("expected ErrRemoteRejected for unknown video, got %v", err)
	}
}

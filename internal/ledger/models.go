package ledger

import (
	"strings"
	"time"
)

// UploadStatus represents the upload lifecycle of a ledger record.
type UploadStatus string

const (
	UploadPending   UploadStatus = "pending"
	UploadUploading UploadStatus = "uploading"
	UploadUploaded  UploadStatus = "uploaded"
	UploadFailed    UploadStatus = "failed"
)

// ScheduleStatus represents whether a publish slot has been committed.
type ScheduleStatus string

const (
	ScheduleNone      ScheduleStatus = "none"
	ScheduleScheduled ScheduleStatus = "scheduled"
)

var allUploadStatuses = []UploadStatus{
	UploadPending,
	UploadUploading,
	UploadUploaded,
	UploadFailed,
}

var uploadStatusSet = func() map[UploadStatus]struct{} {
	set := make(map[UploadStatus]struct{}, len(allUploadStatuses))
	for _, status := range allUploadStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllUploadStatuses returns the ordered list of known upload statuses.
func AllUploadStatuses() []UploadStatus {
	cp := make([]UploadStatus, len(allUploadStatuses))
	copy(cp, allUploadStatuses)
	return cp
}

// ParseUploadStatus converts a string into a known UploadStatus.
func ParseUploadStatus(value string) (UploadStatus, bool) {
	normalized := UploadStatus(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := uploadStatusSet[normalized]
	return normalized, ok
}

// Record is one discovered render file and its upload/schedule lifecycle,
// persisted in SQLite. FilePath is the dedup key; ContentHash is stored for
// integrity but does not gate ingestion.
type Record struct {
	ID             int64
	FilePath       string
	ContentHash    string
	Template       string
	Account        string
	UploadStatus   UploadStatus
	VideoID        string
	ScheduleStatus ScheduleStatus
	ScheduledAt    *time.Time
	FailureReason  string
	AttemptCount   int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Processed reports whether the record has completed its upload.
func (r Record) Processed() bool {
	return r.UploadStatus == UploadUploaded
}

// Stats aggregates ledger counts for status output.
type Stats struct {
	Total          int
	ByUpload       map[UploadStatus]int
	Scheduled      int
	ScheduledToday map[string]int
}

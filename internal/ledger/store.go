package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"renderwatch/internal/logging"
)

// slotLayout is the wall-clock layout used for scheduled_at values. Slots are
// stored without a zone offset so lexicographic range scans line up with
// calendar days in the publishing timezone.
const slotLayout = "2006-01-02T15:04:05"

// Store manages ledger persistence backed by SQLite. Mutations are serialized
// through a single writer lock; the backing store is not assumed safe for
// unbounded concurrent writers.
type Store struct {
	db     *sql.DB
	path   string
	logger *slog.Logger

	writeMu sync.Mutex
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithLogger attaches a logger for non-fatal store events.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logging.NewComponentLogger(logger, "ledger")
		}
	}
}

// Open initializes or connects to the state database at dbPath and verifies
// the schema version.
func Open(dbPath string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, errors.New("state database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state directory %q: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(store)
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the backing database file.
func (s *Store) Path() string {
	return s.path
}

// AddUpload records a newly discovered file and returns its ledger id. The
// operation is idempotent by path: when a record for path already exists its
// id is returned unchanged and the template/account arguments are ignored
// (first-write wins). The content hash is computed best-effort at first
// insert; an unreadable file yields an empty hash rather than a failure.
func (s *Store) AddUpload(ctx context.Context, path, template, account string) (int64, error) {
	if strings.TrimSpace(path) == "" {
		return 0, errors.New("file path is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if id, err := s.idByPath(ctx, path); err != nil {
		return 0, err
	} else if id != 0 {
		return id, nil
	}

	hash, err := ComputeFileHash(path)
	if err != nil {
		s.logger.Warn("content hash unavailable, recording without it",
			logging.String("file", path),
			logging.Error(err),
		)
		hash = ""
	}

	timestamp := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO upload_records (
            file_path, content_hash, template, account,
            upload_status, schedule_status, attempt_count, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		path,
		hash,
		template,
		account,
		UploadPending,
		ScheduleNone,
		timestamp,
		timestamp,
	)
	if err != nil {
		// A concurrent insert may have won the unique constraint; resolve to
		// the existing record rather than surfacing the conflict.
		if id, lookupErr := s.idByPath(ctx, path); lookupErr == nil && id != 0 {
			return id, nil
		}
		return 0, fmt.Errorf("insert upload record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// MarkUploading transitions a record to the uploading status.
func (s *Store) MarkUploading(ctx context.Context, id int64) error {
	return s.setUploadStatus(ctx, id, UploadUploading)
}

// MarkUploaded records a successful upload and the external video id.
func (s *Store) MarkUploaded(ctx context.Context, id int64, videoID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET upload_status = ?, video_id = ?, failure_reason = NULL, updated_at = ?
         WHERE id = ?`,
		UploadUploaded,
		nullableString(videoID),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark uploaded: %w", err)
	}
	return requireAffected(res, id)
}

// MarkScheduled commits a publish slot for the record.
func (s *Store) MarkScheduled(ctx context.Context, id int64, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET schedule_status = ?, scheduled_at = ?, updated_at = ?
         WHERE id = ?`,
		ScheduleScheduled,
		at.Format(slotLayout),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark scheduled: %w", err)
	}
	return requireAffected(res, id)
}

// MarkUploadFailed records an upload failure and increments the attempt count.
func (s *Store) MarkUploadFailed(ctx context.Context, id int64, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET upload_status = ?, failure_reason = ?, attempt_count = attempt_count + 1, updated_at = ?
         WHERE id = ?`,
		UploadFailed,
		nullableString(reason),
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("mark upload failed: %w", err)
	}
	return requireAffected(res, id)
}

// ResetFailed returns a failed record to pending and clears the failure
// reason. The attempt count is preserved so retry budgets carry across resets.
func (s *Store) ResetFailed(ctx context.Context, id int64) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET upload_status = ?, failure_reason = NULL, updated_at = ?
         WHERE id = ?`,
		UploadPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("reset failed record: %w", err)
	}
	return requireAffected(res, id)
}

func (s *Store) setUploadStatus(ctx context.Context, id int64, status UploadStatus) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records SET upload_status = ?, updated_at = ? WHERE id = ?`,
		status,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set upload status %s: %w", status, err)
	}
	return requireAffected(res, id)
}

func (s *Store) idByPath(ctx context.Context, path string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `SELECT id FROM upload_records WHERE file_path = ?`, path).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("lookup record by path: %w", err)
	}
	return id, nil
}

func requireAffected(res sql.Result, id int64) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
	}
	return nil
}

const recordColumns = "id, file_path, content_hash, template, account, upload_status, video_id, schedule_status, scheduled_at, failure_reason, attempt_count, created_at, updated_at"

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		id           int64
		filePath     string
		contentHash  string
		template     string
		account      string
		uploadStatus string
		videoID      sql.NullString
		scheduleStat string
		scheduledRaw sql.NullString
		failureRaw   sql.NullString
		attemptCount int
		createdRaw   string
		updatedRaw   string
	)

	if err := scanner.Scan(
		&id,
		&filePath,
		&contentHash,
		&template,
		&account,
		&uploadStatus,
		&videoID,
		&scheduleStat,
		&scheduledRaw,
		&failureRaw,
		&attemptCount,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	record := &Record{
		ID:             id,
		FilePath:       filePath,
		ContentHash:    contentHash,
		Template:       template,
		Account:        account,
		UploadStatus:   UploadStatus(uploadStatus),
		VideoID:        videoID.String,
		ScheduleStatus: ScheduleStatus(scheduleStat),
		FailureReason:  failureRaw.String,
		AttemptCount:   attemptCount,
	}

	if scheduledRaw.Valid && scheduledRaw.String != "" {
		if at, err := time.ParseInLocation(slotLayout, scheduledRaw.String, time.Local); err == nil {
			record.ScheduledAt = &at
		}
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		record.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		record.UpdatedAt = updated
	}
	return record, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}

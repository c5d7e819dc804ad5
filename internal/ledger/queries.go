package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GetRecord fetches a ledger record by identifier.
func (s *Store) GetRecord(ctx context.Context, id int64) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM upload_records WHERE id = ?`, id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %d: %w", id, ErrRecordNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return record, nil
}

// GetByPath returns the record keyed by file path, or nil when none exists.
func (s *Store) GetByPath(ctx context.Context, path string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM upload_records WHERE file_path = ?`, path)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record by path: %w", err)
	}
	return record, nil
}

// IsProcessed reports whether the path has already completed its upload.
// Pending, uploading, and failed records are not processed and will be
// picked up by a later scan.
func (s *Store) IsProcessed(ctx context.Context, path string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM upload_records WHERE file_path = ? AND upload_status = ?`,
		path,
		UploadUploaded,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check processed: %w", err)
	}
	return count > 0, nil
}

// Failed returns all records whose upload has failed, ordered by creation time.
func (s *Store) Failed(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(
		ctx,
		`SELECT `+recordColumns+` FROM upload_records WHERE upload_status = ? ORDER BY created_at`,
		UploadFailed,
	)
}

// Retryable returns failed records that have not yet exhausted maxAttempts.
func (s *Store) Retryable(ctx context.Context, maxAttempts int) ([]*Record, error) {
	return s.queryRecords(
		ctx,
		`SELECT `+recordColumns+` FROM upload_records
         WHERE upload_status = ? AND attempt_count < ? ORDER BY created_at`,
		UploadFailed,
		maxAttempts,
	)
}

// UnscheduledUploaded returns records whose upload succeeded but whose remote
// schedule call has not been committed. These are re-scheduled without
// re-uploading.
func (s *Store) UnscheduledUploaded(ctx context.Context, account string) ([]*Record, error) {
	return s.queryRecords(
		ctx,
		`SELECT `+recordColumns+` FROM upload_records
         WHERE account = ? AND upload_status = ? AND schedule_status = ? ORDER BY created_at`,
		account,
		UploadUploaded,
		ScheduleNone,
	)
}

// CountScheduledForDate counts the account's committed slots falling on the
// calendar day of date.
func (s *Store) CountScheduledForDate(ctx context.Context, account string, date time.Time) (int, error) {
	start, end := dayRange(date)
	var count int
	err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM upload_records
         WHERE account = ? AND schedule_status = ? AND scheduled_at >= ? AND scheduled_at < ?`,
		account,
		ScheduleScheduled,
		start,
		end,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count scheduled for date: %w", err)
	}
	return count, nil
}

// LastScheduledTime returns the latest committed slot for the account on the
// calendar day of date, or nil when the day has no slots.
func (s *Store) LastScheduledTime(ctx context.Context, account string, date time.Time) (*time.Time, error) {
	start, end := dayRange(date)
	var raw sql.NullString
	err := s.db.QueryRowContext(
		ctx,
		`SELECT MAX(scheduled_at) FROM upload_records
         WHERE account = ? AND schedule_status = ? AND scheduled_at >= ? AND scheduled_at < ?`,
		account,
		ScheduleScheduled,
		start,
		end,
	).Scan(&raw)
	if err != nil {
		return nil, fmt.Errorf("last scheduled time: %w", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	at, err := time.ParseInLocation(slotLayout, raw.String, time.Local)
	if err != nil {
		return nil, fmt.Errorf("parse scheduled time %q: %w", raw.String, err)
	}
	return &at, nil
}

// List returns ledger records filtered by upload status set (or all records
// when no status is provided), ordered by creation time.
func (s *Store) List(ctx context.Context, statuses ...UploadStatus) ([]*Record, error) {
	baseQuery := `SELECT ` + recordColumns + ` FROM upload_records`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		return s.queryRecords(ctx, baseQuery+orderClause)
	}

	placeholders := makePlaceholders(len(statuses))
	args := make([]any, len(statuses))
	for i, status := range statuses {
		args[i] = status
	}
	query := baseQuery + ` WHERE upload_status IN (` + placeholders + `)` + orderClause
	return s.queryRecords(ctx, query, args...)
}

// GetStats aggregates ledger counts: totals, per upload status, committed
// slots, and per-account slots falling on the current calendar day.
func (s *Store) GetStats(ctx context.Context) (Stats, error) {
	stats := Stats{
		ByUpload:       make(map[UploadStatus]int),
		ScheduledToday: make(map[string]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT upload_status, COUNT(1) FROM upload_records GROUP BY upload_status`)
	if err != nil {
		return Stats{}, fmt.Errorf("ledger stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status UploadStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		stats.ByUpload[status] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return Stats{}, err
	}

	if err := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM upload_records WHERE schedule_status = ?`,
		ScheduleScheduled,
	).Scan(&stats.Scheduled); err != nil {
		return Stats{}, fmt.Errorf("count scheduled: %w", err)
	}

	start, end := dayRange(time.Now())
	todayRows, err := s.db.QueryContext(
		ctx,
		`SELECT account, COUNT(1) FROM upload_records
         WHERE schedule_status = ? AND scheduled_at >= ? AND scheduled_at < ?
         GROUP BY account`,
		ScheduleScheduled,
		start,
		end,
	)
	if err != nil {
		return Stats{}, fmt.Errorf("today stats: %w", err)
	}
	defer todayRows.Close()
	for todayRows.Next() {
		var account string
		var count int
		if err := todayRows.Scan(&account, &count); err != nil {
			return Stats{}, err
		}
		stats.ScheduledToday[account] = count
	}
	return stats, todayRows.Err()
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func dayRange(date time.Time) (string, string) {
	local := date.In(time.Local)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.Local)
	end := start.AddDate(0, 0, 1)
	return start.Format(slotLayout), end.Format(slotLayout)
}

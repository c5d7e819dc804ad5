package ledger

import (
	"context"
	"fmt"
	"time"
)

// ResetStuckUploading returns records left in the uploading status back to
// pending. Run at daemon start so a crash mid-upload is reconciled by the
// next scan.
func (s *Store) ResetStuckUploading(ctx context.Context) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records SET upload_status = ?, updated_at = ? WHERE upload_status = ?`,
		UploadPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		UploadUploading,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck uploading: %w", err)
	}
	return res.RowsAffected()
}

// ReclaimStaleUploading requeues records stuck in uploading whose last update
// precedes cutoff. Used by the periodic sweep so a wedged transfer does not
// hold its record forever.
func (s *Store) ReclaimStaleUploading(ctx context.Context, cutoff time.Time) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE upload_records
         SET upload_status = ?, updated_at = ?
         WHERE upload_status = ? AND updated_at < ?`,
		UploadPending,
		time.Now().UTC().Format(time.RFC3339Nano),
		UploadUploading,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale uploading: %w", err)
	}
	return res.RowsAffected()
}

package store

import (
	"context"
	"database/sql"
	"time"
)

// OwnerSnapshot reads the raw per-owner aggregates in a single pass.
func (s *Store) OwnerSnapshot(ctx context.Context, chatID int64) (OwnerSnapshot, error) {
	snap := OwnerSnapshot{ByStatus: map[Status]int{}}

	var (
		drafts, pending, published, errored, cancelled int
		lastPublished, nextScheduled                   sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		  COALESCE(SUM(status = 'DRAFT'), 0),
		  COALESCE(SUM(status = 'PENDING'), 0),
		  COALESCE(SUM(status = 'PUBLISHED'), 0),
		  COALESCE(SUM(status = 'ERROR'), 0),
		  COALESCE(SUM(status = 'CANCELLED'), 0),
		  COALESCE(SUM(close_friends), 0),
		  COALESCE(SUM(media_kind = 'photo'), 0),
		  COALESCE(SUM(media_kind = 'video'), 0),
		  COALESCE(SUM(overlay_text IS NOT NULL), 0),
		  COALESCE(SUM(audio_file_id IS NOT NULL), 0),
		  MAX(CASE WHEN status = 'PUBLISHED' THEN published_at END),
		  MIN(CASE WHEN status = 'PENDING' THEN scheduled_at END),
		  COALESCE(SUM(CASE WHEN status = 'PUBLISHED' THEN retry_count END), 0)
		FROM stories WHERE chat_id = ?`, chatID).Scan(
		&snap.Total,
		&drafts, &pending, &published, &errored, &cancelled,
		&snap.CloseFriends, &snap.Photos, &snap.Videos,
		&snap.WithText, &snap.WithAudio,
		&lastPublished, &nextScheduled,
		&snap.RetrySumPublished,
	)
	if err != nil {
		return snap, err
	}

	snap.ByStatus[StatusDraft] = drafts
	snap.ByStatus[StatusPending] = pending
	snap.ByStatus[StatusPublished] = published
	snap.ByStatus[StatusError] = errored
	snap.ByStatus[StatusCancelled] = cancelled

	if lastPublished.Valid {
		t := fromMillis(lastPublished.Int64)
		snap.LastPublishedAt = &t
	}
	if nextScheduled.Valid {
		t := fromMillis(nextScheduled.Int64)
		snap.NextScheduledAt = &t
	}
	return snap, nil
}

// ErrorRollup groups an owner's ERROR stories per UTC day since the cutoff.
// A story counts as permanently failed once retry_count has reached ceiling.
func (s *Store) ErrorRollup(ctx context.Context, chatID int64, since time.Time, ceiling int) ([]ErrorDay, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT date(updated_at / 1000, 'unixepoch'),
		  COUNT(*),
		  AVG(retry_count),
		  MAX(retry_count),
		  COALESCE(SUM(retry_count >= ?), 0)
		FROM stories
		WHERE chat_id = ? AND status = 'ERROR' AND updated_at >= ?
		GROUP BY 1 ORDER BY 1 ASC`,
		ceiling, chatID, millis(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ErrorDay
	for rows.Next() {
		var d ErrorDay
		if err := rows.Scan(&d.Day, &d.Count, &d.AvgRetries, &d.MaxRetries, &d.PermanentlyFailed); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

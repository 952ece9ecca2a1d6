package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	logx "storyd/pkg/logx"
)

// Create validates and persists a new story. Drafts may omit scheduled_at;
// everything else must carry a schedule that is not in the past and not
// beyond the configured horizon.
func (s *Store) Create(ctx context.Context, p CreateParams) (*Story, error) {
	if p.FileID == "" {
		return nil, invalid("file_id", "required")
	}
	if p.MediaKind == "" {
		p.MediaKind = MediaPhoto
	}
	if p.MediaKind != MediaPhoto && p.MediaKind != MediaVideo {
		return nil, invalid("media_kind", "must be photo or video")
	}
	if p.Overlay.Position == "" {
		p.Overlay.Position = PositionCenter
	}
	switch p.Overlay.Position {
	case PositionTop, PositionCenter, PositionBottom:
	default:
		return nil, invalid("overlay.position", "must be top, center or bottom")
	}
	if p.Overlay.Color == "" {
		p.Overlay.Color = DefaultOverlayColor
	}
	if p.Overlay.HasAudio() && p.Overlay.AudioVolume == 0 {
		p.Overlay.AudioVolume = DefaultAudioVolume
	}
	if p.Overlay.AudioVolume < 0 || p.Overlay.AudioVolume > 1 {
		return nil, invalid("overlay.audio_volume", "must be within [0,1]")
	}

	now := s.now().UTC()
	status := StatusPending
	var scheduled *time.Time
	if p.Draft {
		status = StatusDraft
		if !p.ScheduledAt.IsZero() {
			t := p.ScheduledAt.UTC()
			scheduled = &t
		}
	} else {
		if p.ScheduledAt.IsZero() {
			return nil, invalid("scheduled_at", "required")
		}
		if err := s.checkSchedule(p.ScheduledAt, now); err != nil {
			return nil, err
		}
		if err := s.checkDayQuota(ctx, p.ChatID, p.ScheduledAt); err != nil {
			return nil, err
		}
		t := p.ScheduledAt.UTC()
		scheduled = &t
	}

	if err := s.checkQuota(ctx, p.ChatID, status); err != nil {
		return nil, err
	}

	st := &Story{
		ID:           uuid.NewString(),
		ChatID:       p.ChatID,
		FileID:       p.FileID,
		MediaKind:    p.MediaKind,
		FileName:     p.FileName,
		FileSize:     p.FileSize,
		Overlay:      p.Overlay,
		ScheduledAt:  scheduled,
		CloseFriends: p.CloseFriends,
		Status:       status,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO stories(id, chat_id, file_id, media_kind, file_name, file_size,
		   overlay_text, overlay_position, overlay_color, audio_file_id, audio_volume,
		   scheduled_at, close_friends, status, created_at, updated_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		st.ID, st.ChatID, st.FileID, string(st.MediaKind), nullStr(st.FileName), st.FileSize,
		nullStr(st.Overlay.Text), string(st.Overlay.Position), st.Overlay.Color,
		nullStr(st.Overlay.AudioFileID), st.Overlay.AudioVolume,
		nullMillis(st.ScheduledAt), st.CloseFriends, string(st.Status),
		millis(now), millis(now),
	)
	if err != nil {
		return nil, err
	}

	if err := s.AppendEvent(ctx, st.ID, EventCreated, map[string]any{
		"status":     string(st.Status),
		"media_kind": string(st.MediaKind),
	}); err != nil {
		s.log.Warn("event append failed", logx.String("story", st.ID), logx.Err(err))
	}
	return st, nil
}

func (s *Store) checkSchedule(at, now time.Time) error {
	if at.Before(now) {
		return invalid("scheduled_at", "must not be in the past")
	}
	if s.limits.MaxScheduleAhead > 0 && at.After(now.Add(s.limits.MaxScheduleAhead)) {
		return invalid("scheduled_at", "too far in the future")
	}
	return nil
}

func (s *Store) checkQuota(ctx context.Context, chatID int64, status Status) error {
	var limit int
	switch status {
	case StatusPending:
		limit = s.limits.MaxPendingPerOwner
	case StatusDraft:
		limit = s.limits.MaxDraftsPerOwner
	default:
		return nil
	}
	if limit <= 0 {
		return nil
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stories WHERE chat_id = ? AND status = ?`,
		chatID, string(status)).Scan(&n)
	if err != nil {
		return err
	}
	if n >= limit {
		if status == StatusDraft {
			return invalid("chat_id", "too many drafts")
		}
		return invalid("chat_id", "too many pending stories")
	}
	return nil
}

// checkDayQuota caps the owner's stories landing on one UTC day, counting
// both still-scheduled and already-published ones.
func (s *Store) checkDayQuota(ctx context.Context, chatID int64, at time.Time) error {
	limit := s.limits.MaxPerDay
	if limit <= 0 {
		return nil
	}
	day := at.UTC().Truncate(24 * time.Hour)
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM stories
		 WHERE chat_id = ? AND status IN (?,?)
		   AND scheduled_at >= ? AND scheduled_at < ?`,
		chatID, string(StatusPending), string(StatusPublished),
		millis(day), millis(day.Add(24*time.Hour))).Scan(&n)
	if err != nil {
		return err
	}
	if n >= limit {
		return invalid("scheduled_at", "too many stories for that day")
	}
	return nil
}

// Get fetches one story by id.
func (s *Store) Get(ctx context.Context, id string) (*Story, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+storyColumns+` FROM stories WHERE id = ?`, id)
	st, err := scanStory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return st, err
}

// Finalize moves a DRAFT to PENDING, setting its schedule. The owner must
// match; the schedule must be valid as at finalization time.
func (s *Store) Finalize(ctx context.Context, id string, chatID int64, at time.Time) (*Story, error) {
	now := s.now().UTC()
	if at.IsZero() {
		return nil, invalid("scheduled_at", "required")
	}
	if err := s.checkSchedule(at, now); err != nil {
		return nil, err
	}
	if err := s.checkQuota(ctx, chatID, StatusPending); err != nil {
		return nil, err
	}
	if err := s.checkDayQuota(ctx, chatID, at); err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, scheduled_at = ?, updated_at = ?
		 WHERE id = ? AND chat_id = ? AND status = ?`,
		string(StatusPending), millis(at), millis(now),
		id, chatID, string(StatusDraft))
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, s.explainMiss(ctx, id, chatID)
	}

	if err := s.AppendEvent(ctx, id, EventFinalized, map[string]any{
		"scheduled_at": at.UTC().Format(time.RFC3339),
	}); err != nil {
		s.log.Warn("event append failed", logx.String("story", id), logx.Err(err))
	}
	return s.Get(ctx, id)
}

// explainMiss turns a zero-row conditional update into the right error:
// unknown id / foreign owner -> ErrNotFound, wrong status -> ErrInvalidState.
func (s *Store) explainMiss(ctx context.Context, id string, chatID int64) error {
	var owner int64
	err := s.db.QueryRowContext(ctx,
		`SELECT chat_id FROM stories WHERE id = ?`, id).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if chatID != 0 && owner != chatID {
		// Do not reveal foreign stories.
		return ErrNotFound
	}
	return ErrInvalidState
}

// ListDue returns PENDING stories whose schedule has passed, earliest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]Story, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.queryStories(ctx,
		`SELECT `+storyColumns+` FROM stories
		 WHERE status = ? AND scheduled_at IS NOT NULL AND scheduled_at <= ?
		 ORDER BY scheduled_at ASC LIMIT ?`,
		string(StatusPending), millis(now), limit)
}

// MarkPublished applies PENDING -> PUBLISHED. Returns false when the story
// was no longer PENDING (another writer won the race); that is a no-op, not
// an error.
func (s *Store) MarkPublished(ctx context.Context, id, externalID string) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, published_at = ?, external_id = ?,
		   error_message = NULL, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusPublished), millis(now), nullStr(externalID), millis(now),
		id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// MarkFailed applies PENDING -> ERROR, increments retry_count (bounded by
// the schema hard cap) and records the failure reason. Returns false when
// the story was no longer PENDING.
func (s *Store) MarkFailed(ctx context.Context, id, reason string) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, retry_count = MIN(retry_count + 1, ?),
		   error_message = ?, last_retry_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusError), RetryHardCap,
		nullStr(reason), millis(now), millis(now),
		id, string(StatusPending))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListRetryEligible returns ERROR stories admissible for another attempt:
// below the ceiling and past the fixed retry delay (or never retried).
// Oldest failures first.
func (s *Store) ListRetryEligible(ctx context.Context, now time.Time, ceiling int, delay time.Duration, limit int) ([]Story, error) {
	if limit <= 0 {
		limit = 50
	}
	cutoff := millis(now.Add(-delay))
	return s.queryStories(ctx,
		`SELECT `+storyColumns+` FROM stories
		 WHERE status = ? AND retry_count < ?
		   AND (last_retry_at IS NULL OR last_retry_at <= ?)
		 ORDER BY updated_at ASC LIMIT ?`,
		string(StatusError), ceiling, cutoff, limit)
}

// Readmit applies ERROR -> PENDING for another dispatch attempt.
// Returns false when the story is no longer in ERROR.
func (s *Store) Readmit(ctx context.Context, id string) (bool, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(StatusPending), millis(now), id, string(StatusError))
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Cancel applies an owner-initiated cancellation. Allowed from DRAFT,
// PENDING and ERROR only; a PUBLISHED (or already CANCELLED) story yields
// ErrInvalidState, an unknown or foreign id yields ErrNotFound.
func (s *Store) Cancel(ctx context.Context, id string, chatID int64) (*Story, error) {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE stories SET status = ?, updated_at = ?
		 WHERE id = ? AND chat_id = ? AND status IN (?,?,?)`,
		string(StatusCancelled), millis(now),
		id, chatID,
		string(StatusDraft), string(StatusPending), string(StatusError))
	if err != nil {
		return nil, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, s.explainMiss(ctx, id, chatID)
	}

	if err := s.AppendEvent(ctx, id, EventCancelled, nil); err != nil {
		s.log.Warn("event append failed", logx.String("story", id), logx.Err(err))
	}
	return s.Get(ctx, id)
}

// List returns an owner's stories, optionally filtered by status,
// soonest schedule first (unscheduled drafts last, newest of those first).
func (s *Store) List(ctx context.Context, chatID int64, status Status, limit int) ([]Story, error) {
	if limit <= 0 {
		limit = 100
	}
	if status != "" {
		if !status.Valid() {
			return nil, invalid("status", "unknown status")
		}
		return s.queryStories(ctx,
			`SELECT `+storyColumns+` FROM stories
			 WHERE chat_id = ? AND status = ?
			 ORDER BY scheduled_at IS NULL, scheduled_at ASC, created_at DESC LIMIT ?`,
			chatID, string(status), limit)
	}
	return s.queryStories(ctx,
		`SELECT `+storyColumns+` FROM stories
		 WHERE chat_id = ?
		 ORDER BY scheduled_at IS NULL, scheduled_at ASC, created_at DESC LIMIT ?`,
		chatID, limit)
}

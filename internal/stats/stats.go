// Package stats derives read-only monitoring projections from the store.
// Nothing here mutates a story.
package stats

import (
	"context"
	"time"

	"storyd/internal/store"
)

// OwnerStats is the per-owner projection served to monitoring callers.
type OwnerStats struct {
	ChatID       int64                `json:"chat_id"`
	Total        int                  `json:"total"`
	ByStatus     map[store.Status]int `json:"by_status"`
	CloseFriends int                  `json:"close_friends"`
	Photos       int                  `json:"photos"`
	Videos       int                  `json:"videos"`
	WithText     int                  `json:"with_text_overlay"`
	WithAudio    int                  `json:"with_audio_overlay"`

	LastPublishedAt *time.Time `json:"last_published_at,omitempty"`
	NextScheduledAt *time.Time `json:"next_scheduled_at,omitempty"`

	// AvgRetriesPublished is nil when the owner has no published stories.
	AvgRetriesPublished *float64 `json:"avg_retries_published,omitempty"`

	// SuccessRate is PUBLISHED / (PUBLISHED + ERROR); nil when the
	// denominator is zero, never a division error.
	SuccessRate *float64 `json:"success_rate,omitempty"`
}

type Aggregator struct {
	st           *store.Store
	retryCeiling int
}

func New(st *store.Store, retryCeiling int) *Aggregator {
	return &Aggregator{st: st, retryCeiling: retryCeiling}
}

// Owner computes the full per-owner projection.
func (a *Aggregator) Owner(ctx context.Context, chatID int64) (*OwnerStats, error) {
	snap, err := a.st.OwnerSnapshot(ctx, chatID)
	if err != nil {
		return nil, err
	}

	out := &OwnerStats{
		ChatID:          chatID,
		Total:           snap.Total,
		ByStatus:        snap.ByStatus,
		CloseFriends:    snap.CloseFriends,
		Photos:          snap.Photos,
		Videos:          snap.Videos,
		WithText:        snap.WithText,
		WithAudio:       snap.WithAudio,
		LastPublishedAt: snap.LastPublishedAt,
		NextScheduledAt: snap.NextScheduledAt,
	}

	published := snap.ByStatus[store.StatusPublished]
	errored := snap.ByStatus[store.StatusError]
	if published > 0 {
		avg := float64(snap.RetrySumPublished) / float64(published)
		out.AvgRetriesPublished = &avg
	}
	if published+errored > 0 {
		rate := float64(published) / float64(published+errored)
		out.SuccessRate = &rate
	}
	return out, nil
}

// ErrorTrend returns the per-day ERROR rollup over the trailing window.
func (a *Aggregator) ErrorTrend(ctx context.Context, chatID int64, days int, now time.Time) ([]store.ErrorDay, error) {
	if days <= 0 {
		days = 7
	}
	since := now.UTC().AddDate(0, 0, -days)
	return a.st.ErrorRollup(ctx, chatID, since, a.retryCeiling)
}

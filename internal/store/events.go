package store

import (
	"context"
	"encoding/json"
)

// AppendEvent writes one audit entry for a story. Meta is persisted as JSON
// and may be nil.
func (s *Store) AppendEvent(ctx context.Context, storyID, kind string, meta map[string]any) error {
	var metaJSON any
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		metaJSON = string(b)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO story_events(story_id, kind, meta, at) VALUES(?,?,?,?)`,
		storyID, kind, metaJSON, millis(s.now()))
	return err
}

// Events returns a story's audit trail in append order.
// The story must exist.
func (s *Store) Events(ctx context.Context, storyID string) ([]Event, error) {
	if _, err := s.Get(ctx, storyID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, story_id, kind, meta, at FROM story_events
		 WHERE story_id = ? ORDER BY id ASC`, storyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			e    Event
			meta *string
			at   int64
		)
		if err := rows.Scan(&e.ID, &e.StoryID, &e.Kind, &meta, &at); err != nil {
			return nil, err
		}
		e.At = fromMillis(at)
		if meta != nil && *meta != "" {
			if err := json.Unmarshal([]byte(*meta), &e.Meta); err != nil {
				// Tolerate malformed meta rather than hiding the event.
				e.Meta = map[string]any{"raw": *meta}
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CountEvents reports the number of events recorded for a story, including
// zero for a deleted story. Used by tests and the cleanup endpoint.
func (s *Store) CountEvents(ctx context.Context, storyID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM story_events WHERE story_id = ?`, storyID).Scan(&n)
	return n, err
}

package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "storyd/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

// Config configures the SQLite store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
	Limits      Limits
}

// Store is the SQLite-backed job store.
type Store struct {
	db     *sql.DB
	log    logx.Logger
	limits Limits

	now func() time.Time
}

// Open initializes the store, creating the database file and schema as needed.
func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	// Required for the story_events cascade.
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{db: db, log: log, limits: cfg.Limits, now: time.Now}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SetNow overrides the store's clock. Tests only.
func (s *Store) SetNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// ---- column helpers ----

func millis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullMillis(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return millis(*t)
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

const storyColumns = `id, chat_id, file_id, media_kind, file_name, file_size,
	overlay_text, overlay_position, overlay_color, audio_file_id, audio_volume,
	scheduled_at, close_friends, status, retry_count, last_retry_at,
	error_message, published_at, external_id, created_at, updated_at`

func scanStory(row interface{ Scan(...any) error }) (*Story, error) {
	var (
		st          Story
		fileName    sql.NullString
		overlayText sql.NullString
		audioFileID sql.NullString
		scheduledAt sql.NullInt64
		lastRetryAt sql.NullInt64
		errMsg      sql.NullString
		publishedAt sql.NullInt64
		externalID  sql.NullString
		createdAt   int64
		updatedAt   int64
	)
	err := row.Scan(
		&st.ID, &st.ChatID, &st.FileID, &st.MediaKind, &fileName, &st.FileSize,
		&overlayText, &st.Overlay.Position, &st.Overlay.Color, &audioFileID, &st.Overlay.AudioVolume,
		&scheduledAt, &st.CloseFriends, &st.Status, &st.RetryCount, &lastRetryAt,
		&errMsg, &publishedAt, &externalID, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}
	st.FileName = fileName.String
	st.Overlay.Text = overlayText.String
	st.Overlay.AudioFileID = audioFileID.String
	if scheduledAt.Valid {
		t := fromMillis(scheduledAt.Int64)
		st.ScheduledAt = &t
	}
	if lastRetryAt.Valid {
		t := fromMillis(lastRetryAt.Int64)
		st.LastRetryAt = &t
	}
	st.ErrorMessage = errMsg.String
	if publishedAt.Valid {
		t := fromMillis(publishedAt.Int64)
		st.PublishedAt = &t
	}
	st.ExternalID = externalID.String
	st.CreatedAt = fromMillis(createdAt)
	st.UpdatedAt = fromMillis(updatedAt)
	return &st, nil
}

func (s *Store) queryStories(ctx context.Context, query string, args ...any) ([]Story, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Story
	for rows.Next() {
		st, err := scanStory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

package store

import (
	"time"
)

// Status is the lifecycle state of a story.
//
// PUBLISHED and CANCELLED are terminal. ERROR is terminal only once
// retry_count has reached the retry ceiling; below it the story can be
// re-admitted to PENDING by the retry evaluator.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPending   Status = "PENDING"
	StatusPublished Status = "PUBLISHED"
	StatusError     Status = "ERROR"
	StatusCancelled Status = "CANCELLED"
)

func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusPublished, StatusError, StatusCancelled:
		return true
	}
	return false
}

type MediaKind string

const (
	MediaPhoto MediaKind = "photo"
	MediaVideo MediaKind = "video"
)

type OverlayPosition string

const (
	PositionTop    OverlayPosition = "top"
	PositionCenter OverlayPosition = "center"
	PositionBottom OverlayPosition = "bottom"
)

// RetryHardCap is the schema-level bound on retry_count. The automatic
// retry ceiling (default 3) is configured separately and lower; the gap is
// reserved for manual re-admissions.
const RetryHardCap = 5

// Overlay presentation defaults.
const (
	DefaultOverlayColor = "#FFFFFF"
	DefaultAudioVolume  = 0.5
)

// Overlay describes optional presentation layers applied at publish time.
// Zero value means no overlays.
type Overlay struct {
	Text        string          `json:"text,omitempty"`
	Position    OverlayPosition `json:"position,omitempty"`
	Color       string          `json:"color,omitempty"`
	AudioFileID string          `json:"audio_file_id,omitempty"`
	AudioVolume float64         `json:"audio_volume,omitempty"` // [0,1]
}

func (o Overlay) HasText() bool  { return o.Text != "" }
func (o Overlay) HasAudio() bool { return o.AudioFileID != "" }

// Story is a scheduled publication unit.
type Story struct {
	ID           string     `json:"id"`
	ChatID       int64      `json:"chat_id"`
	FileID       string     `json:"file_id"`
	MediaKind    MediaKind  `json:"media_kind"`
	FileName     string     `json:"file_name,omitempty"`
	FileSize     int64      `json:"file_size,omitempty"`
	Overlay      Overlay    `json:"overlay"`
	ScheduledAt  *time.Time `json:"scheduled_at,omitempty"` // nil only while DRAFT
	CloseFriends bool       `json:"close_friends"`
	Status       Status     `json:"status"`
	RetryCount   int        `json:"retry_count"`
	LastRetryAt  *time.Time `json:"last_retry_at,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
	ExternalID   string     `json:"external_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Event is one immutable entry in a story's audit trail.
type Event struct {
	ID      int64          `json:"id"`
	StoryID string         `json:"story_id"`
	Kind    string         `json:"kind"`
	Meta    map[string]any `json:"meta,omitempty"`
	At      time.Time      `json:"at"`
}

// Event kinds written by the engine.
const (
	EventCreated         = "created"
	EventFinalized       = "finalized"
	EventDispatchAttempt = "dispatch_attempt"
	EventPublished       = "published"
	EventRetryScheduled  = "retry_scheduled"
	EventCancelled       = "cancelled"
)

// CreateParams is the intake payload for a new story.
type CreateParams struct {
	ChatID       int64
	FileID       string
	MediaKind    MediaKind
	FileName     string
	FileSize     int64
	Overlay      Overlay
	ScheduledAt  time.Time // ignored for drafts when zero
	CloseFriends bool
	Draft        bool
}

// Limits bounds intake per owner. Zero values disable the corresponding check.
type Limits struct {
	MaxPendingPerOwner int
	MaxDraftsPerOwner  int
	// MaxPerDay caps how many of an owner's stories may occupy one UTC
	// publication day (scheduled or already published).
	MaxPerDay        int
	MaxScheduleAhead time.Duration
}

// SweepPolicy holds the per-status retention windows and the retry ceiling
// that marks an ERROR story as permanently failed.
type SweepPolicy struct {
	PublishedAfter time.Duration
	ErrorAfter     time.Duration
	CancelledAfter time.Duration
	RetryCeiling   int
}

// SweepResult reports per-status deletion counts for one sweep pass.
type SweepResult struct {
	Published int `json:"published"`
	Errored   int `json:"errored"`
	Cancelled int `json:"cancelled"`
}

func (r SweepResult) Total() int { return r.Published + r.Errored + r.Cancelled }

// OwnerSnapshot is the raw per-owner aggregate read in one pass.
// Derived figures (success rate and friends) are computed by the stats
// package, not here.
type OwnerSnapshot struct {
	Total             int
	ByStatus          map[Status]int
	CloseFriends      int
	Photos            int
	Videos            int
	WithText          int
	WithAudio         int
	LastPublishedAt   *time.Time
	NextScheduledAt   *time.Time
	RetrySumPublished int
}

// ErrorDay is one row of the daily ERROR rollup.
type ErrorDay struct {
	Day          string  `json:"day"` // YYYY-MM-DD (UTC)
	Count        int     `json:"count"`
	AvgRetries   float64 `json:"avg_retries"`
	MaxRetries   int     `json:"max_retries"`
	PermanentlyFailed int `json:"permanently_failed"`
}

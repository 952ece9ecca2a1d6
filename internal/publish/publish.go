// Package publish defines the narrow interface to the external publishing
// platform and the adapters the daemon ships with.
//
// The engine never talks to the platform directly: the dispatcher hands a
// request to an Executor and records the outcome. Failures are opaque
// strings carried verbatim into the story's error_message.
package publish

import (
	"context"
	"errors"
	"strings"

	"storyd/internal/store"
)

// Request carries everything the platform needs for one publication.
type Request struct {
	StoryID      string          `json:"story_id"`
	FileID       string          `json:"file_id"`
	MediaKind    store.MediaKind `json:"media_kind"`
	Overlay      store.Overlay   `json:"overlay"`
	CloseFriends bool            `json:"close_friends"`
}

// Executor performs the actual publish action. It may block for the
// duration of a network call; the dispatcher bounds it with a per-job
// timeout. On success it returns the platform's publication id.
type Executor interface {
	Publish(ctx context.Context, req Request) (externalID string, err error)
}

// ErrNotConfigured is returned when no executor endpoint is set.
var ErrNotConfigured = errors.New("executor not configured")

// retryableMarkers classify failures that are typically transient on the
// publishing platform. The classification is observational only (recorded
// into the dispatch_attempt event); retry admission is purely time and
// count based.
var retryableMarkers = []string{
	"timeout",
	"connection",
	"network",
	"temporarily unavailable",
	"rate limit",
	"429",
	"500",
	"502",
	"503",
}

// Retryable reports whether err looks like a transient platform failure.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retryableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

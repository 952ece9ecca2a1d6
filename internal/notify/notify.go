// Package notify pushes publication outcomes to the story owner's chat.
//
// This is a thin collaborator around the engine: it observes transitions
// the dispatcher already applied and must never influence them. Send
// failures are logged and dropped.
package notify

import (
	"context"

	"storyd/internal/store"
)

// Notifier receives publication outcomes. Implementations must be safe for
// concurrent use; the dispatcher calls them from its per-job goroutines.
type Notifier interface {
	Published(ctx context.Context, st *store.Story)
	Failed(ctx context.Context, st *store.Story, permanent bool)
}

// Nop discards all outcomes.
type Nop struct{}

func (Nop) Published(context.Context, *store.Story)    {}
func (Nop) Failed(context.Context, *store.Story, bool) {}

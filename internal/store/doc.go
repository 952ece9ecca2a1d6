// Package store is the durable record of every scheduled story and the
// single source of truth for its lifecycle state.
//
// All status transitions go through conditional updates (compare-and-set on
// the previously observed status), so concurrent dispatcher or sweeper
// instances racing on the same story cannot both apply a transition: the
// loser's update affects zero rows and is reported as a no-op.
//
// Each story owns an append-only event trail (story_events) that is deleted
// with the story (cascade).
package store

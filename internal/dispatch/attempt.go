package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storyd/internal/publish"
	"storyd/internal/retry"
	"storyd/internal/store"
	logx "storyd/pkg/logx"
)

// attempt executes one due story and applies the outcome. The executor call
// runs under the service context bounded by the per-job timeout; the outcome
// write runs detached so shutdown cannot strand a settled attempt.
func (s *Service) attempt(ctx context.Context, st *store.Story, cfg Config, pol retry.Policy) {
	start := time.Now()

	execCtx, cancel := context.WithTimeout(ctx, cfg.JobTimeout)
	externalID, err := s.exec.Publish(execCtx, publish.Request{
		StoryID:      st.ID,
		FileID:       st.FileID,
		MediaKind:    st.MediaKind,
		Overlay:      st.Overlay,
		CloseFriends: st.CloseFriends,
	})
	cancel()

	wctx, wcancel := context.WithTimeout(context.Background(), outcomeWriteTimeout)
	defer wcancel()

	if err == nil {
		s.applySuccess(wctx, st, externalID, time.Since(start))
		return
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("publish timed out after %s", cfg.JobTimeout)
	}
	s.applyFailure(wctx, st, err, pol, time.Since(start))
}

func (s *Service) applySuccess(ctx context.Context, st *store.Story, externalID string, took time.Duration) {
	ok, err := s.st.MarkPublished(ctx, st.ID, externalID)
	if err != nil {
		s.log.Error("publish succeeded but status update failed",
			logx.String("story", st.ID), logx.Err(err))
		return
	}
	if !ok {
		// Lost the race (cancelled or claimed elsewhere); discard.
		s.log.Debug("publish outcome discarded, story no longer pending",
			logx.String("story", st.ID))
		return
	}

	if err := s.st.AppendEvent(ctx, st.ID, store.EventPublished, map[string]any{
		"external_id": externalID,
		"took_ms":     took.Milliseconds(),
	}); err != nil {
		s.log.Warn("event append failed", logx.String("story", st.ID), logx.Err(err))
	}
	s.log.Info("story published",
		logx.String("story", st.ID), logx.Int64("chat", st.ChatID), logx.Duration("took", took))

	if fresh, err := s.st.Get(ctx, st.ID); err == nil {
		s.notifier.Published(ctx, fresh)
	}
}

func (s *Service) applyFailure(ctx context.Context, st *store.Story, cause error, pol retry.Policy, took time.Duration) {
	ok, err := s.st.MarkFailed(ctx, st.ID, cause.Error())
	if err != nil {
		s.log.Error("publish failed and status update failed too",
			logx.String("story", st.ID), logx.Err(err))
		return
	}
	if !ok {
		s.log.Debug("failure outcome discarded, story no longer pending",
			logx.String("story", st.ID))
		return
	}

	if err := s.st.AppendEvent(ctx, st.ID, store.EventDispatchAttempt, map[string]any{
		"error":     cause.Error(),
		"retryable": publish.Retryable(cause),
		"took_ms":   took.Milliseconds(),
	}); err != nil {
		s.log.Warn("event append failed", logx.String("story", st.ID), logx.Err(err))
	}

	fresh, err := s.st.Get(ctx, st.ID)
	if err != nil {
		s.log.Warn("story vanished after failure", logx.String("story", st.ID), logx.Err(err))
		return
	}
	permanent := fresh.RetryCount >= pol.Ceiling
	s.log.Warn("publish attempt failed",
		logx.String("story", st.ID),
		logx.Int("retry_count", fresh.RetryCount),
		logx.Bool("permanent", permanent),
		logx.Err(cause))

	s.notifier.Failed(ctx, fresh, permanent)
}

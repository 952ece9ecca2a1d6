package publish

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps an executor with a token bucket so the daemon never
// hammers the publishing platform, whatever the dispatch concurrency is.
// Wait respects the per-job context, so a job whose timeout expires while
// queued behind the limiter fails like any other timed-out attempt.
type RateLimited struct {
	inner   Executor
	limiter *rate.Limiter
}

// NewRateLimited caps publish calls at perMinute per minute (burst 1).
// perMinute <= 0 disables the limit.
func NewRateLimited(inner Executor, perMinute int) Executor {
	if perMinute <= 0 {
		return inner
	}
	return &RateLimited{
		inner:   inner,
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), 1),
	}
}

func (r *RateLimited) Publish(ctx context.Context, req Request) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.inner.Publish(ctx, req)
}

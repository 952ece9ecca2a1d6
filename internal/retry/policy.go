// Package retry decides when a failed story may be dispatched again.
//
// The policy is a fixed delay applied uniformly: a story in ERROR is
// eligible once its retry count is below the ceiling and the configured
// delay has elapsed since the last attempt. Callers wanting growing
// backoff swap the Delay between evaluator passes; the policy itself
// never grows it.
package retry

import (
	"time"

	"storyd/internal/store"
)

const (
	// DefaultCeiling is the automatic re-admission bound. The store allows
	// retry counts up to store.RetryHardCap for manual cases; the evaluator
	// stops earlier.
	DefaultCeiling = 3

	DefaultDelay = 5 * time.Minute
)

type Policy struct {
	Ceiling int
	Delay   time.Duration
}

func Default() Policy {
	return Policy{Ceiling: DefaultCeiling, Delay: DefaultDelay}
}

func (p Policy) withDefaults() Policy {
	if p.Ceiling <= 0 {
		p.Ceiling = DefaultCeiling
	}
	if p.Ceiling > store.RetryHardCap {
		p.Ceiling = store.RetryHardCap
	}
	if p.Delay <= 0 {
		p.Delay = DefaultDelay
	}
	return p
}

// Normalize clamps the policy into its valid range.
func (p Policy) Normalize() Policy { return p.withDefaults() }

// Eligible reports whether st may be re-admitted to PENDING at the given
// instant. Stories at or past the ceiling are never eligible; they stay in
// ERROR until the retention sweeper removes them.
func (p Policy) Eligible(st *store.Story, now time.Time) bool {
	p = p.withDefaults()
	if st == nil || st.Status != store.StatusError {
		return false
	}
	if st.RetryCount >= p.Ceiling {
		return false
	}
	if st.LastRetryAt == nil {
		return true
	}
	return now.Sub(*st.LastRetryAt) >= p.Delay
}

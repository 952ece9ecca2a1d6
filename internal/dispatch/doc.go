// Package dispatch runs the scheduler loop.
//
// Each tick re-admits retry-eligible failures, selects due PENDING stories
// (earliest first, bounded batch) and executes them concurrently through
// the configured Executor, each attempt under its own timeout. Outcomes
// are applied with conditional updates, so a tick can never double-publish
// a story that another instance already moved out of PENDING.
//
// A slow executor call never blocks the tick: attempts run on their own
// goroutines, bounded by a semaphore, and a story already in flight in
// this process is skipped until its attempt settles.
package dispatch

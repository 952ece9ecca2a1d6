// Package sweep removes aged terminal stories on a schedule.
package sweep

import (
	"context"
	"sync"
	"time"

	"storyd/internal/store"
	logx "storyd/pkg/logx"
)

type Config struct {
	Schedule       string // cron spec, e.g. "0 3 * * *"
	PublishedAfter time.Duration
	ErrorAfter     time.Duration
	CancelledAfter time.Duration
	RetryCeiling   int
}

const (
	DefaultSchedule       = "0 3 * * *"
	DefaultPublishedAfter = 30 * 24 * time.Hour
	DefaultErrorAfter     = 7 * 24 * time.Hour
	DefaultCancelledAfter = 7 * 24 * time.Hour
)

type Sweeper struct {
	mu  sync.Mutex
	cfg Config

	st  *store.Store
	log logx.Logger
}

func New(cfg Config, st *store.Store, log logx.Logger) *Sweeper {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Sweeper{st: st, log: log}
	s.applyLocked(cfg)
	return s
}

func (s *Sweeper) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Sweeper) applyLocked(cfg Config) {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.PublishedAfter <= 0 {
		cfg.PublishedAfter = DefaultPublishedAfter
	}
	if cfg.ErrorAfter <= 0 {
		cfg.ErrorAfter = DefaultErrorAfter
	}
	if cfg.CancelledAfter <= 0 {
		cfg.CancelledAfter = DefaultCancelledAfter
	}
	s.cfg = cfg
}

func (s *Sweeper) Schedule() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Schedule
}

// Run performs one retention pass and reports per-status deletion counts.
func (s *Sweeper) Run(ctx context.Context) (store.SweepResult, error) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	start := time.Now()
	res, err := s.st.Sweep(ctx, store.SweepPolicy{
		PublishedAfter: cfg.PublishedAfter,
		ErrorAfter:     cfg.ErrorAfter,
		CancelledAfter: cfg.CancelledAfter,
		RetryCeiling:   cfg.RetryCeiling,
	})
	if err != nil {
		s.log.Error("sweep failed", logx.Err(err))
		return res, err
	}
	s.log.Debug("sweep completed",
		logx.Int("removed", res.Total()), logx.Duration("took", time.Since(start)))
	return res, nil
}

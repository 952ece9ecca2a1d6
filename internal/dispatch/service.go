package dispatch

import (
	"context"
	"sync"
	"time"

	"storyd/internal/notify"
	"storyd/internal/publish"
	"storyd/internal/retry"
	"storyd/internal/store"
	logx "storyd/pkg/logx"
)

type Config struct {
	Enabled       bool
	Interval      time.Duration // tick cadence, wired to the cron service
	BatchSize     int
	JobTimeout    time.Duration // per-job executor bound
	MaxConcurrent int
}

const (
	defaultInterval      = 60 * time.Second
	defaultBatchSize     = 20
	defaultJobTimeout    = 2 * time.Minute
	defaultMaxConcurrent = 4

	// outcomeWriteTimeout bounds the store write applied after an executor
	// call settles. It runs on a detached context so a shutdown mid-attempt
	// doesn't lose a completed publish.
	outcomeWriteTimeout = 10 * time.Second
)

type Service struct {
	mu  sync.Mutex
	cfg Config
	pol retry.Policy

	log      logx.Logger
	st       *store.Store
	exec     publish.Executor
	notifier notify.Notifier

	now func() time.Time

	// Attempts outlive the tick that launched them, so they run under the
	// service's own context, not the tick's. Cancelled only when a drain
	// gives up waiting.
	runCtx    context.Context
	runCancel context.CancelFunc

	// inflight guards against re-selecting a story whose attempt from a
	// previous tick is still running in this process. Cross-process races
	// are handled by the store's conditional updates.
	imu      sync.Mutex
	inflight map[string]struct{}

	sem chan struct{}
	wg  sync.WaitGroup
}

func New(cfg Config, pol retry.Policy, st *store.Store, exec publish.Executor, notifier notify.Notifier, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	s := &Service{
		log:      log,
		st:       st,
		exec:     exec,
		notifier: notifier,
		now:      time.Now,
		inflight: map[string]struct{}{},
	}
	s.runCtx, s.runCancel = context.WithCancel(context.Background())
	s.applyLocked(cfg, pol)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	en := s.cfg.Enabled
	s.mu.Unlock()
	return en
}

func (s *Service) Interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Interval
}

func (s *Service) Apply(cfg Config, pol retry.Policy) {
	s.mu.Lock()
	s.applyLocked(cfg, pol)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config, pol retry.Policy) {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = defaultJobTimeout
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = defaultMaxConcurrent
	}
	s.cfg = cfg
	s.pol = pol.Normalize()

	// Resize the semaphore only when capacity changed; in-flight attempts
	// keep the tokens they already hold.
	if s.sem == nil || cap(s.sem) != cfg.MaxConcurrent {
		s.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
}

// SetNow overrides the service clock. Tests only.
func (s *Service) SetNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// Tick runs one scheduler pass. Store-level failures abort the pass and
// surface to the caller (the next tick retries); per-job failures are
// contained in the job's own record.
func (s *Service) Tick(ctx context.Context) error {
	s.mu.Lock()
	cfg := s.cfg
	pol := s.pol
	sem := s.sem
	s.mu.Unlock()

	if !cfg.Enabled {
		return nil
	}
	now := s.now().UTC()

	if err := s.readmit(ctx, now, pol, cfg.BatchSize); err != nil {
		return err
	}

	due, err := s.st.ListDue(ctx, now, cfg.BatchSize)
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	s.log.Debug("dispatching due stories", logx.Int("count", len(due)))

	for i := range due {
		st := due[i]
		if !s.claim(st.ID) {
			continue
		}
		select {
		case sem <- struct{}{}:
		default:
			// All workers busy. Leave the rest PENDING; the next tick
			// picks them up again.
			s.release(st.ID)
			s.log.Debug("dispatch slots exhausted", logx.Int("deferred", len(due)-i))
			return nil
		}

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() { <-sem }()
			defer s.release(st.ID)
			// The tick context only bounds the selection queries above;
			// cancelling it after Tick returns must not abort the attempt.
			s.attempt(s.runCtx, &st, cfg, pol)
		}()
	}
	return nil
}

// readmit moves retry-eligible failures back to PENDING, oldest first.
func (s *Service) readmit(ctx context.Context, now time.Time, pol retry.Policy, limit int) error {
	eligible, err := s.st.ListRetryEligible(ctx, now, pol.Ceiling, pol.Delay, limit)
	if err != nil {
		return err
	}
	for i := range eligible {
		st := &eligible[i]
		ok, err := s.st.Readmit(ctx, st.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue // another writer got there first
		}
		if err := s.st.AppendEvent(ctx, st.ID, store.EventRetryScheduled, map[string]any{
			"retry_count": st.RetryCount,
		}); err != nil {
			s.log.Warn("event append failed", logx.String("story", st.ID), logx.Err(err))
		}
		s.log.Info("story re-admitted for retry",
			logx.String("story", st.ID), logx.Int("retry_count", st.RetryCount))
	}
	return nil
}

func (s *Service) claim(id string) bool {
	s.imu.Lock()
	defer s.imu.Unlock()
	if _, busy := s.inflight[id]; busy {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Service) release(id string) {
	s.imu.Lock()
	delete(s.inflight, id)
	s.imu.Unlock()
}

// Drain waits for in-flight attempts to settle, up to ctx. When ctx
// expires first, the remaining attempts are cancelled and waited out; their
// outcome writes run on detached contexts, so nothing settled is lost.
func (s *Service) Drain(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.log.Warn("drain timed out, aborting in-flight attempts")
		s.runCancel()
		<-done
	}
}

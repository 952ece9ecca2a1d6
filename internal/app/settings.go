package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"storyd/internal/api"
	"storyd/internal/config"
	"storyd/internal/dispatch"
	"storyd/internal/notify"
	"storyd/internal/publish"
	"storyd/internal/retry"
	"storyd/internal/store"
	"storyd/internal/sweep"
	logx "storyd/pkg/logx"
)

// settings is the fully parsed runtime view of one config revision.
// Building it is the validation step: a revision that doesn't build is
// rejected before anything is applied.
type settings struct {
	logging  logx.Config
	store    store.Config
	dispatch dispatch.Config
	policy   retry.Policy
	sweep    sweep.Config
	api      api.Config
	notify   notify.Config
	executor publish.HTTPConfig
	execRate int
}

func buildSettings(cfg *config.Config) (*settings, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	s := &settings{}

	s.logging = logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}

	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	ahead, err := config.ParseDurationOrDefault("limits.max_schedule_ahead", cfg.Limits.MaxScheduleAhead, 365*24*time.Hour)
	if err != nil {
		return nil, err
	}
	path := cfg.Storage.Path
	if strings.TrimSpace(path) == "" {
		path = "./data/storyd.db"
	}
	maxPending := cfg.Limits.MaxPendingPerOwner
	if maxPending == 0 {
		maxPending = 25
	}
	maxDrafts := cfg.Limits.MaxDraftsPerOwner
	if maxDrafts == 0 {
		maxDrafts = 5
	}
	maxPerDay := cfg.Limits.MaxPerDay
	if maxPerDay == 0 {
		maxPerDay = 50
	}
	s.store = store.Config{
		Path:        path,
		BusyTimeout: busy,
		Limits: store.Limits{
			MaxPendingPerOwner: maxPending,
			MaxDraftsPerOwner:  maxDrafts,
			MaxPerDay:          maxPerDay,
			MaxScheduleAhead:   ahead,
		},
	}

	interval, err := config.ParseDurationOrDefault("dispatcher.interval", cfg.Dispatcher.Interval, 60*time.Second)
	if err != nil {
		return nil, err
	}
	jobTimeout, err := config.ParseDurationOrDefault("dispatcher.job_timeout", cfg.Dispatcher.JobTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	s.dispatch = dispatch.Config{
		Enabled:       cfg.Dispatcher.Enabled,
		Interval:      interval,
		BatchSize:     cfg.Dispatcher.BatchSize,
		JobTimeout:    jobTimeout,
		MaxConcurrent: cfg.Dispatcher.MaxConcurrent,
	}

	delay, err := config.ParseDurationOrDefault("retry.delay", cfg.Retry.Delay, retry.DefaultDelay)
	if err != nil {
		return nil, err
	}
	s.policy = retry.Policy{Ceiling: cfg.Retry.Ceiling, Delay: delay}.Normalize()

	s.sweep = sweep.Config{
		Schedule:       cfg.Retention.Schedule,
		PublishedAfter: daysOrDefault(cfg.Retention.PublishedDays, sweep.DefaultPublishedAfter),
		ErrorAfter:     daysOrDefault(cfg.Retention.ErrorDays, sweep.DefaultErrorAfter),
		CancelledAfter: daysOrDefault(cfg.Retention.CancelledDays, sweep.DefaultCancelledAfter),
		RetryCeiling:   s.policy.Ceiling,
	}

	execTimeout, err := config.ParseDurationOrDefault("executor.timeout", cfg.Executor.Timeout, 90*time.Second)
	if err != nil {
		return nil, err
	}
	s.executor = publish.HTTPConfig{
		URL:     cfg.Executor.URL,
		Token:   envOr("STORYD_EXECUTOR_TOKEN", cfg.Executor.Token),
		Timeout: execTimeout,
	}
	s.execRate = cfg.Executor.RatePerMin

	pollTimeout, err := config.ParseDurationOrDefault("notifier.poll_timeout", cfg.Notifier.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	s.notify = notify.Config{
		Enabled:     cfg.Notifier.Enabled,
		Token:       envOr("STORYD_TELEGRAM_TOKEN", cfg.Notifier.Token),
		PollTimeout: pollTimeout,
	}
	if s.notify.Enabled && strings.TrimSpace(s.notify.Token) == "" {
		return nil, fmt.Errorf("notifier.enabled requires a token (config or STORYD_TELEGRAM_TOKEN)")
	}

	s.api = api.Config{
		Addr:        cfg.API.Addr,
		Token:       envOr("STORYD_API_TOKEN", cfg.API.Token),
		CORSOrigins: cfg.API.CORSOrigins,
	}

	return s, nil
}

func daysOrDefault(days int, def time.Duration) time.Duration {
	if days <= 0 {
		return def
	}
	return time.Duration(days) * 24 * time.Hour
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

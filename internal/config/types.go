package config

// Config is the daemon's on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "5m").
// Unknown keys are rejected at load time so typos are caught early.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Dispatcher DispatcherConfig `json:"dispatcher"`
	Retry      RetryConfig      `json:"retry,omitempty"`
	Retention  RetentionConfig  `json:"retention,omitempty"`
	Limits     LimitsConfig     `json:"limits,omitempty"`
	Executor   ExecutorConfig   `json:"executor"`
	Notifier   NotifierConfig   `json:"notifier,omitempty"`
	API        APIConfig        `json:"api,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file,omitempty"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// DispatcherConfig controls the scheduler loop.
//
// Defaults (when fields are omitted/zero):
//   - interval: "60s"
//   - batch_size: 20
//   - job_timeout: "120s"
//   - max_concurrent: 4
type DispatcherConfig struct {
	Enabled       bool   `json:"enabled"`
	Interval      string `json:"interval,omitempty"`
	BatchSize     int    `json:"batch_size,omitempty"`
	JobTimeout    string `json:"job_timeout,omitempty"`
	MaxConcurrent int    `json:"max_concurrent,omitempty"`
}

// RetryConfig controls automatic re-admission of failed stories.
// The ceiling defaults to 3 and is clamped to the schema's hard cap of 5.
type RetryConfig struct {
	Ceiling int    `json:"ceiling,omitempty"`
	Delay   string `json:"delay,omitempty"` // default "5m"
}

// RetentionConfig controls the daily cleanup of aged terminal stories.
type RetentionConfig struct {
	Schedule      string `json:"schedule,omitempty"`       // cron spec, default "0 3 * * *"
	PublishedDays int    `json:"published_days,omitempty"` // default 30
	ErrorDays     int    `json:"error_days,omitempty"`     // default 7
	CancelledDays int    `json:"cancelled_days,omitempty"` // default 7
}

// LimitsConfig bounds intake per owner. Zero disables a check.
type LimitsConfig struct {
	MaxPendingPerOwner int    `json:"max_pending_per_owner,omitempty"` // default 25
	MaxDraftsPerOwner  int    `json:"max_drafts_per_owner,omitempty"`  // default 5
	MaxPerDay          int    `json:"max_per_day,omitempty"`           // default 50, per UTC day
	MaxScheduleAhead   string `json:"max_schedule_ahead,omitempty"`    // default "8760h" (one year)
}

type ExecutorConfig struct {
	URL        string `json:"url"`
	Token      string `json:"token,omitempty"`
	Timeout    string `json:"timeout,omitempty"` // default "90s"
	RatePerMin int    `json:"rate_per_min,omitempty"`
}

type NotifierConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// APIConfig controls the admin HTTP server.
//
// Security note:
//   - Prefer binding to localhost (the default).
//   - If you bind to a non-loopback address, set a token.
type APIConfig struct {
	Addr        string   `json:"addr,omitempty"` // default "127.0.0.1:8787"
	Token       string   `json:"token,omitempty"`
	CORSOrigins []string `json:"cors_origins,omitempty"`
}

package config

// Config is the on-disk configuration. JSON and YAML are both accepted;
// YAML is coerced to JSON so the strict decoder covers both formats.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Storage controls the optional run-history persistence layer.
	// Nil means disabled.
	Storage *StorageConfig `json:"storage,omitempty"`

	// Debug controls the optional diagnostics HTTP endpoint (pprof).
	// Nil means disabled.
	Debug *DebugConfig `json:"debug,omitempty"`

	Engine EngineConfig `json:"engine"`
}

// DebugConfig controls the pprof/liveness endpoint. A non-loopback addr
// requires token or allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./taskpilot_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// EngineConfig controls scheduling and execution.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - max_concurrent_tasks: 4
//   - queue_size: 256
//   - timeout: "0s" (disabled)
//   - resource_threshold: 80
//   - working_hours_per_day: 8
//   - duration_type: "normal"
//   - poll_interval: "30s"
type EngineConfig struct {
	MaxConcurrentTasks int `json:"max_concurrent_tasks,omitempty"`
	QueueSize          int `json:"queue_size,omitempty"`

	// Timeout bounds each execution attempt. Use "0s" to disable.
	Timeout string `json:"timeout,omitempty"`

	Retry *RetryConfig `json:"retry_policy,omitempty"`

	// ResourceThreshold is the utilization percent above which dispatch is
	// held.
	ResourceThreshold float64 `json:"resource_threshold,omitempty"`
	HoldRetryDelay    string  `json:"hold_retry_delay,omitempty"`
	HistorySize       int     `json:"history_size,omitempty"`

	// PollInterval is the scheduling tick: a Go duration or a cron
	// expression (prefix "cron:" or a 5-field spec).
	PollInterval string `json:"poll_interval,omitempty"`

	WorkingHoursPerDay int    `json:"working_hours_per_day,omitempty"`
	DurationType       string `json:"duration_type,omitempty"` // optimistic | normal | pessimistic

	// ProjectEnd is a hard leveling bound (RFC 3339 date or timestamp).
	ProjectEnd string `json:"project_end,omitempty"`

	Weights    *WeightsConfig    `json:"priority_weights,omitempty"`
	Thresholds *ThresholdsConfig `json:"category_thresholds,omitempty"`

	// DeadlineHorizon is the window over which deadline proximity decays
	// to zero. Default "720h" (30 days).
	DeadlineHorizon string `json:"deadline_horizon,omitempty"`
}

type RetryConfig struct {
	MaxRetries    int     `json:"max_retries"`
	BackoffFactor float64 `json:"backoff_factor,omitempty"`
	MaxWait       string  `json:"max_wait,omitempty"`
	BaseDelay     string  `json:"base_delay,omitempty"`
}

// WeightsConfig mirrors the priority formula weights. All values are
// fractions and each group should sum to 1.
type WeightsConfig struct {
	Dependencies float64 `json:"dependencies"`
	CriticalPath float64 `json:"critical_path"`
	Cost         float64 `json:"cost"`
	UserPriority float64 `json:"user_priority"`

	Deadline    float64 `json:"deadline"`
	Risk        float64 `json:"risk"`
	Stakeholder float64 `json:"stakeholder"`
}

type ThresholdsConfig struct {
	Importance float64 `json:"importance"`
	Urgency    float64 `json:"urgency"`
}

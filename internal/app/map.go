package app

import (
	"fmt"
	"strings"
	"time"

	"taskpilot/internal/config"
	"taskpilot/internal/debugsrv"
	"taskpilot/internal/executor"
	"taskpilot/internal/model"
	"taskpilot/internal/priority"
	"taskpilot/internal/scheduler"
	"taskpilot/internal/storage"
)

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) debugsrv.Config {
	if cfg == nil || cfg.Debug == nil {
		return debugsrv.Config{}
	}
	d := cfg.Debug
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
	}
}

func mapExecutorConfig(cfg *config.Config) (executor.Config, error) {
	out := executor.Config{}
	if cfg == nil {
		return out, nil
	}
	e := cfg.Engine

	out.Workers = e.MaxConcurrentTasks
	out.QueueSize = e.QueueSize
	out.ResourceThreshold = e.ResourceThreshold
	out.HistorySize = e.HistorySize

	var err error
	if out.Timeout, err = config.ParseDurationField("engine.timeout", e.Timeout); err != nil {
		return out, err
	}
	if out.HoldRetryDelay, err = config.ParseDurationField("engine.hold_retry_delay", e.HoldRetryDelay); err != nil {
		return out, err
	}

	if r := e.Retry; r != nil {
		out.Retry.MaxRetries = r.MaxRetries
		out.Retry.BackoffFactor = r.BackoffFactor
		if out.Retry.MaxWait, err = config.ParseDurationField("engine.retry_policy.max_wait", r.MaxWait); err != nil {
			return out, err
		}
		if out.Retry.BaseDelay, err = config.ParseDurationField("engine.retry_policy.base_delay", r.BaseDelay); err != nil {
			return out, err
		}
	} else {
		out.Retry.MaxRetries = 3
	}
	return out, nil
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	out := scheduler.Config{}
	if cfg == nil {
		return out, nil
	}
	e := cfg.Engine

	out.TickSpec = strings.TrimSpace(e.PollInterval)
	out.WorkingHoursPerDay = e.WorkingHoursPerDay

	switch strings.ToLower(strings.TrimSpace(e.DurationType)) {
	case "optimistic":
		out.DurationType = model.DurationOptimistic
	case "pessimistic":
		out.DurationType = model.DurationPessimistic
	case "", "normal":
		out.DurationType = model.DurationNormal
	default:
		return out, fmt.Errorf("engine.duration_type %q: want optimistic, normal or pessimistic", e.DurationType)
	}

	if e.ProjectEnd != "" {
		ts, err := config.ParseTime(e.ProjectEnd)
		if err != nil {
			return out, fmt.Errorf("engine.project_end: %w", err)
		}
		out.ProjectEnd = &ts
	}

	if w := e.Weights; w != nil {
		out.Weights = priority.Weights{
			Dependencies: w.Dependencies,
			CriticalPath: w.CriticalPath,
			Cost:         w.Cost,
			UserPriority: w.UserPriority,
			Deadline:     w.Deadline,
			Risk:         w.Risk,
			Stakeholder:  w.Stakeholder,
		}
	}
	if t := e.Thresholds; t != nil {
		out.Thresholds = priority.Thresholds{Importance: t.Importance, Urgency: t.Urgency}
	}

	var err error
	if out.DeadlineHorizon, err = config.ParseDurationField("engine.deadline_horizon", e.DeadlineHorizon); err != nil {
		return out, err
	}

	// Reject a tick spec the scheduler cannot parse before it is applied.
	if out.TickSpec != "" {
		if _, err := scheduler.ParseTickSpec(out.TickSpec); err != nil {
			return out, fmt.Errorf("engine.poll_interval: %w", err)
		}
	}
	return out, nil
}

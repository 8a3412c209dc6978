package config

import (
	"fmt"
	"math"
	"net"
	"strings"
)

// Validate checks a parsed config before it is committed. It is installed
// as the Watch validator so a bad edit never replaces a good config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}

	e := cfg.Engine
	for _, f := range []struct{ path, raw string }{
		{"engine.timeout", e.Timeout},
		{"engine.hold_retry_delay", e.HoldRetryDelay},
		{"engine.deadline_horizon", e.DeadlineHorizon},
	} {
		if _, err := ParseDurationField(f.path, f.raw); err != nil {
			return err
		}
	}
	if e.Retry != nil {
		if e.Retry.MaxRetries < 0 {
			return fmt.Errorf("engine.retry_policy.max_retries must be >= 0")
		}
		if e.Retry.BackoffFactor < 0 {
			return fmt.Errorf("engine.retry_policy.backoff_factor must be >= 0")
		}
		if _, err := ParseDurationField("engine.retry_policy.max_wait", e.Retry.MaxWait); err != nil {
			return err
		}
		if _, err := ParseDurationField("engine.retry_policy.base_delay", e.Retry.BaseDelay); err != nil {
			return err
		}
	}
	if e.ResourceThreshold < 0 || e.ResourceThreshold > 100 {
		return fmt.Errorf("engine.resource_threshold %.1f outside [0,100]", e.ResourceThreshold)
	}
	if e.WorkingHoursPerDay < 0 || e.WorkingHoursPerDay > 24 {
		return fmt.Errorf("engine.working_hours_per_day %d outside [0,24]", e.WorkingHoursPerDay)
	}
	switch strings.ToLower(strings.TrimSpace(e.DurationType)) {
	case "", "optimistic", "normal", "pessimistic":
	default:
		return fmt.Errorf("engine.duration_type %q: want optimistic, normal or pessimistic", e.DurationType)
	}
	if e.ProjectEnd != "" {
		if _, err := ParseTime(e.ProjectEnd); err != nil {
			return fmt.Errorf("engine.project_end: %w", err)
		}
	}
	if e.Weights != nil {
		w := e.Weights
		if err := checkWeightGroup("importance", w.Dependencies, w.CriticalPath, w.Cost, w.UserPriority); err != nil {
			return err
		}
		if err := checkWeightGroup("urgency", w.Deadline, w.Risk, w.Stakeholder); err != nil {
			return err
		}
	}
	if t := e.Thresholds; t != nil {
		if t.Importance < 0 || t.Importance > 100 || t.Urgency < 0 || t.Urgency > 100 {
			return fmt.Errorf("engine.category_thresholds outside [0,100]")
		}
	}

	if s := cfg.Storage; s != nil {
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			return err
		}
	}

	if d := cfg.Debug; d != nil && d.Enabled && strings.TrimSpace(d.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(d.Addr)); err != nil {
			return fmt.Errorf("debug.addr %q: want host:port", d.Addr)
		}
	}
	return nil
}

func checkWeightGroup(name string, ws ...float64) error {
	sum := 0.0
	for _, w := range ws {
		if w < 0 || w > 1 {
			return fmt.Errorf("engine.priority_weights (%s): weight %.3f outside [0,1]", name, w)
		}
		sum += w
	}
	if math.Abs(sum-1) > 0.01 {
		return fmt.Errorf("engine.priority_weights (%s): weights sum to %.3f, want 1", name, sum)
	}
	return nil
}

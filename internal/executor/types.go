package executor

import (
	"context"
	"math"
	"time"

	"taskpilot/internal/model"
)

// RetryPolicy governs transient-failure handling.
//
// The delay before retry attempt k (k = failures so far) is
// min(MaxWait, BaseDelay * BackoffFactor^(k-1)). With the defaults
// (BaseDelay 1s, factor 2) the observed delays are 1s, 2s, 4s, ...
type RetryPolicy struct {
	MaxRetries    int
	BackoffFactor float64
	MaxWait       time.Duration

	// BaseDelay scales the whole backoff curve; tests shrink it to keep
	// retries fast.
	BaseDelay time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2
	}
	if p.MaxWait <= 0 {
		p.MaxWait = 60 * time.Second
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	return p
}

// Delay returns the wait before the next attempt after `failures`
// consecutive failures (failures >= 1).
func (p RetryPolicy) Delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(p.BackoffFactor, float64(failures-1)))
	if d > p.MaxWait || d <= 0 {
		d = p.MaxWait
	}
	return d
}

// Config controls the execution runtime.
type Config struct {
	// Workers bounds concurrent executions (maxConcurrentTasks).
	Workers   int
	QueueSize int

	// Timeout bounds each individual attempt. 0 disables the bound.
	Timeout time.Duration

	Retry RetryPolicy

	// ResourceThreshold is the utilization percent above which dispatch is
	// held (backpressure). Default 80.
	ResourceThreshold float64

	// HoldRetryDelay is how long a worker waits before re-offering a held
	// task.
	HoldRetryDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.ResourceThreshold <= 0 {
		c.ResourceThreshold = 80
	}
	if c.HoldRetryDelay <= 0 {
		c.HoldRetryDelay = 500 * time.Millisecond
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	c.Retry = c.Retry.withDefaults()
	return c
}

// Runner is the unit of work for one task. It must observe ctx at safe
// checkpoints; cancellation is cooperative.
type Runner func(ctx context.Context, t *model.Task) error

// ExecutionResult is published on the event bus for every finished
// execution and kept in the history ring.
type ExecutionResult struct {
	RunID      string        `json:"run_id"`
	TaskID     string        `json:"task_id"`
	Status     model.Status  `json:"status"`
	Attempts   int           `json:"attempts"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	QueueDelay time.Duration `json:"queue_delay"`
	Error      string        `json:"error,omitempty"`
	TimedOut   bool          `json:"timed_out,omitempty"`
}

// Snapshot is a lightweight diagnostics view.
type Snapshot struct {
	Workers           int
	QueueLen          int
	QueueCap          int
	InFlight          int
	Held              uint64
	Utilization       float64
	ResourceThreshold float64
	History           []ExecutionResult
}

type queuedTask struct {
	task       *model.Task
	enqueuedAt time.Time
}

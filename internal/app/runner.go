package app

import (
	"context"
	"time"

	"taskpilot/internal/model"
)

// simulationRunner is the default runner for dry runs: it sleeps a token
// amount scaled by the task's effort estimate so queue delays, timeouts and
// cancellation behave realistically without doing real work.
func simulationRunner(ctx context.Context, t *model.Task) error {
	d := time.Duration(t.Effort.Hours(model.DurationNormal)*10) * time.Millisecond
	if d <= 0 {
		d = 10 * time.Millisecond
	}
	if d > 2*time.Second {
		d = 2 * time.Second
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/eventbus"
	"taskpilot/internal/model"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedTask) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qt, ok := <-queue:
			if !ok {
				return
			}
			if !s.holdUntilAdmissible(ctx, stopCh, qt) {
				// Shutdown while held: hand the task back to the scheduler.
				_ = s.repo.Transition(qt.task.ID, model.StatusBlocked)
				return
			}
			atomic.AddInt32(&s.inFlight, 1)
			s.execOne(ctx, stopCh, qt)
			atomic.AddInt32(&s.inFlight, -1)
		}
	}
}

// holdUntilAdmissible applies admission control: while system utilization is
// at or above the configured threshold the task is held and re-offered.
// Returns false when shutting down.
func (s *Service) holdUntilAdmissible(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) bool {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	announced := false
	for s.mon != nil {
		util := s.mon.Utilization()
		if util < cfg.ResourceThreshold {
			return true
		}
		atomic.AddUint64(&s.held, 1)
		if !announced {
			announced = true
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskHeld, Data: qt.task.ID})
			}
			if s.warnLimiter.Allow() {
				s.log.Warn("dispatch held: resource threshold",
					logx.String("task", qt.task.ID),
					logx.Float64("utilization", util),
					logx.Float64("threshold", cfg.ResourceThreshold),
				)
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-stopCh:
			return false
		case <-time.After(cfg.HoldRetryDelay):
		}
	}
	return true
}

func (s *Service) execOne(ctx context.Context, stopCh <-chan struct{}, qt queuedTask) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	// Re-read the task: it may have been cancelled while queued.
	t, ok := s.repo.Task(qt.task.ID)
	if !ok || t.Status != model.StatusAdmitted {
		return
	}

	start := time.Now()
	res := ExecutionResult{
		RunID:      uuid.NewString(),
		TaskID:     t.ID,
		Started:    start,
		QueueDelay: start.Sub(qt.enqueuedAt),
	}

	if err := Validate(t); err != nil {
		// Never reaches Running; report as cancelled, not as a failed run.
		_ = s.repo.Transition(t.ID, model.StatusCancelled)
		res.Status = model.StatusCancelled
		res.Error = err.Error()
		s.finishCancelled(res)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.registerCancel(t.ID, cancel)
	defer func() {
		s.unregisterCancel(t.ID)
		cancel()
	}()

	maxAttempts := 1 + cfg.Retry.MaxRetries
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		res.Attempts = attempt

		if terr := s.repo.Transition(t.ID, model.StatusRunning); terr != nil {
			// Moved out from under us (external cancel between attempts).
			res.Status = model.StatusCancelled
			res.Error = "cancelled"
			s.finishCancelled(res)
			return
		}
		if attempt == 1 {
			s.log.Debug("task.started", logx.String("task", t.ID), logx.Duration("queue_delay", res.QueueDelay))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskStarted, Data: res})
			}
		}

		var timedOut bool
		err, timedOut = s.runAttempt(runCtx, cfg, t)
		res.TimedOut = res.TimedOut || timedOut

		// Cooperative cancellation wins over the attempt outcome, unless the
		// attempt merely timed out (a transient failure).
		if runCtx.Err() == context.Canceled {
			if ctx.Err() != nil {
				// Shutdown, not a user cancel: hand the task back for the
				// next scheduling tick.
				_ = s.repo.Transition(t.ID, model.StatusBlocked)
				return
			}
			_ = s.repo.Transition(t.ID, model.StatusCancelled)
			res.Status = model.StatusCancelled
			res.Error = "cancelled"
			s.finishCancelled(res)
			return
		}

		if err == nil {
			_ = s.repo.Transition(t.ID, model.StatusCompleted)
			s.completeWorkflowStep(t.ID)
			res.Status = model.StatusCompleted
			s.finish(res, false)
			return
		}

		// Record the failed attempt. Retries counts retries actually taken,
		// so it only moves when another attempt follows.
		willRetry := !IsNoRetry(err) && attempt < maxAttempts
		_ = s.repo.UpdateTask(t.ID, func(u *model.Task) error {
			if willRetry {
				u.Retries++
			}
			if model.CanTransition(u.Status, model.StatusFailed) {
				u.Status = model.StatusFailed
			}
			return nil
		})

		if !willRetry {
			break
		}

		if terr := s.repo.Transition(t.ID, model.StatusRetrying); terr != nil {
			res.Status = model.StatusCancelled
			res.Error = "cancelled"
			s.finishCancelled(res)
			return
		}

		delay := cfg.Retry.Delay(attempt)
		res.Error = err.Error()
		s.log.Debug("task retry scheduled",
			logx.String("task", t.ID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskRetrying, Data: res})
		}

		tmr := time.NewTimer(delay)
		select {
		case <-runCtx.Done():
			if !tmr.Stop() {
				<-tmr.C
			}
			if ctx.Err() != nil {
				_ = s.repo.UpdateTask(t.ID, func(u *model.Task) error {
					u.Status = model.StatusBlocked
					return nil
				})
				return
			}
			_ = s.repo.Transition(t.ID, model.StatusCancelled)
			res.Status = model.StatusCancelled
			res.Error = "cancelled"
			s.finishCancelled(res)
			return
		case <-stopCh:
			if !tmr.Stop() {
				<-tmr.C
			}
			_ = s.repo.UpdateTask(t.ID, func(u *model.Task) error {
				u.Status = model.StatusBlocked
				return nil
			})
			return
		case <-tmr.C:
		}
	}

	// Terminal failure.
	res.Status = model.StatusFailed
	if !IsNoRetry(err) && res.Attempts >= maxAttempts && cfg.Retry.MaxRetries > 0 {
		err = fmt.Errorf("%w: %v", ErrRetryExhausted, err)
	}
	res.Error = err.Error()
	s.finish(res, true)
}

// runAttempt executes one bounded attempt. Panics are converted to errors so
// one bad task cannot kill a worker.
func (s *Service) runAttempt(ctx context.Context, cfg Config, t *model.Task) (err error, timedOut bool) {
	attemptCtx := ctx
	var cancel context.CancelFunc
	if cfg.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("task.panic", logx.String("task", t.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		if s.runner != nil {
			err = s.runner(attemptCtx, t)
		}
	}()

	if attemptCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("%w after %s", ErrTimeout, cfg.Timeout), true
	}
	return err, false
}

// completeWorkflowStep toggles the first pending step: a successful
// execution corresponds to the task's next unit of workflow.
func (s *Service) completeWorkflowStep(id string) {
	_ = s.repo.UpdateTask(id, func(u *model.Task) error {
		for i := range u.Steps {
			if !u.Steps[i].Done {
				u.Steps[i].Done = true
				break
			}
		}
		return nil
	})
}

func (s *Service) finishCancelled(res ExecutionResult) {
	res.Duration = time.Since(res.Started)
	s.recordHistory(res)
	s.appendRun(res)
	s.log.Info("task.cancelled", logx.String("task", res.TaskID), logx.Duration("dur", res.Duration))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCancelled, Data: res})
	}
}

func (s *Service) finish(res ExecutionResult, failed bool) {
	res.Duration = time.Since(res.Started)
	s.recordHistory(res)
	s.appendRun(res)
	if s.mon != nil {
		s.mon.RecordExecution(res.TaskID, res.Duration, failed)
	}

	if failed {
		s.log.Warn("task.failed",
			logx.String("task", res.TaskID),
			logx.String("err", res.Error),
			logx.Duration("dur", res.Duration),
			logx.Int("attempts", res.Attempts),
		)
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskFailed, Data: res})
		}
		return
	}

	s.log.Info("task.completed",
		logx.String("task", res.TaskID),
		logx.Duration("queue_delay", res.QueueDelay),
		logx.Duration("dur", res.Duration),
		logx.Int("attempts", res.Attempts),
	)
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCompleted, Data: res})
	}
}

// appendRun persists the result to the history store, best-effort.
func (s *Service) appendRun(res ExecutionResult) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := s.store.AppendRun(ctx, storage.RunRecord{
		At:         res.Started,
		RunID:      res.RunID,
		TaskID:     res.TaskID,
		Status:     string(res.Status),
		Attempts:   res.Attempts,
		DurationMS: res.Duration.Milliseconds(),
		Error:      res.Error,
	})
	if err != nil {
		s.log.Warn("run history append failed", logx.String("task", res.TaskID), logx.Err(err))
	}
}

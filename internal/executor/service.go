// Package executor is the bounded concurrent runtime that executes admitted
// tasks: validation, admission control against system utilization, per-attempt
// timeouts, retry with exponential backoff and cooperative cancellation.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/asaskevich/govalidator"
	"golang.org/x/time/rate"

	"taskpilot/internal/eventbus"
	"taskpilot/internal/model"
	"taskpilot/internal/repo"
	rtsup "taskpilot/internal/runtime/supervisor"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

// UtilizationSource abstracts the performance monitor so tests can force
// admission decisions.
type UtilizationSource interface {
	Utilization() float64
	RecordExecution(taskID string, d time.Duration, failed bool)
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	log    logx.Logger
	bus    eventbus.Bus
	repo   *repo.Repository
	mon    UtilizationSource
	runner Runner
	store  storage.Store

	q        chan queuedTask
	sup      *rtsup.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}

	cancelMu sync.Mutex
	cancels  map[string]context.CancelFunc

	hmu     sync.Mutex
	history []ExecutionResult

	inFlight int32
	held     uint64

	// warnLimiter throttles repeated queue-full / held warnings.
	warnLimiter *rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, r *repo.Repository, mon UtilizationSource, runner Runner, store storage.Store) *Service {
	return &Service{
		cfg:         cfg.withDefaults(),
		log:         log,
		bus:         bus,
		repo:        r,
		mon:         mon,
		runner:      runner,
		store:       store,
		cancels:     map[string]context.CancelFunc{},
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// Apply swaps execution settings at runtime. Changing the worker count or
// queue size restarts the pool.
func (s *Service) Apply(ctx context.Context, cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running := s.stopCh != nil && s.stopDone == nil
	s.mu.Unlock()

	if !running {
		return
	}
	if prev.Workers != cfg.Workers || prev.QueueSize != cfg.QueueSize {
		s.Stop(ctx)
		s.Start(ctx)
	}
}

func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	s.q = make(chan queuedTask, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.stopDone = nil
	stopCh := s.stopCh
	queue := s.q
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "executor"))))
	sup := s.sup
	s.mu.Unlock()

	for i := 0; i < cfg.Workers; i++ {
		idx := i
		sup.GoRestart(fmt.Sprintf("worker.%d", idx), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		})
	}

	s.log.Info("executor started", logx.Int("workers", cfg.Workers), logx.Int("queue", cap(queue)))
}

func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	if s.stopDone != nil {
		done := s.stopDone
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}

	done := make(chan struct{})
	s.stopDone = done
	close(s.stopCh)
	sup := s.sup
	s.mu.Unlock()

	if sup != nil {
		sup.Cancel()
	}

	go func() {
		if sup != nil {
			_ = sup.Wait(context.Background())
		}
		s.mu.Lock()
		q := s.q
		s.q = nil
		s.stopCh = nil
		s.stopDone = nil
		s.sup = nil
		s.mu.Unlock()
		s.requeueDrained(q)
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("executor stopped")
	case <-ctx.Done():
		s.log.Warn("executor stop timed out", logx.Err(ctx.Err()))
	}
}

// requeueDrained hands tasks still sitting in the queue back to the
// scheduler. Workers have exited by the time this runs, so anything left in
// the channel would otherwise be stranded in Admitted; Blocked is re-admitted
// on the next scheduling tick.
func (s *Service) requeueDrained(q chan queuedTask) {
	if q == nil {
		return
	}
	for {
		select {
		case qt := <-q:
			if err := s.repo.Transition(qt.task.ID, model.StatusBlocked); err != nil {
				continue
			}
			s.log.Info("queued task returned to scheduler on stop", logx.String("task", qt.task.ID))
			if s.bus != nil {
				s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskBlocked, Data: qt.task.ID})
			}
		default:
			return
		}
	}
}

// Dispatch enqueues an admitted task without blocking. On a full queue the
// scheduler re-offers the task on its next tick.
func (s *Service) Dispatch(t *model.Task) error {
	if t == nil || t.ID == "" {
		return fmt.Errorf("%w: task id required", ErrValidation)
	}

	s.mu.Lock()
	q := s.q
	stopCh := s.stopCh
	stopping := s.stopDone != nil
	s.mu.Unlock()

	if q == nil || stopCh == nil {
		return ErrStopped
	}
	if stopping {
		return ErrStopping
	}

	select {
	case q <- queuedTask{task: t, enqueuedAt: time.Now()}:
		return nil
	default:
		if s.warnLimiter.Allow() {
			s.log.Warn("task dropped: queue full", logx.String("task", t.ID), logx.Int("queue_cap", cap(q)))
		}
		return ErrQueueFull
	}
}

// Cancel signals the in-flight execution of id, if any. It reports whether
// a running execution was signalled; queued and idle tasks are handled by
// the caller through the repository state machine.
func (s *Service) Cancel(id string) bool {
	s.cancelMu.Lock()
	cancel := s.cancels[id]
	s.cancelMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

func (s *Service) registerCancel(id string, cancel context.CancelFunc) {
	s.cancelMu.Lock()
	s.cancels[id] = cancel
	s.cancelMu.Unlock()
}

func (s *Service) unregisterCancel(id string) {
	s.cancelMu.Lock()
	delete(s.cancels, id)
	s.cancelMu.Unlock()
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	q := s.q
	s.mu.Unlock()

	ql, qc := 0, 0
	if q != nil {
		ql = len(q)
		qc = cap(q)
	}

	s.hmu.Lock()
	h := make([]ExecutionResult, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	util := 0.0
	if s.mon != nil {
		util = s.mon.Utilization()
	}

	return Snapshot{
		Workers:           cfg.Workers,
		QueueLen:          ql,
		QueueCap:          qc,
		InFlight:          int(atomic.LoadInt32(&s.inFlight)),
		Held:              atomic.LoadUint64(&s.held),
		Utilization:       util,
		ResourceThreshold: cfg.ResourceThreshold,
		History:           h,
	}
}

func (s *Service) recordHistory(res ExecutionResult) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, res)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

// Validate rejects malformed or unsafe task input before it can reach
// Running: missing ids/titles, non-printable ids, control characters and
// out-of-range scores.
func Validate(t *model.Task) error {
	if t == nil {
		return fmt.Errorf("%w: task is nil", ErrValidation)
	}
	id := strings.TrimSpace(t.ID)
	if id == "" {
		return fmt.Errorf("%w: task id required", ErrValidation)
	}
	if !govalidator.IsPrintableASCII(id) {
		return fmt.Errorf("%w: task id %q must be printable ASCII", ErrValidation, t.ID)
	}
	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: task title required", ErrValidation)
	}
	if hasControlChars(t.Title) {
		return fmt.Errorf("%w: task title contains control characters", ErrValidation)
	}
	if hasControlChars(t.Description) {
		return fmt.Errorf("%w: task description contains control characters", ErrValidation)
	}
	if t.Importance < 0 || t.Importance > 100 {
		return fmt.Errorf("%w: importance %.1f outside [0,100]", ErrValidation, t.Importance)
	}
	if t.Urgency < 0 || t.Urgency > 100 {
		return fmt.Errorf("%w: urgency %.1f outside [0,100]", ErrValidation, t.Urgency)
	}
	for _, step := range t.Steps {
		if strings.TrimSpace(step.Name) == "" || hasControlChars(step.Name) {
			return fmt.Errorf("%w: invalid workflow step name %q", ErrValidation, step.Name)
		}
	}
	return nil
}

// hasControlChars reports control characters other than tab and newline,
// which are legitimate in free-form text.
func hasControlChars(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && r != '\n' && r != '\t' && r != '\r'
	})
}

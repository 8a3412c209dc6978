// Package scheduler runs the single-threaded decision loop: graph
// resolution, priority scoring, resource leveling and queue computation all
// happen on one goroutine so identical inputs always produce identical
// schedules.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskpilot/internal/depgraph"
	"taskpilot/internal/eventbus"
	"taskpilot/internal/leveling"
	"taskpilot/internal/model"
	"taskpilot/internal/priority"
	"taskpilot/internal/repo"
	rtsup "taskpilot/internal/runtime/supervisor"
	logx "taskpilot/pkg/logx"
)

// Config controls the decision loop.
type Config struct {
	// TickSpec is the polling tick: a cron expression or an interval
	// (see ParseTickSpec). Ticks also fire on task completion and on
	// allocation changes, independent of this spec.
	TickSpec string

	DurationType       model.DurationType
	WorkingHoursPerDay int
	ProjectEnd         *time.Time

	Weights         priority.Weights
	Thresholds      priority.Thresholds
	DeadlineHorizon time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickSpec == "" {
		c.TickSpec = "30s"
	}
	if c.DurationType == "" {
		c.DurationType = model.DurationNormal
	}
	if c.WorkingHoursPerDay <= 0 {
		c.WorkingHoursPerDay = 8
	}
	zero := priority.Weights{}
	if c.Weights == zero {
		c.Weights = priority.DefaultWeights()
	}
	if c.Thresholds == (priority.Thresholds{}) {
		c.Thresholds = priority.DefaultThresholds()
	}
	return c
}

// Dispatcher receives admitted tasks. The executor implements this.
type Dispatcher interface {
	Dispatch(t *model.Task) error
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	bus  eventbus.Bus
	repo *repo.Repository
	calc *priority.Calculator
	disp Dispatcher

	kick chan struct{}

	sup     *rtsup.Supervisor
	stopCh  chan struct{}
	started bool

	lastQueue     []QueueEntry
	lastConflicts []leveling.Conflict
	lastCycles    []*depgraph.CycleError
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, r *repo.Repository, disp Dispatcher) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:  cfg,
		log:  log,
		bus:  bus,
		repo: r,
		calc: priority.NewCalculator(cfg.Weights, cfg.Thresholds, cfg.DeadlineHorizon),
		disp: disp,
		kick: make(chan struct{}, 1),
	}
}

// Apply swaps scoring/leveling settings at runtime and forces a tick.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	s.cfg = cfg
	s.calc = priority.NewCalculator(cfg.Weights, cfg.Thresholds, cfg.DeadlineHorizon)
	s.mu.Unlock()
	s.Kick()
}

// Kick requests a tick. Non-blocking; coalesces with a pending request.
func (s *Service) Kick() {
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	cfg := s.cfg
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log.With(logx.String("comp", "scheduler"))))
	sup := s.sup
	s.started = true
	s.mu.Unlock()

	spec, err := ParseTickSpec(cfg.TickSpec)
	if err != nil {
		return err
	}

	// Polling tick source.
	var cr *cron.Cron
	if spec.Kind == SpecCron {
		cr = cron.New()
		if _, err := cr.AddFunc(spec.Cron, s.Kick); err != nil {
			return err
		}
		cr.Start()
	}

	sup.GoRestart("decision_loop", func(c context.Context) error {
		s.loop(c, stopCh, spec)
		return nil
	})

	if cr != nil {
		sup.Go0("tick_cron_stop", func(c context.Context) {
			<-c.Done()
			cr.Stop()
		})
	}

	s.log.Info("scheduler started", logx.String("tick", cfg.TickSpec))
	return nil
}

func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	sup := s.sup
	s.started = false
	s.mu.Unlock()

	if sup != nil {
		_ = sup.Stop(ctx)
	}
	s.log.Info("scheduler stopped")
}

func (s *Service) loop(ctx context.Context, stopCh <-chan struct{}, spec ParsedSpec) {
	// Completion, failure and cancellation events re-trigger scheduling so
	// dependents unblock promptly.
	var events <-chan eventbus.Event
	unsub := func() {}
	if s.bus != nil {
		events, unsub = s.bus.Subscribe(32)
	}
	defer unsub()

	var tick <-chan time.Time
	if spec.Kind == SpecInterval {
		t := time.NewTicker(spec.Every)
		defer t.Stop()
		tick = t.C
	}

	// Initial pass so submissions before Start are scheduled.
	s.Tick(time.Now())

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-s.kick:
			s.Tick(time.Now())
		case <-tick:
			s.Tick(time.Now())
		case e, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			switch e.Type {
			case eventbus.TypeTaskCompleted, eventbus.TypeTaskFailed, eventbus.TypeTaskCancelled:
				s.Tick(time.Now())
			}
		}
	}
}

// Tick runs one full decision pass: resolve, score, level, compute, admit.
// It is exported so tests can drive the loop synchronously.
func (s *Service) Tick(now time.Time) {
	s.mu.Lock()
	cfg := s.cfg
	calc := s.calc
	s.mu.Unlock()

	tasks := s.repo.Tasks()
	if len(tasks) == 0 {
		return
	}

	res := depgraph.Resolve(tasks)
	for _, cyc := range res.Cycles {
		s.log.Warn("dependency cycle; subgraph skipped", logx.Any("path", cyc.Path))
	}

	s.scoreTasks(tasks, res, calc, now)

	conflicts := s.levelAllocations(tasks, cfg)

	// Re-snapshot: scoring updated importance/urgency/category.
	tasks = s.repo.Tasks()
	queue := ComputeSchedule(tasks, res.Order, s.repo.Allocations(), cfg.DurationType, cfg.WorkingHoursPerDay, now)

	s.mu.Lock()
	s.lastQueue = queue
	s.lastConflicts = conflicts
	s.lastCycles = res.Cycles
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeScheduleTick, Data: len(queue)})
	}

	s.admit(queue)
}

// scoreTasks recomputes priority for queued/blocked tasks only. Scores are
// frozen once a task is admitted.
func (s *Service) scoreTasks(tasks []*model.Task, res *depgraph.Result, calc *priority.Calculator, now time.Time) {
	maxDeps := res.MaxDependents()
	var maxCost, maxUser float64
	for _, t := range tasks {
		if t.CostImpact > maxCost {
			maxCost = t.CostImpact
		}
		if t.UserPriority > maxUser {
			maxUser = t.UserPriority
		}
	}

	for _, t := range tasks {
		if t.Status != model.StatusPending && t.Status != model.StatusBlocked {
			continue
		}
		if res.Failed(t.ID) {
			continue
		}
		score := calc.ScoreTask(t, priority.Context{
			Dependents:      res.Dependents[t.ID],
			MaxDependents:   maxDeps,
			OnCriticalPath:  res.OnCriticalPath[t.ID],
			MaxCostImpact:   maxCost,
			MaxUserPriority: maxUser,
			Now:             now,
		})
		err := s.repo.UpdateTask(t.ID, func(u *model.Task) error {
			u.Importance = score.Importance
			u.Urgency = score.Urgency
			u.Category = score.Category
			return nil
		})
		if err != nil {
			s.log.Warn("score update failed", logx.String("task", t.ID), logx.Err(err))
		}
	}
}

func (s *Service) levelAllocations(tasks []*model.Task, cfg Config) []leveling.Conflict {
	allocs := s.repo.Allocations()
	if len(allocs) == 0 {
		return nil
	}

	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	out := leveling.Level(leveling.Input{
		Allocations:        allocs,
		Tasks:              byID,
		DurationType:       cfg.DurationType,
		WorkingHoursPerDay: cfg.WorkingHoursPerDay,
		ProjectEnd:         cfg.ProjectEnd,
	})

	// Single writer: only the decision loop replaces the allocation table.
	s.repo.SetAllocations(out.Allocations)

	for _, c := range out.Conflicts {
		if !c.Resolved {
			s.log.Warn("unresolved resource conflict",
				logx.String("resource", c.ResourceID),
				logx.String("task_a", c.AllocationA),
				logx.String("task_b", c.AllocationB),
			)
		}
	}
	return out.Conflicts
}

// admit walks the queue head-first, blocks tasks with unmet dependencies and
// hands admissible tasks to the dispatcher.
func (s *Service) admit(queue []QueueEntry) {
	for _, entry := range queue {
		t, ok := s.repo.Task(entry.TaskID)
		if !ok {
			continue
		}

		if !entry.Admissible {
			// Held in Blocked; an internal scheduling state, not an error
			// surfaced to the caller.
			if t.Status == model.StatusPending {
				if err := s.repo.Transition(t.ID, model.StatusBlocked); err == nil && s.bus != nil {
					s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskBlocked, Data: t.ID})
				}
			}
			continue
		}

		if t.Status != model.StatusPending && t.Status != model.StatusBlocked {
			continue
		}
		if err := s.repo.Transition(t.ID, model.StatusAdmitted); err != nil {
			s.log.Warn("admit transition failed", logx.String("task", t.ID), logx.Err(err))
			continue
		}
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskAdmitted, Data: t.ID})
		}
		if s.disp == nil {
			continue
		}
		t.Status = model.StatusAdmitted
		if err := s.disp.Dispatch(t); err != nil {
			// Back to Blocked so the next tick re-offers it.
			s.log.Warn("dispatch failed; task re-queued", logx.String("task", t.ID), logx.Err(err))
			_ = s.repo.Transition(t.ID, model.StatusBlocked)
		}
	}
}

// Queue returns the queue computed by the most recent tick.
func (s *Service) Queue() []QueueEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]QueueEntry(nil), s.lastQueue...)
}

// Conflicts returns the leveling audit trail from the most recent tick.
func (s *Service) Conflicts() []leveling.Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]leveling.Conflict(nil), s.lastConflicts...)
}

// Cycles returns cycle errors observed in the most recent tick.
func (s *Service) Cycles() []*depgraph.CycleError {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*depgraph.CycleError(nil), s.lastCycles...)
}

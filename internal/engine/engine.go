// Package engine is the public facade: task and resource submission, schedule
// queries, cancellation and event subscription, backed by the scheduler and
// executor services.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"taskpilot/internal/commitfeed"
	"taskpilot/internal/depgraph"
	"taskpilot/internal/eventbus"
	"taskpilot/internal/executor"
	"taskpilot/internal/leveling"
	"taskpilot/internal/model"
	"taskpilot/internal/monitor"
	"taskpilot/internal/priority"
	"taskpilot/internal/repo"
	"taskpilot/internal/scheduler"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

var ErrNotFound = repo.ErrNotFound

type Engine struct {
	log   logx.Logger
	bus   eventbus.Bus
	repo  *repo.Repository
	sched *scheduler.Service
	exec  *executor.Service
	mon   *monitor.Monitor
	store storage.Store
	feed  commitfeed.Adapter
}

func New(log logx.Logger, bus eventbus.Bus, r *repo.Repository, sched *scheduler.Service, exec *executor.Service, mon *monitor.Monitor, store storage.Store) *Engine {
	return &Engine{
		log:   log,
		bus:   bus,
		repo:  r,
		sched: sched,
		exec:  exec,
		mon:   mon,
		store: store,
		feed:  commitfeed.NewAdapter(),
	}
}

// SubmitTask validates and registers a task, then requests a scheduling
// pass. Submissions that would close a dependency cycle are rejected with
// the full cycle path.
func (e *Engine) SubmitTask(t *model.Task) error {
	if err := executor.Validate(t); err != nil {
		return err
	}
	if t.DependsOn(t.ID) {
		return &depgraph.CycleError{Path: []string{t.ID}}
	}

	// Probe the graph with the candidate included before committing it.
	tasks := e.repo.Tasks()
	probe := append(tasks, t.Clone())
	res := depgraph.Resolve(probe)
	if res.Failed(t.ID) {
		for _, cyc := range res.Cycles {
			for _, id := range cyc.Path {
				if id == t.ID {
					return cyc
				}
			}
		}
		// Failed but not on a cycle path: a member of a cyclic subgraph.
		return fmt.Errorf("task %s depends on a cyclic subgraph", t.ID)
	}

	t.Status = model.StatusPending
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if err := e.repo.PutTask(t); err != nil {
		return err
	}
	e.log.Info("task submitted", logx.String("task", t.ID), logx.Int("deps", len(t.Dependencies)))
	e.sched.Kick()
	return nil
}

func (e *Engine) Task(id string) (*model.Task, error) {
	t, ok := e.repo.Task(id)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return t, nil
}

func (e *Engine) Tasks() []*model.Task { return e.repo.Tasks() }

func (e *Engine) SubmitResource(r *model.Resource) error {
	if err := e.repo.PutResource(r); err != nil {
		return err
	}
	e.log.Info("resource submitted", logx.String("resource", r.ID))
	return nil
}

func (e *Engine) Resources() []*model.Resource { return e.repo.Resources() }

// SetAllocations replaces the allocation table and triggers re-leveling.
func (e *Engine) SetAllocations(allocs []model.Allocation) error {
	for _, a := range allocs {
		if a.TaskID == "" || a.ResourceID == "" {
			return fmt.Errorf("%w: allocation needs task and resource ids", executor.ErrValidation)
		}
		if a.Percent <= 0 || a.Percent > 100 {
			return fmt.Errorf("%w: allocation percent %.1f outside (0,100]", executor.ErrValidation, a.Percent)
		}
		if a.End.Before(a.Start) {
			return fmt.Errorf("%w: allocation for %s ends before it starts", executor.ErrValidation, a.TaskID)
		}
	}
	e.repo.SetAllocations(allocs)
	e.sched.Kick()
	return nil
}

// Schedule returns the execution queue from the most recent decision pass.
func (e *Engine) Schedule() []scheduler.QueueEntry { return e.sched.Queue() }

// Conflicts returns the resource-leveling audit trail.
func (e *Engine) Conflicts() []leveling.Conflict { return e.sched.Conflicts() }

// Cycles returns dependency cycles detected in the task graph.
func (e *Engine) Cycles() []*depgraph.CycleError { return e.sched.Cycles() }

// PrioritizedTasks returns up to limit tasks ordered by composite priority,
// highest first. limit <= 0 returns all.
func (e *Engine) PrioritizedTasks(limit int) []*model.Task {
	tasks := e.repo.Tasks()
	sort.SliceStable(tasks, func(i, j int) bool {
		a := priority.Score{Importance: tasks[i].Importance, Urgency: tasks[i].Urgency}
		b := priority.Score{Importance: tasks[j].Importance, Urgency: tasks[j].Urgency}
		return priority.Less(a, tasks[i], b, tasks[j])
	})
	if limit > 0 && limit < len(tasks) {
		tasks = tasks[:limit]
	}
	return tasks
}

// CancelTask cancels a task in any non-terminal state. Cancelling a running
// task signals its execution context; cancelling a terminal task is a no-op.
func (e *Engine) CancelTask(id string) error {
	t, ok := e.repo.Task(id)
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if t.Status.Terminal() {
		return nil
	}

	if t.Status == model.StatusRunning || t.Status == model.StatusRetrying {
		if e.exec != nil && e.exec.Cancel(id) {
			// The worker owns the transition and the lifecycle event.
			return nil
		}
	}

	if err := e.repo.Transition(id, model.StatusCancelled); err != nil {
		// Lost the race against the worker; the execution path reports it.
		if errors.Is(err, model.ErrBadTransition) {
			return nil
		}
		return err
	}
	e.log.Info("task cancelled", logx.String("task", id))
	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: eventbus.TypeTaskCancelled, Data: id})
	}
	return nil
}

// SubscribeEvents exposes the execution lifecycle stream.
func (e *Engine) SubscribeEvents(buffer int) (<-chan eventbus.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// ApplyCommitMessage extracts task/step references from a commit message and
// marks those workflow steps done. Returns the updates that applied.
func (e *Engine) ApplyCommitMessage(message string) []commitfeed.StepUpdate {
	updates := e.feed.ParseCommitEvent(message)
	applied := updates[:0]
	for _, u := range updates {
		err := e.repo.UpdateTask(u.TaskID, func(t *model.Task) error {
			return t.SetStep(u.Step, u.Done)
		})
		if err != nil {
			e.log.Debug("commit step ignored", logx.String("task", u.TaskID), logx.String("step", u.Step), logx.Err(err))
			continue
		}
		applied = append(applied, u)
	}
	if len(applied) > 0 {
		e.sched.Kick()
	}
	return applied
}

// RecentRuns returns persisted execution history, newest first.
func (e *Engine) RecentRuns(ctx context.Context, limit int) ([]storage.RunRecord, error) {
	if e.store == nil {
		return nil, storage.ErrDisabled
	}
	return e.store.RecentRuns(ctx, limit)
}

// Stats returns monitor aggregates; ExecutorSnapshot the runtime view.
func (e *Engine) Stats() monitor.Stats { return e.mon.Snapshot() }

func (e *Engine) ExecutorSnapshot() executor.Snapshot { return e.exec.Snapshot() }

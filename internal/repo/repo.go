// Package repo holds the in-memory task/resource/allocation store.
//
// The repository is constructed per engine instance (no process-wide
// singleton) so tests can run independent schedulers side by side.
package repo

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"taskpilot/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("already exists")
)

// Repository permits concurrent reads; task mutations are serialized per task
// id so no two components transition the same task simultaneously.
type Repository struct {
	mu          sync.RWMutex
	tasks       map[string]*model.Task
	resources   map[string]*model.Resource
	allocations []model.Allocation

	lockMu sync.Mutex
	locks  map[string]*sync.Mutex
}

func New() *Repository {
	return &Repository{
		tasks:     map[string]*model.Task{},
		resources: map[string]*model.Resource{},
		locks:     map[string]*sync.Mutex{},
	}
}

func (r *Repository) lockFor(id string) *sync.Mutex {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	l := r.locks[id]
	if l == nil {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// ---- Tasks ----

func (r *Repository) PutTask(t *model.Task) error {
	if t == nil || t.ID == "" {
		return errors.New("task id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("task %s: %w", t.ID, ErrDuplicate)
	}
	r.tasks[t.ID] = t.Clone()
	return nil
}

func (r *Repository) Task(id string) (*model.Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, false
	}
	return t.Clone(), true
}

// Tasks returns clones of all tasks sorted by ascending id.
func (r *Repository) Tasks() []*model.Task {
	r.mu.RLock()
	out := make([]*model.Task, 0, len(r.tasks))
	for _, t := range r.tasks {
		out = append(out, t.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateTask applies fn to a copy of the task and commits the result.
// Updates to the same id are serialized; updates to different ids proceed in
// parallel.
func (r *Repository) UpdateTask(id string, fn func(*model.Task) error) error {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	r.mu.RLock()
	cur, ok := r.tasks[id]
	var cp *model.Task
	if ok {
		cp = cur.Clone()
	}
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err := fn(cp); err != nil {
		return err
	}

	r.mu.Lock()
	r.tasks[id] = cp
	r.mu.Unlock()
	return nil
}

// Transition moves a task through the state machine, rejecting illegal moves.
func (r *Repository) Transition(id string, to model.Status) error {
	return r.UpdateTask(id, func(t *model.Task) error {
		if t.Status == to {
			return nil
		}
		if !model.CanTransition(t.Status, to) {
			return fmt.Errorf("task %s: %w %s -> %s", id, model.ErrBadTransition, t.Status, to)
		}
		t.Status = to
		return nil
	})
}

// DeleteTask removes a task. Only the repository owner calls this; the
// scheduling components never destroy tasks.
func (r *Repository) DeleteTask(id string) {
	r.mu.Lock()
	delete(r.tasks, id)
	r.mu.Unlock()

	r.lockMu.Lock()
	delete(r.locks, id)
	r.lockMu.Unlock()
}

// ---- Resources ----

func (r *Repository) PutResource(res *model.Resource) error {
	if res == nil || res.ID == "" {
		return errors.New("resource id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[res.ID] = res.Clone()
	return nil
}

func (r *Repository) Resource(id string) (*model.Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[id]
	if !ok {
		return nil, false
	}
	return res.Clone(), true
}

func (r *Repository) Resources() []*model.Resource {
	r.mu.RLock()
	out := make([]*model.Resource, 0, len(r.resources))
	for _, res := range r.resources {
		out = append(out, res.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- Allocations ----

// SetAllocations replaces the allocation table. The table is single-writer:
// only the leveler/scheduler call this, everyone else reads.
func (r *Repository) SetAllocations(allocs []model.Allocation) {
	cp := append([]model.Allocation(nil), allocs...)
	r.mu.Lock()
	r.allocations = cp
	r.mu.Unlock()
}

func (r *Repository) Allocations() []model.Allocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]model.Allocation(nil), r.allocations...)
}

func (r *Repository) AllocationsForTask(taskID string) []model.Allocation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []model.Allocation
	for _, a := range r.allocations {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out
}

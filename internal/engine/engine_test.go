package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"taskpilot/internal/depgraph"
	"taskpilot/internal/eventbus"
	"taskpilot/internal/executor"
	"taskpilot/internal/model"
	"taskpilot/internal/monitor"
	"taskpilot/internal/repo"
	"taskpilot/internal/scheduler"
	"taskpilot/internal/storage"
	logx "taskpilot/pkg/logx"
)

type nopDispatcher struct{}

func (nopDispatcher) Dispatch(*model.Task) error { return nil }

func newTestEngine(t *testing.T) (*Engine, *repo.Repository) {
	t.Helper()
	r := repo.New()
	bus := eventbus.New()
	mon := monitor.New(logx.Nop())
	sched := scheduler.New(scheduler.Config{}, logx.Nop(), bus, r, nopDispatcher{})
	exec := executor.New(executor.Config{}, logx.Nop(), bus, r, mon, nil, nil)
	return New(logx.Nop(), bus, r, sched, exec, mon, nil), r
}

func TestSubmitTask(t *testing.T) {
	t.Parallel()
	eng, r := newTestEngine(t)

	if err := eng.SubmitTask(&model.Task{ID: "t1", Title: "one"}); err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	got, ok := r.Task("t1")
	if !ok || got.Status != model.StatusPending {
		t.Fatalf("stored = %+v", got)
	}
	if got.CreatedAt.IsZero() {
		t.Fatal("CreatedAt not set")
	}

	// Duplicates are rejected.
	if err := eng.SubmitTask(&model.Task{ID: "t1", Title: "again"}); !errors.Is(err, repo.ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestSubmitTaskValidation(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	err := eng.SubmitTask(&model.Task{ID: "t1"})
	if !errors.Is(err, executor.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestSubmitTaskSelfDependency(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	err := eng.SubmitTask(&model.Task{ID: "t1", Title: "x", Dependencies: []string{"t1"}})
	var cyc *depgraph.CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v, want CycleError", err)
	}
	if len(cyc.Path) != 1 || cyc.Path[0] != "t1" {
		t.Fatalf("cycle path = %v", cyc.Path)
	}
}

func TestSubmitTaskClosingCycleRejected(t *testing.T) {
	t.Parallel()
	eng, r := newTestEngine(t)

	if err := eng.SubmitTask(&model.Task{ID: "a", Title: "a", Dependencies: []string{"b"}}); err != nil {
		t.Fatalf("submit a: %v", err)
	}

	// b -> a closes the a -> b edge into a cycle.
	err := eng.SubmitTask(&model.Task{ID: "b", Title: "b", Dependencies: []string{"a"}})
	var cyc *depgraph.CycleError
	if !errors.As(err, &cyc) {
		t.Fatalf("err = %v, want CycleError", err)
	}
	found := false
	for _, id := range cyc.Path {
		if id == "b" {
			found = true
		}
	}
	if !found {
		t.Fatalf("cycle path %v does not name the rejected task", cyc.Path)
	}
	if _, ok := r.Task("b"); ok {
		t.Fatal("rejected task was stored")
	}
}

func TestCancelTask(t *testing.T) {
	t.Parallel()
	eng, r := newTestEngine(t)

	if err := eng.CancelTask("ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}

	if err := eng.SubmitTask(&model.Task{ID: "t1", Title: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := eng.CancelTask("t1"); err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	got, _ := r.Task("t1")
	if got.Status != model.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got.Status)
	}

	// Cancelling a terminal task is a no-op, not an error.
	if err := eng.CancelTask("t1"); err != nil {
		t.Fatalf("cancel cancelled: %v", err)
	}
}

func TestCancelTaskPublishesEvent(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	events, unsub := eng.SubscribeEvents(8)
	defer unsub()

	if err := eng.SubmitTask(&model.Task{ID: "t1", Title: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := eng.CancelTask("t1"); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Type == eventbus.TypeTaskCancelled {
				return
			}
		case <-deadline:
			t.Fatal("no cancellation event")
		}
	}
}

func TestSetAllocationsValidation(t *testing.T) {
	t.Parallel()
	eng, r := newTestEngine(t)
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		alloc model.Allocation
		ok    bool
	}{
		{name: "valid", alloc: model.Allocation{TaskID: "t", ResourceID: "r", Percent: 50, Start: start, End: start.AddDate(0, 0, 5)}, ok: true},
		{name: "missing resource", alloc: model.Allocation{TaskID: "t", Percent: 50, Start: start, End: start}},
		{name: "zero percent", alloc: model.Allocation{TaskID: "t", ResourceID: "r", Start: start, End: start}},
		{name: "over 100 percent", alloc: model.Allocation{TaskID: "t", ResourceID: "r", Percent: 120, Start: start, End: start}},
		{name: "end before start", alloc: model.Allocation{TaskID: "t", ResourceID: "r", Percent: 50, Start: start, End: start.AddDate(0, 0, -1)}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := eng.SetAllocations([]model.Allocation{tt.alloc})
			if tt.ok && err != nil {
				t.Fatalf("SetAllocations: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	if got := r.Allocations(); len(got) != 1 {
		t.Fatalf("allocations = %d, want only the valid batch", len(got))
	}
}

func TestPrioritizedTasks(t *testing.T) {
	t.Parallel()
	eng, r := newTestEngine(t)

	seed := []*model.Task{
		{ID: "low", Title: "low", Importance: 10, Urgency: 10},
		{ID: "high", Title: "high", Importance: 90, Urgency: 80},
		{ID: "mid", Title: "mid", Importance: 50, Urgency: 50},
	}
	for _, task := range seed {
		task.Status = model.StatusPending
		if err := r.PutTask(task); err != nil {
			t.Fatal(err)
		}
	}

	got := eng.PrioritizedTasks(0)
	if len(got) != 3 || got[0].ID != "high" || got[1].ID != "mid" || got[2].ID != "low" {
		ids := make([]string, len(got))
		for i, task := range got {
			ids[i] = task.ID
		}
		t.Fatalf("order = %v", ids)
	}

	top := eng.PrioritizedTasks(1)
	if len(top) != 1 || top[0].ID != "high" {
		t.Fatalf("top = %+v", top)
	}
}

func TestApplyCommitMessage(t *testing.T) {
	t.Parallel()
	eng, r := newTestEngine(t)

	task := &model.Task{
		ID: "auth-42", Title: "auth", Status: model.StatusPending,
		Steps: []model.WorkflowStep{{Name: "design"}, {Name: "build"}},
	}
	if err := r.PutTask(task); err != nil {
		t.Fatal(err)
	}

	applied := eng.ApplyCommitMessage("wire token refresh [auth-42:build] [auth-42:no-such-step] [ghost:build]")
	if len(applied) != 1 || applied[0].TaskID != "auth-42" || applied[0].Step != "build" {
		t.Fatalf("applied = %+v", applied)
	}

	got, _ := r.Task("auth-42")
	if done, _ := got.StepDone("build"); !done {
		t.Fatal("step not marked done")
	}
	if done, _ := got.StepDone("design"); done {
		t.Fatal("unrelated step toggled")
	}

	if applied := eng.ApplyCommitMessage("no references here"); len(applied) != 0 {
		t.Fatalf("applied = %+v, want none", applied)
	}
}

func TestRecentRunsDisabled(t *testing.T) {
	t.Parallel()
	eng, _ := newTestEngine(t)
	_, err := eng.RecentRuns(context.Background(), 10)
	if !errors.Is(err, storage.ErrDisabled) {
		t.Fatalf("err = %v, want ErrDisabled", err)
	}
}

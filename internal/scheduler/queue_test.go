package scheduler

import (
	"testing"
	"time"

	"taskpilot/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func queueIDs(q []QueueEntry) []string {
	out := make([]string, len(q))
	for i, e := range q {
		out[i] = e.TaskID
	}
	return out
}

func TestComputeScheduleDependencyBeforeDependent(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)

	// a depends on b; identical scores. b must come first because a cannot
	// start until b's estimated duration has elapsed.
	a := &model.Task{ID: "a", Status: model.StatusPending, Dependencies: []string{"b"}, Importance: 50, Urgency: 50}
	b := &model.Task{ID: "b", Status: model.StatusPending, Importance: 50, Urgency: 50, Effort: model.Effort{Normal: 8}}

	q := ComputeSchedule([]*model.Task{a, b}, []string{"b", "a"}, nil, model.DurationNormal, 8, now)

	if got := queueIDs(q); len(got) != 2 || got[0] != "b" || got[1] != "a" {
		t.Fatalf("queue = %v, want [b a]", got)
	}
	if !q[0].Admissible {
		t.Fatal("b has no dependencies and must be admissible")
	}
	if q[1].Admissible {
		t.Fatal("a must wait for b")
	}
	if !q[1].EarliestStart.Equal(now.AddDate(0, 0, 1)) {
		t.Fatalf("a earliest start = %v, want %v", q[1].EarliestStart, now.AddDate(0, 0, 1))
	}
}

func TestComputeScheduleCompletedDependencyUnblocks(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)

	dep := &model.Task{ID: "dep", Status: model.StatusCompleted}
	a := &model.Task{ID: "a", Status: model.StatusPending, Dependencies: []string{"dep"}}

	q := ComputeSchedule([]*model.Task{dep, a}, []string{"dep", "a"}, nil, model.DurationNormal, 8, now)

	// Completed tasks leave the queue; their dependents are admissible now.
	if got := queueIDs(q); len(got) != 1 || got[0] != "a" {
		t.Fatalf("queue = %v, want [a]", got)
	}
	if !q[0].Admissible {
		t.Fatal("a should be admissible once dep completed")
	}
	if !q[0].EarliestStart.Equal(now) {
		t.Fatalf("earliest start = %v, want now", q[0].EarliestStart)
	}
}

func TestComputeScheduleUnknownDependencyBlocks(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)
	a := &model.Task{ID: "a", Status: model.StatusPending, Dependencies: []string{"ghost"}}

	q := ComputeSchedule([]*model.Task{a}, []string{"a"}, nil, model.DurationNormal, 8, now)
	if len(q) != 1 || q[0].Admissible {
		t.Fatalf("queue = %+v, want single non-admissible entry", q)
	}
}

func TestComputeScheduleLeveledStartDelays(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)
	a := &model.Task{ID: "a", Status: model.StatusPending}

	allocs := []model.Allocation{
		{TaskID: "a", ResourceID: "r1", Percent: 50, Start: day(2026, 2, 5), End: day(2026, 2, 7), Status: model.AllocationPlanned},
	}
	q := ComputeSchedule([]*model.Task{a}, []string{"a"}, allocs, model.DurationNormal, 8, now)

	if !q[0].EarliestStart.Equal(day(2026, 2, 5)) {
		t.Fatalf("earliest start = %v, want Feb 5 (leveled)", q[0].EarliestStart)
	}
	if q[0].Admissible {
		t.Fatal("resource not available yet; must not be admissible")
	}
}

func TestComputeScheduleSortKeys(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)

	tasks := []*model.Task{
		{ID: "d", Status: model.StatusPending, Category: model.CategorySchedule, Importance: 70, Urgency: 10},
		{ID: "c", Status: model.StatusPending, Category: model.CategorySchedule, Importance: 70, Urgency: 40},
		{ID: "b", Status: model.StatusPending, Category: model.CategorySchedule, Importance: 90, Urgency: 10},
		{ID: "a", Status: model.StatusPending, Category: model.CategoryDoNow, Importance: 10, Urgency: 10},
	}
	q := ComputeSchedule(tasks, []string{"a", "b", "c", "d"}, nil, model.DurationNormal, 8, now)

	// Same earliest start for all: category rank, then importance desc,
	// then urgency desc, then id.
	want := []string{"a", "b", "c", "d"}
	got := queueIDs(q)
	if len(got) != len(want) {
		t.Fatalf("queue = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("queue = %v, want %v", got, want)
		}
	}
}

func TestComputeScheduleSkipsInFlightAndTerminal(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)
	tasks := []*model.Task{
		{ID: "run", Status: model.StatusRunning},
		{ID: "done", Status: model.StatusCompleted},
		{ID: "dead", Status: model.StatusCancelled},
		{ID: "wait", Status: model.StatusPending},
	}
	q := ComputeSchedule(tasks, []string{"dead", "done", "run", "wait"}, nil, model.DurationNormal, 8, now)
	if got := queueIDs(q); len(got) != 1 || got[0] != "wait" {
		t.Fatalf("queue = %v, want [wait]", got)
	}
}

func TestComputeScheduleDeterministic(t *testing.T) {
	t.Parallel()
	now := day(2026, 2, 1)
	tasks := []*model.Task{
		{ID: "a", Status: model.StatusPending, Dependencies: []string{"b"}},
		{ID: "b", Status: model.StatusPending},
		{ID: "c", Status: model.StatusPending, Importance: 30},
	}
	order := []string{"b", "a", "c"}

	first := queueIDs(ComputeSchedule(tasks, order, nil, model.DurationNormal, 8, now))
	for i := 0; i < 5; i++ {
		again := queueIDs(ComputeSchedule(tasks, order, nil, model.DurationNormal, 8, now))
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("run %d differs: %v vs %v", i, first, again)
			}
		}
	}
}

package model

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		from Status
		to   Status
		ok   bool
	}{
		{name: "pending to admitted", from: StatusPending, to: StatusAdmitted, ok: true},
		{name: "pending to blocked", from: StatusPending, to: StatusBlocked, ok: true},
		{name: "pending to running", from: StatusPending, to: StatusRunning, ok: false},
		{name: "admitted to running", from: StatusAdmitted, to: StatusRunning, ok: true},
		{name: "running to completed", from: StatusRunning, to: StatusCompleted, ok: true},
		{name: "running to failed", from: StatusRunning, to: StatusFailed, ok: true},
		{name: "failed to retrying", from: StatusFailed, to: StatusRetrying, ok: true},
		{name: "failed to running", from: StatusFailed, to: StatusRunning, ok: false},
		{name: "retrying to running", from: StatusRetrying, to: StatusRunning, ok: true},
		{name: "blocked to admitted", from: StatusBlocked, to: StatusAdmitted, ok: true},
		{name: "completed is terminal", from: StatusCompleted, to: StatusRunning, ok: false},
		{name: "cancelled is terminal", from: StatusCancelled, to: StatusPending, ok: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.ok {
				t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.ok)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	t.Parallel()
	if !StatusCompleted.Terminal() || !StatusCancelled.Terminal() {
		t.Fatal("completed and cancelled must be terminal")
	}
	if StatusFailed.Terminal() {
		t.Fatal("failed is only conditionally terminal")
	}
}

func TestEffortDays(t *testing.T) {
	t.Parallel()
	e := Effort{Optimistic: 4, Normal: 12, Pessimistic: 40}

	if got := e.Days(DurationNormal, 8); got != 2 {
		t.Fatalf("Days(normal, 8h) = %d, want 2", got)
	}
	if got := e.Days(DurationOptimistic, 8); got != 1 {
		t.Fatalf("Days(optimistic, 8h) = %d, want 1", got)
	}
	if got := e.Days(DurationPessimistic, 8); got != 5 {
		t.Fatalf("Days(pessimistic, 8h) = %d, want 5", got)
	}
	// Zero effort still occupies one day.
	if got := (Effort{}).Days(DurationNormal, 8); got != 1 {
		t.Fatalf("Days(zero effort) = %d, want 1", got)
	}
}

func TestSetStepUnknownName(t *testing.T) {
	t.Parallel()
	task := &Task{
		ID:    "t1",
		Steps: []WorkflowStep{{Name: "design"}, {Name: "implement"}},
	}

	if err := task.SetStep("design", true); err != nil {
		t.Fatalf("SetStep(design) error: %v", err)
	}
	done, ok := task.StepDone("design")
	if !ok || !done {
		t.Fatalf("StepDone(design) = (%v, %v), want (true, true)", done, ok)
	}

	// The step set is fixed at creation; unknown names never insert.
	if err := task.SetStep("deploy", true); err == nil {
		t.Fatal("expected error for unknown step name")
	}
	if len(task.Steps) != 2 {
		t.Fatalf("step count changed to %d", len(task.Steps))
	}
}

func TestTaskCloneIsDeep(t *testing.T) {
	t.Parallel()
	dl := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	orig := &Task{
		ID:           "t1",
		Deadline:     &dl,
		Dependencies: []string{"t0"},
		Steps:        []WorkflowStep{{Name: "a"}},
	}
	cp := orig.Clone()

	cp.Dependencies[0] = "changed"
	cp.Steps[0].Done = true
	*cp.Deadline = dl.AddDate(0, 1, 0)

	if orig.Dependencies[0] != "t0" {
		t.Fatal("clone shares dependency slice")
	}
	if orig.Steps[0].Done {
		t.Fatal("clone shares steps slice")
	}
	if !orig.Deadline.Equal(dl) {
		t.Fatal("clone shares deadline pointer")
	}
}

func TestCategoryRank(t *testing.T) {
	t.Parallel()
	order := []Category{CategoryDoNow, CategorySchedule, CategoryDelegate, CategoryEliminate}
	for i := 1; i < len(order); i++ {
		if order[i-1].Rank() >= order[i].Rank() {
			t.Fatalf("rank(%s) not below rank(%s)", order[i-1], order[i])
		}
	}
	if Category("").Rank() <= CategoryEliminate.Rank() {
		t.Fatal("unscored tasks must rank below eliminate")
	}
}

func TestAllocationDaysAndOverlap(t *testing.T) {
	t.Parallel()
	a := Allocation{
		Start: time.Date(2026, 1, 1, 9, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 10, 17, 0, 0, 0, time.UTC),
	}
	if got := a.Days(); got != 10 {
		t.Fatalf("Days() = %d, want 10", got)
	}

	b := Allocation{
		Start: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	if !a.Overlaps(b) {
		t.Fatal("allocations sharing a day must overlap")
	}
	c := Allocation{
		Start: time.Date(2026, 1, 11, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC),
	}
	if a.Overlaps(c) {
		t.Fatal("disjoint allocations must not overlap")
	}
}

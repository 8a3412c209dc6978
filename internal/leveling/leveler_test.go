package leveling

import (
	"testing"
	"time"

	"taskpilot/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLevelShiftsOverAllocation(t *testing.T) {
	t.Parallel()
	// Resource r1 at 70% Jan 1-10 and 50% Jan 5-15: 120% on Jan 5-10.
	// The later allocation shifts to Jan 11, duration preserved.
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "task1", ResourceID: "r1", Percent: 70, Start: day(2026, 1, 1), End: day(2026, 1, 10), Status: model.AllocationPlanned},
			{TaskID: "task2", ResourceID: "r1", Percent: 50, Start: day(2026, 1, 5), End: day(2026, 1, 15), Status: model.AllocationPlanned},
		},
	})

	byTask := map[string]model.Allocation{}
	for _, a := range out.Allocations {
		byTask[a.TaskID] = a
	}

	if got := byTask["task1"]; !got.Start.Equal(day(2026, 1, 1)) || !got.End.Equal(day(2026, 1, 10)) {
		t.Fatalf("task1 moved: %v - %v", got.Start, got.End)
	}
	got := byTask["task2"]
	if !got.Start.Equal(day(2026, 1, 11)) {
		t.Fatalf("task2 start = %v, want Jan 11", got.Start)
	}
	if !got.End.Equal(day(2026, 1, 21)) {
		t.Fatalf("task2 end = %v, want Jan 21 (11-day span preserved)", got.End)
	}

	if len(out.Conflicts) != 1 {
		t.Fatalf("Conflicts = %v, want one", out.Conflicts)
	}
	c := out.Conflicts[0]
	if c.Type != "overlap" || c.ResourceID != "r1" || c.AllocationA != "task1" || c.AllocationB != "task2" || !c.Resolved {
		t.Fatalf("conflict = %+v", c)
	}

	assertDailyCapacity(t, out.Allocations)
}

func TestLevelNoConflictNoChange(t *testing.T) {
	t.Parallel()
	// 60% + 40% fits exactly; nothing moves and no conflict is recorded.
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "a", ResourceID: "r1", Percent: 60, Start: day(2026, 1, 1), End: day(2026, 1, 5), Status: model.AllocationPlanned},
			{TaskID: "b", ResourceID: "r1", Percent: 40, Start: day(2026, 1, 1), End: day(2026, 1, 5), Status: model.AllocationPlanned},
		},
	})
	if len(out.Conflicts) != 0 {
		t.Fatalf("Conflicts = %v, want none", out.Conflicts)
	}
	for _, a := range out.Allocations {
		if !a.Start.Equal(day(2026, 1, 1)) {
			t.Fatalf("allocation %s moved to %v", a.TaskID, a.Start)
		}
	}
}

func TestLevelHardProjectEnd(t *testing.T) {
	t.Parallel()
	end := day(2026, 1, 12)
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "a", ResourceID: "r1", Percent: 100, Start: day(2026, 1, 1), End: day(2026, 1, 10), Status: model.AllocationPlanned},
			{TaskID: "b", ResourceID: "r1", Percent: 100, Start: day(2026, 1, 3), End: day(2026, 1, 9), Status: model.AllocationPlanned},
		},
		ProjectEnd: &end,
	})

	if len(out.Conflicts) == 0 {
		t.Fatal("expected an unresolved conflict")
	}
	for _, c := range out.Conflicts {
		if c.Resolved {
			t.Fatalf("conflict resolved despite hard end: %+v", c)
		}
	}
	// The blocked allocation keeps its requested position.
	for _, a := range out.Allocations {
		if a.TaskID == "b" && !a.Start.Equal(day(2026, 1, 3)) {
			t.Fatalf("blocked allocation moved to %v", a.Start)
		}
	}
}

func TestLevelCategoryRankOrdersSameDay(t *testing.T) {
	t.Parallel()
	// Same start day: the do_now task keeps its slot, the eliminate task
	// shifts.
	tasks := map[string]*model.Task{
		"urgent": {ID: "urgent", Category: model.CategoryDoNow},
		"later":  {ID: "later", Category: model.CategoryEliminate},
	}
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "later", ResourceID: "r1", Percent: 80, Start: day(2026, 1, 1), End: day(2026, 1, 3), Status: model.AllocationPlanned},
			{TaskID: "urgent", ResourceID: "r1", Percent: 80, Start: day(2026, 1, 1), End: day(2026, 1, 3), Status: model.AllocationPlanned},
		},
		Tasks: tasks,
	})

	byTask := map[string]model.Allocation{}
	for _, a := range out.Allocations {
		byTask[a.TaskID] = a
	}
	if !byTask["urgent"].Start.Equal(day(2026, 1, 1)) {
		t.Fatalf("urgent task shifted to %v", byTask["urgent"].Start)
	}
	if !byTask["later"].Start.Equal(day(2026, 1, 4)) {
		t.Fatalf("later task start = %v, want Jan 4", byTask["later"].Start)
	}
}

func TestLevelEffortOverridesSpan(t *testing.T) {
	t.Parallel()
	// 16h normal effort at 8h/day is a 2-day span, regardless of the
	// allocation's original window.
	tasks := map[string]*model.Task{
		"a": {ID: "a", Effort: model.Effort{Normal: 16}},
	}
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "a", ResourceID: "r1", Percent: 50, Start: day(2026, 1, 1), End: day(2026, 1, 10), Status: model.AllocationPlanned},
		},
		Tasks:              tasks,
		DurationType:       model.DurationNormal,
		WorkingHoursPerDay: 8,
	})
	a := out.Allocations[0]
	if !a.End.Equal(day(2026, 1, 2)) {
		t.Fatalf("end = %v, want Jan 2", a.End)
	}
}

func TestLevelOverCapacityPercent(t *testing.T) {
	t.Parallel()
	// 150% can never fit a day. Without a project end there is no later slot
	// either, so the allocation stays put and an unresolved conflict is
	// recorded instead of searching forever.
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "huge", ResourceID: "r1", Percent: 150, Start: day(2026, 1, 1), End: day(2026, 1, 3), Status: model.AllocationPlanned},
		},
	})
	if len(out.Allocations) != 1 || !out.Allocations[0].Start.Equal(day(2026, 1, 1)) {
		t.Fatalf("allocations = %+v", out.Allocations)
	}
	if len(out.Conflicts) != 1 {
		t.Fatalf("Conflicts = %v, want one", out.Conflicts)
	}
	c := out.Conflicts[0]
	if c.Type != "capacity" || c.ResourceID != "r1" || c.AllocationB != "huge" || c.Resolved {
		t.Fatalf("conflict = %+v", c)
	}
}

func TestLevelCancelledPassesThrough(t *testing.T) {
	t.Parallel()
	out := Level(Input{
		Allocations: []model.Allocation{
			{TaskID: "dead", ResourceID: "r1", Percent: 100, Start: day(2026, 1, 1), End: day(2026, 1, 10), Status: model.AllocationCancelled},
			{TaskID: "live", ResourceID: "r1", Percent: 100, Start: day(2026, 1, 1), End: day(2026, 1, 10), Status: model.AllocationPlanned},
		},
	})
	// A cancelled allocation consumes no capacity, so the live one fits.
	if len(out.Conflicts) != 0 {
		t.Fatalf("Conflicts = %v, want none", out.Conflicts)
	}
	for _, a := range out.Allocations {
		if a.TaskID == "live" && !a.Start.Equal(day(2026, 1, 1)) {
			t.Fatalf("live allocation moved to %v", a.Start)
		}
	}
}

// assertDailyCapacity checks the post-leveling invariant: no resource above
// 100% on any day.
func assertDailyCapacity(t *testing.T, allocs []model.Allocation) {
	t.Helper()
	usage := map[string]map[time.Time]float64{}
	for _, a := range allocs {
		if a.Status == model.AllocationCancelled {
			continue
		}
		if usage[a.ResourceID] == nil {
			usage[a.ResourceID] = map[time.Time]float64{}
		}
		for d := model.Day(a.Start); !d.After(model.Day(a.End)); d = d.AddDate(0, 0, 1) {
			usage[a.ResourceID][d] += a.Percent
			if usage[a.ResourceID][d] > 100 {
				t.Fatalf("resource %s over 100%% on %v", a.ResourceID, d)
			}
		}
	}
}

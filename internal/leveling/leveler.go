// Package leveling resolves resource over-allocation by shifting
// lower-priority allocations forward in time.
//
// The leveler is the only writer of the allocation table. It works on
// day granularity: after leveling, no resource exceeds 100% on any day,
// except where a hard project end date blocks the shift; those conflicts
// come back unresolved for caller escalation.
package leveling

import (
	"sort"
	"time"

	"taskpilot/internal/model"
)

// Conflict is one audit-trail entry. Every detected overlap is recorded,
// even when the subsequent shift resolves it.
type Conflict struct {
	Type        string `json:"type"` // "overlap", or "capacity" when unplaceable on its own
	ResourceID  string `json:"resource_id"`
	AllocationA string `json:"allocation_a"` // task id of the fixed allocation; empty for capacity
	AllocationB string `json:"allocation_b"` // task id of the shifted allocation
	Resolved    bool   `json:"resolved"`
}

// Input is one leveling pass over a snapshot of the allocation table.
type Input struct {
	Allocations []model.Allocation
	// Tasks supplies priority categories (tie-breaks) and effort estimates
	// (durations). Missing tasks keep their allocation's original span.
	Tasks map[string]*model.Task

	DurationType       model.DurationType
	WorkingHoursPerDay int

	// ProjectEnd, when set, is a hard bound: allocations are never shifted
	// past it.
	ProjectEnd *time.Time
}

type Output struct {
	Allocations []model.Allocation
	Conflicts   []Conflict
}

// Level processes resources in ascending id order and, per resource,
// allocations sorted by start date, ties broken by the owning task's
// category rank then task id. Overlapping allocations are shifted forward
// by the minimum number of days that clears the conflict, preserving their
// duration.
func Level(in Input) Output {
	byResource := map[string][]model.Allocation{}
	var passthrough []model.Allocation
	for _, a := range in.Allocations {
		if a.Status == model.AllocationCancelled {
			// Cancelled allocations consume no capacity.
			passthrough = append(passthrough, a)
			continue
		}
		byResource[a.ResourceID] = append(byResource[a.ResourceID], a)
	}

	resourceIDs := make([]string, 0, len(byResource))
	for id := range byResource {
		resourceIDs = append(resourceIDs, id)
	}
	sort.Strings(resourceIDs)

	out := Output{Allocations: passthrough}
	for _, rid := range resourceIDs {
		allocs := byResource[rid]
		sortAllocations(allocs, in.Tasks)
		leveled, conflicts := levelResource(rid, allocs, in)
		out.Allocations = append(out.Allocations, leveled...)
		out.Conflicts = append(out.Conflicts, conflicts...)
	}
	return out
}

func sortAllocations(allocs []model.Allocation, tasks map[string]*model.Task) {
	rank := func(a model.Allocation) int {
		if t, ok := tasks[a.TaskID]; ok {
			return t.Category.Rank()
		}
		return model.Category("").Rank()
	}
	sort.SliceStable(allocs, func(i, j int) bool {
		si, sj := model.Day(allocs[i].Start), model.Day(allocs[j].Start)
		if !si.Equal(sj) {
			return si.Before(sj)
		}
		if ri, rj := rank(allocs[i]), rank(allocs[j]); ri != rj {
			return ri < rj
		}
		return allocs[i].TaskID < allocs[j].TaskID
	})
}

type placed struct {
	taskID string
	start  time.Time
	end    time.Time
}

func levelResource(resourceID string, allocs []model.Allocation, in Input) ([]model.Allocation, []Conflict) {
	usage := map[time.Time]float64{}
	var done []placed
	var out []model.Allocation
	var conflicts []Conflict

	for _, a := range allocs {
		days := spanDays(a, in)
		start := model.Day(a.Start)
		end := start.AddDate(0, 0, days-1)

		// Audit trail: record every overlap at the original position,
		// whether or not the shift below resolves it.
		overlapping := overlapPartners(done, start, end, usage, a.Percent)

		shifted, ok := findSlot(start, days, a.Percent, usage, in.ProjectEnd)
		resolved := ok
		if !ok {
			// Hard end-date constraint: leave in place, escalate.
			shifted = start
		}

		for i := range overlapping {
			conflicts = append(conflicts, Conflict{
				Type:        "overlap",
				ResourceID:  resourceID,
				AllocationA: overlapping[i],
				AllocationB: a.TaskID,
				Resolved:    resolved,
			})
		}
		if !ok && len(overlapping) == 0 {
			// Unplaceable on its own, e.g. a percent above full capacity.
			conflicts = append(conflicts, Conflict{
				Type:        "capacity",
				ResourceID:  resourceID,
				AllocationB: a.TaskID,
				Resolved:    false,
			})
		}

		a.Start = shifted
		a.End = shifted.AddDate(0, 0, days-1)
		addUsage(usage, a.Start, a.End, a.Percent)
		done = append(done, placed{taskID: a.TaskID, start: a.Start, end: a.End})
		out = append(out, a)
	}
	return out, conflicts
}

// spanDays prefers the task's effort estimate; otherwise the allocation's
// original span is preserved.
func spanDays(a model.Allocation, in Input) int {
	if t, ok := in.Tasks[a.TaskID]; ok && t.Effort.Hours(in.DurationType) > 0 {
		return t.Effort.Days(in.DurationType, in.WorkingHoursPerDay)
	}
	if d := a.Days(); d > 0 {
		return d
	}
	return 1
}

// overlapPartners returns the task ids of already-placed allocations that
// share at least one over-capacity day with the candidate window.
func overlapPartners(done []placed, start, end time.Time, usage map[time.Time]float64, percent float64) []string {
	var partners []string
	seen := map[string]bool{}
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if usage[day]+percent <= 100 {
			continue
		}
		for _, p := range done {
			if seen[p.taskID] {
				continue
			}
			if !p.end.Before(day) && !p.start.After(day) {
				seen[p.taskID] = true
				partners = append(partners, p.taskID)
			}
		}
	}
	return partners
}

// findSlot returns the earliest start at or after want where the whole
// window fits under 100%/day, honoring the hard end bound.
func findSlot(want time.Time, days int, percent float64, usage map[time.Time]float64, hardEnd *time.Time) (time.Time, bool) {
	if percent > 100 {
		// No day can ever hold it; without this the search below never ends.
		return time.Time{}, false
	}
	start := want
	for {
		if hardEnd != nil && start.AddDate(0, 0, days-1).After(model.Day(*hardEnd)) {
			return time.Time{}, false
		}
		fits := true
		for i := 0; i < days; i++ {
			day := start.AddDate(0, 0, i)
			if usage[day]+percent > 100 {
				// Jump just past the blocked day: the minimum shift that can
				// clear it.
				start = day.AddDate(0, 0, 1)
				fits = false
				break
			}
		}
		if fits {
			return start, true
		}
	}
}

func addUsage(usage map[time.Time]float64, start, end time.Time, percent float64) {
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		usage[day] += percent
	}
}

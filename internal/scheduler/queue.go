package scheduler

import (
	"sort"
	"time"

	"taskpilot/internal/model"
)

// QueueEntry is one position in the ordered schedule queue.
type QueueEntry struct {
	TaskID        string         `json:"task_id"`
	EarliestStart time.Time      `json:"earliest_start"`
	Category      model.Category `json:"category"`
	Importance    float64        `json:"importance"`
	Urgency       float64        `json:"urgency"`

	// Admissible marks entries whose dependencies are all completed and
	// whose resources are available at the proposed start. Non-admissible
	// entries stay queued and are re-evaluated every tick.
	Admissible bool `json:"admissible"`
}

// ComputeSchedule merges scored tasks, the topological dependency order and
// the leveled allocations into one deterministic queue. The sort key is:
//
//  1. dependency- and resource-availability-adjusted earliest start date
//  2. priority category rank
//  3. importance (descending)
//  4. urgency (descending)
//  5. task id
//
// Identical inputs always yield identical output order.
//
// Earliest starts are a forward pass over topoOrder: a task starts no
// earlier than its leveled allocations allow and no earlier than each
// incomplete dependency's start plus that dependency's estimated duration.
// Tasks absent from topoOrder (members of cyclic subgraphs) are excluded.
func ComputeSchedule(
	tasks []*model.Task,
	topoOrder []string,
	allocations []model.Allocation,
	dt model.DurationType,
	workingHoursPerDay int,
	now time.Time,
) []QueueEntry {
	now = model.Day(now)

	byID := make(map[string]*model.Task, len(tasks))
	completed := map[string]bool{}
	for _, t := range tasks {
		byID[t.ID] = t
		if t.Status == model.StatusCompleted {
			completed[t.ID] = true
		}
	}

	// Latest leveled start per task: all of a task's resources must be free.
	leveledStart := map[string]time.Time{}
	for _, a := range allocations {
		if a.Status == model.AllocationCancelled {
			continue
		}
		s := model.Day(a.Start)
		if cur, ok := leveledStart[a.TaskID]; !ok || s.After(cur) {
			leveledStart[a.TaskID] = s
		}
	}

	est := make(map[string]time.Time, len(topoOrder))
	for _, id := range topoOrder {
		t, ok := byID[id]
		if !ok {
			continue
		}
		start := now
		if s, ok := leveledStart[id]; ok && s.After(start) {
			start = s
		}
		for _, dep := range t.Dependencies {
			dt2, ok := byID[dep]
			if !ok || completed[dep] {
				continue
			}
			depStart, ok := est[dep]
			if !ok {
				continue
			}
			after := depStart.AddDate(0, 0, dt2.Effort.Days(dt, workingHoursPerDay))
			if after.After(start) {
				start = after
			}
		}
		est[id] = start
	}

	var queue []QueueEntry
	for _, id := range topoOrder {
		t, ok := byID[id]
		if !ok {
			continue
		}
		switch t.Status {
		case model.StatusCompleted, model.StatusCancelled, model.StatusFailed,
			model.StatusRunning, model.StatusRetrying:
			continue
		}

		// A dependency that is not yet in the snapshot is treated as unmet:
		// the task stays queued until the dependency arrives and completes.
		depsMet := true
		for _, dep := range t.Dependencies {
			if !completed[dep] {
				depsMet = false
				break
			}
		}

		queue = append(queue, QueueEntry{
			TaskID:        id,
			EarliestStart: est[id],
			Category:      t.Category,
			Importance:    t.Importance,
			Urgency:       t.Urgency,
			Admissible:    depsMet && !est[id].After(now),
		})
	}

	sort.SliceStable(queue, func(i, j int) bool {
		a, b := queue[i], queue[j]
		if !a.EarliestStart.Equal(b.EarliestStart) {
			return a.EarliestStart.Before(b.EarliestStart)
		}
		if ra, rb := a.Category.Rank(), b.Category.Rank(); ra != rb {
			return ra < rb
		}
		if a.Importance != b.Importance {
			return a.Importance > b.Importance
		}
		if a.Urgency != b.Urgency {
			return a.Urgency > b.Urgency
		}
		return a.TaskID < b.TaskID
	})

	return queue
}

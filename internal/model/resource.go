package model

import "time"

type ResourceType string

const (
	ResourceHuman     ResourceType = "human"
	ResourceEquipment ResourceType = "equipment"
	ResourceMaterial  ResourceType = "material"
	ResourceSoftware  ResourceType = "software"
	ResourceFacility  ResourceType = "facility"
)

// Resource is anything a task can be allocated to.
type Resource struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Skills       []string     `json:"skills,omitempty"`
	Availability float64      `json:"availability"` // fraction [0,1]
	HourlyCost   float64      `json:"hourly_cost"`
	Type         ResourceType `json:"type"`
}

func (r *Resource) Clone() *Resource {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Skills = append([]string(nil), r.Skills...)
	return &cp
}

type AllocationStatus string

const (
	AllocationPlanned   AllocationStatus = "planned"
	AllocationActive    AllocationStatus = "active"
	AllocationCompleted AllocationStatus = "completed"
	AllocationCancelled AllocationStatus = "cancelled"
	AllocationOnHold    AllocationStatus = "on_hold"
)

// Allocation assigns a slice of a resource's capacity to a task over a date
// range. Dates are day-granular; Start and End are inclusive.
//
// Invariant (post-leveling): for any resource and any day, the sum of
// overlapping allocation percents is <= 100.
type Allocation struct {
	TaskID     string           `json:"task_id"`
	ResourceID string           `json:"resource_id"`
	Percent    float64          `json:"percent"` // [0,100]
	Start      time.Time        `json:"start"`
	End        time.Time        `json:"end"`
	Status     AllocationStatus `json:"status"`
}

// Days returns the inclusive span length in days.
func (a Allocation) Days() int {
	s := Day(a.Start)
	e := Day(a.End)
	if e.Before(s) {
		return 0
	}
	return int(e.Sub(s).Hours()/24) + 1
}

// Overlaps reports whether two allocations share at least one day.
func (a Allocation) Overlaps(b Allocation) bool {
	return !Day(a.End).Before(Day(b.Start)) && !Day(b.End).Before(Day(a.Start))
}

// Clone returns a copy (allocations are value types, but keep the call sites
// uniform with Task/Resource).
func (a Allocation) Clone() Allocation { return a }

// Day truncates t to midnight UTC; the leveling granularity.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package model

import (
	"fmt"
	"math"
	"time"
)

// DurationType selects which effort estimate drives allocation durations.
type DurationType string

const (
	DurationOptimistic  DurationType = "optimistic"
	DurationNormal      DurationType = "normal"
	DurationPessimistic DurationType = "pessimistic"
)

// Effort is a three-point estimate in hours.
type Effort struct {
	Optimistic  float64 `json:"optimistic"`
	Normal      float64 `json:"normal"`
	Pessimistic float64 `json:"pessimistic"`
}

// Hours returns the estimate selected by dt, defaulting to the normal one.
func (e Effort) Hours(dt DurationType) float64 {
	switch dt {
	case DurationOptimistic:
		return e.Optimistic
	case DurationPessimistic:
		return e.Pessimistic
	default:
		return e.Normal
	}
}

// Days converts the selected estimate into whole working days.
func (e Effort) Days(dt DurationType, workingHoursPerDay int) int {
	if workingHoursPerDay <= 0 {
		workingHoursPerDay = 8
	}
	h := e.Hours(dt)
	if h <= 0 {
		return 1
	}
	return int(math.Ceil(h / float64(workingHoursPerDay)))
}

// WorkflowStep is one named boolean flag in a task's ordered workflow map.
// The step set is fixed when the task is created; flags only toggle after.
type WorkflowStep struct {
	Name string `json:"name"`
	Done bool   `json:"done"`
}

// Task is the unit of scheduling and execution.
//
// Importance/Urgency/Category are owned by the priority calculator; Status
// and Retries are owned by the scheduler/executor. Everything else is input
// supplied by the upstream planning module.
type Task struct {
	ID           string     `json:"id"`
	Title        string     `json:"title"`
	Description  string     `json:"description,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Dependencies []string   `json:"dependencies,omitempty"`
	ResourceIDs  []string   `json:"resource_ids,omitempty"`

	Status   Status   `json:"status"`
	Category Category `json:"category,omitempty"`

	// Scores are kept in [0,100].
	Importance float64 `json:"importance"`
	Urgency    float64 `json:"urgency"`

	// Raw scoring inputs, each on the caller's own scale before normalization.
	StrategicValue      float64 `json:"strategic_value,omitempty"`
	UserPriority        float64 `json:"user_priority,omitempty"`
	CostImpact          float64 `json:"cost_impact,omitempty"`
	RiskOfDelay         float64 `json:"risk_of_delay,omitempty"`
	StakeholderPressure float64 `json:"stakeholder_pressure,omitempty"`

	Effort Effort `json:"effort"`

	Steps []WorkflowStep `json:"steps,omitempty"`

	// Retries counts retries actually taken: the initial attempt and a final
	// failed attempt do not move it.
	Retries int `json:"retries"`

	CreatedAt time.Time `json:"created_at"`
}

// SetStep toggles an existing workflow step. Steps are fixed at creation
// time, so an unknown name is an error, never an insert.
func (t *Task) SetStep(name string, done bool) error {
	for i := range t.Steps {
		if t.Steps[i].Name == name {
			t.Steps[i].Done = done
			return nil
		}
	}
	return fmt.Errorf("task %s has no workflow step %q", t.ID, name)
}

// StepDone reports the flag for a named step.
func (t *Task) StepDone(name string) (bool, bool) {
	for i := range t.Steps {
		if t.Steps[i].Name == name {
			return t.Steps[i].Done, true
		}
	}
	return false, false
}

// DependsOn reports whether id is a declared dependency.
func (t *Task) DependsOn(id string) bool {
	for _, d := range t.Dependencies {
		if d == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so repository readers never share slices with
// writers.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Deadline != nil {
		d := *t.Deadline
		cp.Deadline = &d
	}
	cp.Dependencies = append([]string(nil), t.Dependencies...)
	cp.ResourceIDs = append([]string(nil), t.ResourceIDs...)
	cp.Steps = append([]WorkflowStep(nil), t.Steps...)
	return &cp
}

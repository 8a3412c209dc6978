// Package priority scores tasks on the Eisenhower importance/urgency axes.
//
// Scoring is a pure function over a task plus a graph-context snapshot; the
// calculator never mutates repository state.
package priority

import (
	"time"

	"taskpilot/internal/model"
)

// Weights are the configurable coefficients of the scoring formulas.
// Each group must sum to 1.
type Weights struct {
	Dependencies float64 `json:"dependencies"`
	CriticalPath float64 `json:"critical_path"`
	Cost         float64 `json:"cost"`
	UserPriority float64 `json:"user_priority"`

	Deadline    float64 `json:"deadline"`
	Risk        float64 `json:"risk"`
	Stakeholder float64 `json:"stakeholder"`
}

// Thresholds are the category cut lines on the [0,100] scales.
type Thresholds struct {
	Importance float64 `json:"importance"`
	Urgency    float64 `json:"urgency"`
}

func DefaultWeights() Weights {
	return Weights{
		Dependencies: 0.30,
		CriticalPath: 0.30,
		Cost:         0.20,
		UserPriority: 0.20,
		Deadline:     0.50,
		Risk:         0.30,
		Stakeholder:  0.20,
	}
}

func DefaultThresholds() Thresholds {
	return Thresholds{Importance: 60, Urgency: 60}
}

// DefaultDeadlineHorizon is the window over which deadline proximity ramps
// from 0 (deadline far away) to 100 (deadline reached).
const DefaultDeadlineHorizon = 30 * 24 * time.Hour

// Context is the graph-derived view of one task at scoring time.
type Context struct {
	// Dependents is the number of tasks that (transitively) depend on this one.
	Dependents int
	// MaxDependents is the largest dependent count in the snapshot, used to
	// normalize Dependents to [0,100].
	MaxDependents int

	OnCriticalPath bool

	// Maxima for normalizing the task's raw cost/priority inputs.
	MaxCostImpact   float64
	MaxUserPriority float64

	Now time.Time
}

// Score is the calculator output for one task.
type Score struct {
	Importance float64
	Urgency    float64
	Category   model.Category
}

// Composite folds both axes into one comparable value.
func (s Score) Composite() float64 { return s.Importance + s.Urgency }

type Calculator struct {
	weights    Weights
	thresholds Thresholds
	horizon    time.Duration
}

func NewCalculator(w Weights, t Thresholds, horizon time.Duration) *Calculator {
	if horizon <= 0 {
		horizon = DefaultDeadlineHorizon
	}
	return &Calculator{weights: w, thresholds: t, horizon: horizon}
}

// ScoreTask computes importance, urgency and the Eisenhower category.
func (c *Calculator) ScoreTask(t *model.Task, ctx Context) Score {
	w := c.weights

	importance := w.Dependencies*normalizeCount(ctx.Dependents, ctx.MaxDependents) +
		w.CriticalPath*boolScore(ctx.OnCriticalPath) +
		w.Cost*normalizeMax(t.CostImpact, ctx.MaxCostImpact) +
		w.UserPriority*normalizeMax(t.UserPriority, ctx.MaxUserPriority)
	importance = clamp(importance)

	var urgency float64
	if t.Deadline == nil {
		// No deadline: redistribute its weight proportionally onto the
		// remaining terms (0.30/0.50 -> 0.60, 0.20/0.50 -> 0.40).
		rest := w.Risk + w.Stakeholder
		if rest <= 0 {
			rest = 1
		}
		urgency = (w.Risk/rest)*clamp(t.RiskOfDelay) +
			(w.Stakeholder/rest)*clamp(t.StakeholderPressure)
	} else {
		urgency = w.Deadline*c.deadlineProximity(*t.Deadline, ctx.Now) +
			w.Risk*clamp(t.RiskOfDelay) +
			w.Stakeholder*clamp(t.StakeholderPressure)
	}
	urgency = clamp(urgency)

	return Score{
		Importance: importance,
		Urgency:    urgency,
		Category:   c.categorize(importance, urgency),
	}
}

func (c *Calculator) categorize(importance, urgency float64) model.Category {
	hi := importance >= c.thresholds.Importance
	hu := urgency >= c.thresholds.Urgency
	switch {
	case hi && hu:
		return model.CategoryDoNow
	case hi:
		return model.CategorySchedule
	case hu:
		return model.CategoryDelegate
	default:
		return model.CategoryEliminate
	}
}

// deadlineProximity maps time-to-deadline onto [0,100]: 100 at or past the
// deadline, falling linearly to 0 across the horizon.
func (c *Calculator) deadlineProximity(deadline, now time.Time) float64 {
	if now.IsZero() {
		now = time.Now()
	}
	left := deadline.Sub(now)
	if left <= 0 {
		return 100
	}
	if left >= c.horizon {
		return 0
	}
	return clamp(100 * (1 - float64(left)/float64(c.horizon)))
}

// Less orders scored tasks: higher composite first, then earlier creation
// timestamp, then lexicographically smaller id.
func Less(a Score, aT *model.Task, b Score, bT *model.Task) bool {
	ca, cb := a.Composite(), b.Composite()
	if ca != cb {
		return ca > cb
	}
	if !aT.CreatedAt.Equal(bT.CreatedAt) {
		return aT.CreatedAt.Before(bT.CreatedAt)
	}
	return aT.ID < bT.ID
}

func normalizeCount(v, max int) float64 {
	if max <= 0 || v <= 0 {
		return 0
	}
	return clamp(float64(v) / float64(max) * 100)
}

func normalizeMax(v, max float64) float64 {
	if max <= 0 || v <= 0 {
		return 0
	}
	return clamp(v / max * 100)
}

func boolScore(b bool) float64 {
	if b {
		return 100
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

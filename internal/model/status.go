package model

import "errors"

// Status is a task's position in the execution state machine.
//
// Allowed transitions:
//
//	Pending  -> Admitted | Blocked | Cancelled
//	Admitted -> Running | Blocked | Cancelled
//	Running  -> Completed | Failed | Blocked | Cancelled
//	Failed   -> Retrying (while retry budget remains)
//	Retrying -> Running | Cancelled
//	Blocked  -> Admitted | Cancelled
//
// Completed and Cancelled are terminal. Failed is terminal once the retry
// budget is exhausted.
type Status string

// ErrBadTransition reports an illegal state change.
var ErrBadTransition = errors.New("illegal status transition")

const (
	StatusPending   Status = "pending"
	StatusAdmitted  Status = "admitted"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRetrying  Status = "retrying"
	StatusBlocked   Status = "blocked"
	StatusCancelled Status = "cancelled"
)

var transitions = map[Status][]Status{
	StatusPending:  {StatusAdmitted, StatusBlocked, StatusCancelled},
	StatusAdmitted: {StatusRunning, StatusBlocked, StatusCancelled},
	StatusRunning:  {StatusCompleted, StatusFailed, StatusBlocked, StatusCancelled},
	StatusFailed:   {StatusRetrying},
	StatusRetrying: {StatusRunning, StatusCancelled},
	StatusBlocked:  {StatusAdmitted, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal state change.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
// Failed is only conditionally terminal (retry budget), so it is not listed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusAdmitted, StatusRunning, StatusCompleted,
		StatusFailed, StatusRetrying, StatusBlocked, StatusCancelled:
		return true
	}
	return false
}

// Category is the Eisenhower quadrant assigned by the priority calculator.
type Category string

const (
	CategoryDoNow     Category = "do_now"
	CategorySchedule  Category = "schedule"
	CategoryDelegate  Category = "delegate"
	CategoryEliminate Category = "eliminate"
)

// Rank orders categories for scheduling: lower is more important.
func (c Category) Rank() int {
	switch c {
	case CategoryDoNow:
		return 0
	case CategorySchedule:
		return 1
	case CategoryDelegate:
		return 2
	case CategoryEliminate:
		return 3
	default:
		return 4
	}
}

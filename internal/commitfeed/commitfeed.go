// Package commitfeed maps commit messages onto workflow step completions.
//
// Teams reference tasks from their commits; the adapter extracts those
// references so the engine can mark the named steps done without manual
// bookkeeping.
package commitfeed

import (
	"regexp"
	"strings"
)

// StepUpdate is one extracted task/step reference.
type StepUpdate struct {
	TaskID string
	Step   string
	Done   bool
}

// Adapter extracts step updates from one commit message. Implementations
// exist per forge; the default adapter understands the generic notations.
type Adapter interface {
	ParseCommitEvent(message string) []StepUpdate
}

// Two notations are recognized:
//
//	[<task-id>:<step>]          bracket shorthand
//	task=<id> step=<name>       key/value form
var (
	bracketRe = regexp.MustCompile(`\[([A-Za-z0-9._-]+):([^\[\]]+)\]`)
	kvRe      = regexp.MustCompile(`task=([A-Za-z0-9._-]+)\s+step=([A-Za-z0-9._ -]+)`)
)

type regexAdapter struct{}

// NewAdapter returns the default commit-message adapter.
func NewAdapter() Adapter { return regexAdapter{} }

func (regexAdapter) ParseCommitEvent(message string) []StepUpdate {
	var out []StepUpdate
	seen := map[[2]string]bool{}

	add := func(id, step string) {
		id = strings.TrimSpace(id)
		step = strings.TrimSpace(step)
		if id == "" || step == "" {
			return
		}
		key := [2]string{id, step}
		if seen[key] {
			return
		}
		seen[key] = true
		out = append(out, StepUpdate{TaskID: id, Step: step, Done: true})
	}

	for _, m := range bracketRe.FindAllStringSubmatch(message, -1) {
		add(m[1], m[2])
	}
	for _, m := range kvRe.FindAllStringSubmatch(message, -1) {
		add(m[1], m[2])
	}
	return out
}

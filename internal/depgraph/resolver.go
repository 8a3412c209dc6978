// Package depgraph builds and resolves the task dependency DAG.
//
// Edges point dependency -> dependent. Independent subgraphs resolve
// separately: a cycle in one subgraph fails only that subgraph, the rest of
// the result is still produced.
package depgraph

import (
	"fmt"
	"sort"
	"strings"

	"taskpilot/internal/model"
)

// CycleError reports one dependency cycle as an ordered list of task ids.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Path, " -> "))
}

// Result is the resolver output for one task snapshot.
type Result struct {
	// Order is a stable topological order over all resolved subgraphs.
	// Members of cyclic subgraphs are absent.
	Order []string

	// Depth is the critical-path depth: the longest path (in edge count)
	// from any root to the task.
	Depth map[string]int

	// OnCriticalPath flags tasks whose depth equals their subgraph's
	// maximum depth.
	OnCriticalPath map[string]bool

	// Dependents counts the tasks that transitively depend on each task.
	Dependents map[string]int

	// Cycles holds one error per cyclic subgraph.
	Cycles []*CycleError
}

// MaxDependents is the largest transitive dependent count, used by the
// priority calculator for normalization.
func (r *Result) MaxDependents() int {
	max := 0
	for _, n := range r.Dependents {
		if n > max {
			max = n
		}
	}
	return max
}

// Failed reports whether id belongs to a subgraph that failed with a cycle.
func (r *Result) Failed(id string) bool {
	for _, c := range r.Cycles {
		for _, member := range c.Path {
			if member == id {
				return true
			}
		}
	}
	return false
}

// Resolve builds the graph and computes order, depths and critical-path
// flags. Dependencies on ids outside the snapshot are treated as external
// and carry no edge.
func Resolve(tasks []*model.Task) *Result {
	present := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		present[t.ID] = true
	}

	// adj: dependency -> dependents.
	adj := make(map[string][]string, len(tasks))
	indeg := make(map[string]int, len(tasks))
	for _, t := range tasks {
		if _, ok := indeg[t.ID]; !ok {
			indeg[t.ID] = 0
		}
		for _, dep := range t.Dependencies {
			if !present[dep] {
				continue
			}
			adj[dep] = append(adj[dep], t.ID)
			indeg[t.ID]++
		}
	}
	for id := range adj {
		sort.Strings(adj[id])
	}

	res := &Result{
		Depth:          make(map[string]int, len(tasks)),
		OnCriticalPath: make(map[string]bool, len(tasks)),
		Dependents:     make(map[string]int, len(tasks)),
	}

	for _, comp := range components(tasks, adj) {
		if cyc := findCycle(comp, adj); cyc != nil {
			res.Cycles = append(res.Cycles, cyc)
			continue
		}
		resolveComponent(comp, adj, indeg, res)
	}

	return res
}

// components groups task ids into weakly connected subgraphs, each sorted
// ascending, the groups ordered by their smallest member.
func components(tasks []*model.Task, adj map[string][]string) [][]string {
	// Undirected adjacency for connectivity.
	und := map[string][]string{}
	for dep, dependents := range adj {
		for _, d := range dependents {
			und[dep] = append(und[dep], d)
			und[d] = append(und[d], dep)
		}
	}

	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	sort.Strings(ids)

	seen := map[string]bool{}
	var out [][]string
	for _, id := range ids {
		if seen[id] {
			continue
		}
		var comp []string
		stack := []string{id}
		seen[id] = true
		for len(stack) > 0 {
			n := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			comp = append(comp, n)
			for _, nb := range und[n] {
				if !seen[nb] {
					seen[nb] = true
					stack = append(stack, nb)
				}
			}
		}
		sort.Strings(comp)
		out = append(out, comp)
	}
	return out
}

// findCycle runs an iterative-friendly DFS with a recursion stack and
// returns the first cycle found, as the ordered member list.
func findCycle(comp []string, adj map[string][]string) *CycleError {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(comp))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) []string {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adj[id] {
			switch color[next] {
			case gray:
				// Cut the recursion stack at the first occurrence of next.
				for i, s := range stack {
					if s == next {
						return append([]string(nil), stack[i:]...)
					}
				}
				return []string{next}
			case white:
				if p := visit(next); p != nil {
					return p
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
		return nil
	}

	for _, id := range comp {
		if color[id] == white {
			if p := visit(id); p != nil {
				return &CycleError{Path: p}
			}
		}
	}
	return nil
}

// resolveComponent runs Kahn's algorithm (ties broken by ascending id),
// computes longest-path depths and flags the critical path.
func resolveComponent(comp []string, adj map[string][]string, indegAll map[string]int, res *Result) {
	indeg := make(map[string]int, len(comp))
	inComp := make(map[string]bool, len(comp))
	for _, id := range comp {
		indeg[id] = indegAll[id]
		inComp[id] = true
	}

	var ready []string
	for _, id := range comp {
		if indeg[id] == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	order := make([]string, 0, len(comp))
	depth := make(map[string]int, len(comp))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, next := range adj[id] {
			if d := depth[id] + 1; d > depth[next] {
				depth[next] = d
			}
			indeg[next]--
			if indeg[next] == 0 {
				// Insert keeping ready sorted so ties break by ascending id.
				i := sort.SearchStrings(ready, next)
				ready = append(ready, "")
				copy(ready[i+1:], ready[i:])
				ready[i] = next
			}
		}
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	res.Order = append(res.Order, order...)
	for _, id := range comp {
		res.Depth[id] = depth[id]
		// A subgraph with no edges has no critical path.
		res.OnCriticalPath[id] = maxDepth > 0 && depth[id] == maxDepth
		res.Dependents[id] = countDependents(id, adj, inComp)
	}
}

// countDependents walks dependent edges and counts distinct reachable tasks.
func countDependents(id string, adj map[string][]string, inComp map[string]bool) int {
	seen := map[string]bool{}
	stack := append([]string(nil), adj[id]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[n] || !inComp[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, adj[n]...)
	}
	return len(seen)
}

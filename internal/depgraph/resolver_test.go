package depgraph

import (
	"reflect"
	"testing"

	"taskpilot/internal/model"
)

func mk(id string, deps ...string) *model.Task {
	return &model.Task{ID: id, Dependencies: deps}
}

func TestResolveChain(t *testing.T) {
	t.Parallel()
	// c depends on b depends on a.
	res := Resolve([]*model.Task{mk("c", "b"), mk("a"), mk("b", "a")})

	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("Order = %v, want %v", res.Order, want)
	}
	if res.Depth["a"] != 0 || res.Depth["b"] != 1 || res.Depth["c"] != 2 {
		t.Fatalf("Depth = %v", res.Depth)
	}
	// Only the deepest task carries the critical-path flag.
	if res.OnCriticalPath["a"] || res.OnCriticalPath["b"] || !res.OnCriticalPath["c"] {
		t.Fatalf("OnCriticalPath = %v", res.OnCriticalPath)
	}
	if res.Dependents["a"] != 2 || res.Dependents["b"] != 1 || res.Dependents["c"] != 0 {
		t.Fatalf("Dependents = %v", res.Dependents)
	}
	if len(res.Cycles) != 0 {
		t.Fatalf("unexpected cycles: %v", res.Cycles)
	}
}

func TestResolveTieBreaksAscending(t *testing.T) {
	t.Parallel()
	res := Resolve([]*model.Task{mk("b"), mk("a"), mk("c")})
	if want := []string{"a", "b", "c"}; !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("Order = %v, want %v", res.Order, want)
	}
	// No edges: nothing is on a critical path.
	for id, on := range res.OnCriticalPath {
		if on {
			t.Fatalf("task %s flagged critical in an edgeless graph", id)
		}
	}
}

func TestResolveDiamondDependents(t *testing.T) {
	t.Parallel()
	// a -> {b, c} -> d. b and c are counted once each; d once, not twice.
	res := Resolve([]*model.Task{
		mk("a"),
		mk("b", "a"),
		mk("c", "a"),
		mk("d", "b", "c"),
	})
	if res.Dependents["a"] != 3 {
		t.Fatalf("Dependents[a] = %d, want 3", res.Dependents["a"])
	}
	if res.Depth["d"] != 2 {
		t.Fatalf("Depth[d] = %d, want 2", res.Depth["d"])
	}
	if !res.OnCriticalPath["d"] {
		t.Fatal("d should be on the critical path")
	}
}

func TestResolveCycleScopedToSubgraph(t *testing.T) {
	t.Parallel()
	// x <-> y is cyclic; a -> b is an independent subgraph and must still
	// resolve.
	res := Resolve([]*model.Task{
		mk("x", "y"),
		mk("y", "x"),
		mk("a"),
		mk("b", "a"),
	})

	if want := []string{"a", "b"}; !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("Order = %v, want %v", res.Order, want)
	}
	if len(res.Cycles) != 1 {
		t.Fatalf("Cycles = %v, want exactly one", res.Cycles)
	}

	members := map[string]bool{}
	for _, id := range res.Cycles[0].Path {
		members[id] = true
	}
	if !members["x"] || !members["y"] || len(members) != 2 {
		t.Fatalf("cycle path = %v, want x and y", res.Cycles[0].Path)
	}
	if !res.Failed("x") || !res.Failed("y") || res.Failed("a") {
		t.Fatal("Failed() must cover exactly the cyclic subgraph")
	}
}

func TestResolveSelfLoop(t *testing.T) {
	t.Parallel()
	res := Resolve([]*model.Task{mk("s", "s")})
	if len(res.Cycles) != 1 {
		t.Fatalf("Cycles = %v, want one", res.Cycles)
	}
	if want := []string{"s"}; !reflect.DeepEqual(res.Cycles[0].Path, want) {
		t.Fatalf("Path = %v, want %v", res.Cycles[0].Path, want)
	}
}

func TestResolveExternalDependencyIgnored(t *testing.T) {
	t.Parallel()
	// "ghost" is not in the snapshot; it carries no edge, so a is a root.
	res := Resolve([]*model.Task{mk("a", "ghost")})
	if want := []string{"a"}; !reflect.DeepEqual(res.Order, want) {
		t.Fatalf("Order = %v, want %v", res.Order, want)
	}
	if len(res.Cycles) != 0 {
		t.Fatalf("unexpected cycles: %v", res.Cycles)
	}
}

func TestCycleErrorMessage(t *testing.T) {
	t.Parallel()
	err := &CycleError{Path: []string{"a", "b", "c"}}
	if got, want := err.Error(), "dependency cycle: a -> b -> c"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestMaxDependents(t *testing.T) {
	t.Parallel()
	res := Resolve([]*model.Task{mk("a"), mk("b", "a"), mk("c", "b")})
	if got := res.MaxDependents(); got != 2 {
		t.Fatalf("MaxDependents() = %d, want 2", got)
	}
}

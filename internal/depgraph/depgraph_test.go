package depgraph

import (
	"testing"

	"github.com/autoforge/autoforge/internal/store"
)

func def(id string, deps ...string) store.SubtaskDefinition {
	return store.SubtaskDefinition{ID: id, Dependencies: deps, EstimatedComplexity: store.ComplexityXS}
}

func TestValidateReferences_RejectsUnknownDependency(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1", "ghost")}
	if err := ValidateReferences(subtasks); err == nil {
		t.Fatal("expected error for unknown dependency")
	}
}

func TestValidateReferences_RejectsSelfDependency(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1", "s1")}
	if err := ValidateReferences(subtasks); err == nil {
		t.Fatal("expected error for self dependency")
	}
}

func TestValidateReferences_RejectsDuplicateIDs(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s1")}
	if err := ValidateReferences(subtasks); err == nil {
		t.Fatal("expected error for duplicate id")
	}
}

func TestValidateNoCycles_DetectsCycle(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1", "s2"), def("s2", "s1")}
	if err := ValidateNoCycles(subtasks); err == nil {
		t.Fatal("expected cycle detection error")
	}
}

func TestValidateNoCycles_AcceptsDAG(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s2", "s1")}
	if err := ValidateNoCycles(subtasks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuild_RootsLeavesAndDepth(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s2", "s1"), def("s3", "s2")}
	g := Build(subtasks)

	if roots := g.Roots(); len(roots) != 1 || roots[0] != "s1" {
		t.Errorf("expected roots [s1], got %v", roots)
	}
	if leaves := g.Leaves(); len(leaves) != 1 || leaves[0] != "s3" {
		t.Errorf("expected leaves [s3], got %v", leaves)
	}
	if g.Node("s3").Depth != 2 {
		t.Errorf("expected depth 2 for s3, got %d", g.Node("s3").Depth)
	}
	if g.MaxDepth() != 2 {
		t.Errorf("expected max depth 2, got %d", g.MaxDepth())
	}
}

func TestTopologicalSort_RespectsDependenciesAndInsertionTieBreak(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s2"), def("s3", "s1", "s2")}
	g := Build(subtasks)

	order, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(order) != 3 || order[2] != "s3" {
		t.Errorf("expected s3 last, got %v", order)
	}
	if order[0] != "s1" || order[1] != "s2" {
		t.Errorf("expected insertion-order tie-break [s1 s2], got %v", order[:2])
	}
}

func TestFindParallelGroups_StagesRespectDependencies(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s2"), def("s3", "s1", "s2")}
	g := Build(subtasks)

	stages, err := g.FindParallelGroups()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stages) != 2 {
		t.Fatalf("expected 2 stages, got %d: %v", len(stages), stages)
	}
	if len(stages[0]) != 2 || len(stages[1]) != 1 || stages[1][0] != "s3" {
		t.Errorf("unexpected stages: %v", stages)
	}
}

func TestCriticalPath_TracksLongestChain(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s2", "s1"), def("s3", "s2"), def("s4")}
	g := Build(subtasks)

	path := g.CriticalPath()
	if len(path) != 3 || path[0] != "s1" || path[2] != "s3" {
		t.Errorf("expected [s1 s2 s3], got %v", path)
	}
}

func TestNextExecutable_BoundedByMaxParallelAndDependencies(t *testing.T) {
	subtasks := []store.SubtaskDefinition{def("s1"), def("s2"), def("s3", "s1")}
	g := Build(subtasks)

	next := g.NextExecutable(map[string]bool{}, map[string]bool{}, 1)
	if len(next) != 1 || next[0] != "s1" {
		t.Errorf("expected [s1] bounded by maxParallel=1, got %v", next)
	}

	next = g.NextExecutable(map[string]bool{"s1": true}, map[string]bool{}, 5)
	if len(next) != 2 || next[0] != "s2" || next[1] != "s3" {
		t.Errorf("expected [s2 s3] once s1 completed, got %v", next)
	}
}

// Package depgraph builds and analyzes the dependency graph over a
// breakdown's subtasks (§3 Dependency Graph, §4.7): cycle detection,
// topological order, depth, parallel execution stages, and critical
// path.
package depgraph

import (
	"fmt"
	"sort"

	autoforgeErrors "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/store"
)

// Node is one subtask's position in the graph (§3).
type Node struct {
	ID           string
	Dependencies []string
	Dependents   []string
	Depth        int
}

// Graph is the derived dependency structure over a subtask set.
type Graph struct {
	order []string // subtask insertion order, for stable tie-break
	nodes map[string]*Node
}

// Build constructs a Graph from subtask definitions, in insertion order.
// It does not itself reject cycles or unknown references — call
// ValidateNoCycles/ValidateReferences first.
func Build(subtasks []store.SubtaskDefinition) *Graph {
	g := &Graph{
		order: make([]string, 0, len(subtasks)),
		nodes: make(map[string]*Node, len(subtasks)),
	}
	for _, st := range subtasks {
		g.order = append(g.order, st.ID)
		g.nodes[st.ID] = &Node{ID: st.ID, Dependencies: append([]string{}, st.Dependencies...)}
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if depNode, ok := g.nodes[dep]; ok {
				depNode.Dependents = append(depNode.Dependents, st.ID)
			}
		}
	}
	g.computeDepths()
	return g
}

func (g *Graph) computeDepths() {
	memo := make(map[string]int, len(g.nodes))
	var depthOf func(id string, stack map[string]bool) int
	depthOf = func(id string, stack map[string]bool) int {
		if d, ok := memo[id]; ok {
			return d
		}
		node, ok := g.nodes[id]
		if !ok || len(node.Dependencies) == 0 {
			memo[id] = 0
			return 0
		}
		if stack[id] {
			// Cycle — depth is meaningless here; ValidateNoCycles catches
			// this separately, so just stop recursing.
			return 0
		}
		stack[id] = true
		max := 0
		for _, dep := range node.Dependencies {
			if d := depthOf(dep, stack); d+1 > max {
				max = d + 1
			}
		}
		stack[id] = false
		memo[id] = max
		return max
	}
	for _, id := range g.order {
		g.nodes[id].Depth = depthOf(id, map[string]bool{})
	}
}

// Node returns the node for id, or nil if unknown.
func (g *Graph) Node(id string) *Node {
	return g.nodes[id]
}

// MaxDepth returns the deepest node's depth, 0 if the graph is empty.
func (g *Graph) MaxDepth() int {
	max := 0
	for _, n := range g.nodes {
		if n.Depth > max {
			max = n.Depth
		}
	}
	return max
}

// Roots returns nodes with zero dependencies, in insertion order.
func (g *Graph) Roots() []string {
	var roots []string
	for _, id := range g.order {
		if len(g.nodes[id].Dependencies) == 0 {
			roots = append(roots, id)
		}
	}
	return roots
}

// Leaves returns nodes with zero dependents, in insertion order.
func (g *Graph) Leaves() []string {
	var leaves []string
	for _, id := range g.order {
		if len(g.nodes[id].Dependents) == 0 {
			leaves = append(leaves, id)
		}
	}
	return leaves
}

// ValidateReferences fails if any dependency references an unknown id
// or a subtask depends on itself (§4.6 invariant).
func ValidateReferences(subtasks []store.SubtaskDefinition) error {
	known := make(map[string]bool, len(subtasks))
	for _, st := range subtasks {
		if known[st.ID] {
			return fmt.Errorf("duplicate subtask id %q", st.ID)
		}
		known[st.ID] = true
	}
	for _, st := range subtasks {
		for _, dep := range st.Dependencies {
			if dep == st.ID {
				return fmt.Errorf("subtask %q depends on itself", st.ID)
			}
			if !known[dep] {
				return fmt.Errorf("subtask %q depends on unknown subtask %q", st.ID, dep)
			}
		}
	}
	return nil
}

// ValidateNoCycles runs a depth-first search with a recursion stack
// over subtasks' dependency edges (§4.7 validateNoCycles).
func ValidateNoCycles(subtasks []store.SubtaskDefinition) error {
	deps := make(map[string][]string, len(subtasks))
	for _, st := range subtasks {
		deps[st.ID] = st.Dependencies
	}

	visited := make(map[string]bool)
	stack := make(map[string]bool)

	var visit func(id string) error
	visit = func(id string) error {
		visited[id] = true
		stack[id] = true
		for _, dep := range deps[id] {
			if !visited[dep] {
				if err := visit(dep); err != nil {
					return err
				}
			} else if stack[dep] {
				return autoforgeErrors.New(autoforgeErrors.CodeCyclicDependency,
					fmt.Sprintf("cycle detected: %s -> %s", id, dep)).
					WithSuggestion("remove the circular dependency between subtasks")
			}
		}
		stack[id] = false
		return nil
	}

	ids := make([]string, 0, len(subtasks))
	for _, st := range subtasks {
		ids = append(ids, st.ID)
	}
	sort.Strings(ids) // deterministic traversal order for error messages
	for _, id := range ids {
		if !visited[id] {
			if err := visit(id); err != nil {
				return err
			}
		}
	}
	return nil
}

// TopologicalSort orders subtask ids via Kahn's algorithm, breaking
// ties by insertion order (§4.7): among all currently-ready ids, the
// one appearing earliest in the original subtask list is emitted first.
func (g *Graph) TopologicalSort() ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for id, n := range g.nodes {
		inDegree[id] = len(n.Dependencies)
	}
	pos := make(map[string]int, len(g.order))
	for i, id := range g.order {
		pos[id] = i
	}

	ready := make(map[string]bool, len(g.nodes))
	for _, id := range g.order {
		if inDegree[id] == 0 {
			ready[id] = true
		}
	}

	result := make([]string, 0, len(g.nodes))
	for len(ready) > 0 {
		var next string
		best := len(g.order) + 1
		for id := range ready {
			if pos[id] < best {
				best = pos[id]
				next = id
			}
		}
		delete(ready, next)
		result = append(result, next)

		for _, child := range g.nodes[next].Dependents {
			inDegree[child]--
			if inDegree[child] == 0 {
				ready[child] = true
			}
		}
	}

	if len(result) != len(g.nodes) {
		return nil, autoforgeErrors.New(autoforgeErrors.CodeCyclicDependency,
			"topological sort could not order all subtasks")
	}
	return result, nil
}

// FindParallelGroups repeatedly collects all subtasks whose
// dependencies are all satisfied, one stage per round (§4.7). It
// fails if a round collects nothing while subtasks remain unscheduled.
func (g *Graph) FindParallelGroups() ([][]string, error) {
	done := make(map[string]bool, len(g.nodes))
	var stages [][]string

	for len(done) < len(g.nodes) {
		var stage []string
		for _, id := range g.order {
			if done[id] {
				continue
			}
			if allSatisfied(g.nodes[id].Dependencies, done) {
				stage = append(stage, id)
			}
		}
		if len(stage) == 0 {
			return nil, autoforgeErrors.New(autoforgeErrors.CodeCyclicDependency,
				"no progress possible: remaining subtasks form a cycle or reference an incomplete dependency")
		}
		for _, id := range stage {
			done[id] = true
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func allSatisfied(deps []string, done map[string]bool) bool {
	for _, d := range deps {
		if !done[d] {
			return false
		}
	}
	return true
}

// CriticalPath returns the longest dependency chain ending at any leaf
// (§4.7): for every leaf, trace back via the longest-depth predecessor.
func (g *Graph) CriticalPath() []string {
	var best []string
	for _, leaf := range g.Leaves() {
		path := g.longestPathTo(leaf)
		if len(path) > len(best) {
			best = path
		}
	}
	return best
}

func (g *Graph) longestPathTo(id string) []string {
	node := g.nodes[id]
	if node == nil || len(node.Dependencies) == 0 {
		return []string{id}
	}
	var bestDep string
	bestDepth := -1
	for _, dep := range node.Dependencies {
		if d := g.nodes[dep]; d != nil && d.Depth > bestDepth {
			bestDepth = d.Depth
			bestDep = dep
		}
	}
	return append(g.longestPathTo(bestDep), id)
}

// NextExecutable filters subtasks whose dependencies are a subset of
// completed and that are not already completed/inProgress, returning up
// to maxParallel in insertion order (§4.7 getNextExecutableSubtasks).
func (g *Graph) NextExecutable(completed, inProgress map[string]bool, maxParallel int) []string {
	var next []string
	for _, id := range g.order {
		if completed[id] || inProgress[id] {
			continue
		}
		if allSatisfied(g.nodes[id].Dependencies, completed) {
			next = append(next, id)
			if len(next) >= maxParallel {
				break
			}
		}
	}
	return next
}

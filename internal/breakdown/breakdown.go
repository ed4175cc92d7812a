// Package breakdown implements the Breakdown algorithm (§4.6): it groups
// a complex Planner output's target files into XS/S subtasks, derives
// titles, descriptions, acceptance criteria and dependency edges, and
// validates the result via internal/depgraph before it is persisted.
package breakdown

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/autoforge/autoforge/internal/agents"
	"github.com/autoforge/autoforge/internal/depgraph"
	autoforgeErrors "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/store"
)

const (
	// defaultLinesPerFile estimates a file's changed-line count when the
	// caller supplies none; the spec does not define where per-file line
	// estimates originate.
	defaultLinesPerFile = 20
	groupLinesBudget    = 100
	xsLinesBudget       = 50
)

// group is a set of target files slated for one subtask, before a
// store.SubtaskDefinition is derived.
type group struct {
	files []string
	lines int
}

// Run executes the Breakdown algorithm over a Planner output for a
// complex task, producing an ordered, validated subtask set.
func Run(in agents.BreakdownInput) (agents.BreakdownOutput, error) {
	if len(in.TargetFiles) == 0 {
		return agents.BreakdownOutput{}, autoforgeErrors.New(autoforgeErrors.CodeConfigInvalid,
			"breakdown requires at least one target file")
	}

	groups := groupFiles(in.TargetFiles, in.TargetFileLines)

	subtasks := make([]store.SubtaskDefinition, 0, len(groups))
	for i, g := range groups {
		def, err := buildSubtask(i, g, in)
		if err != nil {
			return agents.BreakdownOutput{}, err
		}
		subtasks = append(subtasks, def)
	}

	detectDependencies(subtasks, in.PlanSteps)

	if err := depgraph.ValidateReferences(subtasks); err != nil {
		return agents.BreakdownOutput{}, err
	}
	if err := depgraph.ValidateNoCycles(subtasks); err != nil {
		return agents.BreakdownOutput{}, err
	}

	return agents.BreakdownOutput{Subtasks: subtasks}, nil
}

// groupFiles implements step 1: pair test siblings, then merge
// remaining single-file groups sharing a directory while staying
// within the line budget.
func groupFiles(files []string, lineEstimates map[string]int) []group {
	linesOf := func(f string) int {
		if n, ok := lineEstimates[f]; ok {
			return n
		}
		return defaultLinesPerFile
	}

	paired := make(map[string]bool, len(files))
	var groups []group

	for _, f := range files {
		if paired[f] || isTestFile(f) {
			continue
		}
		sibling := findTestSibling(f, files)
		if sibling != "" && !paired[sibling] {
			paired[f] = true
			paired[sibling] = true
			groups = append(groups, group{files: []string{f, sibling}, lines: linesOf(f) + linesOf(sibling)})
		}
	}
	for _, f := range files {
		if !paired[f] {
			paired[f] = true
			groups = append(groups, group{files: []string{f}, lines: linesOf(f)})
		}
	}

	merged := make([]group, 0, len(groups))
	used := make([]bool, len(groups))
	for i, g := range groups {
		if used[i] {
			continue
		}
		used[i] = true
		if len(g.files) != 1 {
			merged = append(merged, g)
			continue
		}
		dir := path.Dir(g.files[0])
		cur := g
		for j := i + 1; j < len(groups); j++ {
			if used[j] || len(groups[j].files) != 1 {
				continue
			}
			if path.Dir(groups[j].files[0]) != dir {
				continue
			}
			if cur.lines+groups[j].lines > groupLinesBudget {
				continue
			}
			cur.files = append(cur.files, groups[j].files[0])
			cur.lines += groups[j].lines
			used[j] = true
		}
		merged = append(merged, cur)
	}
	return merged
}

func isTestFile(f string) bool {
	base := path.Base(f)
	if strings.HasSuffix(base, ".test.ts") || strings.HasSuffix(base, ".spec.ts") {
		return true
	}
	return strings.Contains(f, "__tests__/")
}

func findTestSibling(f string, files []string) string {
	if !strings.HasSuffix(f, ".ts") || isTestFile(f) {
		return ""
	}
	stem := strings.TrimSuffix(f, ".ts")
	dir := path.Dir(f)
	base := strings.TrimSuffix(path.Base(f), ".ts")
	candidates := []string{
		stem + ".test.ts",
		stem + ".spec.ts",
		path.Join(dir, "__tests__", base+".test.ts"),
		path.Join(dir, "__tests__", base+".spec.ts"),
	}
	for _, c := range candidates {
		for _, cand := range files {
			if cand == c {
				return cand
			}
		}
	}
	return ""
}

func buildSubtask(index int, g group, in agents.BreakdownInput) (store.SubtaskDefinition, error) {
	id := fmt.Sprintf("s%d", index+1)
	complexity, err := classify(g.lines)
	if err != nil {
		return store.SubtaskDefinition{}, autoforgeErrors.Wrap(autoforgeErrors.CodeConfigInvalid,
			fmt.Sprintf("subtask %s (%s)", id, strings.Join(g.files, ", ")), err)
	}

	sort.Strings(g.files)
	return store.SubtaskDefinition{
		ID:                  id,
		Title:               deriveTitle(g.files, in.PlanSteps),
		Description:         deriveDescription(g.files, in.PlanSteps),
		TargetFiles:         g.files,
		AcceptanceCriteria:  deriveAcceptanceCriteria(g.files, in.AcceptanceCriteria),
		EstimatedComplexity: complexity,
		EstimatedLines:      g.lines,
	}, nil
}

func classify(lines int) (store.Complexity, error) {
	switch {
	case lines <= xsLinesBudget:
		return store.ComplexityXS, nil
	case lines <= groupLinesBudget:
		return store.ComplexityS, nil
	default:
		return "", fmt.Errorf("estimated %d lines exceeds the S budget of %d", lines, groupLinesBudget)
	}
}

func deriveTitle(files []string, planSteps []string) string {
	if len(files) == 1 {
		f := files[0]
		if mentionsFileWithVerb(f, planSteps, "create") {
			return fmt.Sprintf("Create %s", f)
		}
		return fmt.Sprintf("Modify %s", f)
	}
	return fmt.Sprintf("Update %d files in %s", len(files), path.Dir(files[0]))
}

func deriveDescription(files []string, planSteps []string) string {
	var parts []string
	seen := make(map[string]bool, len(planSteps))
	for _, f := range files {
		base := path.Base(f)
		for _, step := range planSteps {
			if seen[step] {
				continue
			}
			if strings.Contains(strings.ToLower(step), strings.ToLower(base)) {
				seen[step] = true
				parts = append(parts, step)
			}
		}
	}
	if len(parts) == 0 {
		return strings.Join(planSteps, "; ")
	}
	return strings.Join(parts, "; ")
}

func deriveAcceptanceCriteria(files []string, parentCriteria []string) []string {
	var matched []string
	for _, c := range parentCriteria {
		low := strings.ToLower(c)
		for _, f := range files {
			if strings.Contains(low, strings.ToLower(path.Base(f))) {
				matched = append(matched, c)
				break
			}
		}
	}
	if len(matched) == 0 {
		return []string{"compiles", "properly typed"}
	}
	return matched
}

func mentionsFileWithVerb(file string, steps []string, verb string) bool {
	base := strings.ToLower(path.Base(file))
	for _, s := range steps {
		low := strings.ToLower(s)
		if strings.Contains(low, verb) && strings.Contains(low, base) {
			return true
		}
	}
	return false
}

// detectDependencies implements step 4: a subtask that modifies a file
// depends on any subtask that creates a file the modifying file might
// import — same directory, or named types/index.
func detectDependencies(subtasks []store.SubtaskDefinition, planSteps []string) {
	createdBy := make(map[string]string, len(subtasks))
	for _, st := range subtasks {
		for _, f := range st.TargetFiles {
			if mentionsFileWithVerb(f, planSteps, "create") {
				createdBy[f] = st.ID
			}
		}
	}
	if len(createdBy) == 0 {
		return
	}

	for i := range subtasks {
		st := &subtasks[i]
		deps := make(map[string]bool)
		for _, f := range st.TargetFiles {
			if mentionsFileWithVerb(f, planSteps, "create") {
				continue
			}
			dir := path.Dir(f)
			for createdFile, owner := range createdBy {
				if owner == st.ID {
					continue
				}
				if path.Dir(createdFile) == dir || isTypesOrIndex(createdFile) {
					deps[owner] = true
				}
			}
		}
		if len(deps) == 0 {
			continue
		}
		for dep := range deps {
			st.Dependencies = append(st.Dependencies, dep)
		}
		sort.Strings(st.Dependencies)
	}
}

func isTypesOrIndex(f string) bool {
	base := strings.TrimSuffix(path.Base(f), path.Ext(f))
	return base == "types" || base == "index"
}

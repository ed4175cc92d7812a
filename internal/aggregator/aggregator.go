// Package aggregator implements the Aggregator (§4.8): a mechanical,
// never-LLM merge of a task's completed subtask diffs into one combined
// diff, persisted onto the parent task's orchestration state.
package aggregator

import (
	"bytes"
	"fmt"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/autoforge/autoforge/internal/diffengine"
	"github.com/autoforge/autoforge/internal/store"
)

// FileSummary reports a per-file change count, surfaced when
// aggregation fails so the caller can explain why.
type FileSummary struct {
	Path       string
	Insertions int
	Deletions  int
}

// Result is the Aggregator's outcome.
type Result struct {
	Diff      string
	Conflicts []diffengine.Conflict
	Summaries []FileSummary
}

// Aggregate collects completed child diffs from state in subtask index
// order and combines them. Zero diffs yields an empty success; one
// passes through unchanged; more than one are grouped by file, checked
// for conflicts (§4.5), and combined if no conflict survives strategy's
// resolution. On success it persists Result.Diff into
// state.AggregatedDiff and returns it; on failure state is left
// untouched so the caller can retry with a different strategy or
// surface the conflict to a human.
func Aggregate(state *store.OrchestrationState, strategy diffengine.Strategy) (Result, error) {
	var raw []string
	for _, st := range state.Subtasks {
		if st.Status == store.SubtaskCompleted && st.Diff != "" {
			raw = append(raw, st.Diff)
		}
	}

	switch len(raw) {
	case 0:
		state.AggregatedDiff = ""
		return Result{}, nil
	case 1:
		state.AggregatedDiff = raw[0]
		return Result{Diff: raw[0]}, nil
	}

	diffSets := make([][]*diff.FileDiff, 0, len(raw))
	for _, d := range raw {
		fds, err := diffengine.Parse(d)
		if err != nil {
			return Result{}, fmt.Errorf("aggregator: parsing subtask diff: %w", err)
		}
		diffSets = append(diffSets, fds)
	}

	conflicts := diffengine.DetectConflicts(diffSets)
	if len(conflicts) > 0 {
		resolvable := strategy != "" && strategy != diffengine.StrategyManualRequired
		if !resolvable {
			return Result{Conflicts: conflicts, Summaries: summarize(diffSets)},
				fmt.Errorf("aggregator: %d unresolved conflict(s) require manual resolution", len(conflicts))
		}
		diffSets = applyResolution(diffSets, conflicts, strategy)
	}

	combined, err := diffengine.Combine(diffSets)
	if err != nil {
		return Result{Conflicts: conflicts, Summaries: summarize(diffSets)}, fmt.Errorf("aggregator: %w", err)
	}

	state.AggregatedDiff = combined
	return Result{Diff: combined}, nil
}

// applyResolution drops, from the losing side of each resolved
// conflict, the hunks touching the conflicted file.
func applyResolution(diffSets [][]*diff.FileDiff, conflicts []diffengine.Conflict, strategy diffengine.Strategy) [][]*diff.FileDiff {
	dropFiles := make(map[int]map[string]bool)
	for _, c := range conflicts {
		survivor, resolved := diffengine.Resolve(c, strategy)
		if !resolved {
			continue
		}
		loser := c.FirstIndex
		if survivor == c.FirstIndex {
			loser = c.SecondIndex
		}
		if dropFiles[loser] == nil {
			dropFiles[loser] = make(map[string]bool)
		}
		dropFiles[loser][c.File] = true
	}

	filtered := make([][]*diff.FileDiff, len(diffSets))
	for i, set := range diffSets {
		drop := dropFiles[i]
		if drop == nil {
			filtered[i] = set
			continue
		}
		var kept []*diff.FileDiff
		for _, fd := range set {
			if !drop[fd.NewName] {
				kept = append(kept, fd)
			}
		}
		filtered[i] = kept
	}
	return filtered
}

func summarize(diffSets [][]*diff.FileDiff) []FileSummary {
	byFile := make(map[string]*FileSummary)
	var order []string
	for _, set := range diffSets {
		for _, fd := range set {
			s, ok := byFile[fd.NewName]
			if !ok {
				s = &FileSummary{Path: fd.NewName}
				byFile[fd.NewName] = s
				order = append(order, fd.NewName)
			}
			for _, h := range fd.Hunks {
				ins, del := countLines(h.Body)
				s.Insertions += ins
				s.Deletions += del
			}
		}
	}
	summaries := make([]FileSummary, 0, len(order))
	for _, name := range order {
		summaries = append(summaries, *byFile[name])
	}
	return summaries
}

func countLines(body []byte) (insertions, deletions int) {
	for _, line := range bytes.Split(body, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		switch line[0] {
		case '+':
			insertions++
		case '-':
			deletions++
		}
	}
	return insertions, deletions
}

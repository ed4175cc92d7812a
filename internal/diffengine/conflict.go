package diffengine

import (
	"fmt"
	"sort"

	"github.com/sourcegraph/go-diff/diff"
)

// Strategy is a conflict resolution policy (§4.5).
type Strategy string

const (
	StrategyKeepFirst     Strategy = "keep_first"
	StrategyKeepSecond    Strategy = "keep_second"
	StrategyManualRequired Strategy = "manual_required"
)

// Conflict describes two diffs touching overlapping line ranges in the
// same destination file.
type Conflict struct {
	File        string
	FirstIndex  int
	SecondIndex int
	Reason      string
}

// lineRange is a half-open [start, end) range of original-file line
// numbers touched by one hunk.
type lineRange struct {
	start, end int
}

func overlaps(a, b lineRange) bool {
	return a.start < b.end && b.start < a.end
}

// fileRanges collects the added and deleted ranges a FileDiff touches in
// its destination file.
type fileRanges struct {
	added   []lineRange
	deleted []lineRange
}

func rangesFor(fd *diff.FileDiff) fileRanges {
	var fr fileRanges
	for _, h := range fd.Hunks {
		body := splitHunkBody(h.Body)
		pos := int(h.OrigStartLine)
		hasAdd, hasDel := false, false
		for _, l := range body {
			switch l.kind {
			case '-':
				hasDel = true
				pos++
			case ' ':
				pos++
			case '+':
				hasAdd = true
			}
		}
		if hasDel {
			fr.deleted = append(fr.deleted, lineRange{start: int(h.OrigStartLine), end: pos})
		}
		if hasAdd {
			fr.added = append(fr.added, lineRange{start: int(h.OrigStartLine), end: pos})
		}
	}
	return fr
}

// DetectConflicts groups the given diff sets by destination file and
// reports any pair whose touched ranges overlap, or where one deletes a
// line another modifies.
func DetectConflicts(diffSets [][]*diff.FileDiff) []Conflict {
	byFile := map[string][]struct {
		setIdx int
		fd     *diff.FileDiff
	}{}

	for setIdx, set := range diffSets {
		for _, fd := range set {
			byFile[fd.NewName] = append(byFile[fd.NewName], struct {
				setIdx int
				fd     *diff.FileDiff
			}{setIdx, fd})
		}
	}

	var conflicts []Conflict
	for file, entries := range byFile {
		for i := 0; i < len(entries); i++ {
			for j := i + 1; j < len(entries); j++ {
				ri := rangesFor(entries[i].fd)
				rj := rangesFor(entries[j].fd)

				if rangesOverlap(ri.added, rj.added) || rangesOverlap(ri.deleted, rj.deleted) ||
					rangesOverlap(ri.deleted, rj.added) || rangesOverlap(ri.added, rj.deleted) {
					conflicts = append(conflicts, Conflict{
						File:        file,
						FirstIndex:  entries[i].setIdx,
						SecondIndex: entries[j].setIdx,
						Reason:      fmt.Sprintf("overlapping edits to %s between subtask %d and subtask %d", file, entries[i].setIdx, entries[j].setIdx),
					})
				}
			}
		}
	}

	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].File != conflicts[j].File {
			return conflicts[i].File < conflicts[j].File
		}
		return conflicts[i].FirstIndex < conflicts[j].FirstIndex
	})
	return conflicts
}

func rangesOverlap(a, b []lineRange) bool {
	for _, ra := range a {
		for _, rb := range b {
			if overlaps(ra, rb) {
				return true
			}
		}
	}
	return false
}

// Resolve applies strategy to a detected conflict, returning which of the
// two diff indices (if any) survives. manual_required never resolves.
func Resolve(c Conflict, strategy Strategy) (survivingIndex int, resolved bool) {
	switch strategy {
	case StrategyKeepFirst:
		return c.FirstIndex, true
	case StrategyKeepSecond:
		return c.SecondIndex, true
	default:
		return 0, false
	}
}

// Combine concatenates hunks per file across diff sets in subtask order,
// re-sorts by line number, and emits one unified diff. It is only valid
// to call once DetectConflicts reports no conflicts among diffSets.
func Combine(diffSets [][]*diff.FileDiff) (string, error) {
	if conflicts := DetectConflicts(diffSets); len(conflicts) > 0 {
		return "", fmt.Errorf("cannot combine: %d unresolved conflict(s), first: %s", len(conflicts), conflicts[0].Reason)
	}

	byFile := map[string]*diff.FileDiff{}
	var order []string

	for _, set := range diffSets {
		for _, fd := range set {
			existing, ok := byFile[fd.NewName]
			if !ok {
				cp := *fd
				cp.Hunks = append([]*diff.Hunk{}, fd.Hunks...)
				byFile[fd.NewName] = &cp
				order = append(order, fd.NewName)
				continue
			}
			existing.Hunks = append(existing.Hunks, fd.Hunks...)
		}
	}

	var combined []*diff.FileDiff
	for _, name := range order {
		fd := byFile[name]
		sort.Slice(fd.Hunks, func(i, j int) bool { return fd.Hunks[i].OrigStartLine < fd.Hunks[j].OrigStartLine })
		if err := validateFileSection(fd); err != nil {
			return "", err
		}
		combined = append(combined, fd)
	}

	return PrintAll(combined)
}

func validateFileSection(fd *diff.FileDiff) error {
	if fd.OrigName == "" && fd.NewName == "" {
		return fmt.Errorf("combined diff has a file section with no header pair")
	}
	if len(fd.Hunks) == 0 {
		return fmt.Errorf("combined diff for %s has no hunks", fd.NewName)
	}
	return nil
}

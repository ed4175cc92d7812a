// Package diffengine wraps sourcegraph/go-diff with the tolerance,
// application, conflict-detection and combination rules an LLM-authored
// unified diff needs before it can be applied to a real file (§4.5).
package diffengine

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// Parse consumes unified diff text, repairing common LLM-output defects
// before delegating to go-diff: missing `diff --git` headers, wrong hunk
// line counts, and `a/`/`b/` path prefixes.
func Parse(raw string) ([]*diff.FileDiff, error) {
	repaired := repair(raw)
	fileDiffs, err := diff.ParseMultiFileDiff([]byte(repaired))
	if err != nil {
		return nil, fmt.Errorf("failed to parse diff: %w", err)
	}
	for _, fd := range fileDiffs {
		fd.OrigName = stripPrefix(fd.OrigName)
		fd.NewName = stripPrefix(fd.NewName)
	}
	return fileDiffs, nil
}

func stripPrefix(name string) string {
	if isDevNull(name) {
		return name
	}
	name = strings.TrimPrefix(name, "a/")
	name = strings.TrimPrefix(name, "b/")
	return strings.TrimPrefix(name, "/")
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// repair inserts a missing `diff --git` header at each file boundary and
// recomputes each hunk's `@@ -a,b +c,d @@` line counts from its actual
// body, since LLM-generated diffs routinely get the counts wrong.
func repair(raw string) string {
	lines := strings.Split(raw, "\n")
	var out []string

	for i := 0; i < len(lines); i++ {
		line := lines[i]

		if strings.HasPrefix(line, "--- ") && (len(out) == 0 || !strings.HasPrefix(out[len(out)-1], "diff --git")) {
			origName := strings.TrimPrefix(strings.TrimPrefix(line, "--- "), "a/")
			newName := origName
			if i+1 < len(lines) && strings.HasPrefix(lines[i+1], "+++ ") {
				newName = strings.TrimPrefix(strings.TrimPrefix(lines[i+1], "+++ "), "b/")
			}
			out = append(out, fmt.Sprintf("diff --git a/%s b/%s", origName, newName))
		}

		if m := hunkHeaderRe.FindStringSubmatch(line); m != nil {
			origStart, newStart, section := m[1], m[3], m[5]
			addCount, delCount, ctxCount := 0, 0, 0
			j := i + 1
			for ; j < len(lines); j++ {
				l := lines[j]
				if strings.HasPrefix(l, "@@ ") || strings.HasPrefix(l, "diff --git") {
					break
				}
				if strings.HasPrefix(l, "--- ") && j+1 < len(lines) && strings.HasPrefix(lines[j+1], "+++ ") {
					break
				}
				switch {
				case strings.HasPrefix(l, "+"):
					addCount++
				case strings.HasPrefix(l, "-"):
					delCount++
				case strings.HasPrefix(l, " ") || (l == "" && j < len(lines)-1):
					ctxCount++
				}
			}
			oldCount := delCount + ctxCount
			newCount := addCount + ctxCount
			out = append(out, fmt.Sprintf("@@ -%s,%d +%s,%d @@%s", origStart, oldCount, newStart, newCount, section))
			continue
		}

		out = append(out, line)
	}

	return strings.Join(out, "\n")
}

// hunkLine is one line of a hunk body with its marker stripped.
type hunkLine struct {
	kind byte // ' ', '+', '-'
	text string
}

func splitHunkBody(body []byte) []hunkLine {
	var out []hunkLine
	for _, raw := range strings.Split(strings.TrimSuffix(string(body), "\n"), "\n") {
		if raw == "" {
			out = append(out, hunkLine{kind: ' ', text: ""})
			continue
		}
		switch raw[0] {
		case '+', '-', ' ':
			out = append(out, hunkLine{kind: raw[0], text: raw[1:]})
		default:
			out = append(out, hunkLine{kind: ' ', text: raw})
		}
	}
	return out
}

// Apply applies a single FileDiff's hunks to base, returning the new
// file content. Hunks are applied in descending oldStart order so earlier
// edits don't shift the line numbers later hunks rely on.
func Apply(base string, fd *diff.FileDiff) (string, error) {
	if isDevNull(fd.NewName) {
		return "", nil
	}
	if isDevNull(fd.OrigName) {
		return newFileContent(fd), nil
	}

	lines := strings.Split(base, "\n")

	hunks := make([]*diff.Hunk, len(fd.Hunks))
	copy(hunks, fd.Hunks)
	sort.Slice(hunks, func(i, j int) bool { return hunks[i].OrigStartLine > hunks[j].OrigStartLine })

	for _, h := range hunks {
		body := splitHunkBody(h.Body)

		var context []string
		var additions []string
		onlyAdditive := true
		for _, l := range body {
			switch l.kind {
			case ' ':
				context = append(context, l.text)
			case '+':
				additions = append(additions, l.text)
			case '-':
				onlyAdditive = false
			}
		}

		pos := locateHunk(lines, int(h.OrigStartLine)-1, context)
		oldCount := int(h.OrigLines)

		var replacement []string
		if onlyAdditive {
			replacement = append(append([]string{}, context...), additions...)
		} else {
			replacement = mergeContextAndAdditions(body)
		}

		if pos < 0 || pos > len(lines) {
			pos = len(lines)
			oldCount = 0
		}
		end := pos + oldCount
		if end > len(lines) {
			end = len(lines)
		}

		var next []string
		next = append(next, lines[:pos]...)
		next = append(next, replacement...)
		next = append(next, lines[end:]...)
		lines = next
	}

	return strings.Join(lines, "\n"), nil
}

// mergeContextAndAdditions preserves line order for hunks that both
// remove and add lines: walk the body in order, emitting context and
// addition lines, dropping deletions.
func mergeContextAndAdditions(body []hunkLine) []string {
	var out []string
	for _, l := range body {
		if l.kind == ' ' || l.kind == '+' {
			out = append(out, l.text)
		}
	}
	return out
}

// locateHunk finds the true 0-based position of a hunk's context in
// lines: first trust hint, then search +/-10 lines for an exact
// multi-line context match, then fall back to a first-context-line match.
func locateHunk(lines []string, hint int, context []string) int {
	if len(context) == 0 {
		return hint
	}
	if hint >= 0 && matchesAt(lines, hint, context) {
		return hint
	}

	for delta := 1; delta <= 10; delta++ {
		for _, pos := range []int{hint - delta, hint + delta} {
			if pos >= 0 && matchesAt(lines, pos, context) {
				return pos
			}
		}
	}

	first := context[0]
	for i, l := range lines {
		if l == first {
			return i
		}
	}

	return hint
}

func matchesAt(lines []string, pos int, context []string) bool {
	if pos < 0 || pos+len(context) > len(lines) {
		return false
	}
	for i, c := range context {
		if lines[pos+i] != c {
			return false
		}
	}
	return true
}

func isDevNull(name string) bool {
	return name == "/dev/null"
}

// newFileContent collects the added lines of a new-file hunk, stripping
// any diff syntax the model accidentally embedded in the content.
func newFileContent(fd *diff.FileDiff) string {
	var out []string
	for _, h := range fd.Hunks {
		for _, l := range splitHunkBody(h.Body) {
			if l.kind != '+' {
				continue
			}
			if isEmbeddedDiffSyntax(l.text) {
				continue
			}
			out = append(out, l.text)
		}
	}
	return strings.Join(out, "\n")
}

func isEmbeddedDiffSyntax(line string) bool {
	for _, prefix := range []string{"diff --git", "--- ", "+++ ", "@@", "index ", "new file mode"} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

// Deleted reports whether fd marks its file as deleted (destination is
// /dev/null).
func Deleted(fd *diff.FileDiff) bool {
	return isDevNull(fd.NewName)
}

// Print serializes a FileDiff back into unified diff text.
func Print(fd *diff.FileDiff) (string, error) {
	b, err := diff.PrintFileDiff(fd)
	if err != nil {
		return "", fmt.Errorf("failed to print file diff: %w", err)
	}
	return string(b), nil
}

// PrintAll serializes a set of FileDiffs, in order, into one diff.
func PrintAll(diffs []*diff.FileDiff) (string, error) {
	var buf bytes.Buffer
	for _, fd := range diffs {
		b, err := diff.PrintFileDiff(fd)
		if err != nil {
			return "", fmt.Errorf("failed to print file diff for %s: %w", fd.NewName, err)
		}
		buf.Write(b)
	}
	return buf.String(), nil
}

// Package agents defines the closed set of tagged agent variants the
// Agent Runner invokes — Planner, Coder, Fixer, Reviewer, Breakdown —
// each a typed pure function from input to output (§9). The package
// specifies contracts only; prompts and model behavior live outside
// the core.
package agents

import "github.com/autoforge/autoforge/internal/store"

// Kind identifies one of the five closed agent variants.
type Kind string

const (
	KindPlanner   Kind = "planner"
	KindCoder     Kind = "coder"
	KindFixer     Kind = "fixer"
	KindReviewer  Kind = "reviewer"
	KindBreakdown Kind = "breakdown"
)

// Verdict is the Reviewer's outcome (§3).
type Verdict string

const (
	VerdictApprove         Verdict = "approve"
	VerdictRequestChanges  Verdict = "request_changes"
	VerdictNeedsDiscussion Verdict = "needs_discussion"
)

// PlannerInput carries the issue and repository context the Planner reads.
type PlannerInput struct {
	IssueTitle  string
	IssueBody   string
	RepoContext string
}

// PlannerOutput is the Planner's minimum contract (§3).
type PlannerOutput struct {
	DefinitionOfDone    []string
	PlanSteps           []string
	TargetFiles         []string
	EstimatedComplexity store.Complexity
	EstimatedEffort     store.Effort
}

// CoderInput carries a single subtask's (or unsplit task's) plan plus the
// current content of its target files.
type CoderInput struct {
	PlanSteps        []string
	TargetFiles      []string
	DefinitionOfDone []string
	FileContents     map[string]string // path -> current content, "" if new
}

// CoderOutput is the Coder's minimum contract (§3).
type CoderOutput struct {
	Diff          string
	CommitMessage string
	FilesModified []string
}

// FixerInput carries the failing diff, the observed error, and recent
// deduplicated failure patterns so the Fixer does not repeat known-bad
// approaches.
type FixerInput struct {
	PreviousDiff    string
	LastError       string
	FailurePatterns []store.FailurePattern
	FileContents    map[string]string
}

// FixerOutput is the Fixer's minimum contract (§3).
type FixerOutput struct {
	Diff           string
	CommitMessage  string
	FilesModified  []string
	FixDescription string
}

// ReviewerInput carries the diff under review plus its task context.
type ReviewerInput struct {
	Diff             string
	DefinitionOfDone []string
	CommitMessage    string
}

// ReviewerOutput is the Reviewer's minimum contract (§3).
type ReviewerOutput struct {
	Verdict  Verdict
	Comments []string
}

// BreakdownInput is the Planner output for a complex task (§4.6).
// TargetFileLines estimates each target file's changed-line count; the
// spec does not say where this comes from, so absent entries fall back
// to a constant default (see internal/breakdown).
type BreakdownInput struct {
	PlannerOutput
	AcceptanceCriteria []string
	TargetFileLines    map[string]int
}

// BreakdownOutput is an ordered list of subtask definitions (§4.6).
type BreakdownOutput struct {
	Subtasks []store.SubtaskDefinition
}

// Package vcs defines the version-control adapter the Orchestrator consumes
// (§6): issue/repo lookup, branch and PR management, diff application, and
// CI polling. Concrete implementations live in subpackages (github, mock).
package vcs

import (
	"context"
	"fmt"
	"regexp"
)

// Issue is the subset of issue data the Orchestrator needs to seed a Task.
type Issue struct {
	Title  string
	Body   string
	Labels []string
	State  string
}

// CheckResult is the outcome of waiting for CI on a branch.
type CheckResult struct {
	Success      bool
	ErrorSummary string
}

// PRState is the merge lifecycle state of a pull request, as the
// reconcile loop needs it: still under review, merged, or closed
// without merging.
type PRState string

const (
	PRStateOpen   PRState = "open"
	PRStateMerged PRState = "merged"
	PRStateClosed PRState = "closed"
)

// PRStatus is the subset of pull-request state the reconcile loop polls
// for (§4.9 "WAITING_HUMAN -> {COMPLETED, FAILED}: driven by a reconcile job").
type PRStatus struct {
	State PRState
}

// RepoRef is a parsed "owner/repo" reference.
type RepoRef struct {
	Owner string
	Repo  string
}

var repoRefPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// ParseRepo splits "owner/repo" into its parts, rejecting any other format.
func ParseRepo(spec string) (RepoRef, error) {
	if !repoRefPattern.MatchString(spec) {
		return RepoRef{}, fmt.Errorf("invalid repo reference %q: want \"owner/repo\"", spec)
	}
	for i, r := range spec {
		if r == '/' {
			return RepoRef{Owner: spec[:i], Repo: spec[i+1:]}, nil
		}
	}
	return RepoRef{}, fmt.Errorf("invalid repo reference %q", spec)
}

// VCS is the full adapter surface consumed by the Orchestrator (§6).
type VCS interface {
	GetIssue(ctx context.Context, owner, repo string, number int) (*Issue, error)
	GetRepoContext(ctx context.Context, repo string, targetFiles []string) (string, error)
	GetFilesContent(ctx context.Context, repo string, paths []string, ref string) (map[string]string, error)

	CreateBranch(ctx context.Context, repo, branchName, baseRef string) error
	ApplyDiff(ctx context.Context, repo, branch, diffText, commitMessage string) (headSHA string, err error)

	CreatePR(ctx context.Context, repo, branch, base, title, body string) (number int, url string, err error)
	UpdatePR(ctx context.Context, repo string, number int, title, body string) error
	GetPRStatus(ctx context.Context, repo string, number int) (*PRStatus, error)
	AddComment(ctx context.Context, repo string, number int, body string) error
	AddLabels(ctx context.Context, repo string, number int, labels []string) error

	WaitForChecks(ctx context.Context, repo, branch string, timeoutMs int) (*CheckResult, error)
}

// Package mock is a scripted vcs.VCS test double.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/autoforge/autoforge/internal/vcs"
)

// VCS is an in-memory vcs.VCS implementation for tests.
type VCS struct {
	mu sync.Mutex

	Issues       map[string]*vcs.Issue // key "owner/repo#number"
	Files        map[string]string     // key "repo:path@ref"
	Branches     map[string]bool       // key "repo:branch"
	PRs          map[int]*pr
	nextPRNumber int
	CheckResults map[string]*vcs.CheckResult // key "repo:branch"
	PRStates     map[int]vcs.PRState

	AppliedDiffs []AppliedDiff
	Comments     []Comment
}

type pr struct {
	Repo, Branch, Base, Title, Body string
}

// AppliedDiff records a call to ApplyDiff.
type AppliedDiff struct {
	Repo, Branch, Diff, CommitMessage string
}

// Comment records a call to AddComment.
type Comment struct {
	Repo   string
	Number int
	Body   string
}

// New returns an empty mock VCS.
func New() *VCS {
	return &VCS{
		Issues:       map[string]*vcs.Issue{},
		Files:        map[string]string{},
		Branches:     map[string]bool{},
		PRs:          map[int]*pr{},
		nextPRNumber: 1,
		CheckResults: map[string]*vcs.CheckResult{},
		PRStates:     map[int]vcs.PRState{},
	}
}

func issueKey(owner, repo string, number int) string {
	return fmt.Sprintf("%s/%s#%d", owner, repo, number)
}

// SeedIssue registers an issue for GetIssue to return.
func (m *VCS) SeedIssue(owner, repo string, number int, issue *vcs.Issue) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Issues[issueKey(owner, repo, number)] = issue
}

// SeedFile registers file content at repo:path@ref for GetFilesContent.
func (m *VCS) SeedFile(repo, path, ref, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Files[repo+":"+path+"@"+ref] = content
}

// SeedCheckResult registers the outcome WaitForChecks returns for repo:branch.
func (m *VCS) SeedCheckResult(repo, branch string, result *vcs.CheckResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CheckResults[repo+":"+branch] = result
}

// SeedPRState overrides the state GetPRStatus returns for number, for
// tests that drive the reconcile loop without a real VCS.
func (m *VCS) SeedPRState(number int, state vcs.PRState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PRStates[number] = state
}

func (m *VCS) GetIssue(ctx context.Context, owner, repo string, number int) (*vcs.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.Issues[issueKey(owner, repo, number)]
	if !ok {
		return nil, fmt.Errorf("mock vcs: no issue seeded for %s", issueKey(owner, repo, number))
	}
	return issue, nil
}

func (m *VCS) GetRepoContext(ctx context.Context, repo string, targetFiles []string) (string, error) {
	return "mock repo context for " + repo, nil
}

func (m *VCS) GetFilesContent(ctx context.Context, repo string, paths []string, ref string) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		out[p] = m.Files[repo+":"+p+"@"+ref]
	}
	return out, nil
}

func (m *VCS) CreateBranch(ctx context.Context, repo, branchName, baseRef string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Branches[repo+":"+branchName] = true
	return nil
}

func (m *VCS) ApplyDiff(ctx context.Context, repo, branch, diffText, commitMessage string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.Branches[repo+":"+branch] {
		return "", fmt.Errorf("mock vcs: branch %s not created on %s", branch, repo)
	}
	m.AppliedDiffs = append(m.AppliedDiffs, AppliedDiff{Repo: repo, Branch: branch, Diff: diffText, CommitMessage: commitMessage})
	return fmt.Sprintf("mocksha-%d", len(m.AppliedDiffs)), nil
}

func (m *VCS) CreatePR(ctx context.Context, repo, branch, base, title, body string) (int, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := m.nextPRNumber
	m.nextPRNumber++
	m.PRs[n] = &pr{Repo: repo, Branch: branch, Base: base, Title: title, Body: body}
	return n, fmt.Sprintf("https://example.invalid/%s/pull/%d", repo, n), nil
}

func (m *VCS) UpdatePR(ctx context.Context, repo string, number int, title, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.PRs[number]
	if !ok {
		return fmt.Errorf("mock vcs: no PR #%d", number)
	}
	p.Title, p.Body = title, body
	return nil
}

func (m *VCS) GetPRStatus(ctx context.Context, repo string, number int) (*vcs.PRStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.PRs[number]; !ok {
		return nil, fmt.Errorf("mock vcs: no PR #%d", number)
	}
	state, ok := m.PRStates[number]
	if !ok {
		state = vcs.PRStateOpen
	}
	return &vcs.PRStatus{State: state}, nil
}

func (m *VCS) AddComment(ctx context.Context, repo string, number int, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Comments = append(m.Comments, Comment{Repo: repo, Number: number, Body: body})
	return nil
}

func (m *VCS) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	return nil
}

func (m *VCS) WaitForChecks(ctx context.Context, repo, branch string, timeoutMs int) (*vcs.CheckResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if result, ok := m.CheckResults[repo+":"+branch]; ok {
		return result, nil
	}
	return &vcs.CheckResult{Success: true}, nil
}

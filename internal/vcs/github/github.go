// Package github implements the vcs.VCS adapter against the real GitHub
// API via google/go-github.
package github

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	gogithub "github.com/google/go-github/v66/github"
	"golang.org/x/oauth2"

	"github.com/autoforge/autoforge/internal/diffengine"
	autoforgeErrors "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/vcs"
)

// Client adapts vcs.VCS to the GitHub REST API.
type Client struct {
	gh            *gogithub.Client
	checkInterval time.Duration
	noCIGrace     time.Duration
	retry         vcs.RetryPolicy
}

// NewClient builds a Client authenticated with token. An empty token
// yields an unauthenticated client (read-only, rate-limited).
func NewClient(ctx context.Context, token string) *Client {
	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	return &Client{
		gh:            gogithub.NewClient(httpClient),
		checkInterval: 5 * time.Second,
		noCIGrace:     20 * time.Second,
		retry:         vcs.DefaultRetryPolicy(),
	}
}

// isTransient reports whether err looks like a rate limit, abuse trigger,
// or transport-level failure worth retrying (§7 transient-transport).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var rateErr *gogithub.RateLimitError
	var abuseErr *gogithub.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, needle := range []string{"timeout", "connection reset", "eof", "temporary failure", "502", "503", "504"} {
		if strings.Contains(msg, needle) {
			return true
		}
	}
	return false
}

// GetIssue fetches title/body/labels/state for owner/repo#number.
func (c *Client) GetIssue(ctx context.Context, owner, repo string, number int) (*vcs.Issue, error) {
	issue, _, err := c.gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("get issue %s/%s#%d: %w", owner, repo, number, err)
	}
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.GetName())
	}
	return &vcs.Issue{
		Title:  issue.GetTitle(),
		Body:   issue.GetBody(),
		Labels: labels,
		State:  issue.GetState(),
	}, nil
}

// GetRepoContext returns the README plus a shallow top-level tree listing,
// followed by the names of targetFiles; their contents and directories are
// not fetched.
func (c *Client) GetRepoContext(ctx context.Context, repo string, targetFiles []string) (string, error) {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return "", err
	}

	var sb strings.Builder

	readme, _, _, err := c.gh.Repositories.GetReadme(ctx, ref.Owner, ref.Repo, nil)
	if err == nil {
		content, decodeErr := readme.GetContent()
		if decodeErr == nil {
			sb.WriteString("README:\n")
			sb.WriteString(content)
			sb.WriteString("\n\n")
		}
	}

	_, dirContents, _, err := c.gh.Repositories.GetContents(ctx, ref.Owner, ref.Repo, "", nil)
	if err == nil {
		sb.WriteString("Top-level tree:\n")
		for _, entry := range dirContents {
			sb.WriteString(fmt.Sprintf("- %s (%s)\n", entry.GetPath(), entry.GetType()))
		}
	}

	if len(targetFiles) > 0 {
		sb.WriteString("\nTarget files:\n")
		for _, f := range targetFiles {
			sb.WriteString("- " + f + "\n")
		}
	}

	return sb.String(), nil
}

// GetFilesContent fetches each path at ref; a missing file maps to "".
func (c *Client) GetFilesContent(ctx context.Context, repo string, paths []string, ref string) (map[string]string, error) {
	repoRef, err := vcs.ParseRepo(repo)
	if err != nil {
		return nil, err
	}

	out := make(map[string]string, len(paths))
	opts := &gogithub.RepositoryContentGetOptions{Ref: ref}
	for _, p := range paths {
		cleaned, safeErr := sanitizePath(p)
		if safeErr != nil {
			out[p] = ""
			continue
		}
		file, _, _, getErr := c.gh.Repositories.GetContents(ctx, repoRef.Owner, repoRef.Repo, cleaned, opts)
		if getErr != nil || file == nil {
			out[p] = ""
			continue
		}
		content, decodeErr := file.GetContent()
		if decodeErr != nil {
			out[p] = ""
			continue
		}
		out[p] = content
	}
	return out, nil
}

// CreateBranch creates branchName from baseRef's current SHA; if creation
// fails and a branch of that name already exists, that is treated as
// success (idempotent). The existing branch's head is not compared.
func (c *Client) CreateBranch(ctx context.Context, repo, branchName, baseRef string) error {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return err
	}

	baseBranch, _, err := c.gh.Repositories.GetBranch(ctx, ref.Owner, ref.Repo, baseRef, 0)
	if err != nil {
		return fmt.Errorf("get base ref %s: %w", baseRef, err)
	}
	sha := baseBranch.GetCommit().GetSHA()

	newRef := &gogithub.Reference{
		Ref:    gogithub.Ptr("refs/heads/" + branchName),
		Object: &gogithub.GitObject{SHA: gogithub.Ptr(sha)},
	}
	err = vcs.WithRetry(ctx, c.retry, isTransient, func() error {
		_, _, createErr := c.gh.Git.CreateRef(ctx, ref.Owner, ref.Repo, newRef)
		return createErr
	})
	if err == nil {
		return nil
	}
	if existing, _, getErr := c.gh.Git.GetRef(ctx, ref.Owner, ref.Repo, "refs/heads/"+branchName); getErr == nil && existing != nil {
		return nil
	}
	return fmt.Errorf("create branch %s: %w", branchName, err)
}

// ApplyDiff applies a unified diff's hunks as individual content updates on
// branch and returns the resulting head SHA. Paths are sanitized against
// traversal outside the repository before any write.
func (c *Client) ApplyDiff(ctx context.Context, repo, branch, diffText, commitMessage string) (string, error) {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return "", err
	}

	files, err := diffengine.Parse(diffText)
	if err != nil {
		return "", autoforgeErrors.Wrap(autoforgeErrors.CodeDiffInvalid, "failed to parse diff for application", err)
	}

	var headSHA string
	for _, fd := range files {
		targetPath, sanErr := sanitizeDiffPath(fd.NewName, fd.OrigName)
		if sanErr != nil {
			return "", autoforgeErrors.Wrap(autoforgeErrors.CodeDiffInvalid, "unsafe path in diff", sanErr)
		}

		if diffengine.Deleted(fd) {
			existing, _, getErr := c.gh.Repositories.GetContents(ctx, ref.Owner, ref.Repo, targetPath, &gogithub.RepositoryContentGetOptions{Ref: branch})
			if getErr != nil {
				continue
			}
			var resp *gogithub.RepositoryContentResponse
			delErr := vcs.WithRetry(ctx, c.retry, isTransient, func() error {
				var innerErr error
				resp, _, innerErr = c.gh.Repositories.DeleteFile(ctx, ref.Owner, ref.Repo, targetPath, &gogithub.RepositoryContentFileOptions{
					Message: gogithub.Ptr(commitMessage),
					SHA:     existing.SHA,
					Branch:  gogithub.Ptr(branch),
				})
				return innerErr
			})
			if delErr != nil {
				return "", fmt.Errorf("delete %s: %w", targetPath, delErr)
			}
			headSHA = resp.GetSHA()
			continue
		}

		var base string
		var existingSHA *string
		existing, _, getErr := c.gh.Repositories.GetContents(ctx, ref.Owner, ref.Repo, targetPath, &gogithub.RepositoryContentGetOptions{Ref: branch})
		if getErr == nil && existing != nil {
			base, _ = existing.GetContent()
			existingSHA = existing.SHA
		}

		updated, applyErr := diffengine.Apply(base, fd)
		if applyErr != nil {
			return "", autoforgeErrors.Wrap(autoforgeErrors.CodeDiffInvalid, "failed to apply hunk to "+targetPath, applyErr)
		}

		opts := &gogithub.RepositoryContentFileOptions{
			Message: gogithub.Ptr(commitMessage),
			Content: []byte(updated),
			Branch:  gogithub.Ptr(branch),
		}
		if existingSHA != nil {
			opts.SHA = existingSHA
		}
		var writeResp *gogithub.RepositoryContentResponse
		putErr := vcs.WithRetry(ctx, c.retry, isTransient, func() error {
			var innerErr error
			writeResp, _, innerErr = c.gh.Repositories.CreateFile(ctx, ref.Owner, ref.Repo, targetPath, opts)
			return innerErr
		})
		if putErr != nil {
			return "", fmt.Errorf("write %s: %w", targetPath, putErr)
		}
		resp := writeResp
		headSHA = resp.GetCommit().GetSHA()
	}

	if headSHA == "" {
		branchInfo, _, getErr := c.gh.Repositories.GetBranch(ctx, ref.Owner, ref.Repo, branch, 0)
		if getErr == nil {
			headSHA = branchInfo.GetCommit().GetSHA()
		}
	}
	return headSHA, nil
}

// CreatePR opens a PR from branch into base.
func (c *Client) CreatePR(ctx context.Context, repo, branch, base, title, body string) (int, string, error) {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return 0, "", err
	}
	var pr *gogithub.PullRequest
	err = vcs.WithRetry(ctx, c.retry, isTransient, func() error {
		var innerErr error
		pr, _, innerErr = c.gh.PullRequests.Create(ctx, ref.Owner, ref.Repo, &gogithub.NewPullRequest{
			Title: gogithub.Ptr(title),
			Head:  gogithub.Ptr(branch),
			Base:  gogithub.Ptr(base),
			Body:  gogithub.Ptr(body),
		})
		return innerErr
	})
	if err != nil {
		return 0, "", fmt.Errorf("create PR %s -> %s: %w", branch, base, err)
	}
	return pr.GetNumber(), pr.GetHTMLURL(), nil
}

// UpdatePR edits an existing PR's title/body.
func (c *Client) UpdatePR(ctx context.Context, repo string, number int, title, body string) error {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.gh.PullRequests.Edit(ctx, ref.Owner, ref.Repo, number, &gogithub.PullRequest{
		Title: gogithub.Ptr(title),
		Body:  gogithub.Ptr(body),
	})
	if err != nil {
		return fmt.Errorf("update PR #%d: %w", number, err)
	}
	return nil
}

// GetPRStatus reports whether a PR is still open, merged, or closed
// without merging, for the reconcile loop to act on.
func (c *Client) GetPRStatus(ctx context.Context, repo string, number int) (*vcs.PRStatus, error) {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return nil, err
	}
	var pr *gogithub.PullRequest
	err = vcs.WithRetry(ctx, c.retry, isTransient, func() error {
		var innerErr error
		pr, _, innerErr = c.gh.PullRequests.Get(ctx, ref.Owner, ref.Repo, number)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("get PR #%d: %w", number, err)
	}
	state := vcs.PRStateOpen
	switch {
	case pr.GetMerged():
		state = vcs.PRStateMerged
	case pr.GetState() == "closed":
		state = vcs.PRStateClosed
	}
	return &vcs.PRStatus{State: state}, nil
}

// AddComment posts body as an issue/PR comment.
func (c *Client) AddComment(ctx context.Context, repo string, number int, body string) error {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.gh.Issues.CreateComment(ctx, ref.Owner, ref.Repo, number, &gogithub.IssueComment{Body: gogithub.Ptr(body)})
	if err != nil {
		return fmt.Errorf("add comment on #%d: %w", number, err)
	}
	return nil
}

// AddLabels attaches labels to an issue/PR.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return err
	}
	_, _, err = c.gh.Issues.AddLabelsToIssue(ctx, ref.Owner, ref.Repo, number, labels)
	if err != nil {
		return fmt.Errorf("add labels on #%d: %w", number, err)
	}
	return nil
}

// WaitForChecks polls the combined commit status for branch's head commit
// until success/failure, timeoutMs elapses, or the no-CI grace period
// passes with no statuses registered (treated as pass). Check runs from the
// Checks API are not queried.
func (c *Client) WaitForChecks(ctx context.Context, repo, branch string, timeoutMs int) (*vcs.CheckResult, error) {
	ref, err := vcs.ParseRepo(repo)
	if err != nil {
		return nil, err
	}

	deadline := time.Now().Add(time.Duration(timeoutMs) * time.Millisecond)
	started := time.Now()
	ticker := time.NewTicker(c.checkInterval)
	defer ticker.Stop()

	for {
		branchInfo, _, err := c.gh.Repositories.GetBranch(ctx, ref.Owner, ref.Repo, branch, 0)
		if err == nil {
			sha := branchInfo.GetCommit().GetSHA()
			status, _, statusErr := c.gh.Repositories.GetCombinedStatus(ctx, ref.Owner, ref.Repo, sha, nil)
			if statusErr == nil && status.GetTotalCount() > 0 {
				switch status.GetState() {
				case "success":
					return &vcs.CheckResult{Success: true}, nil
				case "failure", "error":
					return &vcs.CheckResult{Success: false, ErrorSummary: summarizeStatuses(status)}, nil
				}
			} else if time.Since(started) >= c.noCIGrace {
				return &vcs.CheckResult{Success: true}, nil
			}
		}

		if time.Now().After(deadline) {
			return &vcs.CheckResult{Success: false, ErrorSummary: "timed out waiting for checks"}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func summarizeStatuses(status *gogithub.CombinedStatus) string {
	var failed []string
	for _, s := range status.Statuses {
		if s.GetState() == "failure" || s.GetState() == "error" {
			failed = append(failed, s.GetContext()+": "+s.GetDescription())
		}
	}
	return strings.Join(failed, "; ")
}

// sanitizePath rejects absolute paths and traversal outside the repo root.
func sanitizePath(p string) (string, error) {
	cleaned := path.Clean(p)
	if path.IsAbs(cleaned) || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("path %q escapes repository root", p)
	}
	return cleaned, nil
}

func sanitizeDiffPath(newName, origName string) (string, error) {
	name := newName
	if name == "" || name == "/dev/null" {
		name = origName
	}
	return sanitizePath(name)
}

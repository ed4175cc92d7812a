package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/autoforge/autoforge/internal/agentrunner"
	"github.com/autoforge/autoforge/internal/agents"
	"github.com/autoforge/autoforge/internal/store"
)

const (
	plannerMaxTokens  = 4096
	coderMaxTokens    = 8192
	fixerMaxTokens    = 8192
	reviewerMaxTokens = 2048
)

func (o *Orchestrator) invokePlanner(ctx context.Context, task *store.Task) (agents.PlannerOutput, error) {
	repoContext, err := o.VCS.GetRepoContext(ctx, task.Repo, nil)
	if err != nil {
		return agents.PlannerOutput{}, err
	}
	prompt := plannerPrompt(task.IssueTitle, task.IssueBody, repoContext)
	return agentrunner.Run(ctx, o.Runner, task, agents.KindPlanner, agentrunner.Gate{Name: "planner"},
		prompt, plannerMaxTokens, 0.2, parsePlannerOutput)
}

func (o *Orchestrator) invokeCoder(ctx context.Context, task *store.Task, level int) (agents.CoderOutput, error) {
	contents, err := o.VCS.GetFilesContent(ctx, task.Repo, task.TargetFiles, o.BaseRef)
	if err != nil {
		return agents.CoderOutput{}, err
	}
	prompt := coderPrompt(task.PlanSteps, task.TargetFiles, task.DefinitionOfDone, contents)
	gate := agentrunner.Gate{Name: "coder"}
	if level == 0 {
		return agentrunner.Run(ctx, o.Runner, task, agents.KindCoder, gate, prompt, coderMaxTokens, 0.3, parseCoderOutput)
	}
	return agentrunner.RunEscalated(ctx, o.Runner, task, agents.KindCoder, gate, prompt, coderMaxTokens, 0.3, level, parseCoderOutput)
}

func (o *Orchestrator) invokeFixer(ctx context.Context, task *store.Task, level int) (agents.FixerOutput, error) {
	patterns, err := o.Ledger.GetFailurePatterns(ctx, task.ID)
	if err != nil {
		return agents.FixerOutput{}, err
	}
	contents, err := o.VCS.GetFilesContent(ctx, task.Repo, task.TargetFiles, task.BranchName)
	if err != nil {
		return agents.FixerOutput{}, err
	}
	prompt := fixerPrompt(task.CurrentDiff, task.LastError, patterns, contents)
	gate := agentrunner.Gate{Name: "fixer"}
	if level == 0 {
		return agentrunner.Run(ctx, o.Runner, task, agents.KindFixer, gate, prompt, fixerMaxTokens, 0.3, parseFixerOutput)
	}
	return agentrunner.RunEscalated(ctx, o.Runner, task, agents.KindFixer, gate, prompt, fixerMaxTokens, 0.3, level, parseFixerOutput)
}

func (o *Orchestrator) invokeReviewer(ctx context.Context, task *store.Task) (agents.ReviewerOutput, error) {
	prompt := reviewerPrompt(task.CurrentDiff, task.DefinitionOfDone, task.CommitMessage)
	return agentrunner.Run(ctx, o.Runner, task, agents.KindReviewer, agentrunner.Gate{Name: "reviewer"},
		prompt, reviewerMaxTokens, 0.1, parseReviewerOutput)
}

func plannerPrompt(issueTitle, issueBody, repoContext string) agentrunner.Prompt {
	system := "You are the planner.\n\n" +
		"Role: turn a raw issue into a concrete implementation plan.\n" +
		"Goal: produce a definition of done, ordered plan steps, the target files to change, " +
		"and a complexity/effort estimate.\n\n" +
		"Respond with a single fenced ```json code block containing exactly these fields: " +
		"definitionOfDone (string array), planSteps (string array), targetFiles (string array), " +
		"estimatedComplexity (one of XS, S, M, L, XL), estimatedEffort (one of low, medium, high)."

	user := fmt.Sprintf("Issue: %s\n\n%s\n\nRepository context:\n%s", issueTitle, issueBody, repoContext)
	return agentrunner.Prompt{System: system, User: user}
}

func coderPrompt(planSteps, targetFiles, definitionOfDone []string, contents map[string]string) agentrunner.Prompt {
	system := "You are the coder.\n\n" +
		"Role: implement the plan against the target files' current content.\n" +
		"Goal: produce a unified diff that satisfies the definition of done.\n\n" +
		"Respond with a single fenced ```json code block containing exactly these fields: " +
		"diff (a unified diff string), commitMessage (string), filesModified (string array)."

	var sb strings.Builder
	sb.WriteString("Plan steps:\n")
	for _, s := range planSteps {
		sb.WriteString("- " + s + "\n")
	}
	sb.WriteString("\nDefinition of done:\n")
	for _, d := range definitionOfDone {
		sb.WriteString("- " + d + "\n")
	}
	sb.WriteString("\nTarget files:\n")
	for _, f := range targetFiles {
		sb.WriteString(fmt.Sprintf("--- %s ---\n%s\n\n", f, contents[f]))
	}
	return agentrunner.Prompt{System: system, User: sb.String()}
}

func fixerPrompt(previousDiff, lastError string, patterns []store.FailurePattern, contents map[string]string) agentrunner.Prompt {
	system := "You are the fixer.\n\n" +
		"Role: repair a diff that failed tests or review.\n" +
		"Goal: produce a corrected unified diff that addresses the failure without repeating " +
		"previously observed failure patterns.\n\n" +
		"Respond with a single fenced ```json code block containing exactly these fields: " +
		"diff (a unified diff string), commitMessage (string), filesModified (string array), " +
		"fixDescription (string)."

	var sb strings.Builder
	sb.WriteString("Previous diff:\n" + previousDiff + "\n\n")
	sb.WriteString("Failure:\n" + lastError + "\n\n")
	if len(patterns) > 0 {
		sb.WriteString("Recurring failure patterns, avoid repeating these approaches:\n")
		for _, p := range patterns {
			sb.WriteString(fmt.Sprintf("- %s (seen %d times)\n", p.Pattern, p.Occurrences))
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Current file contents:\n")
	for path, content := range contents {
		sb.WriteString(fmt.Sprintf("--- %s ---\n%s\n\n", path, content))
	}
	return agentrunner.Prompt{System: system, User: sb.String()}
}

func reviewerPrompt(diff string, definitionOfDone []string, commitMessage string) agentrunner.Prompt {
	system := "You are the reviewer.\n\n" +
		"Role: judge whether a diff satisfies its definition of done.\n" +
		"Goal: approve, request changes, or flag for discussion.\n\n" +
		"Respond with a single fenced ```json code block containing exactly these fields: " +
		"verdict (one of approve, request_changes, needs_discussion), comments (string array)."

	var sb strings.Builder
	sb.WriteString("Commit message: " + commitMessage + "\n\n")
	sb.WriteString("Definition of done:\n")
	for _, d := range definitionOfDone {
		sb.WriteString("- " + d + "\n")
	}
	sb.WriteString("\nDiff:\n" + diff)
	return agentrunner.Prompt{System: system, User: sb.String()}
}

func parsePlannerOutput(text string) (agents.PlannerOutput, error) {
	var w struct {
		DefinitionOfDone    []string `json:"definitionOfDone"`
		PlanSteps           []string `json:"planSteps"`
		TargetFiles         []string `json:"targetFiles"`
		EstimatedComplexity string   `json:"estimatedComplexity"`
		EstimatedEffort     string   `json:"estimatedEffort"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &w); err != nil {
		return agents.PlannerOutput{}, fmt.Errorf("parsing planner output: %w", err)
	}
	if len(w.TargetFiles) == 0 {
		return agents.PlannerOutput{}, fmt.Errorf("planner output missing targetFiles")
	}
	return agents.PlannerOutput{
		DefinitionOfDone:    w.DefinitionOfDone,
		PlanSteps:           w.PlanSteps,
		TargetFiles:         w.TargetFiles,
		EstimatedComplexity: store.Complexity(w.EstimatedComplexity),
		EstimatedEffort:     store.Effort(w.EstimatedEffort),
	}, nil
}

func parseCoderOutput(text string) (agents.CoderOutput, error) {
	var w struct {
		Diff          string   `json:"diff"`
		CommitMessage string   `json:"commitMessage"`
		FilesModified []string `json:"filesModified"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &w); err != nil {
		return agents.CoderOutput{}, fmt.Errorf("parsing coder output: %w", err)
	}
	if w.Diff == "" {
		return agents.CoderOutput{}, fmt.Errorf("coder output missing diff")
	}
	return agents.CoderOutput{Diff: w.Diff, CommitMessage: w.CommitMessage, FilesModified: w.FilesModified}, nil
}

func parseFixerOutput(text string) (agents.FixerOutput, error) {
	var w struct {
		Diff           string   `json:"diff"`
		CommitMessage  string   `json:"commitMessage"`
		FilesModified  []string `json:"filesModified"`
		FixDescription string   `json:"fixDescription"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &w); err != nil {
		return agents.FixerOutput{}, fmt.Errorf("parsing fixer output: %w", err)
	}
	if w.Diff == "" {
		return agents.FixerOutput{}, fmt.Errorf("fixer output missing diff")
	}
	return agents.FixerOutput{
		Diff:           w.Diff,
		CommitMessage:  w.CommitMessage,
		FilesModified:  w.FilesModified,
		FixDescription: w.FixDescription,
	}, nil
}

func parseReviewerOutput(text string) (agents.ReviewerOutput, error) {
	var w struct {
		Verdict  string   `json:"verdict"`
		Comments []string `json:"comments"`
	}
	if err := json.Unmarshal([]byte(extractJSON(text)), &w); err != nil {
		return agents.ReviewerOutput{}, fmt.Errorf("parsing reviewer output: %w", err)
	}
	switch agents.Verdict(w.Verdict) {
	case agents.VerdictApprove, agents.VerdictRequestChanges, agents.VerdictNeedsDiscussion:
	default:
		return agents.ReviewerOutput{}, fmt.Errorf("reviewer output has unknown verdict %q", w.Verdict)
	}
	return agents.ReviewerOutput{Verdict: agents.Verdict(w.Verdict), Comments: w.Comments}, nil
}

// extractJSON pulls the last fenced ```json block out of text, falling
// back to the last balanced top-level {...} object. Adapted from the
// teacher's task.Executor output parsing.
func extractJSON(text string) string {
	if block := extractLastJSONBlock(text); block != "" {
		return block
	}
	return extractRawJSON(text)
}

func extractLastJSONBlock(text string) string {
	lastIdx := -1
	searchFrom := 0
	for {
		idx := strings.Index(text[searchFrom:], "```json")
		if idx < 0 {
			break
		}
		lastIdx = searchFrom + idx
		searchFrom = lastIdx + 7
	}
	if lastIdx < 0 {
		return ""
	}

	start := lastIdx + 7
	for start < len(text) && (text[start] == ' ' || text[start] == '\t' || text[start] == '\n' || text[start] == '\r') {
		start++
	}

	end := strings.Index(text[start:], "```")
	if end < 0 {
		return ""
	}
	return strings.TrimSpace(text[start : start+end])
}

func extractRawJSON(text string) string {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] != '}' {
			continue
		}
		depth := 0
		for j := i; j >= 0; j-- {
			switch text[j] {
			case '}':
				depth++
			case '{':
				depth--
			}
			if depth == 0 {
				candidate := strings.TrimSpace(text[j : i+1])
				var parsed map[string]interface{}
				if json.Unmarshal([]byte(candidate), &parsed) == nil {
					return candidate
				}
				return ""
			}
		}
		break
	}
	return ""
}

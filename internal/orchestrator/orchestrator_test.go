package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/autoforge/autoforge/internal/agentrunner"
	"github.com/autoforge/autoforge/internal/config"
	"github.com/autoforge/autoforge/internal/diffengine"
	autoforgeErrors "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/llm"
	"github.com/autoforge/autoforge/internal/model"
	"github.com/autoforge/autoforge/internal/scheduler"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/vcs"
	"github.com/autoforge/autoforge/internal/vcs/mock"
)

func testModels() map[string]string {
	return map[string]string{
		model.StagePlanner:     "claude-planner",
		model.StageFixer:       "claude-fixer",
		model.StageReviewer:    "claude-reviewer",
		"coder_XS_default":     "claude-coder-xs",
		"coder_S_default":      "claude-coder-s",
		model.StageEscalation1: "claude-escalation-1",
		model.StageEscalation2: "claude-escalation-2",
	}
}

func newTestOrchestrator(t *testing.T, vcsImpl vcs.VCS, maxAttempts int) (*Orchestrator, *llm.MockCompleter, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	router := model.New(&config.ModelConfig{Models: testModels()}, st)
	completer := llm.NewMockCompleter()
	ledger := session.New(st)
	runner := agentrunner.New(router, completer, ledger, nil)
	orch := New(st, ledger, runner, router, vcsImpl, nil, 3, maxAttempts, 1000)
	orch.AggregationStrategy = diffengine.StrategyManualRequired
	return orch, completer, st
}

func seedTopLevelTask(t *testing.T, st *store.MemoryStore, ledger *session.Ledger, id string) *store.Task {
	t.Helper()
	task := &store.Task{
		ID:          id,
		Owner:       "acme",
		Repo:        "acme/widget",
		IssueNumber: 42,
		IssueTitle:  "add retry support",
		IssueBody:   "the client should retry on 5xx",
		Status:      store.StatusNew,
		MaxAttempts: 1,
	}
	if err := st.CreateTask(context.Background(), task); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := ledger.Create(context.Background(), id); err != nil {
		t.Fatalf("Create session memory: %v", err)
	}
	return task
}

func enqueuePlannerXS(completer *llm.MockCompleter) {
	completer.Enqueue(&llm.Response{Content: `{"definitionOfDone":["compiles","has tests"],` +
		`"planSteps":["add retry loop"],"targetFiles":["client.go"],` +
		`"estimatedComplexity":"XS","estimatedEffort":"low"}`})
}

func enqueuePlannerM(completer *llm.MockCompleter) {
	completer.Enqueue(&llm.Response{Content: `{"definitionOfDone":["compiles"],` +
		`"planSteps":["create pkga/a.go","create pkgb/b.go"],"targetFiles":["pkga/a.go","pkgb/b.go"],` +
		`"estimatedComplexity":"M","estimatedEffort":"medium"}`})
}

func enqueueCoder(completer *llm.MockCompleter, diff string) {
	completer.Enqueue(&llm.Response{Content: fmt.Sprintf(
		`{"diff":%q,"commitMessage":"add retry loop","filesModified":["client.go"]}`, diff)})
}

func enqueueFixer(completer *llm.MockCompleter, diff string) {
	completer.Enqueue(&llm.Response{Content: fmt.Sprintf(
		`{"diff":%q,"commitMessage":"fix retry loop","filesModified":["client.go"],"fixDescription":"handle nil"}`, diff)})
}

func enqueueReviewer(completer *llm.MockCompleter, verdict string) {
	completer.Enqueue(&llm.Response{Content: fmt.Sprintf(`{"verdict":%q,"comments":[]}`, verdict)})
}

func rawDiff() string {
	return "--- a/client.go\n+++ b/client.go\n@@ -1,1 +1,1 @@\n-old\n+new\n"
}

func TestProcess_HappyPathXSReachesWaitingHuman(t *testing.T) {
	v := mock.New()
	orch, completer, st := newTestOrchestrator(t, v, 3)
	task := seedTopLevelTask(t, st, orch.Ledger, "t1")

	enqueuePlannerXS(completer)
	enqueueCoder(completer, rawDiff())
	enqueueReviewer(completer, "approve")

	if err := orch.Process(context.Background(), task.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusWaitingHuman {
		t.Fatalf("expected WAITING_HUMAN, got %s (lastError=%s)", got.Status, got.LastError)
	}
	if got.PRNumber == 0 || got.PRURL == "" {
		t.Errorf("expected a PR to have been opened, got %+v", got)
	}
	if got.EstimatedComplexity != store.ComplexityXS {
		t.Errorf("expected planner's complexity to persist, got %s", got.EstimatedComplexity)
	}

	calls := completer.Calls()
	if len(calls) != 3 {
		t.Fatalf("expected 3 agent calls (planner, coder, reviewer), got %d", len(calls))
	}
	if calls[0].Model != "claude-planner" || calls[1].Model != "claude-coder-xs" || calls[2].Model != "claude-reviewer" {
		t.Errorf("unexpected model sequence: %+v", calls)
	}
}

// flakyChecks fails WaitForChecks exactly once per branch, then succeeds,
// modeling a test suite that passes after one fixer round (§8 S2).
type flakyChecks struct {
	*mock.VCS
	failedOnce map[string]bool
}

func newFlakyChecks() *flakyChecks {
	return &flakyChecks{VCS: mock.New(), failedOnce: map[string]bool{}}
}

func (f *flakyChecks) WaitForChecks(ctx context.Context, repo, branch string, timeoutMs int) (*vcs.CheckResult, error) {
	key := repo + ":" + branch
	if !f.failedOnce[key] {
		f.failedOnce[key] = true
		return &vcs.CheckResult{Success: false, ErrorSummary: "TestFailure: client_test.go:10: expected retry"}, nil
	}
	return &vcs.CheckResult{Success: true}, nil
}

func TestProcess_FixerRecoversFromFailingTests(t *testing.T) {
	v := newFlakyChecks()
	orch, completer, st := newTestOrchestrator(t, v, 3)
	task := seedTopLevelTask(t, st, orch.Ledger, "t2")

	enqueuePlannerXS(completer)
	enqueueCoder(completer, rawDiff())
	enqueueFixer(completer, rawDiff())
	enqueueReviewer(completer, "approve")

	if err := orch.Process(context.Background(), task.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusWaitingHuman {
		t.Fatalf("expected WAITING_HUMAN after recovery, got %s (lastError=%s)", got.Status, got.LastError)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected exactly one recorded attempt, got %d", got.AttemptCount)
	}

	sm, err := st.GetSessionMemory(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetSessionMemory: %v", err)
	}
	foundRetry := false
	for _, p := range sm.Progress {
		if p.Kind == "retry_triggered" {
			foundRetry = true
		}
	}
	if !foundRetry {
		t.Error("expected a retry_triggered progress entry from the failing test run")
	}
}

func TestProcess_ReviewRejectionLoopsBackToCoding(t *testing.T) {
	v := mock.New()
	orch, completer, st := newTestOrchestrator(t, v, 3)
	task := seedTopLevelTask(t, st, orch.Ledger, "t3")

	enqueuePlannerXS(completer)
	enqueueCoder(completer, rawDiff())
	enqueueReviewer(completer, "request_changes")
	enqueueCoder(completer, rawDiff())
	enqueueReviewer(completer, "approve")

	if err := orch.Process(context.Background(), task.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusWaitingHuman {
		t.Fatalf("expected WAITING_HUMAN after re-review, got %s (lastError=%s)", got.Status, got.LastError)
	}
	if got.AttemptCount != 1 {
		t.Errorf("expected one retry recorded for the rejected review, got %d", got.AttemptCount)
	}
}

func TestProcess_EscalatesModelThenSuspendsAtMaxAttempts(t *testing.T) {
	v := mock.New()
	v.SeedCheckResult("acme/widget", "autoforge/task-t4", &vcs.CheckResult{Success: false, ErrorSummary: "always red"})
	orch, completer, st := newTestOrchestrator(t, v, 1)
	task := seedTopLevelTask(t, st, orch.Ledger, "t4")
	task.MaxAttempts = 1
	if err := st.UpdateTask(context.Background(), task); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	enqueuePlannerXS(completer)
	enqueueCoder(completer, rawDiff())
	enqueueFixer(completer, rawDiff()) // escalation_1
	enqueueFixer(completer, rawDiff()) // escalation_2

	if err := orch.Process(context.Background(), task.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusWaitingHuman {
		t.Fatalf("expected WAITING_HUMAN, got %s", got.Status)
	}
	if !strings.HasPrefix(got.LastError, "MAX_ATTEMPTS") {
		t.Errorf("expected lastError to report MAX_ATTEMPTS, got %q", got.LastError)
	}

	calls := completer.Calls()
	if len(calls) != 4 {
		t.Fatalf("expected planner+coder+2 escalated fixer calls, got %d: %+v", len(calls), calls)
	}
	if calls[2].Model != "claude-escalation-1" || calls[3].Model != "claude-escalation-2" {
		t.Errorf("expected fixer calls to escalate, got %+v", calls)
	}
}

func TestProcess_BreakdownDispatchesSubtasksAndAggregates(t *testing.T) {
	v := mock.New()
	orch, completer, st := newTestOrchestrator(t, v, 3)
	// Force sequential subtask execution so the MockCompleter's FIFO
	// queue lines up with the enqueue order below.
	orch.MaxParallel = 1
	task := seedTopLevelTask(t, st, orch.Ledger, "t5")

	enqueuePlannerM(completer)
	// Subtask "a.go": coder + reviewer.
	enqueueCoder(completer, "--- a/a.go\n+++ b/a.go\n@@ -1,1 +1,1 @@\n-old\n+new\n")
	enqueueReviewer(completer, "approve")
	// Subtask "b.go": coder + reviewer.
	enqueueCoder(completer, "--- a/b.go\n+++ b/b.go\n@@ -1,1 +1,1 @@\n-old\n+new\n")
	enqueueReviewer(completer, "approve")
	// Parent's own reviewer, after aggregation puts it back through CODING_DONE -> TESTING -> REVIEWING.
	enqueueReviewer(completer, "approve")

	if err := orch.Process(context.Background(), task.ID); err != nil {
		t.Fatalf("Process: %v", err)
	}

	got, err := st.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusWaitingHuman {
		t.Fatalf("expected WAITING_HUMAN, got %s (lastError=%s)", got.Status, got.LastError)
	}
	if !strings.Contains(got.CurrentDiff, "a.go") || !strings.Contains(got.CurrentDiff, "b.go") {
		t.Errorf("expected the aggregated diff to contain both subtasks' files, got %q", got.CurrentDiff)
	}

	children, err := st.ChildTasks(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("ChildTasks: %v", err)
	}
	if len(children) != 2 {
		t.Fatalf("expected 2 child tasks, got %d", len(children))
	}
	for _, c := range children {
		if c.Status != store.StatusCompleted {
			t.Errorf("expected child %s completed, got %s", c.ID, c.Status)
		}
	}
}

// failFirstUpdate wraps MemoryStore so the first UpdateTask call after
// arming returns a storage-fatal error, modeling a transient storage
// outage the Orchestrator must recover from via checkpoint restore (§8 S6).
type failFirstUpdate struct {
	*store.MemoryStore
	armed  bool
	tripped bool
}

func (f *failFirstUpdate) UpdateTask(ctx context.Context, task *store.Task) error {
	if f.armed && !f.tripped {
		f.tripped = true
		return autoforgeErrors.Wrap(autoforgeErrors.CodeStorageFatal, "simulated outage", fmt.Errorf("write failed"))
	}
	return f.MemoryStore.UpdateTask(ctx, task)
}

func TestProcess_RecoversFromOneStorageFatalUpdate(t *testing.T) {
	base := store.NewMemoryStore()
	st := &failFirstUpdate{MemoryStore: base}
	router := model.New(&config.ModelConfig{Models: testModels()}, st)
	completer := llm.NewMockCompleter()
	ledger := session.New(st)
	runner := agentrunner.New(router, completer, ledger, nil)
	orch := New(st, ledger, runner, router, mock.New(), nil, 3, 3, 1000)
	orch.ErrorStrategy = scheduler.FailFast

	task := seedTopLevelTask(t, st, ledger, "t6")
	if _, err := ledger.Checkpoint(context.Background(), task.ID, "pre-update"); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	enqueuePlannerXS(completer)
	enqueueCoder(completer, rawDiff())
	enqueueReviewer(completer, "approve")

	st.armed = true
	// A single Process call now recovers in-loop: the storage-fatal
	// UpdateTask trips restoreFromCheckpoint, which succeeds against the
	// checkpoint seeded above, and the loop retries the same transition.
	if err := orch.Process(context.Background(), task.ID); err != nil {
		t.Fatalf("expected Process to recover via checkpoint restore, got: %v", err)
	}

	got, err := base.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != store.StatusWaitingHuman {
		t.Fatalf("expected eventual WAITING_HUMAN after recovery, got %s (lastError=%s)", got.Status, got.LastError)
	}

	sm, err := base.GetSessionMemory(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetSessionMemory: %v", err)
	}
	restored := false
	for _, p := range sm.Progress {
		if p.Kind == "restored" {
			restored = true
		}
	}
	if !restored {
		t.Error("expected session memory to record the checkpoint restore triggered by the storage-fatal error")
	}
}

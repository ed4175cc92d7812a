package session

import (
	"context"
	"testing"

	"github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/store"
)

func newTestLedger(t *testing.T) (*Ledger, string) {
	t.Helper()
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	l := New(st)
	ctx := context.Background()
	if _, err := l.Create(ctx, "task-1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return l, "task-1"
}

func TestLedger_LogProgress_IncrementsCounters(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	if err := l.LogProgress(ctx, taskID, "coded", "coding", 1, "wrote diff", nil); err != nil {
		t.Fatalf("LogProgress: %v", err)
	}
	if err := l.LogProgress(ctx, taskID, "tests_failed", "testing", 1, "2 tests failed", nil); err != nil {
		t.Fatalf("LogProgress: %v", err)
	}
	if err := l.LogProgress(ctx, taskID, "retry_triggered", "fixing", 1, "retrying", nil); err != nil {
		t.Fatalf("LogProgress: %v", err)
	}

	sm, err := l.st.GetSessionMemory(ctx, taskID)
	if err != nil {
		t.Fatalf("GetSessionMemory: %v", err)
	}
	if len(sm.Progress) != 3 {
		t.Fatalf("expected 3 progress entries, got %d", len(sm.Progress))
	}
	if sm.ErrorCount != 1 {
		t.Errorf("expected errorCount 1, got %d", sm.ErrorCount)
	}
	if sm.RetryCount != 1 {
		t.Errorf("expected retryCount 1, got %d", sm.RetryCount)
	}
}

func TestLedger_StartAndEndAttempt(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	n, err := l.StartAttempt(ctx, taskID)
	if err != nil {
		t.Fatalf("StartAttempt: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected attempt 1, got %d", n)
	}

	if err := l.EndAttempt(ctx, taskID, store.OutcomeSuccess, AttemptResult{
		Diff:          "diff content",
		CommitMessage: "fix bug",
		TotalTokens:   1200,
	}); err != nil {
		t.Fatalf("EndAttempt: %v", err)
	}

	sm, _ := l.st.GetSessionMemory(ctx, taskID)
	if sm.Attempts[0].Outcome != store.OutcomeSuccess {
		t.Errorf("expected success outcome, got %s", sm.Attempts[0].Outcome)
	}
	if sm.Attempts[0].EndedAt.IsZero() {
		t.Error("expected EndedAt to be set")
	}
}

func TestLedger_EndAttempt_NoInProgress(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	err := l.EndAttempt(ctx, taskID, store.OutcomeSuccess, AttemptResult{})
	if err == nil {
		t.Fatal("expected error when no in-progress attempt exists")
	}
}

func TestLedger_FailurePatternMerge(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	l.StartAttempt(ctx, taskID)
	l.EndAttempt(ctx, taskID, store.OutcomeTestsFailed, AttemptResult{
		FailureReason: `expected "foo" at line 12`,
	})
	l.StartAttempt(ctx, taskID)
	l.EndAttempt(ctx, taskID, store.OutcomeTestsFailed, AttemptResult{
		FailureReason: `expected "bar" at line 87`,
	})

	patterns, err := l.GetFailurePatterns(ctx, taskID)
	if err != nil {
		t.Fatalf("GetFailurePatterns: %v", err)
	}
	if len(patterns) != 1 {
		t.Fatalf("expected patterns with different line/literal to merge into 1, got %d: %+v", len(patterns), patterns)
	}
	if patterns[0].Occurrences != 2 {
		t.Errorf("expected occurrences 2, got %d", patterns[0].Occurrences)
	}
}

func TestLedger_FailurePatterns_BelowThresholdExcluded(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	l.StartAttempt(ctx, taskID)
	l.EndAttempt(ctx, taskID, store.OutcomeTestsFailed, AttemptResult{FailureReason: "single occurrence failure"})

	patterns, err := l.GetFailurePatterns(ctx, taskID)
	if err != nil {
		t.Fatalf("GetFailurePatterns: %v", err)
	}
	if len(patterns) != 0 {
		t.Fatalf("expected no patterns below occurrence threshold, got %d", len(patterns))
	}
}

func TestLedger_SetAgentOutput_WriteOnce(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	if err := l.SetAgentOutput(ctx, taskID, "planner", `{"steps":["a"]}`); err != nil {
		t.Fatalf("SetAgentOutput: %v", err)
	}

	err := l.SetAgentOutput(ctx, taskID, "planner", `{"steps":["b"]}`)
	if err == nil {
		t.Fatal("expected conflict error on second write")
	}
	if errors.AsCode(err) != errors.CodeConflict {
		t.Errorf("expected CONFLICT code, got %s", errors.AsCode(err))
	}
}

func TestLedger_CheckpointAndRestore(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	l.LogProgress(ctx, taskID, "coded", "coding", 1, "first pass", nil)
	cp, err := l.Checkpoint(ctx, taskID, "before escalation")
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	l.LogProgress(ctx, taskID, "error", "fixing", 2, "diverged", nil)

	if err := l.Restore(ctx, taskID, cp.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	sm, _ := l.st.GetSessionMemory(ctx, taskID)
	// Restored progress plus the logged "restored" entry.
	if len(sm.Progress) != 2 {
		t.Fatalf("expected 2 progress entries after restore, got %d", len(sm.Progress))
	}
	if sm.Progress[len(sm.Progress)-1].Kind != "restored" {
		t.Errorf("expected last entry to record the restore, got %s", sm.Progress[len(sm.Progress)-1].Kind)
	}
}

func TestLedger_GetRecentErrors(t *testing.T) {
	l, taskID := newTestLedger(t)
	ctx := context.Background()

	l.LogProgress(ctx, taskID, "coded", "coding", 1, "ok", nil)
	l.LogProgress(ctx, taskID, "error", "coding", 1, "first error", nil)
	l.LogProgress(ctx, taskID, "tests_failed", "testing", 1, "second error", nil)
	l.LogProgress(ctx, taskID, "error", "fixing", 2, "third error", nil)

	errs, err := l.GetRecentErrors(ctx, taskID, 2)
	if err != nil {
		t.Fatalf("GetRecentErrors: %v", err)
	}
	if len(errs) != 2 {
		t.Fatalf("expected 2 recent errors, got %d", len(errs))
	}
	if errs[0].Summary != "second error" || errs[1].Summary != "third error" {
		t.Errorf("expected chronological order, got %q then %q", errs[0].Summary, errs[1].Summary)
	}
}

func TestNormalizeFailure(t *testing.T) {
	a := NormalizeFailure(`expected "foo" at line 12, column 4`)
	b := NormalizeFailure(`expected "bar" at line 87, column 9`)
	if a != b {
		t.Errorf("expected normalized patterns to match, got %q vs %q", a, b)
	}
}

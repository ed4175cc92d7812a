// Package session implements the Session Memory ledger (§4.2): the
// append-only per-task record of progress, attempts, failure patterns
// and write-once agent outputs that every Orchestrator transition reads
// from and writes to.
package session

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/google/uuid"
)

// errorKinds are the progress entry kinds that count against errorCount.
var errorKinds = map[string]bool{
	"error":             true,
	"tests_failed":      true,
	"review_rejected":   true,
	"aggregation_conflict": true,
}

// Ledger manages Session Memory for a single Store, serializing writes
// per task the way the teacher's state.Manager serializes writes per run.
type Ledger struct {
	st     store.Store
	mu     sync.Mutex
	policy store.BackoffPolicy
}

// New returns a Ledger backed by st.
func New(st store.Store) *Ledger {
	return &Ledger{st: st, policy: store.DefaultBackoffPolicy()}
}

// getSessionMemory and saveSessionMemory route through store.WithRetry
// (§4.1) so a transient storage blip surfaces as a retried, and only on
// exhaustion a storage-fatal, error rather than failing the ledger write
// on the first hiccup.
func (l *Ledger) getSessionMemory(ctx context.Context, taskID string) (*store.SessionMemory, error) {
	var sm *store.SessionMemory
	err := store.WithRetry(ctx, l.policy, func() error {
		var err error
		sm, err = l.st.GetSessionMemory(ctx, taskID)
		return err
	})
	return sm, err
}

func (l *Ledger) saveSessionMemory(ctx context.Context, sm *store.SessionMemory) error {
	return store.WithRetry(ctx, l.policy, func() error {
		return l.st.SaveSessionMemory(ctx, sm)
	})
}

// Create initializes an empty Session Memory for taskID.
func (l *Ledger) Create(ctx context.Context, taskID string) (*store.SessionMemory, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sm := store.NewSessionMemory(taskID)
	if err := l.saveSessionMemory(ctx, sm); err != nil {
		return nil, fmt.Errorf("failed to create session memory: %w", err)
	}
	return sm, nil
}

// LogProgress appends a progress entry. Never removes or mutates prior
// entries; error/retry counters only increase.
func (l *Ledger) LogProgress(ctx context.Context, taskID, kind, phase string, attempt int, summary string, payload map[string]interface{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return err
	}

	sm.Progress = append(sm.Progress, store.ProgressEntry{
		Kind:      kind,
		Phase:     phase,
		Attempt:   attempt,
		Summary:   summary,
		Payload:   payload,
		Timestamp: time.Now(),
	})

	if errorKinds[kind] {
		sm.ErrorCount++
	}
	if kind == "retry_triggered" {
		sm.RetryCount++
	}

	return l.saveSessionMemory(ctx, sm)
}

// StartAttempt appends a new in-progress attempt and returns its number.
func (l *Ledger) StartAttempt(ctx context.Context, taskID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return 0, err
	}

	n := len(sm.Attempts) + 1
	sm.Attempts = append(sm.Attempts, store.Attempt{
		AttemptNumber: n,
		StartedAt:     time.Now(),
		Outcome:       store.OutcomeInProgress,
	})

	if err := l.saveSessionMemory(ctx, sm); err != nil {
		return 0, err
	}
	return n, nil
}

// AttemptResult carries the fields EndAttempt fills onto the most recent
// in-progress attempt.
type AttemptResult struct {
	Diff            string
	CommitMessage   string
	FailureReason   string
	FailureDetails  string
	TotalTokens     int
	TotalDurationMs int64
}

// EndAttempt closes the most recent in-progress attempt with outcome and
// result, and on non-success outcomes with a failure reason, folds the
// normalized failure into failurePatterns[].
func (l *Ledger) EndAttempt(ctx context.Context, taskID string, outcome store.AttemptOutcome, result AttemptResult) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return err
	}

	idx := -1
	for i := len(sm.Attempts) - 1; i >= 0; i-- {
		if sm.Attempts[i].Outcome == store.OutcomeInProgress {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("no in-progress attempt for task: %s", taskID)
	}

	a := &sm.Attempts[idx]
	a.EndedAt = time.Now()
	a.Outcome = outcome
	a.Diff = result.Diff
	a.CommitMessage = result.CommitMessage
	a.FailureReason = result.FailureReason
	a.FailureDetails = result.FailureDetails
	a.TotalTokens = result.TotalTokens
	a.TotalDurationMs = result.TotalDurationMs

	if outcome != store.OutcomeSuccess && result.FailureReason != "" {
		mergeFailurePattern(sm, result.FailureReason)
	}

	return l.saveSessionMemory(ctx, sm)
}

// SetAgentOutput writes agent's output, failing with a conflict error if
// already set — outputs[agent] is write-once.
func (l *Ledger) SetAgentOutput(ctx context.Context, taskID, agent, output string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return err
	}

	if _, exists := sm.Outputs[agent]; exists {
		return errors.New(errors.CodeConflict, fmt.Sprintf("output already set for agent %q on task %s", agent, taskID))
	}

	if sm.Outputs == nil {
		sm.Outputs = map[string]string{}
	}
	sm.Outputs[agent] = output
	return l.saveSessionMemory(ctx, sm)
}

// Checkpoint snapshots the entire session into a new Checkpoint row and
// records the reference in the session's lastCheckpoint field.
func (l *Ledger) Checkpoint(ctx context.Context, taskID, reason string) (*store.Checkpoint, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return nil, err
	}

	cp := &store.Checkpoint{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		Reason:    reason,
		Snapshot:  *sm,
		CreatedAt: time.Now(),
	}
	if err := store.WithRetry(ctx, l.policy, func() error { return l.st.CreateCheckpoint(ctx, cp) }); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint: %w", err)
	}

	sm.LastCheckpoint = cp.ID
	if err := l.saveSessionMemory(ctx, sm); err != nil {
		return nil, fmt.Errorf("failed to record checkpoint reference: %w", err)
	}
	return cp, nil
}

// Restore replaces the session's contents with a checkpoint snapshot.
// This is the one operation allowed to violate the append-only
// invariant, and it must itself be logged.
func (l *Ledger) Restore(ctx context.Context, taskID, checkpointID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cp *store.Checkpoint
	err := store.WithRetry(ctx, l.policy, func() error {
		var err error
		cp, err = l.st.GetCheckpoint(ctx, checkpointID)
		return err
	})
	if err != nil {
		return err
	}
	if cp.TaskID != taskID {
		return errors.New(errors.CodeConflict, fmt.Sprintf("checkpoint %s does not belong to task %s", checkpointID, taskID))
	}

	restored := cp.Snapshot
	restored.Progress = append(append([]store.ProgressEntry{}, restored.Progress...), store.ProgressEntry{
		Kind:      "restored",
		Phase:     restored.Phase,
		Summary:   fmt.Sprintf("restored from checkpoint %s", checkpointID),
		Timestamp: time.Now(),
	})

	return l.saveSessionMemory(ctx, &restored)
}

// GetRecentErrors returns the last n error-kind progress entries.
func (l *Ledger) GetRecentErrors(ctx context.Context, taskID string, n int) ([]store.ProgressEntry, error) {
	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var errs []store.ProgressEntry
	for i := len(sm.Progress) - 1; i >= 0 && len(errs) < n; i-- {
		if errorKinds[sm.Progress[i].Kind] {
			errs = append(errs, sm.Progress[i])
		}
	}
	// Restore chronological order.
	for i, j := 0, len(errs)-1; i < j; i, j = i+1, j-1 {
		errs[i], errs[j] = errs[j], errs[i]
	}
	return errs, nil
}

// GetAttemptSummary formats the attempt history for a Fixer prompt.
func (l *Ledger) GetAttemptSummary(ctx context.Context, taskID string) (string, error) {
	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return "", err
	}

	summary := ""
	for _, a := range sm.Attempts {
		summary += fmt.Sprintf("attempt %d: outcome=%s", a.AttemptNumber, a.Outcome)
		if a.FailureReason != "" {
			summary += fmt.Sprintf(", failure=%q", a.FailureReason)
		}
		summary += "\n"
	}
	return summary, nil
}

// GetFailurePatterns lists patterns with occurrence count ≥ 2.
func (l *Ledger) GetFailurePatterns(ctx context.Context, taskID string) ([]store.FailurePattern, error) {
	sm, err := l.getSessionMemory(ctx, taskID)
	if err != nil {
		return nil, err
	}

	var recurring []store.FailurePattern
	for _, p := range sm.FailurePatterns {
		if p.Occurrences >= 2 {
			recurring = append(recurring, p)
		}
	}
	return recurring, nil
}

var (
	lineColRe  = regexp.MustCompile(`\b(line|col|column)\s+\d+\b`)
	numberRe   = regexp.MustCompile(`\b\d+\b`)
	literalRe  = regexp.MustCompile(`"[^"]*"|'[^']*'`)
)

// NormalizeFailure replaces line numbers, column numbers and quoted
// literals with placeholders, so repeated failures with different
// positions or values still dedup to one pattern (§3).
func NormalizeFailure(reason string) string {
	s := lineColRe.ReplaceAllString(reason, "$1 <N>")
	s = literalRe.ReplaceAllString(s, "<LIT>")
	s = numberRe.ReplaceAllString(s, "<N>")
	return s
}

func mergeFailurePattern(sm *store.SessionMemory, reason string) {
	pattern := NormalizeFailure(reason)
	now := time.Now()

	for i := range sm.FailurePatterns {
		if sm.FailurePatterns[i].Pattern == pattern {
			sm.FailurePatterns[i].Occurrences++
			sm.FailurePatterns[i].LastSeen = now
			return
		}
	}

	sm.FailurePatterns = append(sm.FailurePatterns, store.FailurePattern{
		Pattern:     pattern,
		Occurrences: 1,
		LastSeen:    now,
	})
}

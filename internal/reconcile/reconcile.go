// Package reconcile implements the WAITING_HUMAN reconcile loop (§4.9):
// a single ticker that polls every task parked at WAITING_HUMAN and asks
// the VCS whether its PR has since been merged or closed, moving the
// task to its terminal COMPLETED or FAILED state accordingly. No other
// transition in the Orchestrator's state machine is driven by a ticker —
// this is the one place a human's out-of-band action re-enters the system.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/telemetry"
	"github.com/autoforge/autoforge/internal/vcs"
)

const defaultBatchSize = 50

// Loop polls WAITING_HUMAN tasks on a fixed interval and resolves the
// ones whose PR has merged or closed.
type Loop struct {
	Store     store.Store
	Ledger    *session.Ledger
	VCS       vcs.VCS
	Bus       *event.Bus
	Logger    *telemetry.Logger
	Metrics   *telemetry.Metrics
	Interval  time.Duration
	BatchSize int

	done chan struct{}
}

// New builds a Loop. interval defaults to 2 minutes and is the spec's
// suggested polling cadence for an externally-driven transition.
func New(st store.Store, ledger *session.Ledger, vcsImpl vcs.VCS, bus *event.Bus, logger *telemetry.Logger, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = 2 * time.Minute
	}
	return &Loop{
		Store: st, Ledger: ledger, VCS: vcsImpl, Bus: bus, Logger: logger,
		Interval: interval, BatchSize: defaultBatchSize,
		done: make(chan struct{}),
	}
}

// Start runs the ticker loop in the background until ctx is cancelled
// or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	ticker := time.NewTicker(l.Interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-l.done:
				return
			case <-ticker.C:
				if err := l.Tick(ctx); err != nil && l.Logger != nil {
					l.Logger.Error("reconcile tick failed", "error", err.Error())
				}
			}
		}
	}()
}

// Stop ends the background loop started by Start.
func (l *Loop) Stop() {
	close(l.done)
}

// Tick runs one reconciliation pass over every WAITING_HUMAN task,
// continuing past individual task errors so one bad PR lookup doesn't
// block the rest of the batch.
func (l *Loop) Tick(ctx context.Context) error {
	tasks, err := l.Store.TasksByStatus(ctx, store.StatusWaitingHuman, l.batchSize())
	if err != nil {
		return fmt.Errorf("listing waiting-human tasks: %w", err)
	}

	var firstErr error
	for _, task := range tasks {
		if err := l.reconcileOne(ctx, task); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (l *Loop) batchSize() int {
	if l.BatchSize <= 0 {
		return defaultBatchSize
	}
	return l.BatchSize
}

func (l *Loop) reconcileOne(ctx context.Context, task *store.Task) error {
	if task.PRNumber == 0 {
		return nil
	}
	status, err := l.VCS.GetPRStatus(ctx, task.Repo, task.PRNumber)
	if err != nil {
		return fmt.Errorf("checking PR #%d on %s: %w", task.PRNumber, task.Repo, err)
	}

	switch status.State {
	case vcs.PRStateMerged:
		return l.resolve(ctx, task, store.StatusCompleted, "", event.KindCompleted, "PR merged")
	case vcs.PRStateClosed:
		return l.resolve(ctx, task, store.StatusFailed, "PR_CLOSED_UNMERGED: pull request was closed without merging", event.KindFailed, "PR closed unmerged")
	default:
		return nil
	}
}

func (l *Loop) resolve(ctx context.Context, task *store.Task, status store.Status, lastError string, kind event.Kind, reason string) error {
	task.Status = status
	task.LastError = lastError
	task.UpdatedAt = time.Now()
	if err := l.Store.UpdateTask(ctx, task); err != nil {
		return fmt.Errorf("persisting task %s as %s: %w", task.ID, status, err)
	}
	if l.Ledger != nil {
		_, _ = l.Ledger.Checkpoint(ctx, task.ID, reason)
		_ = l.Ledger.LogProgress(ctx, task.ID, "reconciled", string(status), task.AttemptCount, reason, nil)
	}
	if l.Bus != nil {
		_ = l.Bus.Emit(event.New(task.ID, kind, reason))
	}
	if l.Metrics != nil {
		if status == store.StatusCompleted {
			l.Metrics.IncTasksCompleted()
		} else {
			l.Metrics.IncTasksFailed()
		}
		l.Metrics.RecordTaskDuration(time.Since(task.CreatedAt))
		l.Metrics.Flush("task."+string(status), map[string]string{"task_id": task.ID})
	}
	return nil
}

// Package store implements the Store contract (§4.1): durable CRUD for
// Task, TaskEvent, SessionMemory and Checkpoint, plus the specialized
// queries the Orchestrator and Scheduler need, backed by either an
// in-memory map or SQLite.
package store

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/event"
)

// Store is the persistence contract every component in the orchestrator
// depends on rather than a concrete backend.
type Store interface {
	// Task CRUD and specialized queries.
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	TasksByStatus(ctx context.Context, status Status, limit int) ([]*Task, error)
	// ListTasks returns every top-level task (ParentTaskID == nil),
	// newest-first, for the §6 `GET /tasks` listing endpoint.
	ListTasks(ctx context.Context, limit int) ([]*Task, error)
	ChildTasks(ctx context.Context, parentTaskID string) ([]*Task, error)
	ParentTask(ctx context.Context, childTaskID string) (*Task, error)

	// Session Memory.
	GetSessionMemory(ctx context.Context, taskID string) (*SessionMemory, error)
	SaveSessionMemory(ctx context.Context, sm *SessionMemory) error
	// UpdateSubtaskStatus performs a compare-and-swap update on a single
	// subtask inside the task's OrchestrationState (§5 "CAS semantics").
	UpdateSubtaskStatus(ctx context.Context, taskID, subtaskID string, status SubtaskStatus, diff string) error
	// CompletedChildDiffs returns non-empty diffs of completed children,
	// ordered by subtask index, for the Aggregator (§4.8).
	CompletedChildDiffs(ctx context.Context, parentTaskID string) ([]string, error)

	// TaskEvent append/read.
	AppendTaskEvent(ctx context.Context, ev event.TaskEvent) error
	RecentTaskEvents(ctx context.Context, taskID string, after *EventCursor, limit int) ([]event.TaskEvent, error)

	// Checkpoint.
	CreateCheckpoint(ctx context.Context, cp *Checkpoint) error
	GetCheckpoint(ctx context.Context, id string) (*Checkpoint, error)
	LatestCheckpoint(ctx context.Context, taskID string) (*Checkpoint, error)

	// Model Router audit log.
	AppendModelConfigAudit(ctx context.Context, entry ModelConfigAudit) error
	ListModelConfigAudit(ctx context.Context, position string) ([]ModelConfigAudit, error)

	// Webhook idempotency (§6, §9 supplemented feature).
	// MarkWebhookDelivery returns true if this is the first time
	// (repo, issueNumber, deliveryID) has been seen.
	MarkWebhookDelivery(ctx context.Context, repo string, issueNumber int, deliveryID string) (bool, error)

	Close() error
}

// BackoffPolicy is the I/O retry schedule (§4.1): base 1s, multiplier 2,
// max 30s, jitter ±10%.
type BackoffPolicy struct {
	MaxAttempts int
	Base        time.Duration
	Multiplier  float64
	Max         time.Duration
	Jitter      float64
}

// DefaultBackoffPolicy returns the §4.1 schedule.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		MaxAttempts: 5,
		Base:        1 * time.Second,
		Multiplier:  2,
		Max:         30 * time.Second,
		Jitter:      0.1,
	}
}

func (p BackoffPolicy) delay(attempt int) time.Duration {
	base := float64(p.Base) * math.Pow(p.Multiplier, float64(attempt))
	if base > float64(p.Max) {
		base = float64(p.Max)
	}
	jitter := base * p.Jitter * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// WithRetry runs fn under the backoff policy, retrying every error fn
// returns; it does not tell transient errors from permanent ones, so fn
// returns nil for outcomes that are not failures (such as no matching
// row). After the policy is exhausted it raises a storage-fatal
// OrchError (§4.1, §7) rather than returning the raw error, so callers
// can classify it with errors.IsFatal without re-deriving the mapping.
func WithRetry(ctx context.Context, policy BackoffPolicy, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt == policy.MaxAttempts-1 {
			break
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(errors.CodeStorageFatal, "store operation cancelled", ctx.Err())
		case <-time.After(policy.delay(attempt)):
		}
	}
	return errors.Wrap(errors.CodeStorageFatal, "store operation failed after retries", lastErr)
}

package event

import "time"

// Kind identifies the variant of a TaskEvent (§9: a closed tagged union,
// one variant per event kind, replacing the source's "any"-typed event
// metadata). Every subsequent field on TaskEvent is optional and is
// populated only for the kinds that need it.
type Kind string

const (
	KindTaskCreated         Kind = "task.created"
	KindPlanned             Kind = "task.planned"
	KindBreakdownDone       Kind = "task.breakdown_done"
	KindSubtaskDispatched   Kind = "subtask.dispatched"
	KindSubtaskCompleted    Kind = "subtask.completed"
	KindSubtaskFailed       Kind = "subtask.failed"
	KindCoded               Kind = "task.coded"
	KindTested              Kind = "task.tested"
	KindTestsFailed         Kind = "task.tests_failed"
	KindFixing              Kind = "task.fixing"
	KindReviewed            Kind = "task.reviewed"
	KindReviewApproved      Kind = "task.review_approved"
	KindReviewRejected      Kind = "task.review_rejected"
	KindPRCreated           Kind = "task.pr_created"
	KindWaitingHuman        Kind = "task.waiting_human"
	KindCompleted           Kind = "task.completed"
	KindFailed              Kind = "task.failed"
	KindRetryTriggered      Kind = "task.retry_triggered"
	KindEscalated           Kind = "task.escalated"
	KindCheckpointed        Kind = "task.checkpointed"
	KindRestored            Kind = "task.restored"
	KindAggregationConflict Kind = "task.aggregation_conflict"
	KindCancelled           Kind = "task.cancelled"
)

// Level is the severity a TaskEvent is logged/streamed at.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// TaskEvent is the event broadcast on every Orchestrator transition and
// streamed over the `/ws/tasks` endpoint (§6). Field presence is
// kind-dependent: Agent/Message/TokensUsed/DurationMs are set only when
// the originating kind produces them (an agent invocation, a retry, a
// checkpoint) — callers should not assume a particular zero value means
// "absent" versus "not applicable to this kind".
type TaskEvent struct {
	Type       string                 `json:"type"` // always "task_event", matches §6 message envelope
	TaskID     string                 `json:"taskId"`
	Kind       Kind                   `json:"eventType"`
	Agent      string                 `json:"agent,omitempty"`
	Message    string                 `json:"message,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Level      Level                  `json:"level"`
	TokensUsed int                    `json:"tokensUsed,omitempty"`
	DurationMs int64                  `json:"durationMs,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// New creates a TaskEvent with the current timestamp and info level.
func New(taskID string, kind Kind, message string) TaskEvent {
	return TaskEvent{
		Type:      "task_event",
		TaskID:    taskID,
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
		Level:     LevelInfo,
	}
}

// WithAgent returns a copy with Agent set.
func (e TaskEvent) WithAgent(agent string) TaskEvent {
	e.Agent = agent
	return e
}

// WithLevel returns a copy with Level set.
func (e TaskEvent) WithLevel(level Level) TaskEvent {
	e.Level = level
	return e
}

// WithUsage returns a copy with token/duration accounting set.
func (e TaskEvent) WithUsage(tokens int, durationMs int64) TaskEvent {
	e.TokensUsed = tokens
	e.DurationMs = durationMs
	return e
}

// WithPayload returns a copy with kind-specific payload data attached.
func (e TaskEvent) WithPayload(payload map[string]interface{}) TaskEvent {
	e.Payload = payload
	return e
}

package store

import (
	"time"
)

// Status is the Task lifecycle state (§4.9).
type Status string

const (
	StatusNew             Status = "NEW"
	StatusPlanning        Status = "PLANNING"
	StatusPlanningDone    Status = "PLANNING_DONE"
	StatusBreakdownDone   Status = "BREAKDOWN_DONE"
	StatusOrchestrating   Status = "ORCHESTRATING"
	StatusCoding          Status = "CODING"
	StatusCodingDone      Status = "CODING_DONE"
	StatusTesting         Status = "TESTING"
	StatusTestsFailed     Status = "TESTS_FAILED"
	StatusFixing          Status = "FIXING"
	StatusTestsPassed     Status = "TESTS_PASSED"
	StatusReviewing       Status = "REVIEWING"
	StatusReviewApproved  Status = "REVIEW_APPROVED"
	StatusReviewRejected  Status = "REVIEW_REJECTED"
	StatusWaitingHuman    Status = "WAITING_HUMAN"
	StatusCompleted       Status = "COMPLETED"
	StatusFailed          Status = "FAILED"
)

// Complexity is the Planner's size estimate for a Task or SubtaskDefinition.
type Complexity string

const (
	ComplexityXS Complexity = "XS"
	ComplexityS  Complexity = "S"
	ComplexityM  Complexity = "M"
	ComplexityL  Complexity = "L"
	ComplexityXL Complexity = "XL"
)

// Effort is the Planner's estimate of implementation effort.
type Effort string

const (
	EffortLow    Effort = "low"
	EffortMedium Effort = "medium"
	EffortHigh   Effort = "high"
)

// Task is the central unit of work (§3).
type Task struct {
	ID    string `json:"id"`
	Owner string `json:"owner"`
	Repo  string `json:"repo"`

	IssueNumber int    `json:"issueNumber"`
	IssueTitle  string `json:"issueTitle"`
	IssueBody   string `json:"issueBody"`

	Status       Status `json:"status"`
	AttemptCount int    `json:"attemptCount"`
	MaxAttempts  int    `json:"maxAttempts"`

	ParentTaskID *string `json:"parentTaskId,omitempty"`
	SubtaskIndex *int    `json:"subtaskIndex,omitempty"`
	IsOrchestrated bool  `json:"isOrchestrated,omitempty"`

	DefinitionOfDone []string `json:"definitionOfDone,omitempty"`
	PlanSteps        []string `json:"planSteps,omitempty"`
	TargetFiles      []string `json:"targetFiles,omitempty"`
	BranchName       string   `json:"branchName,omitempty"`
	CurrentDiff      string   `json:"currentDiff,omitempty"`
	CommitMessage    string   `json:"commitMessage,omitempty"`
	PRNumber         int      `json:"prNumber,omitempty"`
	PRURL            string   `json:"prUrl,omitempty"`

	EstimatedComplexity Complexity `json:"estimatedComplexity,omitempty"`
	EstimatedEffort     Effort     `json:"estimatedEffort,omitempty"`

	LastError string `json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether Status is one of the two terminal states.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// ProgressEntry is one append-only Session Memory log line (§3, §4.2).
type ProgressEntry struct {
	Kind      string                 `json:"kind"`
	Phase     string                 `json:"phase"`
	Attempt   int                    `json:"attempt"`
	Summary   string                 `json:"summary"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// AttemptOutcome is the terminal result recorded for an Attempt.
type AttemptOutcome string

const (
	OutcomeInProgress  AttemptOutcome = "in_progress"
	OutcomeSuccess     AttemptOutcome = "success"
	OutcomeTestsFailed AttemptOutcome = "tests_failed"
	OutcomeReviewRejected AttemptOutcome = "review_rejected"
	OutcomeError       AttemptOutcome = "error"
	OutcomeMaxAttempts AttemptOutcome = "max_attempts"
)

// Attempt records one pass of a stage (§3).
type Attempt struct {
	AttemptNumber   int            `json:"attemptNumber"`
	StartedAt       time.Time      `json:"startedAt"`
	EndedAt         time.Time      `json:"endedAt,omitempty"`
	Outcome         AttemptOutcome `json:"outcome"`
	Diff            string         `json:"diff,omitempty"`
	CommitMessage   string         `json:"commitMessage,omitempty"`
	FailureReason   string         `json:"failureReason,omitempty"`
	FailureDetails  string         `json:"failureDetails,omitempty"`
	TotalTokens     int            `json:"totalTokens,omitempty"`
	TotalDurationMs int64          `json:"totalDurationMs,omitempty"`
}

// FailurePattern is a normalized failure string with an occurrence count
// (§3 invariant, §8 property 7).
type FailurePattern struct {
	Pattern     string    `json:"pattern"`
	Occurrences int       `json:"occurrences"`
	LastSeen    time.Time `json:"lastSeen"`
}

// SubtaskStatus is the lifecycle of one subtask within Orchestration State.
type SubtaskStatus string

const (
	SubtaskPending    SubtaskStatus = "pending"
	SubtaskInProgress SubtaskStatus = "in_progress"
	SubtaskCompleted  SubtaskStatus = "completed"
	SubtaskFailed     SubtaskStatus = "failed"
)

// SubtaskDefinition is Breakdown's emitted unit of work (§3, §4.6).
type SubtaskDefinition struct {
	ID                  string     `json:"id"`
	Title               string     `json:"title"`
	Description         string     `json:"description"`
	TargetFiles         []string   `json:"targetFiles"`
	Dependencies        []string   `json:"dependencies"`
	AcceptanceCriteria  []string   `json:"acceptanceCriteria"`
	EstimatedComplexity Complexity `json:"estimatedComplexity"`
	EstimatedLines      int        `json:"estimatedLines"`
}

// Subtask tracks a SubtaskDefinition's execution state inside
// OrchestrationState (§3).
type Subtask struct {
	SubtaskDefinition
	Status      SubtaskStatus `json:"status"`
	Attempts    int           `json:"attempts"`
	ChildTaskID *string       `json:"childTaskId,omitempty"`
	Diff        string        `json:"diff,omitempty"`
}

// OrchestrationState is the parent task's breakdown bookkeeping (§3, §4.7).
type OrchestrationState struct {
	Subtasks          []Subtask `json:"subtasks"`
	CompletedSubtasks []string  `json:"completedSubtasks"`
	CurrentSubtask    *string   `json:"currentSubtask,omitempty"`
	AggregatedDiff    string    `json:"aggregatedDiff,omitempty"`
}

// SessionMemory is the one-per-task ledger (§3, §4.2).
type SessionMemory struct {
	TaskID          string              `json:"taskId"`
	Phase           string              `json:"phase"`
	Progress        []ProgressEntry     `json:"progress"`
	Attempts        []Attempt           `json:"attempts"`
	FailurePatterns []FailurePattern    `json:"failurePatterns"`
	Outputs         map[string]string   `json:"outputs"` // agent name -> JSON-encoded output, write-once
	Orchestration   *OrchestrationState `json:"orchestration,omitempty"`
	ErrorCount      int                 `json:"errorCount"`
	RetryCount      int                 `json:"retryCount"`
	LastCheckpoint  string              `json:"lastCheckpoint,omitempty"`
}

// NewSessionMemory initializes empty progress/attempts/outputs for a task.
func NewSessionMemory(taskID string) *SessionMemory {
	return &SessionMemory{
		TaskID:   taskID,
		Progress: []ProgressEntry{},
		Attempts: []Attempt{},
		Outputs:  map[string]string{},
	}
}

// Checkpoint is an immutable Session Memory snapshot (§3).
type Checkpoint struct {
	ID        string        `json:"id"`
	TaskID    string        `json:"taskId"`
	Reason    string        `json:"reason,omitempty"`
	Snapshot  SessionMemory `json:"snapshot"`
	CreatedAt time.Time     `json:"createdAt"`
}

// ModelConfigAudit is one append-only row in the Model Router's audit
// log (§4.3).
type ModelConfigAudit struct {
	ID        string    `json:"id"`
	Position  string    `json:"position"`
	OldModel  string    `json:"oldModel"`
	NewModel  string    `json:"newModel"`
	ChangedAt time.Time `json:"changedAt"`
	ChangedBy string     `json:"changedBy,omitempty"`
}

// EventCursor paginates recent-events queries by (createdAt, id) (§4.1).
type EventCursor struct {
	CreatedAt time.Time
	ID        string
}

// Package orchestrator implements the Orchestrator state machine (§4.9):
// the Task lifecycle from NEW through PLANNING, optional decomposition
// into subtasks, the coding/testing/fixing loop, review, and the
// handoff to a human at WAITING_HUMAN. It is the central consumer of
// every other core package — the Model Router, Agent Runner, Session
// Memory ledger, Breakdown, Scheduler, Aggregator and the VCS adapter
// all meet here.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/autoforge/autoforge/internal/agentrunner"
	"github.com/autoforge/autoforge/internal/agents"
	"github.com/autoforge/autoforge/internal/aggregator"
	"github.com/autoforge/autoforge/internal/breakdown"
	"github.com/autoforge/autoforge/internal/depgraph"
	"github.com/autoforge/autoforge/internal/diffengine"
	autoforgeErrors "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/model"
	"github.com/autoforge/autoforge/internal/scheduler"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/telemetry"
	"github.com/autoforge/autoforge/internal/vcs"
)

// maxEscalationLevel caps how many times a stage's model escalates
// before the task suspends for a human (§4.9): escalation_1, then
// escalation_2, then MAX_ATTEMPTS.
const maxEscalationLevel = 2

// Orchestrator drives a single Task (and, recursively, its subtasks)
// through the lifecycle in §4.9.
type Orchestrator struct {
	Store               store.Store
	Ledger              *session.Ledger
	Runner              *agentrunner.Runner
	Router              *model.Router
	VCS                 vcs.VCS
	Bus                 *event.Bus
	MaxParallel         int
	MaxAttempts         int
	ErrorStrategy       scheduler.ErrorStrategy
	AggregationStrategy diffengine.Strategy
	BaseRef             string
	CheckTimeoutMs      int

	// Metrics is an optional observability sink: nil is a valid no-op,
	// matching ErrorStrategy/AggregationStrategy above, set it directly
	// on the returned Orchestrator when counters are wanted.
	Metrics *telemetry.Metrics
}

// New builds an Orchestrator from its collaborators. maxParallel,
// maxAttempts and checkTimeoutMs fall back to the §4.7/§4.9/§6
// defaults when zero; errorStrategy defaults to fail-fast and
// aggregationStrategy to manual_required — the config package carries
// no field for either, so a caller wanting something else must set it
// directly on the returned Orchestrator (documented in DESIGN.md).
func New(st store.Store, ledger *session.Ledger, runner *agentrunner.Runner, router *model.Router, vcsImpl vcs.VCS, bus *event.Bus, maxParallel, maxAttempts, checkTimeoutMs int) *Orchestrator {
	if maxParallel <= 0 {
		maxParallel = 3
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if checkTimeoutMs <= 0 {
		checkTimeoutMs = 15 * 60 * 1000
	}
	return &Orchestrator{
		Store:               st,
		Ledger:              ledger,
		Runner:              runner,
		Router:              router,
		VCS:                 vcsImpl,
		Bus:                 bus,
		MaxParallel:         maxParallel,
		MaxAttempts:         maxAttempts,
		ErrorStrategy:       scheduler.FailFast,
		AggregationStrategy: diffengine.StrategyManualRequired,
		BaseRef:             "main",
		CheckTimeoutMs:      checkTimeoutMs,
	}
}

// CreateTask seeds a new top-level Task from issue data and starts its
// Session Memory ledger.
func (o *Orchestrator) CreateTask(ctx context.Context, owner, repo string, issueNumber int, issue *vcs.Issue) (*store.Task, error) {
	now := time.Now()
	task := &store.Task{
		ID:          uuid.New().String(),
		Owner:       owner,
		Repo:        repo,
		IssueNumber: issueNumber,
		IssueTitle:  issue.Title,
		IssueBody:   issue.Body,
		Status:      store.StatusNew,
		MaxAttempts: o.MaxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.Store.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	if _, err := o.Ledger.Create(ctx, task.ID); err != nil {
		return nil, err
	}
	if o.Metrics != nil {
		o.Metrics.IncTasksStarted()
	}
	o.emit(task.ID, event.KindTaskCreated, "task created")
	return task, nil
}

// Process drives taskID through as many transitions as it can without
// suspending, stopping at WAITING_HUMAN, a terminal status, context
// cancellation, or an unrecoverable error. It is safe to call again on
// the same taskID at any time — persisted Status is the only state it
// trusts, so a crash between transitions simply re-enters at the last
// checkpointed status (§5 "no in-memory workflow state").
func (o *Orchestrator) Process(ctx context.Context, taskID string) error {
	restorations := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		task, err := o.Store.GetTask(ctx, taskID)
		if err != nil {
			return err
		}
		if task.Terminal() || task.Status == store.StatusWaitingHuman {
			return nil
		}

		next, stepErr := o.step(ctx, task)
		if stepErr == nil {
			restorations = 0
			if next.Terminal() || next.Status == store.StatusWaitingHuman {
				return nil
			}
			continue
		}

		if autoforgeErrors.AsCode(stepErr) == autoforgeErrors.CodeStorageFatal {
			restorations++
			if restorations > 1 {
				_, _ = o.fail(ctx, task, "storage unavailable after restore attempt: "+stepErr.Error())
				return stepErr
			}
			if restoreErr := o.restoreFromCheckpoint(ctx, taskID); restoreErr != nil {
				return restoreErr
			}
			continue
		}
		return stepErr
	}
}

// Cancel moves taskID to FAILED with lastError "cancelled" (§5). Any
// agent call already in flight completes on its own context and its
// output is discarded by the next Process call observing the terminal
// status.
func (o *Orchestrator) Cancel(ctx context.Context, taskID string) error {
	task, err := o.Store.GetTask(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Terminal() {
		return nil
	}
	task.Status = store.StatusFailed
	task.LastError = "cancelled"
	task.UpdatedAt = time.Now()
	if err := o.Store.UpdateTask(ctx, task); err != nil {
		return err
	}
	_, _ = o.Ledger.Checkpoint(ctx, taskID, "cancelled")
	o.emit(taskID, event.KindCancelled, "task cancelled")
	return nil
}

func (o *Orchestrator) step(ctx context.Context, task *store.Task) (*store.Task, error) {
	switch task.Status {
	case store.StatusNew:
		task.Status = store.StatusPlanning
		task.AttemptCount = 0
		return o.persistAndCheckpoint(ctx, task, "entered planning")
	case store.StatusPlanning:
		return o.handlePlanning(ctx, task)
	case store.StatusPlanningDone:
		return o.handlePlanningDone(ctx, task)
	case store.StatusBreakdownDone:
		task.Status = store.StatusOrchestrating
		return o.persistAndCheckpoint(ctx, task, "entering orchestration")
	case store.StatusOrchestrating:
		return o.handleOrchestrating(ctx, task)
	case store.StatusCoding:
		return o.handleCoding(ctx, task)
	case store.StatusCodingDone:
		return o.handleCodingDone(ctx, task)
	case store.StatusTesting:
		return o.handleTesting(ctx, task)
	case store.StatusTestsFailed:
		return o.retry(ctx, task, task.LastError, store.StatusFixing)
	case store.StatusFixing:
		return o.handleFixing(ctx, task)
	case store.StatusTestsPassed:
		task.Status = store.StatusReviewing
		return o.persistAndCheckpoint(ctx, task, "entering review")
	case store.StatusReviewing:
		return o.handleReviewing(ctx, task)
	case store.StatusReviewApproved:
		return o.handleReviewApproved(ctx, task)
	case store.StatusReviewRejected:
		return o.retry(ctx, task, "review rejected", store.StatusCoding)
	default:
		return nil, autoforgeErrors.New(autoforgeErrors.CodeConfigInvalid, "no transition defined for status "+string(task.Status))
	}
}

func (o *Orchestrator) handlePlanning(ctx context.Context, task *store.Task) (*store.Task, error) {
	out, err := o.invokePlanner(ctx, task)
	if err != nil {
		return o.handleAgentFailure(ctx, task, err, store.StatusPlanning)
	}
	task.DefinitionOfDone = out.DefinitionOfDone
	task.PlanSteps = out.PlanSteps
	task.TargetFiles = out.TargetFiles
	task.EstimatedComplexity = out.EstimatedComplexity
	task.EstimatedEffort = out.EstimatedEffort
	task.Status = store.StatusPlanningDone
	return o.persistAndCheckpoint(ctx, task, "planning complete")
}

func (o *Orchestrator) handlePlanningDone(ctx context.Context, task *store.Task) (*store.Task, error) {
	if isComplex(task.EstimatedComplexity) {
		return o.runBreakdown(ctx, task)
	}
	task.Status = store.StatusCoding
	return o.persistAndCheckpoint(ctx, task, "entered coding")
}

func isComplex(c store.Complexity) bool {
	return c == store.ComplexityM || c == store.ComplexityL || c == store.ComplexityXL
}

func (o *Orchestrator) runBreakdown(ctx context.Context, task *store.Task) (*store.Task, error) {
	in := agents.BreakdownInput{
		PlannerOutput: agents.PlannerOutput{
			DefinitionOfDone:    task.DefinitionOfDone,
			PlanSteps:           task.PlanSteps,
			TargetFiles:         task.TargetFiles,
			EstimatedComplexity: task.EstimatedComplexity,
			EstimatedEffort:     task.EstimatedEffort,
		},
		AcceptanceCriteria: task.DefinitionOfDone,
	}
	out, err := breakdown.Run(in)
	if err != nil {
		return o.fail(ctx, task, "breakdown failed: "+err.Error())
	}

	sm, err := o.Store.GetSessionMemory(ctx, task.ID)
	if err != nil {
		return nil, err
	}

	subtasks := make([]store.Subtask, len(out.Subtasks))
	for i, def := range out.Subtasks {
		childID := uuid.New().String()
		index := i
		now := time.Now()
		child := &store.Task{
			ID:                  childID,
			Owner:               task.Owner,
			Repo:                task.Repo,
			IssueNumber:         task.IssueNumber,
			IssueTitle:          def.Title,
			IssueBody:           def.Description,
			Status:              store.StatusPlanningDone,
			MaxAttempts:         task.MaxAttempts,
			ParentTaskID:        &task.ID,
			SubtaskIndex:        &index,
			IsOrchestrated:      true,
			DefinitionOfDone:    def.AcceptanceCriteria,
			PlanSteps:           []string{def.Description},
			TargetFiles:         def.TargetFiles,
			EstimatedComplexity: def.EstimatedComplexity,
			EstimatedEffort:     store.EffortMedium,
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		if err := o.Store.CreateTask(ctx, child); err != nil {
			return nil, err
		}
		if _, err := o.Ledger.Create(ctx, childID); err != nil {
			return nil, err
		}

		subtasks[i] = store.Subtask{
			SubtaskDefinition: def,
			Status:            store.SubtaskPending,
			ChildTaskID:       &childID,
		}
	}

	sm.Orchestration = &store.OrchestrationState{Subtasks: subtasks}
	if err := o.Store.SaveSessionMemory(ctx, sm); err != nil {
		return nil, err
	}

	task.Status = store.StatusBreakdownDone
	if _, err := o.persistAndCheckpoint(ctx, task, fmt.Sprintf("broke down into %d subtasks", len(subtasks))); err != nil {
		return nil, err
	}
	o.emit(task.ID, event.KindBreakdownDone, fmt.Sprintf("broke down into %d subtasks", len(subtasks)))
	return task, nil
}

func (o *Orchestrator) handleOrchestrating(ctx context.Context, task *store.Task) (*store.Task, error) {
	sm, err := o.Store.GetSessionMemory(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	if sm.Orchestration == nil || len(sm.Orchestration.Subtasks) == 0 {
		return nil, autoforgeErrors.New(autoforgeErrors.CodeConfigInvalid, "orchestrating task has no subtasks")
	}

	defs := make([]store.SubtaskDefinition, len(sm.Orchestration.Subtasks))
	childByID := make(map[string]string, len(sm.Orchestration.Subtasks))
	for i, st := range sm.Orchestration.Subtasks {
		defs[i] = st.SubtaskDefinition
		if st.ChildTaskID != nil {
			childByID[st.ID] = *st.ChildTaskID
		}
	}
	graph := depgraph.Build(defs)
	sched := scheduler.New(graph, o.MaxParallel, o.ErrorStrategy, o.Bus)

	exec := func(ctx context.Context, subtaskID string) error {
		childID, ok := childByID[subtaskID]
		if !ok {
			return fmt.Errorf("subtask %s has no child task", subtaskID)
		}
		if err := o.Store.UpdateSubtaskStatus(ctx, task.ID, subtaskID, store.SubtaskInProgress, ""); err != nil {
			return err
		}
		if err := o.Process(ctx, childID); err != nil {
			_ = o.Store.UpdateSubtaskStatus(ctx, task.ID, subtaskID, store.SubtaskFailed, "")
			return err
		}
		child, err := o.Store.GetTask(ctx, childID)
		if err != nil {
			return err
		}
		if child.Status != store.StatusCompleted {
			_ = o.Store.UpdateSubtaskStatus(ctx, task.ID, subtaskID, store.SubtaskFailed, "")
			return fmt.Errorf("subtask %s did not complete: %s", subtaskID, child.LastError)
		}
		return o.Store.UpdateSubtaskStatus(ctx, task.ID, subtaskID, store.SubtaskCompleted, child.CurrentDiff)
	}

	subtaskErrs, runErr := sched.Run(ctx, task.ID, exec)
	if runErr != nil || len(subtaskErrs) > 0 {
		return o.fail(ctx, task, fmt.Sprintf("%d subtask(s) failed", len(subtaskErrs)))
	}

	sm, err = o.Store.GetSessionMemory(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	result, aggErr := aggregator.Aggregate(sm.Orchestration, o.AggregationStrategy)
	if saveErr := o.Store.SaveSessionMemory(ctx, sm); saveErr != nil {
		return nil, saveErr
	}
	if aggErr != nil {
		if o.Metrics != nil {
			o.Metrics.IncAggregationConflicts()
		}
		o.emit(task.ID, event.KindAggregationConflict, aggErr.Error())
		return o.waitingHuman(ctx, task, "AGGREGATION_CONFLICT: "+aggErr.Error())
	}

	task.CurrentDiff = result.Diff
	task.Status = store.StatusCodingDone
	return o.persistAndCheckpoint(ctx, task, "subtasks aggregated")
}

func (o *Orchestrator) handleCoding(ctx context.Context, task *store.Task) (*store.Task, error) {
	level := escalationLevel(task.AttemptCount, task.MaxAttempts)
	if level > maxEscalationLevel {
		return o.waitingHuman(ctx, task, "MAX_ATTEMPTS")
	}
	out, err := o.invokeCoder(ctx, task, level)
	if err != nil {
		return o.handleAgentFailure(ctx, task, err, store.StatusCoding)
	}
	task.CurrentDiff = out.Diff
	task.CommitMessage = out.CommitMessage
	task.Status = store.StatusCodingDone
	return o.persistAndCheckpoint(ctx, task, "coding complete")
}

func (o *Orchestrator) handleCodingDone(ctx context.Context, task *store.Task) (*store.Task, error) {
	if task.BranchName == "" {
		task.BranchName = fmt.Sprintf("autoforge/task-%s", task.ID)
	}
	if err := o.VCS.CreateBranch(ctx, task.Repo, task.BranchName, o.BaseRef); err != nil {
		return o.retry(ctx, task, err.Error(), store.StatusCoding)
	}
	if _, err := o.VCS.ApplyDiff(ctx, task.Repo, task.BranchName, task.CurrentDiff, task.CommitMessage); err != nil {
		return o.retry(ctx, task, err.Error(), store.StatusCoding)
	}
	task.Status = store.StatusTesting
	return o.persistAndCheckpoint(ctx, task, "diff applied, awaiting checks")
}

func (o *Orchestrator) handleTesting(ctx context.Context, task *store.Task) (*store.Task, error) {
	result, err := o.VCS.WaitForChecks(ctx, task.Repo, task.BranchName, o.CheckTimeoutMs)
	if err != nil {
		return o.retry(ctx, task, err.Error(), store.StatusFixing)
	}
	if result.Success {
		task.Status = store.StatusTestsPassed
		return o.persistAndCheckpoint(ctx, task, "tests passed")
	}
	task.LastError = result.ErrorSummary
	task.Status = store.StatusTestsFailed
	return o.persistAndCheckpoint(ctx, task, "tests failed: "+result.ErrorSummary)
}

func (o *Orchestrator) handleFixing(ctx context.Context, task *store.Task) (*store.Task, error) {
	level := escalationLevel(task.AttemptCount, task.MaxAttempts)
	if level > maxEscalationLevel {
		return o.waitingHuman(ctx, task, "MAX_ATTEMPTS")
	}
	out, err := o.invokeFixer(ctx, task, level)
	if err != nil {
		return o.handleAgentFailure(ctx, task, err, store.StatusFixing)
	}
	task.CurrentDiff = out.Diff
	task.CommitMessage = out.CommitMessage
	if _, err := o.VCS.ApplyDiff(ctx, task.Repo, task.BranchName, task.CurrentDiff, task.CommitMessage); err != nil {
		return o.retry(ctx, task, err.Error(), store.StatusFixing)
	}
	task.Status = store.StatusTesting
	return o.persistAndCheckpoint(ctx, task, "fix applied, retesting")
}

func (o *Orchestrator) handleReviewing(ctx context.Context, task *store.Task) (*store.Task, error) {
	out, err := o.invokeReviewer(ctx, task)
	if err != nil {
		return o.handleAgentFailure(ctx, task, err, store.StatusReviewing)
	}
	if out.Verdict == agents.VerdictApprove {
		task.Status = store.StatusReviewApproved
	} else {
		task.Status = store.StatusReviewRejected
	}
	return o.persistAndCheckpoint(ctx, task, "reviewed: "+string(out.Verdict))
}

func (o *Orchestrator) handleReviewApproved(ctx context.Context, task *store.Task) (*store.Task, error) {
	if task.ParentTaskID != nil {
		task.Status = store.StatusCompleted
		if o.Metrics != nil {
			o.Metrics.IncTasksCompleted()
			o.Metrics.RecordTaskDuration(time.Since(task.CreatedAt))
			o.Metrics.Flush("subtask.completed", map[string]string{"task_id": task.ID})
		}
		return o.persistAndCheckpoint(ctx, task, "subtask complete")
	}

	title := task.IssueTitle
	body := fmt.Sprintf("Resolves #%d\n\n%s", task.IssueNumber, task.CommitMessage)
	if task.PRNumber == 0 {
		number, url, err := o.VCS.CreatePR(ctx, task.Repo, task.BranchName, o.BaseRef, title, body)
		if err != nil {
			return nil, err
		}
		task.PRNumber = number
		task.PRURL = url
		o.emit(task.ID, event.KindPRCreated, fmt.Sprintf("opened PR #%d", number))
	} else if err := o.VCS.UpdatePR(ctx, task.Repo, task.PRNumber, title, body); err != nil {
		return nil, err
	}

	task.Status = store.StatusWaitingHuman
	next, err := o.persistAndCheckpoint(ctx, task, "PR ready for human review")
	if err != nil {
		return nil, err
	}
	o.emit(task.ID, event.KindWaitingHuman, "waiting on human review")
	return next, nil
}

// handleAgentFailure classifies an agent invocation error: a storage
// failure bubbles straight up to Process's restore logic, two
// consecutive schema-invalid outputs is a fatal class that skips
// further retry (§4.9, §7), and everything else goes through the
// normal same-stage retry/escalation path.
func (o *Orchestrator) handleAgentFailure(ctx context.Context, task *store.Task, err error, retryStatus store.Status) (*store.Task, error) {
	if autoforgeErrors.AsCode(err) == autoforgeErrors.CodeStorageFatal {
		return nil, err
	}
	if autoforgeErrors.AsCode(err) == autoforgeErrors.CodeSchemaInvalid && o.isDoubleSchemaInvalid(ctx, task) {
		return o.fail(ctx, task, "SCHEMA_INVALID: "+err.Error())
	}
	return o.retry(ctx, task, err.Error(), retryStatus)
}

func (o *Orchestrator) isDoubleSchemaInvalid(ctx context.Context, task *store.Task) bool {
	sm, err := o.Store.GetSessionMemory(ctx, task.ID)
	if err != nil {
		return false
	}
	return consecutiveSchemaInvalid(sm) >= 2
}

func consecutiveSchemaInvalid(sm *store.SessionMemory) int {
	n := 0
	for i := len(sm.Progress) - 1; i >= 0; i-- {
		p := sm.Progress[i]
		if p.Kind != "agent_failed" {
			break
		}
		errType, _ := p.Payload["errorType"].(string)
		if errType != "schema-invalid" {
			break
		}
		n++
	}
	return n
}

// escalationLevel returns 0 for the normal model resolution chain, 1
// for escalation_1, 2 for escalation_2, based on how many full
// maxAttempts cycles the task has already used (§4.9).
func escalationLevel(attemptCount, maxAttempts int) int {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return attemptCount / maxAttempts
}

// retry bumps the task's attempt count and either loops it back into
// retryStatus (the same stage that just failed, now a model
// escalation level higher once it crosses a maxAttempts boundary) or
// suspends it for a human once escalation is exhausted.
func (o *Orchestrator) retry(ctx context.Context, task *store.Task, reason string, retryStatus store.Status) (*store.Task, error) {
	levelBefore := escalationLevel(task.AttemptCount, task.MaxAttempts)
	task.AttemptCount++
	levelAfter := escalationLevel(task.AttemptCount, task.MaxAttempts)
	if levelAfter > maxEscalationLevel {
		return o.waitingHuman(ctx, task, "MAX_ATTEMPTS: "+reason)
	}

	task.Status = retryStatus
	task.LastError = reason
	next, err := o.persistAndCheckpoint(ctx, task, "retry: "+reason)
	if err != nil {
		return nil, err
	}
	_ = o.Ledger.LogProgress(ctx, task.ID, "retry_triggered", string(retryStatus), task.AttemptCount, reason, nil)
	if o.Metrics != nil {
		o.Metrics.IncAgentRetries()
		if levelAfter > levelBefore {
			o.Metrics.IncEscalations()
		}
	}
	o.emit(task.ID, event.KindRetryTriggered, reason)
	return next, nil
}

func (o *Orchestrator) waitingHuman(ctx context.Context, task *store.Task, reason string) (*store.Task, error) {
	task.Status = store.StatusWaitingHuman
	task.LastError = reason
	next, err := o.persistAndCheckpoint(ctx, task, reason)
	if err != nil {
		return nil, err
	}
	o.emit(task.ID, event.KindWaitingHuman, reason)
	return next, nil
}

func (o *Orchestrator) fail(ctx context.Context, task *store.Task, reason string) (*store.Task, error) {
	task.Status = store.StatusFailed
	task.LastError = reason
	next, err := o.persistAndCheckpoint(ctx, task, reason)
	if err != nil {
		return nil, err
	}
	if o.Metrics != nil {
		o.Metrics.IncTasksFailed()
		o.Metrics.RecordTaskDuration(time.Since(task.CreatedAt))
		o.Metrics.Flush("task.failed", map[string]string{"task_id": task.ID})
	}
	o.emit(task.ID, event.KindFailed, reason)
	return next, nil
}

func (o *Orchestrator) persistAndCheckpoint(ctx context.Context, task *store.Task, reason string) (*store.Task, error) {
	task.UpdatedAt = time.Now()
	if err := o.Store.UpdateTask(ctx, task); err != nil {
		return nil, err
	}
	if _, err := o.Ledger.Checkpoint(ctx, task.ID, reason); err != nil {
		return nil, err
	}
	if o.Metrics != nil {
		o.Metrics.IncCheckpointsWritten()
	}
	o.emit(task.ID, event.KindCheckpointed, reason)
	return task, nil
}

func (o *Orchestrator) restoreFromCheckpoint(ctx context.Context, taskID string) error {
	cp, err := o.Store.LatestCheckpoint(ctx, taskID)
	if err != nil {
		return err
	}
	if err := o.Ledger.Restore(ctx, taskID, cp.ID); err != nil {
		return err
	}
	o.emit(taskID, event.KindRestored, "restored from checkpoint "+cp.ID)
	return nil
}

func (o *Orchestrator) emit(taskID string, kind event.Kind, message string) {
	if o.Bus == nil {
		return
	}
	o.Bus.Emit(event.New(taskID, kind, message))
}

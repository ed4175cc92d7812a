// Package agentrunner is the generic Agent Runner (§4.4): it resolves a
// model via the Model Router, invokes the LLM under the LLM retry
// policy, records a trace on the Session Memory ledger, and parses the
// completion into a typed agent output.
package agentrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/autoforge/autoforge/internal/agents"
	autoforgeErrors "github.com/autoforge/autoforge/internal/errors"
	"github.com/autoforge/autoforge/internal/event"
	"github.com/autoforge/autoforge/internal/llm"
	"github.com/autoforge/autoforge/internal/model"
	"github.com/autoforge/autoforge/internal/session"
	"github.com/autoforge/autoforge/internal/store"
	"github.com/autoforge/autoforge/internal/telemetry"
)

// Runner wires the Model Router, LLM completer and Session Memory
// ledger together behind the generic Run entry point. Metrics and
// Logger are optional observability sinks — a caller that wants agent
// invocation counts, latency histograms or trace-correlated log lines
// sets them directly on the returned Runner (nil is a valid no-op).
type Runner struct {
	Router    *model.Router
	Completer llm.Completer
	Ledger    *session.Ledger
	Bus       *event.Bus
	Metrics   *telemetry.Metrics
	Logger    *telemetry.Logger
}

// New builds a Runner from its collaborators. bus may be nil.
func New(router *model.Router, completer llm.Completer, ledger *session.Ledger, bus *event.Bus) *Runner {
	return &Runner{Router: router, Completer: completer, Ledger: ledger, Bus: bus}
}

// Prompt is the system/user prompt pair an agent invocation sends.
type Prompt struct {
	System string
	User   string
}

// Gate describes what the runner should report as the "gate" this
// invocation passed or failed, for trace observability (§4.4).
type Gate struct {
	Name string
}

// tokenCostPerThousand is a rough accounting constant for the cost field
// recorded on traces; the core does not price models, it only surfaces
// a proportional figure for audit trails.
const tokenCostPerThousand = 0.003

// Run invokes agent with a resolved model, retries per the LLM policy
// (already embedded in Completer when wrapped with llm.RetryingCompleter),
// and parses the response via parse. kind selects the fixed position the
// Model Router resolves; the task's complexity/effort are only consulted
// for agents.KindCoder (coder_{complexity}_{effort}).
func Run[O any](
	ctx context.Context,
	r *Runner,
	task *store.Task,
	kind agents.Kind,
	gate Gate,
	prompt Prompt,
	maxTokens int,
	temperature float64,
	parse func(text string) (O, error),
) (O, error) {
	var zero O

	modelID, err := resolveModel(r.Router, kind, task)
	if err != nil {
		return zero, err
	}
	return runResolved(ctx, r, task, kind, gate, prompt, maxTokens, temperature, modelID, parse)
}

// RunEscalated behaves like Run but forces the model to the router's
// escalation position for level (1 or 2) rather than the normal
// resolution chain — used once a stage's attemptCount reaches
// maxAttempts (§4.9 retry and escalation rules).
func RunEscalated[O any](
	ctx context.Context,
	r *Runner,
	task *store.Task,
	kind agents.Kind,
	gate Gate,
	prompt Prompt,
	maxTokens int,
	temperature float64,
	level int,
	parse func(text string) (O, error),
) (O, error) {
	var zero O

	modelID, err := r.Router.EscalationModel(level)
	if err != nil {
		return zero, autoforgeErrors.New(autoforgeErrors.CodeConfigInvalid, err.Error())
	}
	return runResolved(ctx, r, task, kind, gate, prompt, maxTokens, temperature, modelID, parse)
}

func runResolved[O any](
	ctx context.Context,
	r *Runner,
	task *store.Task,
	kind agents.Kind,
	gate Gate,
	prompt Prompt,
	maxTokens int,
	temperature float64,
	modelID string,
	parse func(text string) (O, error),
) (O, error) {
	var zero O

	start := time.Now()
	resp, err := r.Completer.Complete(ctx, llm.Request{
		Model:       modelID,
		System:      prompt.System,
		Prompt:      prompt.User,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	duration := time.Since(start)

	if err != nil {
		r.recordFailure(ctx, task, kind, gate, modelID, duration, "model-fatal", err.Error())
		return zero, autoforgeErrors.Wrap(autoforgeErrors.CodeModelFatal,
			fmt.Sprintf("%s agent invocation failed", kind), err)
	}

	out, parseErr := parse(resp.Content)
	if parseErr != nil {
		r.recordFailure(ctx, task, kind, gate, modelID, duration, "schema-invalid", parseErr.Error())
		return zero, autoforgeErrors.Wrap(autoforgeErrors.CodeSchemaInvalid,
			fmt.Sprintf("%s agent output failed validation", kind), parseErr)
	}

	r.recordSuccess(ctx, task, kind, gate, modelID, duration, resp)
	return out, nil
}

func resolveModel(router *model.Router, kind agents.Kind, task *store.Task) (string, error) {
	switch kind {
	case agents.KindCoder:
		return router.ModelFor("coder", task.EstimatedComplexity, task.EstimatedEffort)
	case agents.KindFixer:
		return router.ModelFor(model.StageFixer, "", "")
	case agents.KindPlanner:
		return router.ModelFor(model.StagePlanner, "", "")
	case agents.KindReviewer:
		return router.ModelFor(model.StageReviewer, "", "")
	case agents.KindBreakdown:
		return router.ModelFor(model.StagePlanner, "", "")
	default:
		return "", autoforgeErrors.New(autoforgeErrors.CodeConfigInvalid, "unknown agent kind: "+string(kind))
	}
}

func (r *Runner) recordSuccess(ctx context.Context, task *store.Task, kind agents.Kind, gate Gate, modelID string, duration time.Duration, resp *llm.Response) {
	tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	payload := map[string]interface{}{
		"agent":          string(kind),
		"model":          modelID,
		"inputTokens":    resp.Usage.InputTokens,
		"outputTokens":   resp.Usage.OutputTokens,
		"cost":           float64(tokens) / 1000 * tokenCostPerThousand,
		"gateName":       gate.Name,
		"gatePassed":     true,
		"durationMillis": duration.Milliseconds(),
	}
	if r.Ledger != nil {
		_ = r.Ledger.LogProgress(ctx, task.ID, "agent_invoked", string(task.Status), task.AttemptCount,
			fmt.Sprintf("%s agent succeeded via %s", kind, modelID), payload)
	}
	if r.Bus != nil {
		r.Bus.Emit(event.New(task.ID, event.KindCoded, fmt.Sprintf("%s agent completed", kind)).
			WithAgent(string(kind)).
			WithUsage(tokens, duration.Milliseconds()).
			WithPayload(payload))
	}
	if r.Metrics != nil {
		r.Metrics.IncAgentInvocations()
		r.Metrics.RecordAgentLatency(duration)
	}
	if r.Logger != nil {
		r.Logger.WithTrace(ctx).Debug(fmt.Sprintf("%s agent succeeded", kind), "model", modelID, "durationMs", duration.Milliseconds())
	}
}

func (r *Runner) recordFailure(ctx context.Context, task *store.Task, kind agents.Kind, gate Gate, modelID string, duration time.Duration, errorType, errorMessage string) {
	payload := map[string]interface{}{
		"agent":          string(kind),
		"model":          modelID,
		"gateName":       gate.Name,
		"gatePassed":     false,
		"errorType":      errorType,
		"errorMessage":   errorMessage,
		"durationMillis": duration.Milliseconds(),
	}
	if r.Ledger != nil {
		_ = r.Ledger.LogProgress(ctx, task.ID, "agent_failed", string(task.Status), task.AttemptCount,
			fmt.Sprintf("%s agent failed: %s", kind, errorType), payload)
	}
	if r.Bus != nil {
		r.Bus.Emit(event.New(task.ID, event.KindFailed, fmt.Sprintf("%s agent failed", kind)).
			WithAgent(string(kind)).
			WithLevel(event.LevelError).
			WithPayload(payload))
	}
	if r.Metrics != nil {
		r.Metrics.IncAgentInvocations()
		r.Metrics.RecordAgentLatency(duration)
	}
	if r.Logger != nil {
		r.Logger.WithTrace(ctx).Warn(fmt.Sprintf("%s agent failed", kind), "model", modelID, "errorType", errorType)
	}
}

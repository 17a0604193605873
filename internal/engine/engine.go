// Package engine executes analytical plans: validates them, dispatches each
// step to its agent in order, resolves cross-step references, and assembles
// the multi-step result. Failures never escape the engine; every outcome is
// captured into the structured result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/cubeline/cubeline/internal/agents"
	"github.com/cubeline/cubeline/internal/config"
	"github.com/cubeline/cubeline/internal/conversation"
	"github.com/cubeline/cubeline/pkg/models"
)

// Engine runs validated plans sequentially against the agent registry.
// A single Engine serves concurrent sessions; per-turn state lives entirely
// in the call.
type Engine struct {
	registry    *agents.Registry
	turns       *conversation.Store
	stepTimeout time.Duration
	tracer      trace.Tracer
}

// New creates an execution engine.
func New(registry *agents.Registry, turns *conversation.Store, cfg config.EngineConfig) *Engine {
	return &Engine{
		registry:    registry,
		turns:       turns,
		stepTimeout: cfg.StepTimeout,
		tracer:      otel.Tracer("cubeline/engine"),
	}
}

// ValidatePlan statically checks a plan before anything executes: it must be
// non-empty, every agent/operation pair must exist in the registry, the
// per-operation parameter constraints must hold, and no step may reference
// itself or a later step. Plans from the external planning service and from
// the fallback planner go through the same check; both are untrusted.
func (e *Engine) ValidatePlan(plan models.Plan) *models.Error {
	if len(plan.Steps) == 0 {
		return models.NewError(models.ErrInvalidPlan, -1, "plan has no steps")
	}
	for i, step := range plan.Steps {
		if err := e.registry.Validate(step.Agent, step.Operation); err != nil {
			return models.NewError(models.ErrInvalidPlan, i, "%v", err)
		}
		if err := checkParams(step); err != nil {
			return models.NewError(models.ErrInvalidPlan, i, "%v", err)
		}
		if err := checkRefs(i, map[string]any(step.Parameters)); err != nil {
			return models.NewError(models.ErrInvalidPlan, i, "%v", err)
		}
	}
	return nil
}

// checkParams enforces the statically checkable parameter constraints.
func checkParams(step models.Step) error {
	switch step.Operation {
	case "top_n":
		if v, ok := step.Parameters["n"]; ok {
			n, numeric := models.Float64(v)
			if !numeric || n <= 0 || n != float64(int(n)) {
				return fmt.Errorf("top_n parameter n must be a positive integer, got %v", v)
			}
		}
	case "drill_through":
		if v, ok := step.Parameters["limit"]; ok {
			if n, numeric := models.Float64(v); !numeric || n <= 0 {
				return fmt.Errorf("drill_through parameter limit must be a positive integer, got %v", v)
			}
		}
	}
	return nil
}

// Execute validates and runs a plan for one conversation turn. A failed step
// halts the remaining steps; completed steps are still returned, and the
// turn is appended to the session context either way.
func (e *Engine) Execute(ctx context.Context, sessionID, query string, plan models.Plan) *models.EngineResult {
	ctx, span := e.tracer.Start(ctx, "engine.execute",
		trace.WithAttributes(
			attribute.String("session.id", sessionID),
			attribute.Int("plan.steps", len(plan.Steps)),
		))
	defer span.End()

	result := &models.EngineResult{
		Intent:      plan.Intent,
		Tables:      make(map[int][]models.Row),
		Columns:     make(map[int][]string),
		Suggestions: plan.SuggestedFollowups,
	}

	if verr := e.ValidatePlan(plan); verr != nil {
		result.Status = models.StatusError
		result.Error = verr
		result.Narrative = "Plan rejected: " + verr.Reason
		log.Warn().Int("step", verr.StepIndex).Str("reason", verr.Reason).Msg("plan rejected")
		return result
	}

	outputs := make([]*models.AgentOutput, len(plan.Steps))
	var summaries []string
	completed := 0

	for i, step := range plan.Steps {
		// Cooperative cancellation between steps only.
		if err := ctx.Err(); err != nil {
			result.Error = models.NewError(stepErrKind(err), i, "turn cancelled before step %d: %v", i, err)
			break
		}

		out, stepErr := e.runStep(ctx, i, step, outputs)
		outputs[i] = out
		result.Steps = append(result.Steps, recordOf(i, step, out))

		if stepErr != nil {
			result.Error = stepErr
			log.Warn().
				Int("step", i).
				Str("agent", step.Agent).
				Str("operation", step.Operation).
				Str("kind", string(stepErr.Kind)).
				Str("reason", stepErr.Reason).
				Msg("step failed, halting plan")
			break
		}

		result.Tables[i] = out.Data
		result.Columns[i] = out.Columns
		result.SQL = append(result.SQL, out.SQL...)
		if out.Summary != "" {
			summaries = append(summaries, out.Summary)
		}
		completed++
	}

	result.Narrative = strings.Join(summaries, "\n\n")
	switch {
	case result.Error == nil:
		result.Status = models.StatusSuccess
	case completed > 0:
		result.Status = models.StatusPartial
		result.Narrative += fmt.Sprintf("\n\nStep %d did not complete: %s. Results above cover the %d step(s) that finished.",
			result.Error.StepIndex, result.Error.Reason, completed)
	default:
		result.Status = models.StatusError
		result.Narrative = fmt.Sprintf("No step completed. Step %d failed: %s",
			result.Error.StepIndex, result.Error.Reason)
	}
	if result.Narrative == "" {
		result.Narrative = "No results generated."
	}

	e.turns.Append(sessionID, models.ConversationTurn{
		ID:        uuid.NewString(),
		Query:     query,
		Plan:      plan,
		Summary:   truncate(result.Narrative, 500),
		Status:    result.Status,
		CreatedAt: time.Now().UTC(),
	})

	log.Info().
		Str("session", sessionID).
		Str("status", string(result.Status)).
		Int("steps", completed).
		Msg("✅ turn executed")
	return result
}

// runStep resolves references, bounds the agent call with the step deadline,
// and normalizes every failure into a step-scoped engine error.
func (e *Engine) runStep(ctx context.Context, idx int, step models.Step, outputs []*models.AgentOutput) (*models.AgentOutput, *models.Error) {
	ctx, span := e.tracer.Start(ctx, "engine.step",
		trace.WithAttributes(
			attribute.Int("step.index", idx),
			attribute.String("step.agent", step.Agent),
			attribute.String("step.operation", step.Operation),
		))
	defer span.End()

	agent, _ := e.registry.Get(step.Agent)

	resolved, err := resolveParams(step.Parameters, outputs)
	if err != nil {
		return failedOutput(step, err), models.NewError(models.ErrAgentExecution, idx, "resolve references: %v", err)
	}

	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()

	started := time.Now()
	out, err := agent.Run(stepCtx, step.Operation, resolved)
	elapsed := time.Since(started)

	if err != nil {
		kind := models.ErrAgentExecution
		var engErr *models.Error
		if errors.As(err, &engErr) {
			kind = engErr.Kind
		}
		if stepCtx.Err() != nil {
			kind = stepErrKind(stepCtx.Err())
		}
		fo := failedOutput(step, err)
		fo.Metadata["duration_ms"] = elapsed.Milliseconds()
		return fo, models.NewError(kind, idx, "%s.%s: %v", step.Agent, step.Operation, err)
	}

	out.Metadata["duration_ms"] = elapsed.Milliseconds()
	return out, nil
}

// stepErrKind maps a context error onto the taxonomy.
func stepErrKind(err error) models.ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return models.ErrTimeout
	}
	return models.ErrAgentExecution
}

// Invoke runs a single agent operation directly, bypassing planning. The
// same validation applies as for a one-step plan; references are not
// allowed since there are no prior outputs.
func (e *Engine) Invoke(ctx context.Context, agentName, operation string, params models.Params) (*models.AgentOutput, *models.Error) {
	step := models.Step{Agent: agentName, Operation: operation, Parameters: params}
	if err := e.registry.Validate(agentName, operation); err != nil {
		return nil, models.NewError(models.ErrInvalidPlan, 0, "%v", err)
	}
	if err := checkParams(step); err != nil {
		return nil, models.NewError(models.ErrInvalidPlan, 0, "%v", err)
	}
	if err := checkRefs(0, map[string]any(params)); err != nil {
		return nil, models.NewError(models.ErrInvalidPlan, 0, "%v", err)
	}
	out, stepErr := e.runStep(ctx, 0, step, nil)
	if stepErr != nil {
		return out, stepErr
	}
	return out, nil
}

// Context returns the stored turns for a session, oldest first.
func (e *Engine) Context(sessionID string) []models.ConversationTurn {
	return e.turns.Turns(sessionID)
}

// ResetContext clears a session's conversation window.
func (e *Engine) ResetContext(sessionID string) {
	e.turns.Reset(sessionID)
}

func recordOf(idx int, step models.Step, out *models.AgentOutput) models.StepRecord {
	rec := models.StepRecord{
		Index:     idx,
		Agent:     step.Agent,
		Operation: step.Operation,
		Status:    models.OutputError,
	}
	if out != nil {
		rec.Status = out.Status
		rec.RowCount = out.RowCount()
		if ms, ok := models.Float64(out.Metadata["duration_ms"]); ok {
			rec.DurationMs = int64(ms)
		}
	}
	return rec
}

func failedOutput(step models.Step, err error) *models.AgentOutput {
	return &models.AgentOutput{
		Agent:     step.Agent,
		Operation: step.Operation,
		Status:    models.OutputError,
		Error:     err.Error(),
		Metadata:  map[string]any{},
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

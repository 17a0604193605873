// Package models defines the shared data types of the Cubeline analytical
// engine: execution plans, agent outputs, engine results, conversation turns,
// and the error taxonomy.
package models

import (
	"fmt"
	"time"
)

// ── Plans ────────────────────────────────────────────────────

// Params is the parameter mapping attached to a plan step. Values are plain
// JSON types; string values may be reference tokens ($step[i].field) that the
// engine resolves before dispatch.
type Params map[string]any

// Step is one typed analytical operation inside a plan.
type Step struct {
	Agent             string `json:"agent"`
	Operation         string `json:"operation"`
	Parameters        Params `json:"parameters,omitempty"`
	DependsOnPrevious bool   `json:"depends_on_previous,omitempty"`
}

// Plan is an ordered sequence of steps produced by the planning service or
// the deterministic fallback planner. Plans from either source are untrusted
// until the engine validates them.
type Plan struct {
	Intent             string   `json:"intent,omitempty"`
	Steps              []Step   `json:"steps"`
	SuggestedFollowups []string `json:"suggested_followups,omitempty"`
}

// ── Agent contract ───────────────────────────────────────────

type OutputStatus string

const (
	OutputSuccess OutputStatus = "success"
	OutputError   OutputStatus = "error"
)

// Row is a single result row keyed by column name.
type Row map[string]any

// AgentOutput is the structured result of one agent invocation. It is created
// fresh per step and never mutated after the agent returns it.
type AgentOutput struct {
	Agent     string         `json:"agent"`
	Operation string         `json:"operation"`
	Status    OutputStatus   `json:"status"`
	Data      []Row          `json:"data"`
	Columns   []string       `json:"columns,omitempty"`
	Summary   string         `json:"summary"`
	SQL       []string       `json:"sql,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// RowCount returns the number of data rows.
func (o *AgentOutput) RowCount() int {
	if o == nil {
		return 0
	}
	return len(o.Data)
}

// ── Engine results ───────────────────────────────────────────

type ResultStatus string

const (
	StatusSuccess ResultStatus = "success"
	StatusPartial ResultStatus = "partial"
	StatusError   ResultStatus = "error"
)

// StepRecord summarizes one executed (or failed) step for the caller.
type StepRecord struct {
	Index      int          `json:"index"`
	Agent      string       `json:"agent"`
	Operation  string       `json:"operation"`
	Status     OutputStatus `json:"status"`
	RowCount   int          `json:"row_count"`
	DurationMs int64        `json:"duration_ms"`
}

// EngineResult is the caller-facing composite answer for one turn.
// Tables and Columns are keyed by step index; SQL is in execution order.
type EngineResult struct {
	Intent      string           `json:"intent,omitempty"`
	Status      ResultStatus     `json:"status"`
	Narrative   string           `json:"narrative"`
	Steps       []StepRecord     `json:"steps"`
	Tables      map[int][]Row    `json:"tables"`
	Columns     map[int][]string `json:"columns,omitempty"`
	SQL         []string         `json:"sql"`
	Suggestions []string         `json:"suggestions,omitempty"`
	Error       *Error           `json:"error,omitempty"`
}

// ── Conversation context ─────────────────────────────────────

// ConversationTurn records one completed (or partially completed) engine turn.
type ConversationTurn struct {
	ID        string       `json:"id"`
	Query     string       `json:"query"`
	Plan      Plan         `json:"plan"`
	Summary   string       `json:"summary"`
	Status    ResultStatus `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
}

// ── Chart specifications ─────────────────────────────────────

type ChartType string

const (
	ChartBar        ChartType = "bar"
	ChartLine       ChartType = "line"
	ChartPie        ChartType = "pie"
	ChartGroupedBar ChartType = "grouped_bar"
	ChartHeatmap    ChartType = "heatmap"
)

// ChartSeries is one named series of numeric values.
type ChartSeries struct {
	Name   string    `json:"name"`
	Values []float64 `json:"values"`
}

// ChartSpec is a declarative chart description: type, axis bindings, and the
// data reference. Rendering is the frontend's job.
type ChartSpec struct {
	Type   ChartType     `json:"type"`
	Title  string        `json:"title,omitempty"`
	XAxis  string        `json:"x_axis"`
	YAxis  string        `json:"y_axis"`
	Labels []string      `json:"labels"`
	Series []ChartSeries `json:"series"`
}

// ── Error taxonomy ───────────────────────────────────────────

type ErrorKind string

const (
	// ErrInvalidPlan covers unknown agent/operation pairs, malformed
	// parameters, and forward references. Rejected before any step runs.
	ErrInvalidPlan ErrorKind = "invalid_plan"
	// ErrAgentExecution covers query failures and empty-result edge cases.
	// Halts remaining steps; completed steps are still surfaced.
	ErrAgentExecution ErrorKind = "agent_execution"
	// ErrTimeout is a step deadline expiry; treated like ErrAgentExecution.
	ErrTimeout ErrorKind = "timeout"
	// ErrInvalidHierarchyLevel is a drill/roll target outside the hierarchy
	// order implied by the current filters.
	ErrInvalidHierarchyLevel ErrorKind = "invalid_hierarchy_level"
	// ErrPlannerUnavailable is internal only: the external planning service
	// failed and the deterministic fallback was used instead.
	ErrPlannerUnavailable ErrorKind = "planner_unavailable"
)

// Error is a machine-readable engine failure. StepIndex is -1 when the error
// is not scoped to a single step.
type Error struct {
	Kind      ErrorKind `json:"kind"`
	StepIndex int       `json:"step_index"`
	Reason    string    `json:"reason"`
}

func (e *Error) Error() string {
	if e.StepIndex >= 0 {
		return fmt.Sprintf("%s (step %d): %s", e.Kind, e.StepIndex, e.Reason)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
}

// NewError builds a step-scoped engine error.
func NewError(kind ErrorKind, stepIndex int, format string, args ...any) *Error {
	return &Error{Kind: kind, StepIndex: stepIndex, Reason: fmt.Sprintf(format, args...)}
}

// ── Params helpers ───────────────────────────────────────────

// String returns the string value for key, or fallback when absent or not a
// string.
func (p Params) String(key, fallback string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// Int returns the integer value for key. JSON numbers arrive as float64.
func (p Params) Int(key string, fallback int) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return fallback
}

// Bool returns the boolean value for key, or fallback when absent.
func (p Params) Bool(key string, fallback bool) bool {
	if v, ok := p[key].(bool); ok {
		return v
	}
	return fallback
}

// Map returns the nested mapping for key, or an empty map when absent.
func (p Params) Map(key string) map[string]any {
	switch v := p[key].(type) {
	case map[string]any:
		return v
	case Params:
		return v
	}
	return map[string]any{}
}

// Rows returns the value for key as a row slice, accepting both the typed
// form and the generic JSON form.
func (p Params) Rows(key string) []Row {
	switch v := p[key].(type) {
	case []Row:
		return v
	case []any:
		rows := make([]Row, 0, len(v))
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				rows = append(rows, Row(m))
			}
		}
		return rows
	}
	return nil
}

// Strings returns the value for key as a string slice.
func (p Params) Strings(key string) []string {
	switch v := p[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v != "" {
			return []string{v}
		}
	}
	return nil
}

// Float64 coerces a numeric value to float64. Returns false for non-numeric
// types (including the nil "undefined" marker).
func Float64(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

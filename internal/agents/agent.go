// Package agents implements the six analytical agents of the Cubeline
// engine. Each agent is a stateless unit turning a typed operation plus
// fully-resolved parameters into warehouse queries and a structured output.
//
// Agents never resolve cross-step references and never mutate warehouse
// state; the execution engine owns both concerns.
package agents

import (
	"context"
	"fmt"
	"sort"

	"github.com/cubeline/cubeline/internal/config"
	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// Agent names. Plans address agents by these strings.
const (
	NameDimensionNavigator = "DimensionNavigator"
	NameCubeOperations     = "CubeOperations"
	NameKPICalculator      = "KPICalculator"
	NameReportGenerator    = "ReportGenerator"
	NameVisualization      = "Visualization"
	NameAnomalyDetection   = "AnomalyDetection"
)

// Agent is the shared contract of all analytical agents. Run receives an
// operation from the agent's declared set and parameters with all step
// references already resolved.
type Agent interface {
	Name() string
	Operations() []string
	Run(ctx context.Context, operation string, params models.Params) (*models.AgentOutput, error)
}

// Registry is the closed dispatch table of agents keyed by name. It is built
// once at startup; plan validation checks agent/operation pairs against it
// before any step runs.
type Registry struct {
	agents map[string]Agent
}

// NewRegistry builds the standard six-agent registry over a warehouse.
func NewRegistry(q warehouse.Querier, meta *warehouse.Metadata, cfg config.EngineConfig) *Registry {
	r := &Registry{agents: make(map[string]Agent)}
	for _, a := range []Agent{
		NewDimensionNavigator(q, meta),
		NewCubeOperations(q, meta, cfg.DrillThroughLimit),
		NewKPICalculator(q, meta),
		NewReportGenerator(q, meta),
		NewVisualization(),
		NewAnomalyDetection(q, meta, cfg),
	} {
		r.agents[a.Name()] = a
	}
	return r
}

// Get returns the named agent.
func (r *Registry) Get(name string) (Agent, bool) {
	a, ok := r.agents[name]
	return a, ok
}

// Validate checks that the agent exists and supports the operation.
func (r *Registry) Validate(agent, operation string) error {
	a, ok := r.agents[agent]
	if !ok {
		return fmt.Errorf("unknown agent %q (known: %v)", agent, r.Names())
	}
	for _, op := range a.Operations() {
		if op == operation {
			return nil
		}
	}
	return fmt.Errorf("agent %s does not support operation %q (supported: %v)",
		agent, operation, a.Operations())
}

// Names returns the registered agent names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.agents))
	for name := range r.agents {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// output is the common constructor agents use for successful results.
func output(agent, operation string, data []models.Row, cols []string, summary string, sql ...string) *models.AgentOutput {
	return &models.AgentOutput{
		Agent:     agent,
		Operation: operation,
		Status:    models.OutputSuccess,
		Data:      data,
		Columns:   cols,
		Summary:   summary,
		SQL:       sql,
		Metadata:  map[string]any{},
	}
}

package warehouse

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed hierarchies.yaml
var hierarchiesYAML []byte

// Hierarchy is a fixed level ordering within one dimension, coarsest first.
type Hierarchy struct {
	Levels  []string `yaml:"levels"`
	Labels  []string `yaml:"labels"`
	Columns []string `yaml:"columns"`
}

// LevelIndex returns the position of level within the hierarchy, or -1.
func (h Hierarchy) LevelIndex(level string) int {
	return slices.Index(h.Levels, level)
}

// Metadata is the static star-schema description consulted by the agents and
// the fallback planner: hierarchies, column bindings, known dimension values
// and measures.
type Metadata struct {
	Hierarchies map[string]Hierarchy `yaml:"hierarchies"`
	Columns     map[string]string    `yaml:"columns"`
	Measures    []string             `yaml:"measures"`
	SumMeasures []string             `yaml:"sum_measures"`
	Values      map[string][]string  `yaml:"values"`
}

// LoadMetadata parses the embedded schema metadata.
func LoadMetadata() (*Metadata, error) {
	var m Metadata
	if err := yaml.Unmarshal(hierarchiesYAML, &m); err != nil {
		return nil, fmt.Errorf("parse hierarchy metadata: %w", err)
	}
	return &m, nil
}

// Column returns the SQL column bound to a dimension attribute.
func (m *Metadata) Column(attr string) (string, bool) {
	col, ok := m.Columns[attr]
	return col, ok
}

// Hierarchy returns the named hierarchy.
func (m *Metadata) Hierarchy(name string) (Hierarchy, bool) {
	h, ok := m.Hierarchies[name]
	return h, ok
}

// IsMeasure reports whether name is a known fact measure.
func (m *Metadata) IsMeasure(name string) bool {
	return slices.Contains(m.Measures, name)
}

// Aggregate returns the SQL aggregate function for a measure: SUM for
// additive measures, AVG for rates like profit_margin.
func (m *Metadata) Aggregate(measure string) string {
	if slices.Contains(m.SumMeasures, measure) {
		return "SUM"
	}
	return "AVG"
}

// ImpliedLevel returns the index of the deepest level of h constrained by
// the filter keys, or -1 when no filter touches the hierarchy. Drill-down
// targets must be strictly deeper than this, roll-up targets at most this
// (or strictly coarser than the finest level when unconstrained).
func (m *Metadata) ImpliedLevel(h Hierarchy, filters map[string]any) int {
	implied := -1
	for key := range filters {
		if idx := h.LevelIndex(key); idx > implied {
			implied = idx
		}
	}
	return implied
}

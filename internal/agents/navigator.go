package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// DimensionNavigator walks the fixed hierarchies of the star schema:
// time (year, quarter, month), geography (region, country), and
// product (category, subcategory).
type DimensionNavigator struct {
	q    warehouse.Querier
	meta *warehouse.Metadata
}

func NewDimensionNavigator(q warehouse.Querier, meta *warehouse.Metadata) *DimensionNavigator {
	return &DimensionNavigator{q: q, meta: meta}
}

func (a *DimensionNavigator) Name() string { return NameDimensionNavigator }

func (a *DimensionNavigator) Operations() []string {
	return []string{"drill_down", "roll_up", "group"}
}

func (a *DimensionNavigator) Run(ctx context.Context, operation string, params models.Params) (*models.AgentOutput, error) {
	switch operation {
	case "drill_down":
		return a.navigate(ctx, params, true)
	case "roll_up":
		return a.navigate(ctx, params, false)
	case "group":
		return a.group(ctx, params)
	default:
		return nil, models.NewError(models.ErrInvalidPlan, -1, "unknown %s operation %q", a.Name(), operation)
	}
}

// navigate runs both drill_down and roll_up; only the direction of the
// hierarchy-order check differs. The target level determines the grouping
// columns: every level from the root down to the target.
func (a *DimensionNavigator) navigate(ctx context.Context, params models.Params, down bool) (*models.AgentOutput, error) {
	op := "roll_up"
	if down {
		op = "drill_down"
	}

	name := params.String("hierarchy", "time")
	h, ok := a.meta.Hierarchy(name)
	if !ok {
		return nil, models.NewError(models.ErrInvalidHierarchyLevel, -1, "unknown hierarchy %q", name)
	}

	fallbackLevel := h.Levels[0]
	if down {
		fallbackLevel = h.Levels[len(h.Levels)-1]
	}
	toLevel := params.String("to_level", fallbackLevel)
	toIdx := h.LevelIndex(toLevel)
	if toIdx < 0 {
		return nil, models.NewError(models.ErrInvalidHierarchyLevel, -1,
			"level %q is not in the %s hierarchy %v", toLevel, name, h.Levels)
	}

	filters := params.Map("filters")
	implied := a.meta.ImpliedLevel(h, filters)
	if down {
		if toIdx <= implied {
			return nil, models.NewError(models.ErrInvalidHierarchyLevel, -1,
				"cannot drill down to %q: filters already fix the %s hierarchy at %q",
				toLevel, name, h.Levels[implied])
		}
	} else {
		if implied >= 0 && toIdx > implied {
			return nil, models.NewError(models.ErrInvalidHierarchyLevel, -1,
				"cannot roll up to %q: it is deeper than the %s level fixed by filters (%q)",
				toLevel, name, h.Levels[implied])
		}
		if implied < 0 && toIdx >= len(h.Levels)-1 && len(h.Levels) > 1 {
			return nil, models.NewError(models.ErrInvalidHierarchyLevel, -1,
				"cannot roll up to %q: it is the finest level of the %s hierarchy", toLevel, name)
		}
	}

	groupCols := h.Columns[:toIdx+1]
	where, args := buildWhere(a.meta, filters)
	sql := groupedQuery(groupCols, where, "total_revenue DESC")

	rows, cols, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "%s query: %v", op, err)
	}

	label := strings.Join(h.Labels[:toIdx+1], " → ")
	var summary string
	if down {
		summary = fmt.Sprintf("Drill-down on %s hierarchy to '%s' level (%s). %d rows returned.",
			name, toLevel, label, len(rows))
		if len(rows) > 0 {
			top := rows[0]
			levelCol := columnAlias(h.Columns[toIdx])
			summary += fmt.Sprintf(" Top performer: %s with %s revenue.",
				rowString(top, levelCol), fmtCurrency(rowFloat(top, "total_revenue")))
		}
	} else {
		summary = fmt.Sprintf("Roll-up on %s to '%s' level (%s). %d rows. Total revenue: %s",
			name, toLevel, label, len(rows), fmtCurrency(sumColumn(rows, "total_revenue")))
	}

	out := output(a.Name(), op, rows, cols, summary, sql)
	out.Metadata["hierarchy"] = name
	out.Metadata["level"] = toLevel
	return out, nil
}

// group is a single-level grouped aggregate over arbitrary dimensions,
// ordered by the aggregate descending with the dimension values as the
// deterministic tie-break.
func (a *DimensionNavigator) group(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	dims := params.Strings("dimensions")
	if len(dims) == 0 {
		if d := params.String("dimension", ""); d != "" {
			dims = []string{d}
		} else {
			dims = []string{"region"}
		}
	}

	groupCols := make([]string, 0, len(dims))
	for _, d := range dims {
		col, ok := a.meta.Column(d)
		if !ok {
			return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", d)
		}
		groupCols = append(groupCols, col)
	}

	measure := params.String("measure", "revenue")
	if !a.meta.IsMeasure(measure) {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown measure %q", measure)
	}
	orderMetric := "total_revenue"
	switch measure {
	case "profit":
		orderMetric = "total_profit"
	case "quantity":
		orderMetric = "total_qty"
	case "profit_margin":
		orderMetric = "avg_margin"
	}

	filters := params.Map("filters")
	where, args := buildWhere(a.meta, filters)
	orderBy := orderMetric + " DESC, " + strings.Join(groupCols, " ASC, ") + " ASC"
	sql := groupedQuery(groupCols, where, orderBy)

	rows, cols, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "group query: %v", err)
	}

	summary := fmt.Sprintf("Grouped by [%s]. %d groups. Total revenue: %s",
		strings.Join(dims, ", "), len(rows), fmtCurrency(sumColumn(rows, "total_revenue")))
	out := output(a.Name(), "group", rows, cols, summary, sql)
	out.Metadata["dimensions"] = dims
	out.Metadata["measure"] = measure
	return out, nil
}

// columnAlias strips the table qualifier: "g.region" reads back as "region".
func columnAlias(col string) string {
	if _, after, found := strings.Cut(col, "."); found {
		return after
	}
	return col
}

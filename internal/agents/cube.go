package agents

import (
	"context"
	"fmt"

	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// CubeOperations implements the classic cube algebra: slice (one dimension
// fixed), dice (a multi-dimension sub-cube), pivot (row × column reshaping),
// and drill_through (raw fact rows behind an aggregate).
type CubeOperations struct {
	q                 warehouse.Querier
	meta              *warehouse.Metadata
	drillThroughLimit int
}

func NewCubeOperations(q warehouse.Querier, meta *warehouse.Metadata, drillThroughLimit int) *CubeOperations {
	return &CubeOperations{q: q, meta: meta, drillThroughLimit: drillThroughLimit}
}

func (a *CubeOperations) Name() string { return NameCubeOperations }

func (a *CubeOperations) Operations() []string {
	return []string{"slice", "dice", "pivot", "drill_through"}
}

func (a *CubeOperations) Run(ctx context.Context, operation string, params models.Params) (*models.AgentOutput, error) {
	switch operation {
	case "slice":
		return a.subCube(ctx, params, "slice", params.Map("filter"))
	case "dice":
		return a.subCube(ctx, params, "dice", params.Map("filters"))
	case "pivot":
		return a.pivot(ctx, params)
	case "drill_through":
		return a.drillThrough(ctx, params)
	default:
		return nil, models.NewError(models.ErrInvalidPlan, -1, "unknown %s operation %q", a.Name(), operation)
	}
}

// subCube serves both slice and dice. Slice is dice with a single-dimension
// filter; the aggregation is identical, so the totals of the two agree by
// construction. Without a group_by the result is one totals row.
func (a *CubeOperations) subCube(ctx context.Context, params models.Params, op string, filters map[string]any) (*models.AgentOutput, error) {
	groupDims := params.Strings("group_by")

	where, args := buildWhere(a.meta, filters)

	var sql string
	if len(groupDims) == 0 {
		sql = fmt.Sprintf("SELECT %s\n%s", measureSelect, baseFrom)
		if where != "" {
			sql += "\n" + where
		}
	} else {
		groupCols := make([]string, 0, len(groupDims))
		for _, d := range groupDims {
			col, ok := a.meta.Column(d)
			if !ok {
				return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", d)
			}
			groupCols = append(groupCols, col)
		}
		sql = groupedQuery(groupCols, where, "total_revenue DESC")
	}

	rows, cols, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "%s query: %v", op, err)
	}

	var summary string
	if op == "slice" {
		summary = fmt.Sprintf("Slice on [%s], grouped by %v. %d results. Revenue total: %s",
			filterDesc(filters), groupDims, len(rows), fmtCurrency(sumColumn(rows, "total_revenue")))
	} else {
		summary = fmt.Sprintf("Dice with filters [%s], grouped by %v. %d results.",
			filterDesc(filters), groupDims, len(rows))
		if len(rows) > 0 && len(cols) > 0 {
			top := rows[0]
			summary += fmt.Sprintf(" Leader: %s (%s)",
				rowString(top, cols[0]), fmtCurrency(rowFloat(top, "total_revenue")))
		}
	}

	out := output(a.Name(), op, rows, cols, summary, sql)
	out.Metadata["filters"] = filters
	out.Metadata["group_by"] = groupDims
	return out, nil
}

// pivot reshapes a grouped aggregate so the column dimension's values become
// column headers. The grid is dense: a (row, col) pair with no fact rows
// holds a real 0, never a missing cell.
func (a *CubeOperations) pivot(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	rowDim := params.String("row_dim", "region")
	colDim := params.String("col_dim", "year")
	measure := params.String("measure", "revenue")
	filters := params.Map("filters")

	rowCol, ok := a.meta.Column(rowDim)
	if !ok {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown row dimension %q", rowDim)
	}
	colCol, ok := a.meta.Column(colDim)
	if !ok {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown column dimension %q", colDim)
	}
	if !a.meta.IsMeasure(measure) {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown measure %q", measure)
	}

	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT %s AS row_label,
%s AS col_label,
ROUND(%s(f.%s), 2) AS metric
%s`, rowCol, colCol, a.meta.Aggregate(measure), measure, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += fmt.Sprintf("\nGROUP BY %s, %s\nORDER BY %s, %s", rowCol, colCol, rowCol, colCol)

	raw, _, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "pivot query: %v", err)
	}

	rows, cols := densify(raw, rowDim)

	summary := fmt.Sprintf("Pivot: %s (rows) x %s (columns) measuring %s. %d row-groups.",
		rowDim, colDim, measure, len(rows))
	out := output(a.Name(), "pivot", rows, cols, summary, sql)
	out.Metadata["row_dim"] = rowDim
	out.Metadata["col_dim"] = colDim
	out.Metadata["measure"] = measure
	return out, nil
}

// densify turns (row_label, col_label, metric) tuples into a rectangular
// grid keyed by rowDim, filling absent cells with 0.
func densify(raw []models.Row, rowDim string) ([]models.Row, []string) {
	var rowOrder, colOrder []string
	seenRow := map[string]bool{}
	seenCol := map[string]bool{}
	cells := map[string]map[string]float64{}

	for _, r := range raw {
		rl := rowString(r, "row_label")
		cl := rowString(r, "col_label")
		if !seenRow[rl] {
			seenRow[rl] = true
			rowOrder = append(rowOrder, rl)
			cells[rl] = map[string]float64{}
		}
		if !seenCol[cl] {
			seenCol[cl] = true
			colOrder = append(colOrder, cl)
		}
		cells[rl][cl] += rowFloat(r, "metric")
	}

	cols := append([]string{rowDim}, colOrder...)
	rows := make([]models.Row, 0, len(rowOrder))
	for _, rl := range rowOrder {
		row := models.Row{rowDim: rl}
		for _, cl := range colOrder {
			row[cl] = cells[rl][cl] // zero value fills empty cells
		}
		rows = append(rows, row)
	}
	return rows, cols
}

// drillThrough returns the raw transactions behind an aggregate, newest
// first, capped so a broad filter cannot flood the caller.
func (a *CubeOperations) drillThrough(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	filters := params.Map("filters")
	limit := params.Int("limit", a.drillThroughLimit)
	if limit <= 0 || limit > a.drillThroughLimit {
		limit = a.drillThroughLimit
	}

	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT f.order_id, d.full_date AS order_date,
g.region, g.country,
p.category, p.subcategory,
c.customer_segment,
f.quantity, f.unit_price,
ROUND(f.revenue, 2) AS revenue,
ROUND(f.profit, 2) AS profit,
ROUND(f.profit_margin, 2) AS profit_margin
%s`, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += "\nORDER BY d.full_date DESC, f.order_id DESC\nLIMIT ?"
	args = append(args, limit)

	rows, cols, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "drill_through query: %v", err)
	}

	summary := fmt.Sprintf("Drill-through on [%s]. Showing %d transactions.", filterDesc(filters), len(rows))
	out := output(a.Name(), "drill_through", rows, cols, summary, sql)
	out.Metadata["filters"] = filters
	out.Metadata["limit"] = limit
	return out, nil
}

package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// KPICalculator computes period-over-period business KPIs. Growth and delta
// percentages with a zero denominator are reported as nil, the undefined
// marker; they are never an error, an infinity, or a silent zero.
type KPICalculator struct {
	q    warehouse.Querier
	meta *warehouse.Metadata
}

func NewKPICalculator(q warehouse.Querier, meta *warehouse.Metadata) *KPICalculator {
	return &KPICalculator{q: q, meta: meta}
}

func (a *KPICalculator) Name() string { return NameKPICalculator }

func (a *KPICalculator) Operations() []string {
	return []string{"yoy_growth", "mom_change", "compare_periods", "top_n", "profit_margins", "summary"}
}

func (a *KPICalculator) Run(ctx context.Context, operation string, params models.Params) (*models.AgentOutput, error) {
	switch operation {
	case "yoy_growth":
		return a.yoyGrowth(ctx, params)
	case "mom_change":
		return a.momChange(ctx, params)
	case "compare_periods":
		return a.comparePeriods(ctx, params)
	case "top_n":
		return a.topN(ctx, params)
	case "profit_margins":
		return a.profitMargins(ctx, params)
	case "summary":
		return a.summary(ctx)
	default:
		return nil, models.NewError(models.ErrInvalidPlan, -1, "unknown %s operation %q", a.Name(), operation)
	}
}

// growthPct returns (current-prev)/prev*100 rounded, or nil when the prior
// value is zero or absent.
func growthPct(current, prev float64, hasPrev bool) any {
	if !hasPrev || prev == 0 {
		return nil
	}
	return round2((current - prev) / prev * 100)
}

func (a *KPICalculator) yoyGrowth(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	dimension := params.String("dimension", params.String("group_by", ""))
	measure := params.String("measure", "revenue")
	if !a.meta.IsMeasure(measure) {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown measure %q", measure)
	}
	filters := params.Map("filters")

	var dimCol string
	if dimension != "" {
		col, ok := a.meta.Column(dimension)
		if !ok {
			return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", dimension)
		}
		dimCol = col
	}

	where, args := buildWhere(a.meta, filters)
	var sql string
	if dimCol != "" {
		sql = fmt.Sprintf(`SELECT %s AS dim_label,
d.year,
ROUND(%s(f.%s), 2) AS total
%s`, dimCol, a.meta.Aggregate(measure), measure, baseFrom)
	} else {
		sql = fmt.Sprintf(`SELECT d.year,
ROUND(%s(f.%s), 2) AS total
%s`, a.meta.Aggregate(measure), measure, baseFrom)
	}
	if where != "" {
		sql += "\n" + where
	}
	if dimCol != "" {
		sql += fmt.Sprintf("\nGROUP BY %s, d.year\nORDER BY %s, d.year", dimCol, dimCol)
	} else {
		sql += "\nGROUP BY d.year\nORDER BY d.year"
	}

	raw, _, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "yoy_growth query: %v", err)
	}
	if len(raw) == 0 {
		return output(a.Name(), "yoy_growth", nil, nil, "No data returned.", sql), nil
	}

	totalCol := "total_" + measure
	var rows []models.Row
	var cols []string
	if dimCol != "" {
		cols = []string{"dimension", "year", totalCol, "yoy_growth_pct"}
		var prev float64
		var prevLabel string
		hasPrev := false
		for _, r := range raw {
			label := rowString(r, "dim_label")
			if label != prevLabel {
				hasPrev = false
			}
			cur := rowFloat(r, "total")
			rows = append(rows, models.Row{
				"dimension":      label,
				"year":           r["year"],
				totalCol:         cur,
				"yoy_growth_pct": growthPct(cur, prev, hasPrev),
			})
			prev, prevLabel, hasPrev = cur, label, true
		}
	} else {
		cols = []string{"year", totalCol, "yoy_growth_pct"}
		var prev float64
		hasPrev := false
		for _, r := range raw {
			cur := rowFloat(r, "total")
			rows = append(rows, models.Row{
				"year":           r["year"],
				totalCol:         cur,
				"yoy_growth_pct": growthPct(cur, prev, hasPrev),
			})
			prev, hasPrev = cur, true
		}
	}

	summary := "Year-over-year growth"
	if dimension != "" {
		summary += " by " + dimension
	}
	if last := lastDefined(rows, "yoy_growth_pct"); last != nil {
		summary += fmt.Sprintf(". Most recent YoY: %+.2f%%", *last)
	} else {
		summary += "."
	}

	out := output(a.Name(), "yoy_growth", rows, cols, summary, sql)
	out.Metadata["dimension"] = dimension
	out.Metadata["measure"] = measure
	return out, nil
}

// lastDefined returns the last non-nil numeric value of col, or nil.
func lastDefined(rows []models.Row, col string) *float64 {
	for i := len(rows) - 1; i >= 0; i-- {
		if v, ok := models.Float64(rows[i][col]); ok {
			return &v
		}
	}
	return nil
}

// momChange reports month-over-month revenue change. Months are ordered by
// (year, month) across the whole range, so December and the following
// January are adjacent even across a year boundary.
func (a *KPICalculator) momChange(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	filters := map[string]any{}
	if year := params.Int("year", 0); year != 0 {
		filters["year"] = year
	}
	measure := params.String("measure", "revenue")
	if !a.meta.IsMeasure(measure) {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown measure %q", measure)
	}

	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT d.year, d.month, d.month_name,
ROUND(%s(f.%s), 2) AS total
%s`, a.meta.Aggregate(measure), measure, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += "\nGROUP BY d.year, d.month, d.month_name\nORDER BY d.year, d.month"

	raw, _, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "mom_change query: %v", err)
	}
	if len(raw) == 0 {
		return output(a.Name(), "mom_change", nil, nil, "No data.", sql), nil
	}

	totalCol := "total_" + measure
	cols := []string{"year", "month", "month_name", totalCol, "mom_change_pct"}
	rows := make([]models.Row, 0, len(raw))
	var prev float64
	hasPrev := false
	for _, r := range raw {
		cur := rowFloat(r, "total")
		rows = append(rows, models.Row{
			"year":           r["year"],
			"month":          r["month"],
			"month_name":     r["month_name"],
			totalCol:         cur,
			"mom_change_pct": growthPct(cur, prev, hasPrev),
		})
		prev, hasPrev = cur, true
	}

	scope := "all years"
	if y := params.Int("year", 0); y != 0 {
		scope = fmt.Sprintf("%d", y)
	}
	summary := fmt.Sprintf("Month-over-month change (%s). %d months.", scope, len(rows))
	return output(a.Name(), "mom_change", rows, cols, summary, sql), nil
}

// comparePeriods aggregates a measure over two period definitions and joins
// the results. The join is outer: a group present in only one period still
// appears, with 0 on the missing side.
func (a *KPICalculator) comparePeriods(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	periodA := params.Map("period_a")
	periodB := params.Map("period_b")
	if len(periodA) == 0 {
		periodA = map[string]any{"year": 2023}
	}
	if len(periodB) == 0 {
		periodB = map[string]any{"year": 2024}
	}
	groupBy := params.String("group_by", "")
	measure := params.String("measure", "revenue")
	if !a.meta.IsMeasure(measure) {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown measure %q", measure)
	}

	var dimCol string
	if groupBy != "" {
		col, ok := a.meta.Column(groupBy)
		if !ok {
			return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", groupBy)
		}
		dimCol = col
	}

	queryPeriod := func(period map[string]any) (map[string]float64, string, error) {
		where, args := buildWhere(a.meta, period)
		var sql string
		if dimCol != "" {
			sql = fmt.Sprintf("SELECT %s AS dimension,\nROUND(%s(f.%s), 2) AS value\n%s",
				dimCol, a.meta.Aggregate(measure), measure, baseFrom)
		} else {
			sql = fmt.Sprintf("SELECT ROUND(%s(f.%s), 2) AS value\n%s",
				a.meta.Aggregate(measure), measure, baseFrom)
		}
		if where != "" {
			sql += "\n" + where
		}
		if dimCol != "" {
			sql += fmt.Sprintf("\nGROUP BY %s", dimCol)
		}
		rows, _, err := a.q.Query(ctx, sql, args...)
		if err != nil {
			return nil, sql, err
		}
		values := make(map[string]float64, len(rows))
		for _, r := range rows {
			values[rowString(r, "dimension")] = rowFloat(r, "value")
		}
		return values, sql, nil
	}

	labelA := periodLabel(periodA)
	labelB := periodLabel(periodB)

	valuesA, sqlA, err := queryPeriod(periodA)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "compare_periods query (%s): %v", labelA, err)
	}
	valuesB, sqlB, err := queryPeriod(periodB)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "compare_periods query (%s): %v", labelB, err)
	}

	colA := measure + "_" + labelA
	colB := measure + "_" + labelB

	var rows []models.Row
	var cols []string
	if dimCol != "" {
		keys := map[string]bool{}
		for k := range valuesA {
			keys[k] = true
		}
		for k := range valuesB {
			keys[k] = true
		}
		groups := make([]string, 0, len(keys))
		for k := range keys {
			groups = append(groups, k)
		}
		sort.Strings(groups)

		cols = []string{"dimension", colA, colB, "change", "change_pct"}
		for _, g := range groups {
			va := valuesA[g]
			vb := valuesB[g]
			rows = append(rows, models.Row{
				"dimension":  g,
				colA:         va,
				colB:         vb,
				"change":     round2(vb - va),
				"change_pct": growthPct(vb, va, true),
			})
		}
	} else {
		va := valuesA[""]
		vb := valuesB[""]
		cols = []string{"period_a", colA, "period_b", colB, "change", "change_pct"}
		rows = []models.Row{{
			"period_a":   labelA,
			colA:         va,
			"period_b":   labelB,
			colB:         vb,
			"change":     round2(vb - va),
			"change_pct": growthPct(vb, va, true),
		}}
	}

	summary := fmt.Sprintf("Comparison: %s vs %s", labelA, labelB)
	if groupBy != "" {
		summary += " by " + groupBy
	}
	summary += fmt.Sprintf(". %d rows.", len(rows))

	out := output(a.Name(), "compare_periods", rows, cols, summary, sqlA, sqlB)
	out.Metadata["period_a"] = periodA
	out.Metadata["period_b"] = periodB
	out.Metadata["group_by"] = groupBy
	out.Metadata["measure"] = measure
	return out, nil
}

// periodLabel renders a period filter as a compact tag like "year2023".
func periodLabel(period map[string]any) string {
	keys := make([]string, 0, len(period))
	for k := range period {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s%v", k, period[k]))
	}
	return strings.Join(parts, "_")
}

// topN ranks groups by an aggregated measure, descending, ties broken by the
// dimension value ascending. n is clipped by the LIMIT when it exceeds the
// number of groups.
func (a *KPICalculator) topN(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	n := params.Int("n", 5)
	if n <= 0 {
		return nil, models.NewError(models.ErrAgentExecution, -1, "top_n requires a positive n, got %d", n)
	}
	dimension := params.String("dimension", "country")
	measure := params.String("measure", "revenue")
	filters := params.Map("filters")

	dimCol, ok := a.meta.Column(dimension)
	if !ok {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", dimension)
	}
	if !a.meta.IsMeasure(measure) {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown measure %q", measure)
	}

	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT %s AS dimension,
ROUND(%s(f.%s), 2) AS metric,
ROUND(SUM(f.revenue), 2) AS total_revenue,
ROUND(SUM(f.profit), 2)  AS total_profit,
COUNT(*)                 AS transactions
%s`, dimCol, a.meta.Aggregate(measure), measure, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += fmt.Sprintf("\nGROUP BY %s\nORDER BY metric DESC, dimension ASC\nLIMIT ?", dimCol)
	args = append(args, n)

	raw, _, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "top_n query: %v", err)
	}

	cols := []string{"rank", "dimension", "metric", "total_revenue", "total_profit", "transactions"}
	rows := make([]models.Row, 0, len(raw))
	for i, r := range raw {
		row := models.Row{"rank": i + 1}
		for k, v := range r {
			row[k] = v
		}
		rows = append(rows, row)
	}

	summary := "No data."
	if len(rows) > 0 {
		summary = fmt.Sprintf("Top %d %ss by %s. #1: %s (%s)",
			n, dimension, measure, rowString(rows[0], "dimension"),
			groupThousands(fmt.Sprintf("%.2f", rowFloat(rows[0], "metric"))))
	}

	out := output(a.Name(), "top_n", rows, cols, summary, sql)
	out.Metadata["n"] = n
	out.Metadata["dimension"] = dimension
	out.Metadata["measure"] = measure
	return out, nil
}

// profitMargins reports margin per group two ways: the average of per-row
// margins and the blended SUM(profit)/SUM(revenue) margin. SQLite yields
// NULL for the blended margin when revenue is zero, which surfaces as the
// undefined marker.
func (a *KPICalculator) profitMargins(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	dimension := params.String("dimension", params.String("group_by", "category"))
	filters := params.Map("filters")

	dimCol, ok := a.meta.Column(dimension)
	if !ok {
		return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", dimension)
	}

	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT %s AS dimension,
ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin_pct,
CASE WHEN SUM(f.revenue) = 0 THEN NULL
     ELSE ROUND(SUM(f.profit) / SUM(f.revenue) * 100, 2) END AS blended_margin_pct
%s`, dimCol, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += fmt.Sprintf("\nGROUP BY %s\nORDER BY avg_margin_pct DESC, dimension ASC", dimCol)

	rows, cols, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "profit_margins query: %v", err)
	}

	var summary string
	if len(rows) > 0 {
		summary = fmt.Sprintf("Profit margins by %s. Best: %s at %s",
			dimension, rowString(rows[0], "dimension"), fmtPct(rowFloat(rows[0], "avg_margin_pct")))
	}
	out := output(a.Name(), "profit_margins", rows, cols, summary, sql)
	out.Metadata["dimension"] = dimension
	return out, nil
}

// summary reports headline totals over the whole warehouse.
func (a *KPICalculator) summary(ctx context.Context) (*models.AgentOutput, error) {
	sql := `SELECT
COUNT(*)                       AS total_transactions,
ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.cost), 2)          AS total_cost,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin_pct,
ROUND(AVG(f.revenue), 2)       AS avg_order_value,
MIN(d.full_date)               AS earliest_date,
MAX(d.full_date)               AS latest_date
FROM fact_sales f
JOIN dim_date d ON f.date_key = d.date_key`

	rows, cols, err := a.q.Query(ctx, sql)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "summary query: %v", err)
	}

	var summary string
	if len(rows) > 0 {
		r := rows[0]
		summary = fmt.Sprintf("Overall: %s transactions, %s revenue, %s profit, %s avg margin.",
			groupThousands(fmt.Sprintf("%.0f", rowFloat(r, "total_transactions"))),
			fmtCurrency(rowFloat(r, "total_revenue")),
			fmtCurrency(rowFloat(r, "total_profit")),
			fmtPct(rowFloat(r, "avg_margin_pct")))
	}
	return output(a.Name(), "summary", rows, cols, summary, sql), nil
}

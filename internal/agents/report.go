package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// ReportGenerator assembles narrative reports. It consumes prior step
// outputs passed in as parameters (the engine resolves the references) and
// issues its own light aggregate queries for headline numbers; it never
// re-runs earlier steps.
type ReportGenerator struct {
	q    warehouse.Querier
	meta *warehouse.Metadata
}

func NewReportGenerator(q warehouse.Querier, meta *warehouse.Metadata) *ReportGenerator {
	return &ReportGenerator{q: q, meta: meta}
}

func (a *ReportGenerator) Name() string { return NameReportGenerator }

func (a *ReportGenerator) Operations() []string {
	return []string{"executive_summary", "trend_report", "format_table"}
}

func (a *ReportGenerator) Run(ctx context.Context, operation string, params models.Params) (*models.AgentOutput, error) {
	switch operation {
	case "executive_summary":
		return a.executiveSummary(ctx, params)
	case "trend_report":
		return a.trendReport(ctx, params)
	case "format_table":
		return a.formatTable(ctx, params)
	default:
		return nil, models.NewError(models.ErrInvalidPlan, -1, "unknown %s operation %q", a.Name(), operation)
	}
}

// executiveSummary produces the deterministic narrative template: headline
// numbers, then notable deltas, then a closing insight sentence.
func (a *ReportGenerator) executiveSummary(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	year := params.Int("year", 0)
	yearLabel := "All Years"
	filters := map[string]any{}
	if year != 0 {
		yearLabel = fmt.Sprintf("%d", year)
		filters["year"] = year
	}
	where, args := buildWhere(a.meta, filters)

	toplineSQL := fmt.Sprintf(`SELECT ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin,
COUNT(*)                       AS transactions,
ROUND(AVG(f.revenue), 2)       AS avg_order
%s`, baseFrom)
	if where != "" {
		toplineSQL += "\n" + where
	}
	topRows, _, err := a.q.Query(ctx, toplineSQL, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "executive_summary topline query: %v", err)
	}
	if len(topRows) == 0 {
		return output(a.Name(), "executive_summary", nil, nil, "No data in the warehouse.", toplineSQL), nil
	}
	topline := topRows[0]

	regionSQL := fmt.Sprintf(`SELECT g.region, ROUND(SUM(f.revenue), 2) AS rev
%s`, baseFrom)
	if where != "" {
		regionSQL += "\n" + where
	}
	regionSQL += "\nGROUP BY g.region\nORDER BY rev DESC, g.region ASC\nLIMIT 1"
	regionRows, _, err := a.q.Query(ctx, regionSQL, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "executive_summary region query: %v", err)
	}

	catSQL := fmt.Sprintf(`SELECT p.category, ROUND(SUM(f.revenue), 2) AS rev,
ROUND(AVG(f.profit_margin), 2) AS margin
%s`, baseFrom)
	if where != "" {
		catSQL += "\n" + where
	}
	catSQL += "\nGROUP BY p.category\nORDER BY rev DESC, p.category ASC\nLIMIT 1"
	catRows, _, err := a.q.Query(ctx, catSQL, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "executive_summary category query: %v", err)
	}

	// YoY insight only makes sense when no single year is fixed.
	yoyInsight := ""
	sqls := []string{toplineSQL, regionSQL, catSQL}
	if year == 0 {
		yoySQL := `SELECT d.year, ROUND(SUM(f.revenue), 2) AS rev
FROM fact_sales f
JOIN dim_date d ON f.date_key = d.date_key
GROUP BY d.year
ORDER BY d.year`
		yoyRows, _, err := a.q.Query(ctx, yoySQL)
		if err != nil {
			return nil, models.NewError(models.ErrAgentExecution, -1, "executive_summary yoy query: %v", err)
		}
		sqls = append(sqls, yoySQL)
		if len(yoyRows) >= 2 {
			last := yoyRows[len(yoyRows)-1]
			prev := yoyRows[len(yoyRows)-2]
			prevRev := rowFloat(prev, "rev")
			if prevRev != 0 {
				growth := (rowFloat(last, "rev") - prevRev) / prevRev * 100
				yoyInsight = fmt.Sprintf(" Revenue grew %+.1f%% from %v (%s) to %v (%s).",
					growth, prev["year"], fmtCurrency(prevRev),
					last["year"], fmtCurrency(rowFloat(last, "rev")))
			}
		}
	}

	topRegion, topRegionRev := "N/A", ""
	if len(regionRows) > 0 {
		topRegion = rowString(regionRows[0], "region")
		topRegionRev = fmtCurrency(rowFloat(regionRows[0], "rev"))
	}
	topCategory, topCategoryLine := "N/A", ""
	if len(catRows) > 0 {
		topCategory = rowString(catRows[0], "category")
		topCategoryLine = fmt.Sprintf(" (%s, %v%% margin)",
			fmtCurrency(rowFloat(catRows[0], "rev")), catRows[0]["margin"])
	}

	var b strings.Builder
	fmt.Fprintf(&b, "## Executive Summary — %s\n\n", yearLabel)
	fmt.Fprintf(&b, "**Revenue:** %s across %s transactions.\n",
		fmtCurrency(rowFloat(topline, "total_revenue")),
		groupThousands(fmt.Sprintf("%.0f", rowFloat(topline, "transactions"))))
	fmt.Fprintf(&b, "**Profit:** %s | **Avg Margin:** %v%% | **Avg Order Value:** %s\n",
		fmtCurrency(rowFloat(topline, "total_profit")),
		topline["avg_margin"],
		fmtCurrency(rowFloat(topline, "avg_order")))
	if yoyInsight != "" {
		b.WriteString(yoyInsight + "\n")
	}
	fmt.Fprintf(&b, "\n**Top Region:** %s", topRegion)
	if topRegionRev != "" {
		fmt.Fprintf(&b, " (%s)", topRegionRev)
	}
	fmt.Fprintf(&b, "\n**Top Category:** %s%s\n", topCategory, topCategoryLine)
	narrative := b.String()

	rows := []models.Row{
		{"metric": "Total Revenue", "value": fmtCurrency(rowFloat(topline, "total_revenue"))},
		{"metric": "Total Profit", "value": fmtCurrency(rowFloat(topline, "total_profit"))},
		{"metric": "Avg Margin", "value": fmt.Sprintf("%v%%", topline["avg_margin"])},
		{"metric": "Total Transactions", "value": groupThousands(fmt.Sprintf("%.0f", rowFloat(topline, "transactions")))},
		{"metric": "Avg Order Value", "value": fmtCurrency(rowFloat(topline, "avg_order"))},
		{"metric": "Top Region", "value": topRegion},
		{"metric": "Top Category", "value": topCategory},
	}

	out := output(a.Name(), "executive_summary", rows, []string{"metric", "value"}, narrative, sqls...)
	out.Metadata["year"] = year
	out.Metadata["narrative"] = narrative
	return out, nil
}

// trendReport breaks monthly revenue out for a year, optionally split by a
// dimension.
func (a *ReportGenerator) trendReport(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	year := params.Int("year", 2024)
	dimension := params.String("dimension", "")

	var dimCol string
	if dimension != "" {
		col, ok := a.meta.Column(dimension)
		if !ok {
			return nil, models.NewError(models.ErrAgentExecution, -1, "unknown dimension %q", dimension)
		}
		dimCol = col
	}

	var sql string
	if dimCol != "" {
		sql = fmt.Sprintf(`SELECT %s AS dimension,
d.month, d.month_name,
ROUND(SUM(f.revenue), 2) AS total_revenue,
ROUND(SUM(f.profit), 2)  AS total_profit,
COUNT(*)                 AS transactions
%s
WHERE d.year = ?
GROUP BY %s, d.month, d.month_name
ORDER BY %s, d.month`, dimCol, baseFrom, dimCol, dimCol)
	} else {
		sql = fmt.Sprintf(`SELECT d.month, d.month_name,
ROUND(SUM(f.revenue), 2) AS total_revenue,
ROUND(SUM(f.profit), 2)  AS total_profit,
COUNT(*)                 AS transactions
%s
WHERE d.year = ?
GROUP BY d.month, d.month_name
ORDER BY d.month`, baseFrom)
	}

	rows, cols, err := a.q.Query(ctx, sql, year)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "trend_report query: %v", err)
	}

	var summary string
	if len(rows) > 0 && dimension == "" {
		peak, low := rows[0], rows[0]
		for _, r := range rows[1:] {
			if rowFloat(r, "total_revenue") > rowFloat(peak, "total_revenue") {
				peak = r
			}
			if rowFloat(r, "total_revenue") < rowFloat(low, "total_revenue") {
				low = r
			}
		}
		summary = fmt.Sprintf("Monthly trend for %d. Peak: %s (%s). Slowest: %s (%s).",
			year,
			rowString(peak, "month_name"), fmtCurrency(rowFloat(peak, "total_revenue")),
			rowString(low, "month_name"), fmtCurrency(rowFloat(low, "total_revenue")))
	} else {
		summary = fmt.Sprintf("Monthly trend for %d", year)
		if dimension != "" {
			summary += " by " + dimension
		}
		summary += fmt.Sprintf(". %d rows.", len(rows))
	}

	out := output(a.Name(), "trend_report", rows, cols, summary, sql)
	out.Metadata["year"] = year
	out.Metadata["dimension"] = dimension
	return out, nil
}

// formatTable takes rows from a prior step (or a default regional report)
// and appends a totals row: numeric columns summed, percentage and margin
// columns averaged.
func (a *ReportGenerator) formatTable(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	data := params.Rows("data")
	cols := params.Strings("columns")
	addTotal := params.Bool("add_total", true)
	addRank := params.Bool("add_rank", false)

	var sqls []string
	if len(data) == 0 {
		sql := `SELECT g.region,
ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin_pct,
SUM(f.quantity)                AS total_qty,
COUNT(*)                       AS transactions
FROM fact_sales f
JOIN dim_geography g ON f.geo_key = g.geo_key
GROUP BY g.region
ORDER BY total_revenue DESC`
		rows, queriedCols, err := a.q.Query(ctx, sql)
		if err != nil {
			return nil, models.NewError(models.ErrAgentExecution, -1, "format_table query: %v", err)
		}
		data, cols = rows, queriedCols
		sqls = append(sqls, sql)
	}
	if len(cols) == 0 && len(data) > 0 {
		cols = inferColumns(data[0])
	}

	rows := make([]models.Row, 0, len(data)+1)
	if addRank && !hasColumn(cols, "rank") {
		cols = append([]string{"rank"}, cols...)
		for i, r := range data {
			row := make(models.Row, len(r)+1)
			for k, v := range r {
				row[k] = v
			}
			row["rank"] = i + 1
			rows = append(rows, row)
		}
	} else {
		rows = append(rows, data...)
	}

	if addTotal && len(rows) > 0 {
		rows = append(rows, totalsRow(rows, cols))
	}

	summary := fmt.Sprintf("Formatted table with %d rows.", len(data))
	if addTotal {
		summary = fmt.Sprintf("Formatted table with %d rows + totals.", len(data))
	}
	out := output(a.Name(), "format_table", rows, cols, summary)
	out.Metadata["has_totals_row"] = addTotal
	return out, nil
}

// totalsRow sums numeric columns, averaging percentage-like ones. The first
// non-numeric column carries the TOTAL label.
func totalsRow(rows []models.Row, cols []string) models.Row {
	totals := models.Row{}
	labeled := false
	for _, col := range cols {
		if col == "rank" {
			totals[col] = "—"
			continue
		}
		var sum float64
		numeric := true
		n := 0
		for _, r := range rows {
			v, ok := models.Float64(r[col])
			if !ok {
				if r[col] != nil {
					numeric = false
					break
				}
				continue
			}
			sum += v
			n++
		}
		if numeric && n > 0 {
			lower := strings.ToLower(col)
			if strings.Contains(lower, "pct") || strings.Contains(lower, "margin") {
				totals[col] = round2(sum / float64(n))
			} else {
				totals[col] = round2(sum)
			}
		} else if !labeled {
			totals[col] = "TOTAL"
			labeled = true
		} else {
			totals[col] = "—"
		}
	}
	return totals
}

func hasColumn(cols []string, name string) bool {
	for _, c := range cols {
		if c == name {
			return true
		}
	}
	return false
}

// inferColumns derives a stable column order from a row when the caller
// supplied none: label columns first, then numeric, alphabetical within
// each group.
func inferColumns(row models.Row) []string {
	var labels, numbers []string
	for k, v := range row {
		if _, ok := models.Float64(v); ok {
			numbers = append(numbers, k)
		} else {
			labels = append(labels, k)
		}
	}
	sort.Strings(labels)
	sort.Strings(numbers)
	return append(labels, numbers...)
}

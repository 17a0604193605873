package planner

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// Fallback is the deterministic rule-based planner. It matches the query
// against an ordered rule list; the first match wins. The order runs from
// the most specific phrasings to the generic aggregate fallback:
//
//  1. comparison phrasing (compare/vs/versus/growth)
//  2. drill-down phrasing
//  3. top-N phrasing
//  4. trend / monthly phrasing
//  5. pivot phrasing
//  6. anomaly phrasing
//  7. margin / profit phrasing
//  8. a single detected filter -> slice
//  9. two or more detected filters -> dice
// 10. "by region" / "revenue by" -> grouped aggregate
// 11. anything else -> overall summary
//
// Comparison ranks first so that a question naming two periods always gets
// a compare_periods step, even when it also mentions a drillable level.
type Fallback struct {
	meta *warehouse.Metadata
}

func NewFallback(meta *warehouse.Metadata) *Fallback {
	return &Fallback{meta: meta}
}

var defaultFollowups = []string{
	"Which region has the highest growth?",
	"Show me the top 5 subcategories by profit",
	"Compare 2023 vs 2024 by category",
}

// Plan builds a deterministic plan for the query. It never fails and never
// returns an empty plan.
func (f *Fallback) Plan(_ context.Context, query string, _ []models.ConversationTurn) (models.Plan, error) {
	q := strings.ToLower(query)

	years := f.detectYears(q)
	filters := f.detectFilters(q, years)

	var steps []models.Step
	switch {
	case containsAny(q, "compare", " vs ", "vs.", "versus", "growth"):
		steps = f.comparisonSteps(q, years)

	case strings.Contains(q, "drill") && containsAny(q, "down", "into", "break"):
		steps = []models.Step{f.drillStep(q, filters)}

	case strings.Contains(q, "top "):
		steps = []models.Step{f.topNStep(q, filters)}

	case containsAny(q, "trend", "monthly", "month"):
		year := 2024
		if len(years) > 0 {
			year = years[0]
		}
		steps = []models.Step{{
			Agent: "ReportGenerator", Operation: "trend_report",
			Parameters: models.Params{"year": year},
		}}

	case strings.Contains(q, "pivot"):
		steps = []models.Step{{
			Agent: "CubeOperations", Operation: "pivot",
			Parameters: models.Params{"row_dim": "region", "col_dim": "year", "measure": "revenue"},
		}}

	case containsAny(q, "anomal", "unusual", "outlier"):
		op := "monthly_anomaly"
		if containsAny(q, "product", "categor", "subcategor") {
			op = "product_anomaly"
		}
		steps = []models.Step{{
			Agent: "AnomalyDetection", Operation: op, Parameters: models.Params{},
		}}

	case containsAny(q, "margin", "profit"):
		dim := "region"
		if strings.Contains(q, "categor") {
			dim = "category"
		}
		steps = []models.Step{{
			Agent: "KPICalculator", Operation: "profit_margins",
			Parameters: models.Params{"dimension": dim, "filters": filters},
		}}

	case strings.Contains(q, "slice") || len(filters) == 1:
		groupBy := "region"
		if containsAny(q, "category", "product") {
			groupBy = "category"
		}
		steps = []models.Step{{
			Agent: "CubeOperations", Operation: "slice",
			Parameters: models.Params{"filter": filters, "group_by": []any{groupBy}},
		}}

	case strings.Contains(q, "dice") || len(filters) >= 2:
		groupBy := "region"
		if strings.Contains(q, "countr") {
			groupBy = "country"
		} else if strings.Contains(q, "sub") {
			groupBy = "subcategory"
		}
		steps = []models.Step{{
			Agent: "CubeOperations", Operation: "dice",
			Parameters: models.Params{"filters": filters, "group_by": []any{groupBy}},
		}}

	case strings.Contains(q, "region") || strings.Contains(q, "revenue by"):
		steps = []models.Step{{
			Agent: "DimensionNavigator", Operation: "group",
			Parameters: models.Params{"dimensions": []any{"region"}, "filters": filters},
		}}

	default:
		steps = []models.Step{
			{Agent: "KPICalculator", Operation: "summary", Parameters: models.Params{}},
			{Agent: "ReportGenerator", Operation: "executive_summary", Parameters: models.Params{}},
		}
	}

	return models.Plan{
		Intent:             fmt.Sprintf("Answering: %q", query),
		Steps:              steps,
		SuggestedFollowups: defaultFollowups,
	}, nil
}

// comparisonSteps handles comparison and growth phrasing. Two named years
// give a period comparison; otherwise year-over-year growth.
func (f *Fallback) comparisonSteps(q string, years []int) []models.Step {
	groupBy := ""
	if strings.Contains(q, "region") {
		groupBy = "region"
	} else if strings.Contains(q, "categor") {
		groupBy = "category"
	}

	if len(years) >= 2 {
		minYear, maxYear := years[0], years[0]
		for _, y := range years[1:] {
			if y < minYear {
				minYear = y
			}
			if y > maxYear {
				maxYear = y
			}
		}
		params := models.Params{
			"period_a": map[string]any{"year": minYear},
			"period_b": map[string]any{"year": maxYear},
		}
		if groupBy != "" {
			params["group_by"] = groupBy
		}
		return []models.Step{{Agent: "KPICalculator", Operation: "compare_periods", Parameters: params}}
	}

	params := models.Params{}
	if groupBy != "" {
		params["dimension"] = groupBy
	}
	return []models.Step{{Agent: "KPICalculator", Operation: "yoy_growth", Parameters: params}}
}

func (f *Fallback) drillStep(q string, filters map[string]any) models.Step {
	hierarchy, toLevel := "time", "quarter"
	if strings.Contains(q, "month") {
		toLevel = "month"
	}
	if strings.Contains(q, "countr") {
		hierarchy, toLevel = "geography", "country"
	}
	if strings.Contains(q, "subcategor") {
		hierarchy, toLevel = "product", "subcategory"
	}
	return models.Step{
		Agent: "DimensionNavigator", Operation: "drill_down",
		Parameters: models.Params{"hierarchy": hierarchy, "to_level": toLevel, "filters": filters},
	}
}

func (f *Fallback) topNStep(q string, filters map[string]any) models.Step {
	n := 5
	for _, word := range strings.Fields(q) {
		if v, err := strconv.Atoi(word); err == nil && v > 0 {
			n = v
			break
		}
	}
	dimension := "region"
	switch {
	case strings.Contains(q, "countr"):
		dimension = "country"
	case strings.Contains(q, "subcategor") || strings.Contains(q, "sub"):
		dimension = "subcategory"
	case strings.Contains(q, "categor"):
		dimension = "category"
	}
	measure := "revenue"
	if strings.Contains(q, "profit") {
		measure = "profit"
	}
	return models.Step{
		Agent: "KPICalculator", Operation: "top_n",
		Parameters: models.Params{"n": n, "dimension": dimension, "measure": measure, "filters": filters},
	}
}

// detectYears finds known year values mentioned in the query, in the
// metadata's declared order.
func (f *Fallback) detectYears(q string) []int {
	var years []int
	for _, y := range f.meta.Values["year"] {
		if strings.Contains(q, y) {
			if v, err := strconv.Atoi(y); err == nil {
				years = append(years, v)
			}
		}
	}
	return years
}

// detectFilters builds an equality filter mapping from dimension values
// named in the query. A single year becomes a filter; several years are the
// subject of a comparison instead.
func (f *Fallback) detectFilters(q string, years []int) map[string]any {
	filters := map[string]any{}
	if len(years) == 1 {
		filters["year"] = years[0]
	}
	for _, quarter := range f.meta.Values["quarter"] {
		if strings.Contains(q, strings.ToLower(quarter)) {
			filters["quarter"] = quarter
			break
		}
	}
	for _, region := range f.meta.Values["region"] {
		if strings.Contains(q, strings.ToLower(region)) {
			filters["region"] = region
			break
		}
	}
	for _, category := range f.meta.Values["category"] {
		if strings.Contains(q, strings.ToLower(category)) {
			filters["category"] = category
			break
		}
	}
	for _, segment := range f.meta.Values["customer_segment"] {
		if strings.Contains(q, strings.ToLower(segment)) {
			filters["customer_segment"] = segment
			break
		}
	}
	return filters
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

package planner_test

import (
	"context"
	"testing"

	"github.com/cubeline/cubeline/internal/planner"
	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

func newFallback(t *testing.T) *planner.Fallback {
	t.Helper()
	meta, err := warehouse.LoadMetadata()
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	return planner.NewFallback(meta)
}

func fallbackPlan(t *testing.T, query string) models.Plan {
	t.Helper()
	plan, err := newFallback(t).Plan(context.Background(), query, nil)
	if err != nil {
		t.Fatalf("Plan(%q) error = %v", query, err)
	}
	if len(plan.Steps) == 0 {
		t.Fatalf("Plan(%q) returned no steps", query)
	}
	return plan
}

func TestCompareTwoYearsByRegion(t *testing.T) {
	plan := fallbackPlan(t, "Compare 2023 vs 2024 by region")

	if len(plan.Steps) != 1 {
		t.Fatalf("len(Steps) = %d, want exactly 1", len(plan.Steps))
	}
	step := plan.Steps[0]
	if step.Agent != "KPICalculator" || step.Operation != "compare_periods" {
		t.Fatalf("step = %s.%s, want KPICalculator.compare_periods", step.Agent, step.Operation)
	}
	if got := step.Parameters.String("group_by", ""); got != "region" {
		t.Errorf("group_by = %q, want region", got)
	}
	if got := step.Parameters.Map("period_a")["year"]; got != 2023 {
		t.Errorf("period_a.year = %v, want 2023", got)
	}
	if got := step.Parameters.Map("period_b")["year"]; got != 2024 {
		t.Errorf("period_b.year = %v, want 2024", got)
	}
}

func TestCompareWithoutYearsFallsToYoY(t *testing.T) {
	plan := fallbackPlan(t, "How does revenue growth look by category?")
	step := plan.Steps[0]
	if step.Agent != "KPICalculator" || step.Operation != "yoy_growth" {
		t.Fatalf("step = %s.%s, want KPICalculator.yoy_growth", step.Agent, step.Operation)
	}
	if got := step.Parameters.String("dimension", ""); got != "category" {
		t.Errorf("dimension = %q, want category", got)
	}
}

func TestDrillDownPhrasing(t *testing.T) {
	plan := fallbackPlan(t, "Drill down into 2024 months")
	step := plan.Steps[0]
	if step.Agent != "DimensionNavigator" || step.Operation != "drill_down" {
		t.Fatalf("step = %s.%s, want DimensionNavigator.drill_down", step.Agent, step.Operation)
	}
	if got := step.Parameters.String("to_level", ""); got != "month" {
		t.Errorf("to_level = %q, want month", got)
	}
	if got := step.Parameters.Map("filters")["year"]; got != 2024 {
		t.Errorf("filters.year = %v, want 2024", got)
	}
}

func TestTopNPhrasing(t *testing.T) {
	plan := fallbackPlan(t, "Show the top 3 countries by profit")
	step := plan.Steps[0]
	if step.Agent != "KPICalculator" || step.Operation != "top_n" {
		t.Fatalf("step = %s.%s, want KPICalculator.top_n", step.Agent, step.Operation)
	}
	if got := step.Parameters.Int("n", 0); got != 3 {
		t.Errorf("n = %d, want 3", got)
	}
	if got := step.Parameters.String("dimension", ""); got != "country" {
		t.Errorf("dimension = %q, want country", got)
	}
	if got := step.Parameters.String("measure", ""); got != "profit" {
		t.Errorf("measure = %q, want profit", got)
	}
}

func TestTrendPhrasing(t *testing.T) {
	plan := fallbackPlan(t, "monthly trend for 2023")
	step := plan.Steps[0]
	if step.Agent != "ReportGenerator" || step.Operation != "trend_report" {
		t.Fatalf("step = %s.%s, want ReportGenerator.trend_report", step.Agent, step.Operation)
	}
	if got := step.Parameters.Int("year", 0); got != 2023 {
		t.Errorf("year = %d, want 2023", got)
	}
}

func TestAnomalyPhrasing(t *testing.T) {
	plan := fallbackPlan(t, "any revenue outliers?")
	step := plan.Steps[0]
	if step.Agent != "AnomalyDetection" || step.Operation != "monthly_anomaly" {
		t.Fatalf("step = %s.%s, want AnomalyDetection.monthly_anomaly", step.Agent, step.Operation)
	}

	plan = fallbackPlan(t, "which products are unusual?")
	step = plan.Steps[0]
	if step.Operation != "product_anomaly" {
		t.Errorf("operation = %s, want product_anomaly", step.Operation)
	}
}

func TestMarginPhrasing(t *testing.T) {
	plan := fallbackPlan(t, "what are the margins by category?")
	step := plan.Steps[0]
	if step.Agent != "KPICalculator" || step.Operation != "profit_margins" {
		t.Fatalf("step = %s.%s, want KPICalculator.profit_margins", step.Agent, step.Operation)
	}
	if got := step.Parameters.String("dimension", ""); got != "category" {
		t.Errorf("dimension = %q, want category", got)
	}
}

func TestSingleFilterBecomesSlice(t *testing.T) {
	plan := fallbackPlan(t, "show me Europe performance")
	step := plan.Steps[0]
	if step.Agent != "CubeOperations" || step.Operation != "slice" {
		t.Fatalf("step = %s.%s, want CubeOperations.slice", step.Agent, step.Operation)
	}
	if got := step.Parameters.Map("filter")["region"]; got != "Europe" {
		t.Errorf("filter.region = %v, want Europe", got)
	}
}

func TestMultipleFiltersBecomeDice(t *testing.T) {
	plan := fallbackPlan(t, "show Electronics in Asia Pacific for 2024")
	step := plan.Steps[0]
	if step.Agent != "CubeOperations" || step.Operation != "dice" {
		t.Fatalf("step = %s.%s, want CubeOperations.dice", step.Agent, step.Operation)
	}
	filters := step.Parameters.Map("filters")
	if filters["region"] != "Asia Pacific" || filters["category"] != "Electronics" || filters["year"] != 2024 {
		t.Errorf("filters = %v, want region, category and year detected", filters)
	}
}

func TestDefaultPlanIsSummaryAndReport(t *testing.T) {
	plan := fallbackPlan(t, "hello there")
	if len(plan.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(plan.Steps))
	}
	if plan.Steps[0].Operation != "summary" || plan.Steps[1].Operation != "executive_summary" {
		t.Errorf("steps = %s, %s, want summary then executive_summary",
			plan.Steps[0].Operation, plan.Steps[1].Operation)
	}
	if len(plan.SuggestedFollowups) == 0 {
		t.Error("SuggestedFollowups empty, want defaults")
	}
}

func TestPlanNeverEmpty(t *testing.T) {
	queries := []string{"", "?????", "tell me everything", "พยากรณ์"}
	for _, q := range queries {
		plan := fallbackPlan(t, q)
		if plan.Intent == "" {
			t.Errorf("Plan(%q).Intent is empty", q)
		}
	}
}

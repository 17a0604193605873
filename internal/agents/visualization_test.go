package agents_test

import (
	"context"
	"testing"

	"github.com/cubeline/cubeline/internal/agents"
	"github.com/cubeline/cubeline/pkg/models"
)

func vizRun(t *testing.T, params models.Params) *models.AgentOutput {
	t.Helper()
	out, err := agents.NewVisualization().Run(context.Background(), "visualize", params)
	if err != nil {
		t.Fatalf("visualize error = %v", err)
	}
	return out
}

func regionRows(n int) []models.Row {
	names := []string{"North America", "Europe", "Asia Pacific", "Latin America",
		"Region E", "Region F", "Region G", "Region H", "Region I", "Region J",
		"Region K", "Region L", "Region M", "Region N"}
	rows := make([]models.Row, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, models.Row{"region": names[i], "total_revenue": float64(1000 * (i + 1))})
	}
	return rows
}

func TestRecommendChartByOperation(t *testing.T) {
	tests := []struct {
		sourceOp string
		want     models.ChartType
	}{
		{"trend_report", models.ChartLine},
		{"top_n", models.ChartBar},
		{"compare_periods", models.ChartGroupedBar},
		{"pivot", models.ChartHeatmap},
	}
	for _, tt := range tests {
		t.Run(tt.sourceOp, func(t *testing.T) {
			out := vizRun(t, models.Params{
				"data":             regionRows(4),
				"columns":          []any{"region", "total_revenue"},
				"source_operation": tt.sourceOp,
			})
			if got := out.Metadata["chart_type"]; got != tt.want {
				t.Errorf("chart_type = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRecommendChartByShape(t *testing.T) {
	// Few rows, one measure, no rule: a pie.
	out := vizRun(t, models.Params{
		"data":    regionRows(3),
		"columns": []any{"region", "total_revenue"},
	})
	if got := out.Metadata["chart_type"]; got != models.ChartPie {
		t.Errorf("small categorical chart_type = %v, want %v", got, models.ChartPie)
	}

	// A long single-measure series: a line.
	out = vizRun(t, models.Params{
		"data":    regionRows(14),
		"columns": []any{"region", "total_revenue"},
	})
	if got := out.Metadata["chart_type"]; got != models.ChartLine {
		t.Errorf("long series chart_type = %v, want %v", got, models.ChartLine)
	}
}

func TestRecommendChartPrefersLineForTimeData(t *testing.T) {
	data := []models.Row{
		{"month_name": "January", "total_revenue": 100.0},
		{"month_name": "February", "total_revenue": 150.0},
		{"month_name": "March", "total_revenue": 120.0},
	}
	out := vizRun(t, models.Params{
		"data":    data,
		"columns": []any{"month_name", "total_revenue"},
	})
	if got := out.Metadata["chart_type"]; got != models.ChartLine {
		t.Errorf("time series chart_type = %v, want %v", got, models.ChartLine)
	}
}

func TestChartSpecBindsAxesAndSeries(t *testing.T) {
	out := vizRun(t, models.Params{
		"data":             regionRows(3),
		"columns":          []any{"region", "total_revenue"},
		"source_operation": "top_n",
		"title":            "Top regions",
	})
	spec, ok := out.Metadata["chart"].(*models.ChartSpec)
	if !ok {
		t.Fatalf("Metadata.chart is %T, want *models.ChartSpec", out.Metadata["chart"])
	}
	if spec.Title != "Top regions" {
		t.Errorf("Title = %q, want %q", spec.Title, "Top regions")
	}
	if spec.XAxis != "region" || spec.YAxis != "total_revenue" {
		t.Errorf("axes = (%s, %s), want (region, total_revenue)", spec.XAxis, spec.YAxis)
	}
	if len(spec.Labels) != 3 || spec.Labels[0] != "North America" {
		t.Errorf("Labels = %v, want 3 region names", spec.Labels)
	}
	if len(spec.Series) != 1 {
		t.Fatalf("len(Series) = %d, want 1", len(spec.Series))
	}
	if got := spec.Series[0].Values[2]; got != 3000 {
		t.Errorf("Series[0].Values[2] = %v, want 3000", got)
	}
}

func TestVisualizeEmptyData(t *testing.T) {
	out := vizRun(t, models.Params{"data": []any{}})
	if got := out.Metadata["chart_type"]; got != models.ChartBar {
		t.Errorf("empty data chart_type = %v, want %v", got, models.ChartBar)
	}
}

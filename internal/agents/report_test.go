package agents_test

import (
	"context"
	"strings"
	"testing"

	"github.com/cubeline/cubeline/internal/agents"
	"github.com/cubeline/cubeline/pkg/models"
)

// ─── executive_summary ───

func TestExecutiveSummaryNarrative(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2023, 1, geoUS, prodLaptops, 100000)
	addSale(t, db, 2024, 1, geoUS, prodLaptops, 120000)
	addSale(t, db, 2024, 2, geoGermany, prodDesks, 30000)

	rep := agents.NewReportGenerator(wh, meta)
	out, err := rep.Run(context.Background(), "executive_summary", models.Params{})
	if err != nil {
		t.Fatalf("executive_summary error = %v", err)
	}
	if !strings.Contains(out.Summary, "## Executive Summary — All Years") {
		t.Errorf("Summary missing header: %q", out.Summary)
	}
	if !strings.Contains(out.Summary, "Top Region:** North America") {
		t.Errorf("Summary missing top region: %q", out.Summary)
	}
	// 100k -> 150k across years: the YoY insight line is present.
	if !strings.Contains(out.Summary, "Revenue grew +50.0%") {
		t.Errorf("Summary missing YoY insight: %q", out.Summary)
	}
	if len(out.Data) == 0 || out.Data[0]["metric"] != "Total Revenue" {
		t.Errorf("Data[0] = %v, want Total Revenue metric row", out.Data)
	}
}

func TestExecutiveSummaryYearScopedSkipsYoY(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2023, 1, geoUS, prodLaptops, 100)
	addSale(t, db, 2024, 1, geoUS, prodLaptops, 200)

	rep := agents.NewReportGenerator(wh, meta)
	out, err := rep.Run(context.Background(), "executive_summary", models.Params{"year": 2024})
	if err != nil {
		t.Fatalf("executive_summary error = %v", err)
	}
	if !strings.Contains(out.Summary, "## Executive Summary — 2024") {
		t.Errorf("Summary header = %q, want 2024 scope", out.Summary)
	}
	if strings.Contains(out.Summary, "Revenue grew") {
		t.Errorf("year-scoped summary carries a YoY insight: %q", out.Summary)
	}
}

// ─── trend_report ───

func TestTrendReportPeakAndSlowest(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2024, 1, geoUS, prodLaptops, 500)
	addSale(t, db, 2024, 2, geoUS, prodLaptops, 900)
	addSale(t, db, 2024, 3, geoUS, prodLaptops, 200)
	addSale(t, db, 2023, 4, geoUS, prodLaptops, 99999) // other year, excluded

	rep := agents.NewReportGenerator(wh, meta)
	out, err := rep.Run(context.Background(), "trend_report", models.Params{"year": 2024})
	if err != nil {
		t.Fatalf("trend_report error = %v", err)
	}
	if len(out.Data) != 3 {
		t.Fatalf("len(Data) = %d, want 3 months", len(out.Data))
	}
	if !strings.Contains(out.Summary, "Peak: February") {
		t.Errorf("Summary = %q, want February peak", out.Summary)
	}
	if !strings.Contains(out.Summary, "Slowest: March") {
		t.Errorf("Summary = %q, want March slowest", out.Summary)
	}
}

// ─── format_table ───

func TestFormatTableAppendsTotals(t *testing.T) {
	wh, _, meta := newTestWarehouse(t)
	rep := agents.NewReportGenerator(wh, meta)

	data := []models.Row{
		{"region": "Europe", "total_revenue": 100.0, "avg_margin_pct": 30.0},
		{"region": "Asia Pacific", "total_revenue": 300.0, "avg_margin_pct": 50.0},
	}
	out, err := rep.Run(context.Background(), "format_table", models.Params{
		"data":    data,
		"columns": []any{"region", "total_revenue", "avg_margin_pct"},
	})
	if err != nil {
		t.Fatalf("format_table error = %v", err)
	}
	if len(out.Data) != 3 {
		t.Fatalf("len(Data) = %d, want 2 rows + totals", len(out.Data))
	}
	totals := out.Data[2]
	if got := totals["region"]; got != "TOTAL" {
		t.Errorf("totals label = %v, want TOTAL", got)
	}
	if got := asFloat(t, totals["total_revenue"]); got != 400 {
		t.Errorf("totals revenue = %v, want 400 (summed)", got)
	}
	if got := asFloat(t, totals["avg_margin_pct"]); got != 40 {
		t.Errorf("totals margin = %v, want 40 (averaged, not summed)", got)
	}
}

func TestFormatTableAddsRank(t *testing.T) {
	wh, _, meta := newTestWarehouse(t)
	rep := agents.NewReportGenerator(wh, meta)

	data := []models.Row{
		{"region": "Europe", "total_revenue": 300.0},
		{"region": "Asia Pacific", "total_revenue": 100.0},
	}
	out, err := rep.Run(context.Background(), "format_table", models.Params{
		"data":      data,
		"columns":   []any{"region", "total_revenue"},
		"add_rank":  true,
		"add_total": false,
	})
	if err != nil {
		t.Fatalf("format_table error = %v", err)
	}
	if out.Columns[0] != "rank" {
		t.Errorf("Columns[0] = %q, want rank", out.Columns[0])
	}
	if got := out.Data[0]["rank"]; got != 1 {
		t.Errorf("Data[0].rank = %v, want 1", got)
	}
	if len(out.Data) != 2 {
		t.Errorf("len(Data) = %d, want 2 (no totals row)", len(out.Data))
	}
}

func TestFormatTableDefaultQuery(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2024, 1, geoUS, prodLaptops, 100)
	addSale(t, db, 2024, 2, geoGermany, prodDesks, 200)

	rep := agents.NewReportGenerator(wh, meta)
	out, err := rep.Run(context.Background(), "format_table", models.Params{})
	if err != nil {
		t.Fatalf("format_table error = %v", err)
	}
	// Two region rows plus the totals row from the default breakdown.
	if len(out.Data) != 3 {
		t.Fatalf("len(Data) = %d, want 3", len(out.Data))
	}
	if got := out.Data[0]["region"]; got != "Europe" {
		t.Errorf("Data[0].region = %v, want Europe (highest revenue)", got)
	}
}

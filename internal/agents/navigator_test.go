package agents_test

import (
	"context"
	"errors"
	"testing"

	"github.com/cubeline/cubeline/internal/agents"
	"github.com/cubeline/cubeline/pkg/models"
)

func hierarchyErrKind(t *testing.T, err error) models.ErrorKind {
	t.Helper()
	var engineErr *models.Error
	if !errors.As(err, &engineErr) {
		t.Fatalf("error = %v (%T), want *models.Error", err, err)
	}
	return engineErr.Kind
}

// ─── drill_down ───

func TestDrillDownToQuarter(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2024, 1, geoUS, prodLaptops, 100) // Q1
	addSale(t, db, 2024, 2, geoUS, prodLaptops, 300) // Q1
	addSale(t, db, 2024, 7, geoUS, prodLaptops, 900) // Q3

	nav := agents.NewDimensionNavigator(wh, meta)
	out, err := nav.Run(context.Background(), "drill_down", models.Params{
		"hierarchy": "time",
		"to_level":  "quarter",
		"filters":   map[string]any{"year": 2024},
	})
	if err != nil {
		t.Fatalf("drill_down error = %v", err)
	}
	if len(out.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2 quarters", len(out.Data))
	}
	// Ordered by revenue descending.
	if got := out.Data[0]["quarter"]; got != "Q3" {
		t.Errorf("Data[0].quarter = %v, want Q3", got)
	}
	if got := asFloat(t, out.Data[1]["total_revenue"]); got != 400 {
		t.Errorf("Q1 total_revenue = %v, want 400", got)
	}
}

func TestDrillDownRejectsLevelAtOrAboveFilters(t *testing.T) {
	wh, _, meta := newTestWarehouse(t)
	nav := agents.NewDimensionNavigator(wh, meta)

	// A month filter already fixes the deepest time level.
	_, err := nav.Run(context.Background(), "drill_down", models.Params{
		"hierarchy": "time",
		"to_level":  "quarter",
		"filters":   map[string]any{"month": "January"},
	})
	if err == nil {
		t.Fatal("drill_down below an implied month filter: error = nil, want error")
	}
	if kind := hierarchyErrKind(t, err); kind != models.ErrInvalidHierarchyLevel {
		t.Errorf("error kind = %s, want %s", kind, models.ErrInvalidHierarchyLevel)
	}
}

func TestDrillDownUnknownHierarchyAndLevel(t *testing.T) {
	wh, _, meta := newTestWarehouse(t)
	nav := agents.NewDimensionNavigator(wh, meta)
	ctx := context.Background()

	_, err := nav.Run(ctx, "drill_down", models.Params{"hierarchy": "weather"})
	if kind := hierarchyErrKind(t, err); kind != models.ErrInvalidHierarchyLevel {
		t.Errorf("unknown hierarchy: kind = %s, want %s", kind, models.ErrInvalidHierarchyLevel)
	}

	_, err = nav.Run(ctx, "drill_down", models.Params{
		"hierarchy": "geography",
		"to_level":  "continent",
	})
	if kind := hierarchyErrKind(t, err); kind != models.ErrInvalidHierarchyLevel {
		t.Errorf("unknown level: kind = %s, want %s", kind, models.ErrInvalidHierarchyLevel)
	}
}

// ─── roll_up ───

func TestRollUpToYear(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2023, 3, geoUS, prodLaptops, 100)
	addSale(t, db, 2024, 3, geoUS, prodLaptops, 250)

	nav := agents.NewDimensionNavigator(wh, meta)
	out, err := nav.Run(context.Background(), "roll_up", models.Params{
		"hierarchy": "time",
		"to_level":  "year",
	})
	if err != nil {
		t.Fatalf("roll_up error = %v", err)
	}
	if len(out.Data) != 2 {
		t.Fatalf("len(Data) = %d, want 2 years", len(out.Data))
	}
	if got := asFloat(t, out.Data[0]["year"]); got != 2024 {
		t.Errorf("Data[0].year = %v, want 2024 (highest revenue first)", got)
	}
}

func TestRollUpRejectsFinestLevelWhenUnconstrained(t *testing.T) {
	wh, _, meta := newTestWarehouse(t)
	nav := agents.NewDimensionNavigator(wh, meta)

	_, err := nav.Run(context.Background(), "roll_up", models.Params{
		"hierarchy": "time",
		"to_level":  "month",
	})
	if err == nil {
		t.Fatal("roll_up to the finest level: error = nil, want error")
	}
	if kind := hierarchyErrKind(t, err); kind != models.ErrInvalidHierarchyLevel {
		t.Errorf("error kind = %s, want %s", kind, models.ErrInvalidHierarchyLevel)
	}
}

func TestRollUpRejectsDeeperThanFilters(t *testing.T) {
	wh, _, meta := newTestWarehouse(t)
	nav := agents.NewDimensionNavigator(wh, meta)

	// Filters fix geography at region; rolling "up" to country goes deeper.
	_, err := nav.Run(context.Background(), "roll_up", models.Params{
		"hierarchy": "geography",
		"to_level":  "country",
		"filters":   map[string]any{"region": "Europe"},
	})
	if err == nil {
		t.Fatal("roll_up deeper than the implied level: error = nil, want error")
	}
	if kind := hierarchyErrKind(t, err); kind != models.ErrInvalidHierarchyLevel {
		t.Errorf("error kind = %s, want %s", kind, models.ErrInvalidHierarchyLevel)
	}
}

// ─── group ───

func TestGroupOrdersWithTieBreak(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	addSale(t, db, 2024, 1, geoGermany, prodDesks, 500)
	addSale(t, db, 2024, 1, geoUS, prodLaptops, 500)
	addSale(t, db, 2024, 1, geoJapan, prodLaptops, 900)

	nav := agents.NewDimensionNavigator(wh, meta)
	out, err := nav.Run(context.Background(), "group", models.Params{
		"dimensions": []any{"region"},
	})
	if err != nil {
		t.Fatalf("group error = %v", err)
	}
	want := []string{"Asia Pacific", "Europe", "North America"}
	if len(out.Data) != len(want) {
		t.Fatalf("len(Data) = %d, want %d", len(out.Data), len(want))
	}
	for i, region := range want {
		if got := out.Data[i]["region"]; got != region {
			t.Errorf("Data[%d].region = %v, want %s", i, got, region)
		}
	}
}

func TestGroupByProfitMeasure(t *testing.T) {
	wh, db, meta := newTestWarehouse(t)
	// Europe: more revenue, thin margin. North America: less revenue, fat margin.
	addSaleCost(t, db, 2024, 1, geoGermany, prodDesks, 1000, 950)
	addSaleCost(t, db, 2024, 1, geoUS, prodLaptops, 800, 200)

	nav := agents.NewDimensionNavigator(wh, meta)
	out, err := nav.Run(context.Background(), "group", models.Params{
		"dimension": "region",
		"measure":   "profit",
	})
	if err != nil {
		t.Fatalf("group error = %v", err)
	}
	if got := out.Data[0]["region"]; got != "North America" {
		t.Errorf("Data[0].region = %v, want North America (ordered by profit)", got)
	}
}

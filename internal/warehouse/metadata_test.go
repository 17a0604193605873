package warehouse_test

import (
	"testing"

	"github.com/cubeline/cubeline/internal/warehouse"
)

func TestLoadMetadata(t *testing.T) {
	meta, err := warehouse.LoadMetadata()
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}

	h, ok := meta.Hierarchy("time")
	if !ok {
		t.Fatal("Hierarchy(time) not found")
	}
	if got := h.Levels; len(got) != 3 || got[0] != "year" || got[2] != "month" {
		t.Errorf("time levels = %v, want [year quarter month]", got)
	}
	if idx := h.LevelIndex("quarter"); idx != 1 {
		t.Errorf("LevelIndex(quarter) = %d, want 1", idx)
	}
	if idx := h.LevelIndex("parsec"); idx != -1 {
		t.Errorf("LevelIndex(parsec) = %d, want -1", idx)
	}

	if !meta.IsMeasure("revenue") {
		t.Error("IsMeasure(revenue) = false, want true")
	}
	if meta.IsMeasure("region") {
		t.Error("IsMeasure(region) = true, want false")
	}
	if agg := meta.Aggregate("revenue"); agg != "SUM" {
		t.Errorf("Aggregate(revenue) = %q, want SUM", agg)
	}
	if agg := meta.Aggregate("profit_margin"); agg != "AVG" {
		t.Errorf("Aggregate(profit_margin) = %q, want AVG", agg)
	}
}

func TestImpliedLevel(t *testing.T) {
	meta, err := warehouse.LoadMetadata()
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}

	tests := []struct {
		name      string
		hierarchy string
		filters   map[string]any
		want      int
	}{
		{"no filters", "time", map[string]any{}, -1},
		{"year only", "time", map[string]any{"year": "2024"}, 0},
		{"year and quarter", "time", map[string]any{"year": "2024", "quarter": "Q2"}, 1},
		{"month implies deepest", "time", map[string]any{"month": "March"}, 2},
		{"region", "geography", map[string]any{"region": "Europe"}, 0},
		{"unrelated filter", "geography", map[string]any{"year": "2024"}, -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, ok := meta.Hierarchy(tt.hierarchy)
			if !ok {
				t.Fatalf("Hierarchy(%s) not found", tt.hierarchy)
			}
			if got := meta.ImpliedLevel(h, tt.filters); got != tt.want {
				t.Errorf("ImpliedLevel(%s, %v) = %d, want %d", tt.hierarchy, tt.filters, got, tt.want)
			}
		})
	}
}

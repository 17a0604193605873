package agents_test

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cubeline/cubeline/internal/config"
	"github.com/cubeline/cubeline/internal/warehouse"
)

// testEngineConfig mirrors the production defaults so threshold behavior in
// tests matches what the server runs with.
func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		StepTimeout:       30 * time.Second,
		ContextTurns:      6,
		DrillThroughLimit: 100,
		AnomalyZThreshold: 2.0,
		AnomalyIQRFactor:  1.5,
		AnomalyMinSamples: 4,
	}
}

// newTestWarehouse opens an empty bootstrapped warehouse in a temp dir and a
// raw handle on the same file for inserting fixture rows.
func newTestWarehouse(t *testing.T) (*warehouse.Warehouse, *sql.DB, *warehouse.Metadata) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agents.db")
	wh, err := warehouse.Open(path)
	if err != nil {
		t.Fatalf("warehouse.Open() error = %v", err)
	}
	t.Cleanup(func() { wh.Close() })
	if err := wh.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	meta, err := warehouse.LoadMetadata()
	if err != nil {
		t.Fatalf("LoadMetadata() error = %v", err)
	}
	seedDimensions(t, db)
	return wh, db, meta
}

// Fixed dimension keys used by the fixtures.
const (
	geoUS      = 1 // North America / United States
	geoGermany = 2 // Europe / Germany
	geoJapan   = 3 // Asia Pacific / Japan

	prodLaptops = 1 // Electronics / Laptops
	prodDesks   = 2 // Furniture / Desks

	custConsumer = 1
)

func seedDimensions(t *testing.T, db *sql.DB) {
	t.Helper()
	exec := func(query string, args ...any) {
		t.Helper()
		if _, err := db.Exec(query, args...); err != nil {
			t.Fatalf("fixture exec %q: %v", query, err)
		}
	}
	for y := 2022; y <= 2024; y++ {
		for m := 1; m <= 12; m++ {
			exec(`INSERT INTO dim_date
				(date_key, full_date, year, quarter, quarter_num, month, month_name, week_of_year, day_of_week, is_weekend)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				dateKey(y, m), fmt.Sprintf("%04d-%02d-15", y, m),
				y, fmt.Sprintf("Q%d", (m-1)/3+1), (m-1)/3+1,
				m, time.Month(m).String(), (m-1)*4+2, 2, 0)
		}
	}
	exec(`INSERT INTO dim_geography (geo_key, region, country) VALUES
		(?, 'North America', 'United States'), (?, 'Europe', 'Germany'), (?, 'Asia Pacific', 'Japan')`,
		geoUS, geoGermany, geoJapan)
	exec(`INSERT INTO dim_product (product_key, category, subcategory) VALUES
		(?, 'Electronics', 'Laptops'), (?, 'Furniture', 'Desks')`,
		prodLaptops, prodDesks)
	exec(`INSERT INTO dim_customer (customer_key, customer_segment) VALUES (?, 'Consumer')`, custConsumer)
}

func dateKey(year, month int) int { return year*10000 + month*100 + 15 }

var nextSaleID = 0

// addSale inserts a single fact row with a 30% margin.
func addSale(t *testing.T, db *sql.DB, year, month, geoKey, productKey int, revenue float64) {
	t.Helper()
	addSaleCost(t, db, year, month, geoKey, productKey, revenue, revenue*0.7)
}

// addSaleCost inserts a fact row with an explicit cost so margins can be
// controlled per row.
func addSaleCost(t *testing.T, db *sql.DB, year, month, geoKey, productKey int, revenue, cost float64) {
	t.Helper()
	nextSaleID++
	profit := revenue - cost
	margin := 0.0
	if revenue != 0 {
		margin = profit / revenue * 100
	}
	_, err := db.Exec(`INSERT INTO fact_sales
		(sale_id, order_id, date_key, geo_key, product_key, customer_key, quantity, unit_price, revenue, cost, profit, profit_margin)
		VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		nextSaleID, fmt.Sprintf("ORD-%05d", nextSaleID),
		dateKey(year, month), geoKey, productKey, custConsumer,
		revenue, revenue, cost, profit, margin)
	if err != nil {
		t.Fatalf("insert fact: %v", err)
	}
}

// asFloat unwraps a numeric column regardless of the driver's scan type.
func asFloat(t *testing.T, v any) float64 {
	t.Helper()
	switch n := v.(type) {
	case float64:
		return n
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		t.Fatalf("value %v (%T) is not numeric", v, v)
		return 0
	}
}

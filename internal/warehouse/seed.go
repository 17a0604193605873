package warehouse

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"
)

// Synthetic global retail catalog used when the warehouse starts empty.
// Order matters: the generator is deterministic for a fixed RNG seed.

type seedRegion struct {
	name      string
	countries []string
}

type seedProduct struct {
	subcategory string
	minPrice    float64
	maxPrice    float64
}

type seedCategory struct {
	name     string
	margin   float64
	products []seedProduct
}

var seedRegions = []seedRegion{
	{"North America", []string{"United States", "Canada", "Mexico"}},
	{"Europe", []string{"Germany", "United Kingdom", "France", "Spain", "Italy"}},
	{"Asia Pacific", []string{"Japan", "Australia", "China", "India", "Singapore"}},
	{"Latin America", []string{"Brazil", "Argentina", "Colombia", "Chile"}},
}

var seedCategories = []seedCategory{
	{"Electronics", 0.22, []seedProduct{
		{"Laptops", 800, 2500},
		{"Smartphones", 400, 1200},
		{"Tablets", 300, 900},
		{"Headphones", 50, 400},
		{"Monitors", 200, 800},
	}},
	{"Furniture", 0.35, []seedProduct{
		{"Office Chairs", 150, 800},
		{"Desks", 200, 1200},
		{"Bookcases", 100, 500},
		{"Storage", 80, 400},
	}},
	{"Office Supplies", 0.45, []seedProduct{
		{"Paper & Notebooks", 10, 80},
		{"Pens & Pencils", 5, 40},
		{"Binders & Files", 15, 60},
		{"Printer Supplies", 20, 150},
	}},
	{"Clothing", 0.55, []seedProduct{
		{"Shirts", 30, 150},
		{"Pants", 40, 200},
		{"Jackets", 80, 400},
		{"Accessories", 15, 100},
	}},
}

var seedSegments = []string{"Consumer", "Corporate", "Home Office"}

// SeedIfEmpty populates an empty warehouse with n synthetic transactions
// spanning January 2022 through December 2024. A populated warehouse is left
// untouched.
func (w *Warehouse) SeedIfEmpty(ctx context.Context, n int, seed int64) error {
	count, err := w.FactCount(ctx)
	if err != nil {
		return fmt.Errorf("check fact count: %w", err)
	}
	if count > 0 || n <= 0 {
		log.Info().Int64("records", count).Msg("warehouse ready")
		return nil
	}
	if err := w.seed(ctx, n, seed); err != nil {
		return err
	}
	log.Info().Int("records", n).Msg("warehouse seeded")
	return nil
}

func (w *Warehouse) seed(ctx context.Context, n int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin seed tx: %w", err)
	}
	defer tx.Rollback()

	// Dimension rows first, with stable surrogate keys.
	geoKeys := map[string]int64{}
	var nextGeo int64 = 1
	for _, r := range seedRegions {
		for _, c := range r.countries {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO dim_geography(geo_key, region, country) VALUES(?,?,?)",
				nextGeo, r.name, c); err != nil {
				return fmt.Errorf("seed dim_geography: %w", err)
			}
			geoKeys[r.name+"|"+c] = nextGeo
			nextGeo++
		}
	}

	prodKeys := map[string]int64{}
	var nextProd int64 = 1
	for _, cat := range seedCategories {
		for _, p := range cat.products {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO dim_product(product_key, category, subcategory) VALUES(?,?,?)",
				nextProd, cat.name, p.subcategory); err != nil {
				return fmt.Errorf("seed dim_product: %w", err)
			}
			prodKeys[cat.name+"|"+p.subcategory] = nextProd
			nextProd++
		}
	}

	custKeys := map[string]int64{}
	for i, seg := range seedSegments {
		key := int64(i + 1)
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO dim_customer(customer_key, customer_segment) VALUES(?,?)",
			key, seg); err != nil {
			return fmt.Errorf("seed dim_customer: %w", err)
		}
		custKeys[seg] = key
	}

	start := time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)
	spanDays := int(end.Sub(start).Hours() / 24)

	dateStmt, err := tx.PrepareContext(ctx, `
		INSERT OR IGNORE INTO dim_date
		(date_key, full_date, year, quarter, quarter_num, month, month_name, week_of_year, day_of_week, is_weekend)
		VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare dim_date insert: %w", err)
	}
	defer dateStmt.Close()

	factStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO fact_sales
		(sale_id, order_id, date_key, geo_key, product_key, customer_key,
		 quantity, unit_price, revenue, cost, profit, profit_margin)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare fact insert: %w", err)
	}
	defer factStmt.Close()

	for i := 0; i < n; i++ {
		date := start.AddDate(0, 0, rng.Intn(spanDays+1))
		dateKey := int64(date.Year()*10000 + int(date.Month())*100 + date.Day())
		quarterNum := (int(date.Month())-1)/3 + 1
		_, isoWeek := date.ISOWeek()
		// Monday = 0, matching the calendar convention of the dataset.
		dow := (int(date.Weekday()) + 6) % 7

		if _, err := dateStmt.ExecContext(ctx,
			dateKey, date.Format("2006-01-02"), date.Year(),
			fmt.Sprintf("Q%d", quarterNum), quarterNum,
			int(date.Month()), date.Month().String(),
			isoWeek, dow, boolToInt(dow >= 5)); err != nil {
			return fmt.Errorf("seed dim_date: %w", err)
		}

		region := seedRegions[rng.Intn(len(seedRegions))]
		country := region.countries[rng.Intn(len(region.countries))]
		cat := seedCategories[rng.Intn(len(seedCategories))]
		prod := cat.products[rng.Intn(len(cat.products))]

		unitPrice := round2(prod.minPrice + rng.Float64()*(prod.maxPrice-prod.minPrice))
		quantity := rng.Intn(10) + 1
		revenue := round2(unitPrice * float64(quantity))
		margin := cat.margin + (rng.Float64()-0.5)*0.1
		cost := round2(revenue * (1 - margin))
		profit := round2(revenue - cost)
		profitMargin := round2(profit / revenue * 100)
		segment := seedSegments[rng.Intn(len(seedSegments))]

		if _, err := factStmt.ExecContext(ctx,
			int64(i+1), fmt.Sprintf("ORD-%d", 10001+i),
			dateKey, geoKeys[region.name+"|"+country],
			prodKeys[cat.name+"|"+prod.subcategory], custKeys[segment],
			quantity, unitPrice, revenue, cost, profit, profitMargin); err != nil {
			return fmt.Errorf("seed fact_sales: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit seed: %w", err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}

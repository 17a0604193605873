package warehouse

import (
	"context"
	"fmt"
)

// schemaDDL creates the star schema: one fact table, four dimension tables,
// and a denormalized view for ad-hoc inspection. All SQL is ANSI-compatible.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS dim_date (
	date_key     INTEGER PRIMARY KEY,
	full_date    TEXT NOT NULL,
	year         INTEGER NOT NULL,
	quarter      TEXT NOT NULL,
	quarter_num  INTEGER NOT NULL,
	month        INTEGER NOT NULL,
	month_name   TEXT NOT NULL,
	week_of_year INTEGER NOT NULL,
	day_of_week  INTEGER NOT NULL,
	is_weekend   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS dim_geography (
	geo_key INTEGER PRIMARY KEY,
	region  TEXT NOT NULL,
	country TEXT NOT NULL,
	UNIQUE(region, country)
);

CREATE TABLE IF NOT EXISTS dim_product (
	product_key INTEGER PRIMARY KEY,
	category    TEXT NOT NULL,
	subcategory TEXT NOT NULL,
	UNIQUE(category, subcategory)
);

CREATE TABLE IF NOT EXISTS dim_customer (
	customer_key     INTEGER PRIMARY KEY,
	customer_segment TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS fact_sales (
	sale_id       INTEGER PRIMARY KEY,
	order_id      TEXT NOT NULL,
	date_key      INTEGER NOT NULL REFERENCES dim_date(date_key),
	geo_key       INTEGER NOT NULL REFERENCES dim_geography(geo_key),
	product_key   INTEGER NOT NULL REFERENCES dim_product(product_key),
	customer_key  INTEGER NOT NULL REFERENCES dim_customer(customer_key),
	quantity      INTEGER NOT NULL,
	unit_price    REAL NOT NULL,
	revenue       REAL NOT NULL,
	cost          REAL NOT NULL,
	profit        REAL NOT NULL,
	profit_margin REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fact_date     ON fact_sales(date_key);
CREATE INDEX IF NOT EXISTS idx_fact_geo      ON fact_sales(geo_key);
CREATE INDEX IF NOT EXISTS idx_fact_product  ON fact_sales(product_key);
CREATE INDEX IF NOT EXISTS idx_fact_customer ON fact_sales(customer_key);

CREATE VIEW IF NOT EXISTS v_sales_full AS
SELECT
	f.order_id,
	d.full_date   AS order_date,
	d.year,
	d.quarter,
	d.quarter_num,
	d.month,
	d.month_name,
	g.region,
	g.country,
	p.category,
	p.subcategory,
	c.customer_segment,
	f.quantity,
	f.unit_price,
	f.revenue,
	f.cost,
	f.profit,
	f.profit_margin
FROM fact_sales f
JOIN dim_date      d ON f.date_key     = d.date_key
JOIN dim_geography g ON f.geo_key      = g.geo_key
JOIN dim_product   p ON f.product_key  = p.product_key
JOIN dim_customer  c ON f.customer_key = c.customer_key;
`

// Bootstrap creates the star schema if it does not exist yet.
func (w *Warehouse) Bootstrap(ctx context.Context) error {
	if _, err := w.db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	return nil
}

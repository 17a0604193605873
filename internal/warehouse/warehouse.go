// Package warehouse provides read access to the star-schema sales warehouse:
// a fact_sales table joined to four dimension tables, stored in SQLite
// (modernc.org/sqlite, pure Go). The engine and agents only ever read from
// it; schema bootstrap and seeding exist so a fresh install answers queries
// immediately.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/cubeline/cubeline/pkg/models"
)

// Querier is the read-only query interface the agents depend on. All queries
// are parameterized; user-supplied values never reach the SQL text.
type Querier interface {
	Query(ctx context.Context, query string, args ...any) ([]models.Row, []string, error)
}

// Warehouse is the SQLite-backed star-schema accessor.
type Warehouse struct {
	db *sql.DB
}

// Open opens (or creates) the warehouse database at path.
func Open(path string) (*Warehouse, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open warehouse: %w", err)
	}
	// WAL allows concurrent readers across engine turns.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	return &Warehouse{db: db}, nil
}

// Close closes the underlying database.
func (w *Warehouse) Close() error {
	return w.db.Close()
}

// Ping verifies the database is reachable.
func (w *Warehouse) Ping(ctx context.Context) error {
	return w.db.PingContext(ctx)
}

// Query runs a parameterized read query and returns the rows plus the column
// order reported by the driver.
func (w *Warehouse) Query(ctx context.Context, query string, args ...any) ([]models.Row, []string, error) {
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, nil, fmt.Errorf("warehouse query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, nil, fmt.Errorf("read columns: %w", err)
	}

	var out []models.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(models.Row, len(cols))
		for i, col := range cols {
			row[col] = normalize(values[i])
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, cols, nil
}

// FactCount returns the number of rows in fact_sales.
func (w *Warehouse) FactCount(ctx context.Context) (int64, error) {
	var n int64
	err := w.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM fact_sales").Scan(&n)
	return n, err
}

// normalize maps driver values to plain JSON-friendly types.
func normalize(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

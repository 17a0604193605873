package agents

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// baseFrom joins the fact table to all four dimensions. Every aggregate
// query shares it so dimension attributes are always addressable.
const baseFrom = `FROM fact_sales f
JOIN dim_date      d ON f.date_key     = d.date_key
JOIN dim_geography g ON f.geo_key      = g.geo_key
JOIN dim_product   p ON f.product_key  = p.product_key
JOIN dim_customer  c ON f.customer_key = c.customer_key`

// measureSelect is the standard aggregate block shared by grouped queries.
const measureSelect = `ROUND(SUM(f.revenue), 2)       AS total_revenue,
ROUND(SUM(f.profit), 2)        AS total_profit,
ROUND(AVG(f.profit_margin), 2) AS avg_margin,
SUM(f.quantity)                AS total_qty,
COUNT(*)                       AS transactions`

// numericAttrs are dimension attributes stored as integers; string filter
// values for them are coerced so comparisons match the column type.
var numericAttrs = map[string]bool{"year": true, "month_num": true}

// buildWhere renders a parameterized WHERE clause from a filter mapping.
// Scalar values become equality predicates, slices become IN lists (OR
// within the dimension), and {"gte": v} / {"lte": v} become range bounds.
// Predicates are AND'd across dimensions. Unknown attributes are skipped.
// Keys are processed in sorted order so the SQL text is deterministic.
func buildWhere(meta *warehouse.Metadata, filters map[string]any) (string, []any) {
	if len(filters) == 0 {
		return "", nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conditions []string
	var args []any
	for _, key := range keys {
		col, ok := meta.Column(key)
		if !ok {
			continue
		}
		switch val := filters[key].(type) {
		case []any:
			if len(val) == 0 {
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(val)), ",")
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", col, placeholders))
			for _, v := range val {
				args = append(args, coerceFilterValue(key, v))
			}
		case []string:
			if len(val) == 0 {
				continue
			}
			placeholders := strings.TrimSuffix(strings.Repeat("?,", len(val)), ",")
			conditions = append(conditions, fmt.Sprintf("%s IN (%s)", col, placeholders))
			for _, v := range val {
				args = append(args, coerceFilterValue(key, v))
			}
		case map[string]any:
			if v, ok := val["gte"]; ok {
				conditions = append(conditions, col+" >= ?")
				args = append(args, coerceFilterValue(key, v))
			}
			if v, ok := val["lte"]; ok {
				conditions = append(conditions, col+" <= ?")
				args = append(args, coerceFilterValue(key, v))
			}
		default:
			conditions = append(conditions, col+" = ?")
			args = append(args, coerceFilterValue(key, val))
		}
	}
	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

// coerceFilterValue converts string values to integers for numeric columns
// so "2024" matches an INTEGER year.
func coerceFilterValue(attr string, v any) any {
	if !numericAttrs[attr] {
		return v
	}
	switch val := v.(type) {
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	case float64:
		return int(val)
	}
	return v
}

// groupedQuery renders the standard grouped aggregate query over the given
// SQL group columns, ordered by orderBy (already an alias or column list).
func groupedQuery(groupCols []string, where, orderBy string) string {
	selectCols := strings.Join(groupCols, ", ")
	sql := fmt.Sprintf("SELECT %s,\n%s\n%s", selectCols, measureSelect, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += fmt.Sprintf("\nGROUP BY %s\nORDER BY %s", selectCols, orderBy)
	return sql
}

// filterDesc renders a filter mapping for summaries, in sorted key order.
func filterDesc(filters map[string]any) string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, filters[k]))
	}
	return strings.Join(parts, ", ")
}

// rowFloat reads a numeric column from a row, tolerating driver int64s.
func rowFloat(row models.Row, col string) float64 {
	f, _ := models.Float64(row[col])
	return f
}

// rowString renders any column value as a string.
func rowString(row models.Row, col string) string {
	if row[col] == nil {
		return ""
	}
	return fmt.Sprintf("%v", row[col])
}

// sumColumn totals a numeric column over rows.
func sumColumn(rows []models.Row, col string) float64 {
	var total float64
	for _, row := range rows {
		total += rowFloat(row, col)
	}
	return total
}

func fmtCurrency(v float64) string {
	return "$" + groupThousands(fmt.Sprintf("%.2f", v))
}

func fmtPct(v float64) string {
	return fmt.Sprintf("%.2f%%", v)
}

// groupThousands inserts comma separators into a formatted decimal.
func groupThousands(s string) string {
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	intPart, frac, found := strings.Cut(s, ".")
	var b strings.Builder
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := b.String()
	if found {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out
}

// round2 rounds to two decimals for computed (non-SQL) metrics.
func round2(v float64) float64 {
	if v < 0 {
		return float64(int64(v*100-0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

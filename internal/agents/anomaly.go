package agents

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/cubeline/cubeline/internal/config"
	"github.com/cubeline/cubeline/internal/warehouse"
	"github.com/cubeline/cubeline/pkg/models"
)

// AnomalyDetection flags statistical outliers in revenue series. A point is
// anomalous when its z-score magnitude exceeds the configured threshold or
// when it falls outside the Tukey fences [Q1 - k*IQR, Q3 + k*IQR]; each
// flagged point is tagged with the method(s) that triggered it. Below the
// minimum sample size no point is flagged at all.
type AnomalyDetection struct {
	q          warehouse.Querier
	meta       *warehouse.Metadata
	zThreshold float64
	iqrFactor  float64
	minSamples int
}

func NewAnomalyDetection(q warehouse.Querier, meta *warehouse.Metadata, cfg config.EngineConfig) *AnomalyDetection {
	return &AnomalyDetection{
		q:          q,
		meta:       meta,
		zThreshold: cfg.AnomalyZThreshold,
		iqrFactor:  cfg.AnomalyIQRFactor,
		minSamples: cfg.AnomalyMinSamples,
	}
}

func (a *AnomalyDetection) Name() string { return NameAnomalyDetection }

func (a *AnomalyDetection) Operations() []string {
	return []string{"monthly_anomaly", "product_anomaly"}
}

func (a *AnomalyDetection) Run(ctx context.Context, operation string, params models.Params) (*models.AgentOutput, error) {
	switch operation {
	case "monthly_anomaly":
		return a.monthlyAnomaly(ctx, params)
	case "product_anomaly":
		return a.productAnomaly(ctx, params)
	default:
		return nil, models.NewError(models.ErrInvalidPlan, -1, "unknown %s operation %q", a.Name(), operation)
	}
}

func (a *AnomalyDetection) monthlyAnomaly(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	filters := params.Map("filters")
	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT d.year, d.month, d.month_name,
ROUND(SUM(f.revenue), 2) AS monthly_revenue
%s`, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += "\nGROUP BY d.year, d.month, d.month_name\nORDER BY d.year, d.month"

	raw, _, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "monthly_anomaly query: %v", err)
	}

	rows, flagged, stats := a.score(raw, "monthly_revenue")
	cols := []string{"year", "month", "month_name", "monthly_revenue", "z_score", "anomaly", "methods"}

	summary := a.describe("monthly revenue", len(raw), flagged, stats)
	if len(flagged) > 0 {
		worst := flagged[0]
		summary += fmt.Sprintf(" Most extreme: %s %v (z=%v).",
			rowString(worst, "month_name"), worst["year"], worst["z_score"])
	}

	out := output(a.Name(), "monthly_anomaly", rows, cols, summary, sql)
	out.Metadata["threshold_z"] = a.zThreshold
	out.Metadata["anomaly_count"] = len(flagged)
	return out, nil
}

func (a *AnomalyDetection) productAnomaly(ctx context.Context, params models.Params) (*models.AgentOutput, error) {
	filters := params.Map("filters")
	where, args := buildWhere(a.meta, filters)
	sql := fmt.Sprintf(`SELECT p.category, p.subcategory,
ROUND(SUM(f.revenue), 2) AS total_revenue,
ROUND(AVG(f.profit_margin), 2) AS avg_margin
%s`, baseFrom)
	if where != "" {
		sql += "\n" + where
	}
	sql += "\nGROUP BY p.category, p.subcategory\nORDER BY p.category, p.subcategory"

	raw, _, err := a.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, models.NewError(models.ErrAgentExecution, -1, "product_anomaly query: %v", err)
	}

	rows, flagged, stats := a.score(raw, "total_revenue")
	cols := []string{"category", "subcategory", "total_revenue", "avg_margin", "z_score", "anomaly", "methods"}

	summary := a.describe("per-product revenue", len(raw), flagged, stats)
	if len(flagged) > 0 {
		worst := flagged[0]
		summary += fmt.Sprintf(" Most extreme: %s / %s (z=%v).",
			rowString(worst, "category"), rowString(worst, "subcategory"), worst["z_score"])
	}

	out := output(a.Name(), "product_anomaly", rows, cols, summary, sql)
	out.Metadata["threshold_z"] = a.zThreshold
	out.Metadata["anomaly_count"] = len(flagged)
	return out, nil
}

type seriesStats struct {
	mean, std    float64
	lower, upper float64
	scored       bool
}

// score annotates each row with its z-score, the anomaly flag, and the
// method tags. The flagged slice is ordered by |z| descending. With fewer
// than minSamples points nothing is flagged and z_score stays undefined.
func (a *AnomalyDetection) score(raw []models.Row, valueCol string) ([]models.Row, []models.Row, seriesStats) {
	values := make([]float64, len(raw))
	for i, r := range raw {
		values[i] = rowFloat(r, valueCol)
	}

	rows := make([]models.Row, len(raw))
	for i, r := range raw {
		row := make(models.Row, len(r)+3)
		for k, v := range r {
			row[k] = v
		}
		row["z_score"] = nil
		row["anomaly"] = false
		row["methods"] = ""
		rows[i] = row
	}

	if len(values) < a.minSamples {
		return rows, nil, seriesStats{}
	}

	m := mean(values)
	sd := sampleStddev(values, m)
	q1 := quantile(values, 0.25)
	q3 := quantile(values, 0.75)
	iqr := q3 - q1
	lower := q1 - a.iqrFactor*iqr
	upper := q3 + a.iqrFactor*iqr

	var flagged []models.Row
	for i, v := range values {
		var methods []string
		var z float64
		if sd > 0 {
			z = roundTo(v-m, sd, 3)
			rows[i]["z_score"] = z
			if math.Abs(z) > a.zThreshold {
				methods = append(methods, "z_score")
			}
		}
		if v < lower || v > upper {
			methods = append(methods, "iqr")
		}
		if len(methods) > 0 {
			rows[i]["anomaly"] = true
			rows[i]["methods"] = strings.Join(methods, ",")
			flagged = append(flagged, rows[i])
		}
	}
	sort.SliceStable(flagged, func(i, j int) bool {
		zi, _ := models.Float64(flagged[i]["z_score"])
		zj, _ := models.Float64(flagged[j]["z_score"])
		return math.Abs(zi) > math.Abs(zj)
	})

	return rows, flagged, seriesStats{mean: m, std: sd, lower: lower, upper: upper, scored: true}
}

func (a *AnomalyDetection) describe(series string, n int, flagged []models.Row, stats seriesStats) string {
	if !stats.scored {
		return fmt.Sprintf("Only %d %s points; at least %d needed for anomaly scoring. No anomalies flagged.",
			n, series, a.minSamples)
	}
	return fmt.Sprintf("Detected %d %s anomalies (|z| > %.1f or outside [%.2f, %.2f]). Mean: %s, Std: %s.",
		len(flagged), series, a.zThreshold, stats.lower, stats.upper,
		fmtCurrency(stats.mean), fmtCurrency(stats.std))
}

// roundTo rounds (v / d) after the division to the given decimal places.
func roundTo(v, d float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v/d*p) / p
}

func mean(values []float64) float64 {
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// sampleStddev uses the n-1 denominator.
func sampleStddev(values []float64, m float64) float64 {
	if len(values) < 2 {
		return 0
	}
	var sum float64
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(values)-1))
}

// quantile computes the q-th quantile with linear interpolation between
// order statistics.
func quantile(values []float64, q float64) float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

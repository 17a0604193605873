package agents

import (
	"context"
	"fmt"

	"github.com/cubeline/cubeline/pkg/models"
)

// chartRules maps the operation that produced the data to a chart type.
// Checked before the shape heuristics.
var chartRules = map[string]models.ChartType{
	"trend_report":    models.ChartLine,
	"mom_change":      models.ChartLine,
	"yoy_growth":      models.ChartBar,
	"top_n":           models.ChartBar,
	"compare_periods": models.ChartGroupedBar,
	"slice":           models.ChartBar,
	"dice":            models.ChartBar,
	"profit_margins":  models.ChartBar,
	"pivot":           models.ChartHeatmap,
	"group":           models.ChartBar,
	"drill_down":      models.ChartBar,
	"roll_up":         models.ChartBar,
}

// timeColumns mark a time dimension in the data; their presence biases the
// shape heuristics toward a line chart.
var timeColumns = map[string]bool{"month": true, "month_name": true, "year": true}

// Visualization selects a chart type for a result shape and emits a
// declarative chart specification. It issues no queries and renders nothing.
type Visualization struct{}

func NewVisualization() *Visualization { return &Visualization{} }

func (a *Visualization) Name() string { return NameVisualization }

func (a *Visualization) Operations() []string { return []string{"visualize"} }

func (a *Visualization) Run(_ context.Context, operation string, params models.Params) (*models.AgentOutput, error) {
	if operation != "visualize" {
		return nil, models.NewError(models.ErrInvalidPlan, -1, "unknown %s operation %q", a.Name(), operation)
	}

	data := params.Rows("data")
	cols := params.Strings("columns")
	sourceOp := params.String("source_operation", "")
	title := params.String("title", "Analysis")

	if len(cols) == 0 && len(data) > 0 {
		cols = inferColumns(data[0])
	}
	labelCols, numericCols := splitColumns(data, cols)

	chartType := recommendChart(sourceOp, len(data), labelCols, numericCols)
	spec := buildChartSpec(chartType, title, data, labelCols, numericCols,
		params.String("x_col", ""), params.String("y_col", ""))

	summary := fmt.Sprintf("Recommended chart: %s for operation '%s'.", chartType, sourceOp)
	out := output(a.Name(), "visualize", data, cols, summary)
	out.Metadata["chart_type"] = chartType
	out.Metadata["chart"] = spec
	return out, nil
}

// splitColumns partitions columns into label and numeric sets based on the
// first row carrying a value for each.
func splitColumns(data []models.Row, cols []string) ([]string, []string) {
	var labels, numbers []string
	for _, col := range cols {
		numeric := false
		for _, row := range data {
			if row[col] == nil {
				continue
			}
			_, numeric = models.Float64(row[col])
			break
		}
		if numeric {
			numbers = append(numbers, col)
		} else {
			labels = append(labels, col)
		}
	}
	return labels, numbers
}

// recommendChart applies the operation rules first, then shape heuristics:
// a time dimension suggests a line, few categories with one measure a pie,
// long single-measure series a line, many measures a heatmap.
func recommendChart(sourceOp string, nRows int, labelCols, numericCols []string) models.ChartType {
	if nRows == 0 {
		return models.ChartBar
	}
	if t, ok := chartRules[sourceOp]; ok {
		return t
	}
	for _, col := range labelCols {
		if timeColumns[col] {
			return models.ChartLine
		}
	}
	switch {
	case nRows <= 5 && len(numericCols) == 1:
		return models.ChartPie
	case nRows > 12 && len(numericCols) == 1:
		return models.ChartLine
	case len(numericCols) > 3:
		return models.ChartHeatmap
	default:
		return models.ChartBar
	}
}

// buildChartSpec binds axes and extracts the series values.
func buildChartSpec(chartType models.ChartType, title string, data []models.Row,
	labelCols, numericCols []string, xCol, yCol string) *models.ChartSpec {

	spec := &models.ChartSpec{Type: chartType, Title: title}
	if len(data) == 0 {
		return spec
	}

	if xCol == "" {
		if len(labelCols) > 0 {
			xCol = labelCols[0]
		} else if len(numericCols) > 0 {
			xCol = numericCols[0]
		}
	}
	if yCol == "" && len(numericCols) > 0 {
		yCol = numericCols[0]
	}
	spec.XAxis = xCol
	spec.YAxis = yCol

	for _, row := range data {
		spec.Labels = append(spec.Labels, rowString(row, xCol))
	}

	seriesCols := []string{yCol}
	if chartType == models.ChartGroupedBar || chartType == models.ChartHeatmap {
		// All numeric columns become series, capped at four.
		seriesCols = numericCols
		if len(seriesCols) > 4 {
			seriesCols = seriesCols[:4]
		}
	}
	for _, col := range seriesCols {
		if col == "" {
			continue
		}
		series := models.ChartSeries{Name: col, Values: make([]float64, 0, len(data))}
		for _, row := range data {
			v, _ := models.Float64(row[col])
			series.Values = append(series.Values, v)
		}
		spec.Series = append(spec.Series, series)
	}
	return spec
}

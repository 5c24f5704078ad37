package report

import "math"

const vegaLiteSchema = "https://vega.github.io/schema/vega-lite/v4.json"

// Spec is a Vega-Lite chart definition.
type Spec map[string]any

// num maps NaN to JSON null.
func num(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// HeatmapSpec plots regressor value by scan time.
func HeatmapSpec(dm *DesignMatrix) Spec {
	values := make([]map[string]any, 0, len(dm.Rows)*len(dm.Columns))
	for s, row := range dm.Rows {
		for c, name := range dm.Columns {
			values = append(values, map[string]any{
				"scan":      s,
				"time":      float64(s) * dm.TR,
				"regressor": name,
				"value":     num(row[c]),
			})
		}
	}
	return Spec{
		"$schema": vegaLiteSchema,
		"data":    map[string]any{"values": values},
		"mark":    "rect",
		"width":   max(100, 25*len(dm.Columns)),
		"height":  400,
		"encoding": map[string]any{
			"x": map[string]any{"field": "regressor", "type": "nominal", "sort": dm.Columns},
			"y": map[string]any{"field": "time", "type": "ordinal", "title": "time (s)", "axis": map[string]any{"labelOverlap": true}},
			"color": map[string]any{
				"field": "value",
				"type":  "quantitative",
				"scale": map[string]any{"scheme": "viridis"},
			},
			"tooltip": []map[string]any{
				{"field": "regressor", "type": "nominal"},
				{"field": "time", "type": "quantitative"},
				{"field": "value", "type": "quantitative"},
			},
		},
	}
}

// CorrelationSpec plots the pairwise correlation of regressors.
func CorrelationSpec(columns []string, corr [][]float64) Spec {
	values := make([]map[string]any, 0, len(columns)*len(columns))
	for i, a := range columns {
		for j, b := range columns {
			values = append(values, map[string]any{
				"variable":  a,
				"variable2": b,
				"r":         num(corr[i][j]),
			})
		}
	}
	return Spec{
		"$schema": vegaLiteSchema,
		"data":    map[string]any{"values": values},
		"mark":    "rect",
		"width":   max(100, 25*len(columns)),
		"height":  max(100, 25*len(columns)),
		"encoding": map[string]any{
			"x": map[string]any{"field": "variable", "type": "nominal", "sort": columns},
			"y": map[string]any{"field": "variable2", "type": "nominal", "sort": columns},
			"color": map[string]any{
				"field": "r",
				"type":  "quantitative",
				"scale": map[string]any{"domain": []float64{-1, 1}, "scheme": "redblue"},
			},
			"tooltip": []map[string]any{
				{"field": "variable", "type": "nominal"},
				{"field": "variable2", "type": "nominal"},
				{"field": "r", "type": "quantitative", "format": ".2f"},
			},
		},
	}
}

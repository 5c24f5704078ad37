package report

import "math"

// Confounds whose first scan is undefined by construction.
var firstSampleImputed = map[string]bool{
	"framewise_displacement": true,
	"std_dvars":              true,
	"dvars":                  true,
}

// Impute fills a NaN first sample of allow-listed confounds with the mean
// of the remaining non-zero values. Every other gap stays NaN.
func Impute(dm *DesignMatrix) {
	if len(dm.Rows) == 0 {
		return
	}
	for c, name := range dm.Columns {
		if !firstSampleImputed[name] || !math.IsNaN(dm.Rows[0][c]) {
			continue
		}
		sum, n := 0.0, 0
		for _, row := range dm.Rows[1:] {
			if v := row[c]; !math.IsNaN(v) && v != 0 {
				sum += v
				n++
			}
		}
		if n > 0 {
			dm.Rows[0][c] = sum / float64(n)
		}
	}
}

// Scale z-scores each column over its defined values. Constant columns become zero.
func Scale(dm *DesignMatrix) {
	for c := range dm.Columns {
		col := dm.Column(c)
		mean := nanMean(col)
		if math.IsNaN(mean) {
			continue
		}
		ss, n := 0.0, 0
		for _, v := range col {
			if !math.IsNaN(v) {
				ss += (v - mean) * (v - mean)
				n++
			}
		}
		std := 0.0
		if n > 1 {
			std = math.Sqrt(ss / float64(n-1))
		}
		for _, row := range dm.Rows {
			if math.IsNaN(row[c]) {
				continue
			}
			if std == 0 {
				row[c] = 0
			} else {
				row[c] = (row[c] - mean) / std
			}
		}
	}
}

// Correlation returns the Pearson correlation matrix of the columns,
// ignoring rows where either value is NaN. Undefined entries are NaN.
func Correlation(dm *DesignMatrix) [][]float64 {
	k := len(dm.Columns)
	cols := make([][]float64, k)
	for i := range cols {
		cols[i] = dm.Column(i)
	}
	out := make([][]float64, k)
	for i := range out {
		out[i] = make([]float64, k)
		for j := range out[i] {
			out[i][j] = pearson(cols[i], cols[j])
		}
	}
	return out
}

func pearson(a, b []float64) float64 {
	var xs, ys []float64
	for i := range a {
		if math.IsNaN(a[i]) || math.IsNaN(b[i]) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[i])
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	mx, my := nanMean(xs), nanMean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

package report

import (
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
)

const DefaultSamplingRate = 10.0

// DesignMatrix holds one row per scan and one column per regressor.
// Missing values are NaN.
type DesignMatrix struct {
	Columns []string
	Rows    [][]float64
	TR      float64
}

func (dm *DesignMatrix) Column(i int) []float64 {
	out := make([]float64, len(dm.Rows))
	for r := range dm.Rows {
		out[r] = dm.Rows[r][i]
	}
	return out
}

// DesignMatrixSource turns a run's events into a per-scan design matrix.
type DesignMatrixSource interface {
	DesignMatrix(run bundle.RunRef, predictors []bundle.PredictorRef, events []materialize.FlatEvent, samplingRate float64) (*DesignMatrix, error)
}

// SparseSampler samples each predictor on a dense grid at samplingRate Hz
// and averages the samples falling inside each TR. Non-numeric values are
// treated as missing; overlapping events take the larger value.
type SparseSampler struct{}

func (SparseSampler) DesignMatrix(run bundle.RunRef, predictors []bundle.PredictorRef, events []materialize.FlatEvent, samplingRate float64) (*DesignMatrix, error) {
	if run.TR <= 0 {
		return nil, errors.New("run has no repetition time")
	}
	if samplingRate <= 0 {
		samplingRate = DefaultSamplingRate
	}
	byPred := map[uuid.UUID][]materialize.FlatEvent{}
	end := 0.0
	for _, ev := range events {
		if ev.RunID != run.ID {
			continue
		}
		byPred[ev.PredictorID] = append(byPred[ev.PredictorID], ev)
		if ev.Duration != nil && ev.Onset+*ev.Duration > end {
			end = ev.Onset + *ev.Duration
		} else if ev.Onset > end {
			end = ev.Onset
		}
	}
	if run.Duration != nil && *run.Duration > 0 {
		end = *run.Duration
	}
	nScans := int(math.Ceil(end / run.TR))
	if nScans <= 0 {
		return nil, errors.New("run has no duration and no events")
	}

	dm := &DesignMatrix{TR: run.TR, Rows: make([][]float64, nScans)}
	for i := range dm.Rows {
		dm.Rows[i] = make([]float64, len(predictors))
	}
	perScan := int(math.Round(run.TR * samplingRate))
	if perScan < 1 {
		perScan = 1
	}
	for c, p := range predictors {
		dm.Columns = append(dm.Columns, p.Name)
		grid := dense(byPred[p.ID], nScans*perScan, samplingRate, run.Duration)
		for s := 0; s < nScans; s++ {
			dm.Rows[s][c] = nanMean(grid[s*perScan : (s+1)*perScan])
		}
	}
	return dm, nil
}

func dense(evs []materialize.FlatEvent, n int, rate float64, runDuration *float64) []float64 {
	grid := make([]float64, n)
	for i := range grid {
		grid[i] = math.NaN()
	}
	for _, ev := range evs {
		v, err := strconv.ParseFloat(strings.TrimSpace(ev.Value), 64)
		if err != nil || math.IsNaN(v) {
			continue
		}
		dur := 0.0
		if ev.Duration != nil {
			dur = *ev.Duration
		} else if runDuration != nil {
			dur = *runDuration - ev.Onset
		}
		start := int(math.Floor(ev.Onset * rate))
		stop := int(math.Ceil((ev.Onset + dur) * rate))
		if stop <= start {
			stop = start + 1
		}
		for i := max(start, 0); i < stop && i < n; i++ {
			if math.IsNaN(grid[i]) || v > grid[i] {
				grid[i] = v
			}
		}
	}
	return grid
}

func nanMean(xs []float64) float64 {
	sum, n := 0.0, 0
	for _, x := range xs {
		if !math.IsNaN(x) {
			sum += x
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return sum / float64(n)
}

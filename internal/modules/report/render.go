package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"

	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
)

type Options struct {
	SamplingRate float64
	Scale        bool
}

// RunOutput lists the files written for one run, relative to the report directory.
type RunOutput struct {
	RunID        uuid.UUID `json:"run_id"`
	DesignMatrix string    `json:"design_matrix"`
	Plot         string    `json:"design_matrix_plot"`
	Corrplot     string    `json:"design_matrix_corrplot"`
	Previews     []string  `json:"previews"`
}

type Renderer struct {
	source DesignMatrixSource
	face   font.Face
}

func New(source DesignMatrixSource, face font.Face) *Renderer {
	if source == nil {
		source = SparseSampler{}
	}
	if face == nil {
		face = basicfont.Face7x13
	}
	return &Renderer{source: source, face: face}
}

// Render writes the design matrix, both chart specs and their previews for
// every run into outDir. Files are staged in a sibling directory and moved
// into place only when every run succeeded.
func (r *Renderer) Render(outDir string, snap bundle.Snapshot, runs []bundle.RunRef, events []materialize.FlatEvent, opts Options) ([]RunOutput, error) {
	if len(runs) == 0 {
		return nil, bundle.Wrap(bundle.PhaseDeserialization, bundle.ErrNoMatchingRuns)
	}
	parent := filepath.Dir(outDir)
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, bundle.Wrap(bundle.PhaseWriting, err)
	}
	stage, err := os.MkdirTemp(parent, "."+filepath.Base(outDir)+"-")
	if err != nil {
		return nil, bundle.Wrap(bundle.PhaseWriting, err)
	}
	keep := false
	defer func() {
		if !keep {
			_ = os.RemoveAll(stage)
		}
	}()

	var out []RunOutput
	for _, run := range runs {
		ro, err := r.renderRun(stage, snap, run, events, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, ro)
	}

	if err := os.RemoveAll(outDir); err != nil {
		return nil, bundle.Wrap(bundle.PhaseWriting, err)
	}
	if err := os.Rename(stage, outDir); err != nil {
		return nil, bundle.Wrap(bundle.PhaseWriting, err)
	}
	keep = true
	return out, nil
}

func (r *Renderer) renderRun(dir string, snap bundle.Snapshot, run bundle.RunRef, events []materialize.FlatEvent, opts Options) (RunOutput, error) {
	dm, err := r.source.DesignMatrix(run, snap.Predictors, events, opts.SamplingRate)
	if err != nil {
		return RunOutput{}, bundle.Wrap(bundle.PhaseBuilding, fmt.Errorf("design matrix for run %s: %w", run.ID, err))
	}
	Impute(dm)
	if opts.Scale {
		Scale(dm)
	}
	corr := Correlation(dm)

	ro := RunOutput{
		RunID:        run.ID,
		DesignMatrix: bundle.EntityName(run, "design_matrix.tsv"),
		Plot:         bundle.EntityName(run, "design_matrix_plot.json"),
		Corrplot:     bundle.EntityName(run, "design_matrix_corrplot.json"),
	}
	heatPNG, err := HeatmapPNG(dm, r.face)
	if err != nil {
		return RunOutput{}, bundle.Wrap(bundle.PhaseBuilding, err)
	}
	corrPNG, err := CorrelationPNG(dm.Columns, corr, r.face)
	if err != nil {
		return RunOutput{}, bundle.Wrap(bundle.PhaseBuilding, err)
	}
	plotPNG := bundle.EntityName(run, "design_matrix_plot.png")
	corrPNGName := bundle.EntityName(run, "design_matrix_corrplot.png")
	ro.Previews = []string{plotPNG, corrPNGName}

	files := []struct {
		name string
		body func() ([]byte, error)
	}{
		{ro.DesignMatrix, func() ([]byte, error) { return MatrixTSV(dm), nil }},
		{ro.Plot, func() ([]byte, error) { return json.Marshal(HeatmapSpec(dm)) }},
		{ro.Corrplot, func() ([]byte, error) { return json.Marshal(CorrelationSpec(dm.Columns, corr)) }},
		{plotPNG, func() ([]byte, error) { return heatPNG, nil }},
		{corrPNGName, func() ([]byte, error) { return corrPNG, nil }},
	}
	for _, f := range files {
		body, err := f.body()
		if err != nil {
			return RunOutput{}, bundle.Wrap(bundle.PhaseBuilding, fmt.Errorf("encode %s: %w", f.name, err))
		}
		if err := os.WriteFile(filepath.Join(dir, f.name), body, 0o644); err != nil {
			return RunOutput{}, bundle.Wrap(bundle.PhaseWriting, err)
		}
	}
	return ro, nil
}

// MatrixTSV writes one header row of regressor names and one row per scan.
func MatrixTSV(dm *DesignMatrix) []byte {
	var buf bytes.Buffer
	buf.WriteString(strings.Join(dm.Columns, "\t"))
	buf.WriteByte('\n')
	for _, row := range dm.Rows {
		for c, v := range row {
			if c > 0 {
				buf.WriteByte('\t')
			}
			if math.IsNaN(v) {
				buf.WriteString("n/a")
			} else {
				buf.WriteString(bundle.FormatFloat(v))
			}
		}
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

// BaseURL picks https only when serverName is the production host.
func BaseURL(serverName, productionHost string) string {
	scheme := "http"
	if serverName != "" && serverName == productionHost {
		scheme = "https"
	}
	return scheme + "://" + serverName
}

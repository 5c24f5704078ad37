package bundle

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
)

const (
	BIDSVersion  = "1.1.1"
	PipelineName = "neuroscout"

	placeholderRow = "0\t1\tn/a\n"
)

type ManifestEntry struct {
	DiskPath    string `json:"disk_path"`
	ArchivePath string `json:"archive_path"`
}

type Result struct {
	Dir      string
	Manifest []ManifestEntry
}

// Cleanup removes the temporary bundle directory.
func (r *Result) Cleanup() error {
	if r == nil || r.Dir == "" {
		return nil
	}
	return os.RemoveAll(r.Dir)
}

type datasetDescription struct {
	Name                string `json:"Name"`
	BIDSVersion         string `json:"BIDSVersion"`
	PipelineDescription struct {
		Name string `json:"Name"`
	} `json:"PipelineDescription"`
}

type resources struct {
	FuncPaths      []string `json:"func_paths"`
	MaskPaths      []string `json:"mask_paths"`
	DatasetAddress string   `json:"dataset_address"`
	PreprocAddress string   `json:"preproc_address"`
}

type taskSidecar struct {
	RepetitionTime float64 `json:"RepetitionTime"`
}

// Build writes the bundle tree for snap into a new temporary directory under
// parentDir. File contents depend only on the arguments. On error nothing is
// left behind.
func Build(snap Snapshot, events []materialize.FlatEvent, runFilter []uuid.UUID, parentDir string) (*Result, error) {
	runs, err := snap.SelectRuns(runFilter)
	if err != nil {
		return nil, Wrap(PhaseDeserialization, err)
	}
	if err := ValidateModel(snap.Model, snap.PredictorNames()); err != nil {
		return nil, Wrap(PhaseDeserialization, err)
	}

	if parentDir != "" {
		if err := os.MkdirAll(parentDir, 0o755); err != nil {
			return nil, Wrap(PhaseBuilding, err)
		}
	}
	dir, err := os.MkdirTemp(parentDir, "bundle-"+snap.HashID+"-")
	if err != nil {
		return nil, Wrap(PhaseBuilding, err)
	}
	b := &builder{dir: dir}
	if err := b.build(snap, runs, events); err != nil {
		_ = os.RemoveAll(dir)
		return nil, Wrap(PhaseBuilding, err)
	}
	sort.Slice(b.manifest, func(i, j int) bool { return b.manifest[i].ArchivePath < b.manifest[j].ArchivePath })
	return &Result{Dir: dir, Manifest: b.manifest}, nil
}

type builder struct {
	dir      string
	manifest []ManifestEntry
}

func (b *builder) build(snap Snapshot, runs []RunRef, events []materialize.FlatEvent) error {
	desc := datasetDescription{Name: snap.HashID, BIDSVersion: BIDSVersion}
	desc.PipelineDescription.Name = PipelineName
	if err := b.writeJSON("dataset_description.json", desc); err != nil {
		return err
	}

	type key struct{ pred, run uuid.UUID }
	grouped := map[key][]materialize.FlatEvent{}
	for _, ev := range events {
		k := key{ev.PredictorID, ev.RunID}
		grouped[k] = append(grouped[k], ev)
	}

	preds := append([]PredictorRef(nil), snap.Predictors...)
	sort.SliceStable(preds, func(i, j int) bool { return preds[i].Name < preds[j].Name })
	seen := map[string]bool{}
	for _, r := range runs {
		if err := validEntity(r); err != nil {
			return err
		}
	}
	for _, p := range preds {
		if p.Name == "" || strings.ContainsAny(p.Name, "/\\") || p.Name == "." || p.Name == ".." {
			return fmt.Errorf("invalid predictor name %q", p.Name)
		}
		for _, r := range runs {
			rel := EventsPath(p.Name, r)
			if seen[rel] {
				return fmt.Errorf("duplicate events file %s", rel)
			}
			seen[rel] = true
			body := EventsTSV(p.Name, grouped[key{p.ID, r.ID}], r.Duration)
			if err := b.writeFile(rel, body); err != nil {
				return err
			}
		}
	}

	if err := b.writeJSON("analysis.json", snap); err != nil {
		return err
	}
	res := resources{
		FuncPaths:      []string{},
		MaskPaths:      []string{},
		DatasetAddress: snap.Dataset.DatasetAddress,
		PreprocAddress: snap.Dataset.PreprocAddress,
	}
	tasks := map[string]float64{}
	for _, r := range runs {
		if r.FuncPath != "" {
			res.FuncPaths = append(res.FuncPaths, r.FuncPath)
		}
		if r.MaskPath != "" {
			res.MaskPaths = append(res.MaskPaths, r.MaskPath)
		}
		tasks[r.Task] = r.TR
	}
	if err := b.writeJSON("resources.json", res); err != nil {
		return err
	}
	if err := b.writeFile("model.json", []byte(snap.Model)); err != nil {
		return err
	}
	taskNames := make([]string, 0, len(tasks))
	for name := range tasks {
		taskNames = append(taskNames, name)
	}
	sort.Strings(taskNames)
	for _, name := range taskNames {
		if err := b.writeJSON("task-"+name+"_bold.json", taskSidecar{RepetitionTime: tasks[name]}); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) writeJSON(rel string, v any) error {
	body, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", rel, err)
	}
	return b.writeFile(rel, body)
}

func (b *builder) writeFile(rel string, body []byte) error {
	disk := filepath.Join(b.dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(disk), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(disk, body, 0o644); err != nil {
		return err
	}
	b.manifest = append(b.manifest, ManifestEntry{DiskPath: disk, ArchivePath: rel})
	return nil
}

type timepoint struct {
	onset    float64
	duration float64
}

// EventsTSV renders one predictor/run events file. Events sharing an
// (onset, duration) collapse to their maximum value. With no events the
// file holds a single placeholder row.
func EventsTSV(name string, events []materialize.FlatEvent, runDuration *float64) []byte {
	var buf bytes.Buffer
	buf.WriteString("onset\tduration\t" + name + "\n")
	if len(events) == 0 {
		buf.WriteString(placeholderRow)
		return buf.Bytes()
	}

	values := map[timepoint][]string{}
	for _, ev := range events {
		tp := timepoint{onset: ev.Onset, duration: eventDuration(ev, runDuration)}
		values[tp] = append(values[tp], ev.Value)
	}
	points := make([]timepoint, 0, len(values))
	for tp := range values {
		points = append(points, tp)
	}
	sort.Slice(points, func(i, j int) bool {
		if points[i].onset != points[j].onset {
			return points[i].onset < points[j].onset
		}
		return points[i].duration < points[j].duration
	})
	for _, tp := range points {
		buf.WriteString(FormatFloat(tp.onset))
		buf.WriteByte('\t')
		buf.WriteString(FormatFloat(tp.duration))
		buf.WriteByte('\t')
		buf.WriteString(MaxValue(values[tp]))
		buf.WriteByte('\n')
	}
	return buf.Bytes()
}

func eventDuration(ev materialize.FlatEvent, runDuration *float64) float64 {
	if ev.Duration != nil {
		return *ev.Duration
	}
	if runDuration != nil && *runDuration > ev.Onset {
		return *runDuration - ev.Onset
	}
	return 0
}

// MaxValue compares numerically when every value parses as a number and
// lexically otherwise. Numeric ties keep the lexically larger spelling.
func MaxValue(vals []string) string {
	if len(vals) == 0 {
		return "n/a"
	}
	nums := make([]float64, len(vals))
	numeric := true
	for i, v := range vals {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil || math.IsNaN(f) {
			numeric = false
			break
		}
		nums[i] = f
	}
	best := 0
	for i := 1; i < len(vals); i++ {
		if numeric {
			if nums[i] > nums[best] || (nums[i] == nums[best] && vals[i] > vals[best]) {
				best = i
			}
		} else if vals[i] > vals[best] {
			best = i
		}
	}
	return vals[best]
}

// FormatFloat prints integral values with one decimal and others in their
// shortest exact form.
func FormatFloat(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'f', -1, 64)
}

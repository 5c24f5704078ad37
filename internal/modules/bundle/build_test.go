package bundle

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
)

func fp(v float64) *float64 { return &v }
func ip(v int) *int         { return &v }

type fixture struct {
	snap  Snapshot
	faces PredictorRef
	rt    PredictorRef
	run1  RunRef
	run2  RunRef
}

func newFixture() fixture {
	faces := PredictorRef{ID: uuid.New(), Name: "any_faces"}
	rt := PredictorRef{ID: uuid.New(), Name: "rt"}
	run1 := RunRef{ID: uuid.New(), Subject: "01", Number: ip(1), Task: "movie", TR: 2, Duration: fp(100), FuncPath: "sub-01/func/run-1_bold.nii.gz"}
	run2 := RunRef{ID: uuid.New(), Subject: "01", Session: "A", Number: ip(2), Acquisition: "mb", Task: "movie", TR: 2, Duration: fp(100)}
	return fixture{
		snap: Snapshot{
			ID:         uuid.New(),
			HashID:     "aBc12",
			Name:       "faces",
			Dataset:    DatasetRef{Name: "ds", DatasetAddress: "https://example.org/ds", PreprocAddress: "https://example.org/preproc"},
			Predictors: []PredictorRef{rt, faces},
			Runs:       []RunRef{run1, run2},
			Model:      json.RawMessage(`{"Steps":[{"Level":"Run","Model":{"X":["any_faces","rt"]}}]}`),
		},
		faces: faces, rt: rt, run1: run1, run2: run2,
	}
}

func readFile(t *testing.T, res *Result, rel string) string {
	t.Helper()
	for _, e := range res.Manifest {
		if e.ArchivePath == rel {
			b, err := os.ReadFile(e.DiskPath)
			require.NoError(t, err)
			return string(b)
		}
	}
	t.Fatalf("%s not in manifest", rel)
	return ""
}

func TestBuildCollapsesDuplicatesToMax(t *testing.T) {
	fx := newFixture()
	evs := []materialize.FlatEvent{
		{Onset: 10, Duration: fp(5), Value: "0.8", PredictorID: fx.faces.ID, RunID: fx.run1.ID},
		{Onset: 10, Duration: fp(5), Value: "0.95", PredictorID: fx.faces.ID, RunID: fx.run1.ID},
		{Onset: 2.5, Duration: fp(1), Value: "0.1", PredictorID: fx.faces.ID, RunID: fx.run1.ID},
	}
	res, err := Build(fx.snap, evs, nil, t.TempDir())
	require.NoError(t, err)
	defer res.Cleanup()

	got := readFile(t, res, "func/any_faces/sub-01_task-movie_run-1_events.tsv")
	require.Equal(t, "onset\tduration\tany_faces\n2.5\t1.0\t0.1\n10.0\t5.0\t0.95\n", got)
}

func TestBuildEmitsPlaceholderForEveryEmptyPair(t *testing.T) {
	fx := newFixture()
	evs := []materialize.FlatEvent{
		{Onset: 0, Duration: fp(1), Value: "1", PredictorID: fx.faces.ID, RunID: fx.run1.ID},
	}
	res, err := Build(fx.snap, evs, nil, t.TempDir())
	require.NoError(t, err)
	defer res.Cleanup()

	count := 0
	for _, e := range res.Manifest {
		if filepath.Dir(filepath.Dir(e.ArchivePath)) == "func" {
			count++
		}
	}
	require.Equal(t, 4, count, "one file per predictor and run")

	got := readFile(t, res, "func/rt/sub-01_ses-A_task-movie_acq-mb_run-2_events.tsv")
	require.Equal(t, "onset\tduration\trt\n0\t1\tn/a\n", got)
}

func TestBuildRootFiles(t *testing.T) {
	fx := newFixture()
	res, err := Build(fx.snap, nil, []uuid.UUID{fx.run1.ID}, t.TempDir())
	require.NoError(t, err)
	defer res.Cleanup()

	var desc map[string]any
	require.NoError(t, json.Unmarshal([]byte(readFile(t, res, "dataset_description.json")), &desc))
	require.Equal(t, "aBc12", desc["Name"])
	require.Equal(t, BIDSVersion, desc["BIDSVersion"])

	var rsrc resources
	require.NoError(t, json.Unmarshal([]byte(readFile(t, res, "resources.json")), &rsrc))
	require.Equal(t, []string{"sub-01/func/run-1_bold.nii.gz"}, rsrc.FuncPaths)
	require.Equal(t, "https://example.org/preproc", rsrc.PreprocAddress)

	require.JSONEq(t, string(fx.snap.Model), readFile(t, res, "model.json"))
	require.JSONEq(t, `{"RepetitionTime": 2}`, readFile(t, res, "task-movie_bold.json"))
	readFile(t, res, "analysis.json")

	for _, e := range res.Manifest {
		require.NotContains(t, e.ArchivePath, "run-2")
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	fx := newFixture()
	evs := []materialize.FlatEvent{
		{Onset: 3, Value: "b", PredictorID: fx.rt.ID, RunID: fx.run2.ID},
		{Onset: 3, Value: "a", PredictorID: fx.rt.ID, RunID: fx.run2.ID},
		{Onset: 1, Duration: fp(2), Value: "4", PredictorID: fx.faces.ID, RunID: fx.run1.ID},
	}
	reversed := []materialize.FlatEvent{evs[2], evs[1], evs[0]}

	a, err := Build(fx.snap, evs, nil, t.TempDir())
	require.NoError(t, err)
	defer a.Cleanup()
	b, err := Build(fx.snap, reversed, nil, t.TempDir())
	require.NoError(t, err)
	defer b.Cleanup()

	require.Equal(t, len(a.Manifest), len(b.Manifest))
	for i := range a.Manifest {
		require.Equal(t, a.Manifest[i].ArchivePath, b.Manifest[i].ArchivePath)
		require.Equal(t, readFile(t, a, a.Manifest[i].ArchivePath), readFile(t, b, b.Manifest[i].ArchivePath))
	}
	// Open duration falls back to the rest of the run.
	require.Equal(t, "onset\tduration\trt\n3.0\t97.0\tb\n",
		readFile(t, a, "func/rt/sub-01_ses-A_task-movie_acq-mb_run-2_events.tsv"))

	outA := filepath.Join(t.TempDir(), "a.tar.gz")
	outB := filepath.Join(t.TempDir(), "b.tar.gz")
	require.NoError(t, WriteTarball(a.Manifest, outA))
	require.NoError(t, WriteTarball(b.Manifest, outB))
	ba, err := os.ReadFile(outA)
	require.NoError(t, err)
	bb, err := os.ReadFile(outB)
	require.NoError(t, err)
	require.Equal(t, ba, bb)
}

func TestBuildRejectsUnboundModelVariable(t *testing.T) {
	fx := newFixture()
	fx.snap.Model = json.RawMessage(`{"Steps":[{"Level":"Run","Model":{"X":["any_faces","speech"]}}]}`)
	parent := t.TempDir()

	_, err := Build(fx.snap, nil, nil, parent)
	require.Error(t, err)
	phase, ok := PhaseOf(err)
	require.True(t, ok)
	require.Equal(t, PhaseDeserialization, phase)
	require.True(t, errors.Is(err, ErrUnknownPredictor))
	require.Contains(t, Traceback(err), "Deserialization error:")
	require.Contains(t, Traceback(err), "speech")

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestBuildRejectsUnknownRunFilter(t *testing.T) {
	fx := newFixture()
	_, err := Build(fx.snap, nil, []uuid.UUID{uuid.New()}, t.TempDir())
	require.True(t, errors.Is(err, ErrNoMatchingRuns))
	phase, _ := PhaseOf(err)
	require.Equal(t, PhaseDeserialization, phase)
}

func TestTarballMembers(t *testing.T) {
	fx := newFixture()
	res, err := Build(fx.snap, nil, nil, t.TempDir())
	require.NoError(t, err)
	defer res.Cleanup()

	dest := filepath.Join(t.TempDir(), "out", "aBc12.tar.gz")
	require.NoError(t, WriteTarball(res.Manifest, dest))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)
	var names []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		names = append(names, hdr.Name)
		require.Equal(t, archiveModTime.Unix(), hdr.ModTime.Unix())
	}
	require.Len(t, names, len(res.Manifest))
	require.Contains(t, names, "dataset_description.json")
	require.Contains(t, names, "func/any_faces/sub-01_task-movie_run-1_events.tsv")

	leftovers, err := filepath.Glob(filepath.Join(filepath.Dir(dest), ".*tmp-*"))
	require.NoError(t, err)
	require.Empty(t, leftovers)
}

func TestWriteTarballFailureLeavesNothing(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "x.tar.gz")
	err := WriteTarball([]ManifestEntry{{DiskPath: filepath.Join(dir, "missing"), ArchivePath: "missing"}}, dest)
	require.Error(t, err)
	phase, _ := PhaseOf(err)
	require.Equal(t, PhaseWriting, phase)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

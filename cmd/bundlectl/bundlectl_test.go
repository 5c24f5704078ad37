package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

type seeded struct {
	db        *gorm.DB
	run       *types.Run
	predictor *types.Predictor
}

func seed(t *testing.T) seeded {
	t.Helper()
	ctx := context.Background()
	db := testutil.DB(t)
	ds := testutil.SeedDataset(t, ctx, db, "localizer")
	task := testutil.SeedTask(t, ctx, db, ds.ID, "faces", 2)
	run := testutil.SeedRun(t, ctx, db, task, "01", 1, 20)
	rt := testutil.SeedPredictor(t, ctx, db, ds.ID, "rt", nil)
	require.NoError(t, repos.NewEventStore(db, testutil.Logger(t)).CreatePredictorEvents(dbctx.New(ctx), []*types.PredictorEvent{
		{Onset: 5, Duration: testutil.PtrFloat(2), Value: "0.7", RunID: run.ID, PredictorID: rt.ID},
		{Onset: 1, Duration: testutil.PtrFloat(2), Value: "0.5", RunID: run.ID, PredictorID: rt.ID},
	}))
	testutil.SeedAnalysis(t, ctx, db, ds.ID, "aB3dE", "alice",
		`{"Steps":[{"Level":"Run","Model":{"X":["rt"]}}]}`, []*types.Run{run}, []*types.Predictor{rt})
	return seeded{db: db, run: run, predictor: rt}
}

func execute(t *testing.T, db *gorm.DB, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	c := newCLI(&out)
	c.log = testutil.Logger(t)
	if db != nil {
		c.openDB = func(*cli) (*gorm.DB, func(), error) { return db, func() {}, nil }
	}
	root := rootCommand(c)
	root.SetArgs(args)
	root.SetErr(&out)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestEventsCommandPrintsSortedTSV(t *testing.T) {
	s := seed(t)
	out, err := execute(t, s.db, "events", s.predictor.ID.String())
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "onset\tduration\tvalue\trun_id\tpredictor_id", lines[0])
	require.True(t, strings.HasPrefix(lines[1], "1.0\t2.0\t0.5\t"), lines[1])
	require.True(t, strings.HasPrefix(lines[2], "5.0\t2.0\t0.7\t"), lines[2])
}

func TestEventsCommandJSON(t *testing.T) {
	s := seed(t)
	out, err := execute(t, s.db, "events", "--json", "--run", s.run.ID.String(), s.predictor.ID.String())
	require.NoError(t, err)
	var evs []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &evs))
	require.Len(t, evs, 2)
	require.Equal(t, s.run.ID.String(), evs[0]["run_id"])
}

func TestEventsCommandRejectsBadID(t *testing.T) {
	_, err := execute(t, nil, "events", "not-a-uuid")
	require.ErrorContains(t, err, "invalid id")
}

func TestBuildCommandWritesTarball(t *testing.T) {
	s := seed(t)
	outDir := t.TempDir()
	out, err := execute(t, s.db, "build", "--out", outDir, "aB3dE")
	require.NoError(t, err)
	require.Contains(t, out, "2 events")

	info, err := os.Stat(filepath.Join(outDir, "aB3dE.tar.gz"))
	require.NoError(t, err)
	require.Positive(t, info.Size())

	// Building is offline: the analysis stays editable.
	var a types.Analysis
	require.NoError(t, s.db.Where("hash_id = ?", "aB3dE").First(&a).Error)
	require.Equal(t, types.AnalysisDraft, a.Status)
	require.False(t, a.Locked)
}

func TestBuildCommandUnknownAnalysis(t *testing.T) {
	s := seed(t)
	_, err := execute(t, s.db, "build", "--out", t.TempDir(), "zzzzz")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestCompileCommandPassesAnalysis(t *testing.T) {
	s := seed(t)
	bundleDir := t.TempDir()
	out, err := execute(t, s.db, "compile", "--bundle-dir", bundleDir, "aB3dE")
	require.NoError(t, err)
	require.Contains(t, out, "aB3dE\tPASSED")

	_, err = os.Stat(filepath.Join(bundleDir, "aB3dE.tar.gz"))
	require.NoError(t, err)

	var a types.Analysis
	require.NoError(t, s.db.Where("hash_id = ?", "aB3dE").First(&a).Error)
	require.Equal(t, types.AnalysisPassed, a.Status)
	require.True(t, a.Locked)

	var job types.JobRun
	require.NoError(t, s.db.Where("entity_id = ?", "aB3dE").First(&job).Error)
	require.Equal(t, types.JobStatusSucceeded, job.Status)
}

const schemaYAML = `
GoogleVisionAPILabelExtractor:
  - features:
      dog: {name: animal_dog, description: "Label for dogs"}
`

func TestSchemaCheckAndAnnotate(t *testing.T) {
	dir := t.TempDir()
	schemaPath := filepath.Join(dir, "schema.yml")
	require.NoError(t, os.WriteFile(schemaPath, []byte(schemaYAML), 0o644))

	out, err := execute(t, nil, "schema", "check", schemaPath)
	require.NoError(t, err)
	require.Contains(t, out, "GoogleVisionAPILabelExtractor")

	rowsPath := filepath.Join(dir, "rows.json")
	require.NoError(t, os.WriteFile(rowsPath, []byte(`[{"values":{"dog":0.9}}]`), 0o644))
	out, err = execute(t, nil, "schema", "annotate", schemaPath,
		"--extractor", "GoogleVisionAPILabelExtractor", "--rows", rowsPath)
	require.NoError(t, err)

	var annotated []annotatedOut
	require.NoError(t, json.Unmarshal([]byte(out), &annotated))
	require.Len(t, annotated, 1)
	require.Equal(t, "animal_dog", annotated[0].Feature)
	require.Equal(t, "dog", annotated[0].Original)
	require.Equal(t, "Label for dogs", annotated[0].Describes)
	require.True(t, annotated[0].Active)
}

func TestViperReadsDatabaseSettings(t *testing.T) {
	t.Setenv("DB_DRIVER", "SQLITE")
	t.Setenv("SQLITE_PATH", "/tmp/from-env.db")
	c := newCLI(&bytes.Buffer{})
	cfg := c.dbConfig()
	require.Equal(t, "sqlite", cfg.Driver)
	require.Equal(t, "/tmp/from-env.db", cfg.SQLitePath)
	require.Equal(t, "neuroscout", cfg.Name)

	root := rootCommand(c)
	require.NoError(t, root.ParseFlags([]string{"--sqlite-path", "/tmp/from-flag.db"}))
	require.Equal(t, "/tmp/from-flag.db", c.dbConfig().SQLitePath)
}

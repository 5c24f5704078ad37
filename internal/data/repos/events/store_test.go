package events

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

func TestExtractedEventTimingsJoin(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	st := NewStore(db, testutil.Logger(t))

	ds := testutil.SeedDataset(t, ctx, tx, "ds")
	task := testutil.SeedTask(t, ctx, tx, ds.ID, "movie", 2.0)
	run1 := testutil.SeedRun(t, ctx, tx, task, "01", 1, 300)
	run2 := testutil.SeedRun(t, ctx, tx, task, "01", 2, 300)
	stim := testutil.SeedStimulus(t, ctx, tx, "/stimuli/frame_0001.jpg")
	testutil.SeedRunStimulus(t, ctx, tx, stim.ID, run1.ID, 10, testutil.PtrFloat(5))
	testutil.SeedRunStimulus(t, ctx, tx, stim.ID, run2.ID, 20, testutil.PtrFloat(5))
	feat := testutil.SeedFeature(t, ctx, tx, "GoogleVisionAPIFaceExtractor", "face_detectionConfidence")

	require.NoError(t, st.CreateExtractedEvents(dbc, []*types.ExtractedEvent{
		{Onset: testutil.PtrFloat(1), Value: "0.8", EFID: feat.ID, StimulusID: stim.ID},
	}))

	all, err := st.GetExtractedEventTimings(dbc, []uuid.UUID{feat.ID}, nil, true)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "/stimuli/frame_0001.jpg", all[0].StimulusPath)

	only2, err := st.GetExtractedEventTimings(dbc, []uuid.UUID{feat.ID}, []uuid.UUID{run2.ID}, false)
	require.NoError(t, err)
	require.Len(t, only2, 1)
	require.Equal(t, run2.ID, only2[0].RunID)
	require.Equal(t, 20.0, only2[0].RunStimulusOnset)
	require.NotNil(t, only2[0].RunStimulusDuration)
	require.Equal(t, 5.0, *only2[0].RunStimulusDuration)
	require.Equal(t, "", only2[0].StimulusPath)

	none, err := st.GetExtractedEventTimings(dbc, []uuid.UUID{feat.ID}, []uuid.UUID{}, false)
	require.NoError(t, err)
	require.Empty(t, none)
}

func TestPredictorEventsFilteredByRun(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	st := NewStore(db, testutil.Logger(t))

	ds := testutil.SeedDataset(t, ctx, tx, "ds")
	task := testutil.SeedTask(t, ctx, tx, ds.ID, "movie", 2.0)
	run1 := testutil.SeedRun(t, ctx, tx, task, "01", 1, 300)
	run2 := testutil.SeedRun(t, ctx, tx, task, "02", 1, 300)

	p := &types.Predictor{Name: "rating", DatasetID: ds.ID, Source: types.PredictorSourceCollection, Active: true}
	require.NoError(t, st.CreatePredictorWithEvents(dbc, p, []*types.PredictorEvent{
		{Onset: 0, Duration: testutil.PtrFloat(1), Value: "3", RunID: run1.ID},
		{Onset: 2, Duration: testutil.PtrFloat(1), Value: "4", RunID: run2.ID},
	}))

	evs, err := st.GetPredictorEvents(dbc, []uuid.UUID{p.ID}, []uuid.UUID{run2.ID})
	require.NoError(t, err)
	require.Len(t, evs, 1)
	require.Equal(t, "4", evs[0].Value)
	require.Equal(t, p.ID, evs[0].PredictorID)

	found, ok, err := st.FindPredictor(dbc, ds.ID, "rating", nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, p.ID, found.ID)

	runs, err := st.GetRuns(dbc, []uuid.UUID{run1.ID})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.NotNil(t, runs[0].Task)
	require.Equal(t, "movie", runs[0].Task.Name)
}

func TestUpsertsAreIdempotent(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	st := NewStore(db, testutil.Logger(t))

	f1, created, err := st.UpsertExtractedFeature(dbc, &types.ExtractedFeature{SHA1Hash: "abc", ExtractorName: "x", FeatureName: "f"})
	require.NoError(t, err)
	require.True(t, created)
	f2, created, err := st.UpsertExtractedFeature(dbc, &types.ExtractedFeature{SHA1Hash: "abc", ExtractorName: "x", FeatureName: "f"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, f1.ID, f2.ID)

	s1, created, err := st.CreateStimulus(dbc, &types.Stimulus{SHA1Hash: "deadbeef", Path: "a.jpg"})
	require.NoError(t, err)
	require.True(t, created)
	s2, created, err := st.CreateStimulus(dbc, &types.Stimulus{SHA1Hash: "deadbeef", Path: "b.jpg"})
	require.NoError(t, err)
	require.False(t, created)
	require.Equal(t, s1.ID, s2.ID)

	runID := uuid.New()
	rs1, err := st.UpsertRunStimulus(dbc, &types.RunStimulus{StimulusID: s1.ID, RunID: runID, Onset: 3})
	require.NoError(t, err)
	rs2, err := st.UpsertRunStimulus(dbc, &types.RunStimulus{StimulusID: s1.ID, RunID: runID, Onset: 3})
	require.NoError(t, err)
	require.Equal(t, rs1.ID, rs2.ID)

	got, err := st.GetRunStimuli(dbc, []uuid.UUID{s1.ID}, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)

	stims, err := st.GetStimuli(dbc, []uuid.UUID{s1.ID, uuid.New()})
	require.NoError(t, err)
	require.Len(t, stims, 1)
	require.Equal(t, "a.jpg", stims[0].Path)
}

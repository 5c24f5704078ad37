package materialize

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neuroscout-backend/internal/data/repos/events"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

func f(v float64) *float64 { return &v }

func TestComposeOnsetAndDurationFallback(t *testing.T) {
	cases := []struct {
		name         string
		timing       types.ExtractedTiming
		wantOnset    float64
		wantDuration *float64
	}{
		{"null onset null duration", types.ExtractedTiming{RunStimulusOnset: 10, RunStimulusDuration: f(5)}, 10, f(5)},
		{"offset within stimulus", types.ExtractedTiming{Onset: f(1.5), RunStimulusOnset: 10, RunStimulusDuration: f(5)}, 11.5, f(5)},
		{"explicit duration wins", types.ExtractedTiming{Onset: f(2), Duration: f(0.5), RunStimulusOnset: 3, RunStimulusDuration: f(5)}, 5, f(0.5)},
		{"no duration anywhere", types.ExtractedTiming{RunStimulusOnset: 3}, 3, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Compose(tc.timing)
			require.Equal(t, tc.wantOnset, got.Onset)
			if tc.wantDuration == nil {
				require.Nil(t, got.Duration)
				return
			}
			require.NotNil(t, got.Duration)
			require.Equal(t, *tc.wantDuration, *got.Duration)
		})
	}
}

type fixture struct {
	db      *materializerDeps
	dataset *types.Dataset
	run1    *types.Run
	run2    *types.Run
	stim    *types.Stimulus
	feature *types.ExtractedFeature
	derived *types.Predictor
	raw     *types.Predictor
}

type materializerDeps struct {
	dbc   dbctx.Context
	store events.Store
}

func seed(t *testing.T) fixture {
	t.Helper()
	gdb := testutil.DB(t)
	tx := testutil.Tx(t, gdb)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	st := events.NewStore(gdb, testutil.Logger(t))

	ds := testutil.SeedDataset(t, ctx, tx, "ds")
	task := testutil.SeedTask(t, ctx, tx, ds.ID, "movie", 2.0)
	run1 := testutil.SeedRun(t, ctx, tx, task, "01", 1, 100)
	run2 := testutil.SeedRun(t, ctx, tx, task, "01", 2, 100)
	stim := testutil.SeedStimulus(t, ctx, tx, "/data/stimuli/frame_0001.jpg")
	testutil.SeedRunStimulus(t, ctx, tx, stim.ID, run1.ID, 10, f(5))
	testutil.SeedRunStimulus(t, ctx, tx, stim.ID, run2.ID, 40, f(5))
	feat := testutil.SeedFeature(t, ctx, tx, "GoogleVisionAPIFaceExtractor", "face_detectionConfidence")
	derived := testutil.SeedPredictor(t, ctx, tx, ds.ID, "any_faces", testutil.PtrUUID(feat.ID))
	raw := testutil.SeedPredictor(t, ctx, tx, ds.ID, "rating", nil)

	return fixture{
		db:      &materializerDeps{dbc: dbc, store: st},
		dataset: ds, run1: run1, run2: run2, stim: stim, feature: feat, derived: derived, raw: raw,
	}
}

func TestDerivedEventOnStimulusTimeline(t *testing.T) {
	fx := seed(t)
	require.NoError(t, fx.db.store.CreateExtractedEvents(fx.db.dbc, []*types.ExtractedEvent{
		{Onset: f(0), Value: "0.8", EFID: fx.feature.ID, StimulusID: fx.stim.ID},
	}))

	m := New(fx.db.store)
	out, err := m.Materialize(fx.db.dbc, []uuid.UUID{fx.derived.ID}, Options{RunIDs: []uuid.UUID{fx.run1.ID}})
	require.NoError(t, err)
	require.Len(t, out, 1)
	ev := out[0]
	require.Equal(t, 10.0, ev.Onset)
	require.NotNil(t, ev.Duration)
	require.Equal(t, 5.0, *ev.Duration)
	require.Equal(t, "0.8", ev.Value)
	require.Equal(t, fx.derived.ID, ev.PredictorID)
	require.Equal(t, fx.run1.ID, ev.RunID)
	require.Nil(t, ev.StimulusID)

	all, err := m.Materialize(fx.db.dbc, []uuid.UUID{fx.derived.ID}, Options{IncludeStimulusTiming: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, ev := range all {
		require.NotNil(t, ev.StimulusID)
		require.Equal(t, fx.stim.ID, *ev.StimulusID)
		require.Equal(t, "frame_0001.jpg", ev.StimulusPath)
		require.Equal(t, *ev.StimulusOnset, ev.Onset)
	}
}

func TestRawEventsPassThroughAndResolveOpenDuration(t *testing.T) {
	fx := seed(t)
	stimID := fx.stim.ID
	require.NoError(t, fx.db.dbc.Tx.Create([]*types.PredictorEvent{
		{Onset: 3, Duration: f(2), Value: "7", RunID: fx.run1.ID, PredictorID: fx.raw.ID},
		{Onset: 12, Value: "1", RunID: fx.run1.ID, PredictorID: fx.raw.ID, StimulusID: &stimID},
		{Onset: 50, Duration: f(1), Value: "9", RunID: fx.run2.ID, PredictorID: fx.raw.ID},
	}).Error)

	m := New(fx.db.store)
	out, err := m.Materialize(fx.db.dbc, []uuid.UUID{fx.raw.ID}, Options{RunIDs: []uuid.UUID{fx.run1.ID}})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 3.0, out[0].Onset)
	require.Equal(t, 2.0, *out[0].Duration)
	require.Equal(t, 12.0, out[1].Onset)
	require.NotNil(t, out[1].Duration)
	require.Equal(t, 3.0, *out[1].Duration, "open duration lasts until the presentation ends at 15s")
}

func TestRawEventsCarryStimulusTiming(t *testing.T) {
	fx := seed(t)
	stimID := fx.stim.ID
	require.NoError(t, fx.db.dbc.Tx.Create([]*types.PredictorEvent{
		{Onset: 3, Duration: f(2), Value: "7", RunID: fx.run1.ID, PredictorID: fx.raw.ID},
		{Onset: 12, Duration: f(1), Value: "1", RunID: fx.run1.ID, PredictorID: fx.raw.ID, StimulusID: &stimID},
	}).Error)

	m := New(fx.db.store)
	out, err := m.Materialize(fx.db.dbc, []uuid.UUID{fx.raw.ID}, Options{RunIDs: []uuid.UUID{fx.run1.ID}, IncludeStimulusTiming: true})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Nil(t, out[0].StimulusID)
	require.Empty(t, out[0].StimulusPath)

	ev := out[1]
	require.NotNil(t, ev.StimulusID)
	require.Equal(t, "frame_0001.jpg", ev.StimulusPath)
	require.Equal(t, 10.0, *ev.StimulusOnset)
	require.Equal(t, 5.0, *ev.StimulusDuration)
	require.Equal(t, 1.0, *ev.Duration, "stored duration wins over the presentation")
}

func TestRunFilterOutsideScopeIsAnError(t *testing.T) {
	fx := seed(t)
	m := New(fx.db.store)

	_, err := m.Materialize(fx.db.dbc, []uuid.UUID{fx.raw.ID}, Options{RunIDs: []uuid.UUID{uuid.New()}})
	require.True(t, errors.Is(err, ErrUnknownRuns))

	_, err = m.Materialize(fx.db.dbc, []uuid.UUID{fx.raw.ID}, Options{
		RunIDs: []uuid.UUID{fx.run2.ID},
		Scope:  []uuid.UUID{fx.run1.ID},
	})
	require.True(t, errors.Is(err, ErrUnknownRuns))

	out, err := m.Materialize(fx.db.dbc, []uuid.UUID{fx.raw.ID}, Options{Scope: []uuid.UUID{}})
	require.NoError(t, err)
	require.Empty(t, out)
}

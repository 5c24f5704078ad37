package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

func TestAnalysisBindingsLoadInOrder(t *testing.T) {
	db := testutil.DB(t)
	tx := testutil.Tx(t, db)
	ctx := context.Background()
	dbc := dbctx.Context{Ctx: ctx, Tx: tx}
	repo := NewAnalysisRepo(db, testutil.Logger(t))

	ds := testutil.SeedDataset(t, ctx, tx, "ds")
	task := testutil.SeedTask(t, ctx, tx, ds.ID, "movie", 2.0)
	r2 := testutil.SeedRun(t, ctx, tx, task, "02", 1, 100)
	r1 := testutil.SeedRun(t, ctx, tx, task, "01", 1, 100)
	pb := testutil.SeedPredictor(t, ctx, tx, ds.ID, "b_pred", nil)
	pa := testutil.SeedPredictor(t, ctx, tx, ds.ID, "a_pred", nil)

	a := &types.Analysis{HashID: "Xy12z", Name: "test", DatasetID: ds.ID, Model: datatypes.JSON([]byte(`{}`))}
	require.NoError(t, repo.Create(dbc, a))
	require.Equal(t, types.AnalysisDraft, a.Status)
	require.NoError(t, repo.ReplaceRuns(dbc, a, []types.Run{*r2, *r1}))
	require.NoError(t, repo.ReplacePredictors(dbc, a, []types.Predictor{*pb, *pa}))

	got, found, err := repo.FindByHashID(dbc, "Xy12z", true)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, got.Runs, 2)
	require.Equal(t, "01", got.Runs[0].Subject)
	require.NotNil(t, got.Runs[0].Task)
	require.Equal(t, "a_pred", got.Predictors[0].Name)

	require.NoError(t, repo.UpdateFields(dbc, a.ID, map[string]interface{}{"status": types.AnalysisPending}))
	got, _, err = repo.FindByHashID(dbc, "Xy12z", false)
	require.NoError(t, err)
	require.Equal(t, types.AnalysisPending, got.Status)
	require.Empty(t, got.Runs)

	_, found, err = repo.FindByHashID(dbc, "missing", false)
	require.NoError(t, err)
	require.False(t, found)
}

func TestReportRepoRoundTrip(t *testing.T) {
	db := testutil.DB(t)
	dbc := dbctx.New(context.Background())
	repo := NewReportRepo(db, testutil.Logger(t))

	rep := &types.Report{AnalysisHashID: "Xy12z", SamplingRate: 10}
	require.NoError(t, repo.Create(dbc, rep))
	require.Equal(t, types.ReportPending, rep.Status)

	res := types.ReportResult{DesignMatrix: []string{"http://localhost/reports/x/dm.tsv"}}
	require.NoError(t, repo.UpdateFields(dbc, rep.ID, map[string]interface{}{
		"status": types.ReportOK,
		"result": datatypes.NewJSONType(res),
	}))
	got, found, err := repo.GetByID(dbc, rep.ID)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.ReportOK, got.Status)
	require.Equal(t, res.DesignMatrix, got.Result.Data().DesignMatrix)
}

package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	httpH "github.com/yungbote/neuroscout-backend/internal/http/handlers"
	httpMW "github.com/yungbote/neuroscout-backend/internal/http/middleware"
	"github.com/yungbote/neuroscout-backend/internal/modules/ingest"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type apiFixture struct {
	db        *gorm.DB
	router    *gin.Engine
	verifier  services.TokenVerifier
	run       *types.Run
	predictor *types.Predictor
	analysis  *types.Analysis
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)

	ds := testutil.SeedDataset(t, ctx, db, "localizer")
	task := testutil.SeedTask(t, ctx, db, ds.ID, "faces", 2)
	run := testutil.SeedRun(t, ctx, db, task, "01", 1, 20)
	pred := testutil.SeedPredictor(t, ctx, db, ds.ID, "rt", nil)
	for _, onset := range []float64{1, 5} {
		require.NoError(t, db.Create(&types.PredictorEvent{
			ID:          uuid.New(),
			Onset:       onset,
			Duration:    testutil.PtrFloat(1),
			Value:       "0.5",
			RunID:       run.ID,
			PredictorID: pred.ID,
		}).Error)
	}
	a := testutil.SeedAnalysis(t, ctx, db, ds.ID, "aB3dE", "alice",
		`{"Steps":[{"Level":"Run","Model":{"X":["rt"]}}]}`, []*types.Run{run}, []*types.Predictor{pred})

	store := repos.NewEventStore(db, log)
	jobRepo := repos.NewJobRunRepo(db, log)
	analysisRepo := repos.NewAnalysisRepo(db, log)
	jobs := services.NewJobService(db, log, jobRepo, nil, nil, "")
	analyses := services.NewAnalysisService(db, log, analysisRepo, repos.NewDatasetRepo(db, log), jobs, nil)
	reports := services.NewReportService(db, log, repos.NewReportRepo(db, log), analysisRepo, jobs)
	verifier, err := services.NewTokenVerifier(log, "router-secret")
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Log:                   log,
		AuthMiddleware:        httpMW.NewAuthMiddleware(log, verifier),
		HealthHandler:         httpH.NewHealthHandler(sqlDB),
		PredictorEventHandler: httpH.NewPredictorEventHandler(services.NewPredictorEventService(log, materialize.New(store), nil, nil)),
		AnalysisHandler:       httpH.NewAnalysisHandler(analyses, reports, jobs),
		ReportHandler:         httpH.NewReportHandler(reports),
		IngestHandler:         httpH.NewIngestHandler(ingest.NewService(db, store, nil, nil, log)),
		ExtractionHandler:     httpH.NewExtractionHandler(services.NewExtractionService(log, jobs, []string{"GoogleVisionAPILabelExtractor"})),
		JobHandler:            httpH.NewJobHandler(log, jobs, realtime.NewHub(log)),
	})
	return &apiFixture{db: db, router: router, verifier: verifier, run: run, predictor: pred, analysis: a}
}

func (f *apiFixture) token(t *testing.T, subject string) string {
	t.Helper()
	tok, err := f.verifier.Issue(subject, time.Hour)
	require.NoError(t, err)
	return tok
}

func (f *apiFixture) do(method, target, token, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var env struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &env)
	return env.Error.Code
}

func TestHealthcheck(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodGet, "/healthcheck", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())
}

func TestMutatingRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t)
	for _, tc := range []struct{ method, target string }{
		{http.MethodPost, "/api/analyses/aB3dE/compile"},
		{http.MethodPatch, "/api/analyses/aB3dE"},
		{http.MethodPost, "/api/analyses/aB3dE/report"},
		{http.MethodPost, "/api/runs/" + f.run.ID.String() + "/predictors"},
		{http.MethodPost, "/api/extractions"},
		{http.MethodDelete, "/api/jobs/" + uuid.NewString()},
	} {
		rec := f.do(tc.method, tc.target, "", "", "")
		require.Equal(t, http.StatusUnauthorized, rec.Code, "%s %s", tc.method, tc.target)
	}
}

func TestCompileStatusAndCancel(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "alice")

	rec := f.do(http.MethodPost, "/api/analyses/aB3dE/compile", f.token(t, "bob"), "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodPost, "/api/analyses/aB3dE/compile", alice, "", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted struct {
		Analysis struct {
			Status        string `json:"status"`
			CompileTaskID string `json:"compile_task_id"`
		} `json:"analysis"`
		Job types.JobRun `json:"job"`
	}
	decode(t, rec, &accepted)
	require.Equal(t, types.AnalysisPending, accepted.Analysis.Status)
	require.NotEmpty(t, accepted.Analysis.CompileTaskID)
	require.Equal(t, services.JobTypeAnalysisCompile, accepted.Job.JobType)

	rec = f.do(http.MethodGet, "/api/analyses/aB3dE/status", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		Status     string `json:"status"`
		CompileJob struct {
			ID     string `json:"id"`
			Status string `json:"status"`
		} `json:"compile_job"`
	}
	decode(t, rec, &status)
	require.Equal(t, types.AnalysisPending, status.Status)
	require.Equal(t, accepted.Job.ID.String(), status.CompileJob.ID)
	require.Equal(t, types.JobStatusQueued, status.CompileJob.Status)

	jobURL := "/api/jobs/" + accepted.Job.ID.String()
	rec = f.do(http.MethodGet, jobURL, "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, jobURL, f.token(t, "bob"), "", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(http.MethodDelete, jobURL, alice, "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var canceled struct {
		Job types.JobRun `json:"job"`
	}
	decode(t, rec, &canceled)
	require.Equal(t, types.JobStatusCanceled, canceled.Job.Status)

	rec = f.do(http.MethodGet, "/api/jobs/not-a-uuid", "", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_id", errorCode(t, rec))

	rec = f.do(http.MethodGet, "/api/jobs/"+uuid.NewString(), "", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLockedAnalysisRejectsEditsAndCompiles(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.db.Model(&types.Analysis{}).Where("id = ?", f.analysis.ID).
		Updates(map[string]interface{}{"status": types.AnalysisPassed, "locked": true}).Error)
	alice := f.token(t, "alice")

	rec := f.do(http.MethodPatch, "/api/analyses/aB3dE", alice, "application/json", `{"name":"renamed"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "locked", errorCode(t, rec))

	rec = f.do(http.MethodPost, "/api/analyses/aB3dE/compile", alice, "", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(http.MethodPatch, "/api/analyses/aB3dE", alice, "application/json", `{"private":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// Private analyses are hidden from everyone but the owner.
	require.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/analyses/aB3dE/status", "", "", "").Code)
	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/analyses/aB3dE/status", alice, "", "").Code)

	// Passed, but nothing was written to disk or uploaded.
	rec = f.do(http.MethodGet, "/api/analyses/aB3dE/bundle", alice, "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPredictorEvents(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/api/predictor-events?predictor_id="+f.predictor.ID.String(), "", "", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var evs []materialize.FlatEvent
	decode(t, rec, &evs)
	require.Len(t, evs, 2)
	require.Equal(t, 1.0, evs[0].Onset)
	require.Equal(t, f.run.ID, evs[0].RunID)

	rec = f.do(http.MethodGet, "/api/predictor-events", "", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "missing_predictor_id", errorCode(t, rec))

	rec = f.do(http.MethodGet, "/api/predictor-events?predictor_id=xyz", "", "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/predictor-events?predictor_id="+f.predictor.ID.String()+"&run_id="+uuid.NewString(), "", "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUploadPredictorsFromTSV(t *testing.T) {
	f := newAPIFixture(t)
	tsv := "onset\tduration\tloudness\tlabel\n0\t1\t0.3\ta\n2\t1\t0.9\tb\n"

	rec := f.do(http.MethodPost, "/api/runs/"+f.run.ID.String()+"/predictors?columns=loudness",
		f.token(t, "alice"), "text/tab-separated-values", tsv)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var res ingest.Result
	decode(t, rec, &res)
	require.Len(t, res.Predictors, 1)
	require.Equal(t, "loudness", res.Predictors[0].Name)
	require.Equal(t, 2, res.Predictors[0].Events)
	require.True(t, res.Predictors[0].Created)

	rec = f.do(http.MethodPost, "/api/runs/"+uuid.NewString()+"/predictors", f.token(t, "alice"), "text/tab-separated-values", tsv)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodPost, "/api/runs/"+f.run.ID.String()+"/predictors", f.token(t, "alice"), "text/tab-separated-values", "value\n1\n")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReportRequestAndFetch(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(http.MethodPost, "/api/analyses/aB3dE/report", f.token(t, "alice"), "application/json", `{"scale":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted struct {
		Report types.Report `json:"report"`
		Job    types.JobRun `json:"job"`
	}
	decode(t, rec, &accepted)
	require.Equal(t, types.ReportPending, accepted.Report.Status)
	require.True(t, accepted.Report.Scale)
	require.Equal(t, services.JobTypeReportGenerate, accepted.Job.JobType)

	rec = f.do(http.MethodGet, "/api/reports/"+accepted.Report.ID.String(), "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got types.Report
	decode(t, rec, &got)
	require.Equal(t, accepted.Job.ID.String(), got.TaskID)

	rec = f.do(http.MethodPost, "/api/analyses/missing/report", f.token(t, "alice"), "", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExtractionRequest(t *testing.T) {
	f := newAPIFixture(t)
	alice := f.token(t, "alice")
	stim := testutil.SeedStimulus(t, context.Background(), f.db, "gs://stimuli/frame.jpg")

	rec := f.do(http.MethodPost, "/api/extractions", alice, "application/json",
		`{"extractor":"Nope","stimulus_ids":["`+stim.ID.String()+`"]}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodPost, "/api/extractions", alice, "application/json", `{"extractor":`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "invalid_body", errorCode(t, rec))

	rec = f.do(http.MethodPost, "/api/extractions", alice, "application/json",
		`{"extractor":"GoogleVisionAPILabelExtractor","stimulus_ids":["`+stim.ID.String()+`"]}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted struct {
		Job types.JobRun `json:"job"`
	}
	decode(t, rec, &accepted)
	require.Equal(t, services.JobTypeFeatureExtract, accepted.Job.JobType)
	require.Equal(t, "alice", accepted.Job.Owner)
}

func TestJobEventStreamEndsForFinishedJob(t *testing.T) {
	f := newAPIFixture(t)
	job := &types.JobRun{JobType: services.JobTypeReportGenerate, Owner: "alice", Status: types.JobStatusSucceeded, Stage: "done", Progress: 100}
	require.NoError(t, f.db.Create(job).Error)

	rec := f.do(http.MethodGet, "/api/jobs/"+job.ID.String()+"/events", "", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Body.String(), "event: JobProgress\n")
	require.Contains(t, rec.Body.String(), `"status":"succeeded"`)
}

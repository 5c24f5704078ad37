package services

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/report"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type ReportRequest struct {
	RunIDs       []uuid.UUID `json:"run_id"`
	SamplingRate float64     `json:"sampling_rate"`
	Scale        bool        `json:"scale"`
}

type ReportService interface {
	RequestReport(dbc dbctx.Context, hashID string, req ReportRequest) (*types.Report, *types.JobRun, error)
	Get(dbc dbctx.Context, id uuid.UUID) (*types.Report, error)
	RecordSuccess(dbc dbctx.Context, id uuid.UUID, result types.ReportResult) error
	RecordFailure(dbc dbctx.Context, id uuid.UUID, cause error) error
}

type reportService struct {
	db       *gorm.DB
	log      *logger.Logger
	reports  repos.ReportRepo
	analyses repos.AnalysisRepo
	jobs     JobService
}

func NewReportService(db *gorm.DB, baseLog *logger.Logger, reports repos.ReportRepo, analyses repos.AnalysisRepo, jobs JobService) ReportService {
	return &reportService{
		db:       db,
		log:      baseLog.With("service", "ReportService"),
		reports:  reports,
		analyses: analyses,
		jobs:     jobs,
	}
}

// RequestReport records a PENDING report and queues its generation. An
// empty run filter is resolved to the analysis's first run by the job.
func (s *reportService) RequestReport(dbc dbctx.Context, hashID string, req ReportRequest) (*types.Report, *types.JobRun, error) {
	if req.SamplingRate < 0 {
		return nil, nil, fmt.Errorf("%w: sampling_rate must be positive", types.ErrInvalidArgument)
	}
	if req.SamplingRate == 0 {
		req.SamplingRate = report.DefaultSamplingRate
	}
	var (
		rep *types.Report
		job *types.JobRun
	)
	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		a, found, err := s.analyses.FindByHashID(inner, hashID, false)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("analysis %q: %w", hashID, types.ErrNotFound)
		}
		rep = &types.Report{
			AnalysisHashID: a.HashID,
			RunIDs:         datatypes.NewJSONType(req.RunIDs),
			SamplingRate:   req.SamplingRate,
			Scale:          req.Scale,
			Status:         types.ReportPending,
		}
		if err := s.reports.Create(inner, rep); err != nil {
			return fmt.Errorf("create report: %w", err)
		}
		job, err = s.jobs.Enqueue(inner, ctxutil.GetSubject(dbc.Ctx), JobTypeReportGenerate, "report", rep.ID.String(), map[string]any{
			"report_id": rep.ID.String(),
		})
		if err != nil {
			return err
		}
		rep.TaskID = job.ID.String()
		return s.reports.UpdateFields(inner, rep.ID, map[string]interface{}{"task_id": rep.TaskID})
	})
	if err != nil {
		return nil, nil, err
	}
	if dbc.Tx == nil {
		if err := s.jobs.Dispatch(dbc, job.ID); err != nil {
			return rep, job, err
		}
	}
	return rep, job, nil
}

func (s *reportService) Get(dbc dbctx.Context, id uuid.UUID) (*types.Report, error) {
	rep, found, err := s.reports.GetByID(dbc, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("report %s: %w", id, types.ErrNotFound)
	}
	return rep, nil
}

func (s *reportService) RecordSuccess(dbc dbctx.Context, id uuid.UUID, result types.ReportResult) error {
	return s.reports.UpdateFields(dbc, id, map[string]interface{}{
		"status":    types.ReportOK,
		"result":    datatypes.NewJSONType(result),
		"traceback": "",
	})
}

func (s *reportService) RecordFailure(dbc dbctx.Context, id uuid.UUID, cause error) error {
	return s.reports.UpdateFields(dbc, id, map[string]interface{}{
		"status":    types.ReportFailed,
		"traceback": bundle.Traceback(cause),
	})
}

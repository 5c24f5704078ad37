package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// Job types handled by the pipelines.
const (
	JobTypeAnalysisCompile = "analysis_compile"
	JobTypeReportGenerate  = "report_generate"
	JobTypeFeatureExtract  = "feature_extract"
)

// JobWorkflowName is the temporal workflow every job run executes.
const JobWorkflowName = "job_run"

type JobService interface {
	// Enqueue records a queued job. Outside a transaction it is dispatched
	// right away; inside one, callers Dispatch after commit.
	Enqueue(dbc dbctx.Context, owner string, jobType string, entityType string, entityID string, payload map[string]any) (*types.JobRun, error)
	// Dispatch starts the temporal workflow for the job. Without temporal
	// the job stays queued for the polling worker.
	Dispatch(dbc dbctx.Context, jobID uuid.UUID) error
	GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
	// Latest returns the newest job of jobType for an entity, if any.
	Latest(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, bool, error)
	Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error)
}

type jobService struct {
	db        *gorm.DB
	log       *logger.Logger
	repo      repos.JobRunRepo
	notify    JobNotifier
	temporal  temporalsdkclient.Client
	taskQueue string
}

func NewJobService(
	db *gorm.DB,
	baseLog *logger.Logger,
	repo repos.JobRunRepo,
	notify JobNotifier,
	temporalClient temporalsdkclient.Client,
	taskQueue string,
) JobService {
	return &jobService{
		db:        db,
		log:       baseLog.With("service", "JobService"),
		repo:      repo,
		notify:    notify,
		temporal:  temporalClient,
		taskQueue: taskQueue,
	}
}

func (s *jobService) Enqueue(dbc dbctx.Context, owner string, jobType string, entityType string, entityID string, payload map[string]any) (*types.JobRun, error) {
	if jobType == "" {
		return nil, fmt.Errorf("missing job_type")
	}
	if payload == nil {
		payload = map[string]any{}
	}
	if td := ctxutil.GetTraceData(dbc.Ctx); td != nil {
		if _, ok := payload["trace_id"]; !ok && td.TraceID != "" {
			payload["trace_id"] = td.TraceID
		}
		if _, ok := payload["request_id"]; !ok && td.RequestID != "" {
			payload["request_id"] = td.RequestID
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	now := time.Now().UTC()
	job := &types.JobRun{
		ID:         uuid.New(),
		Owner:      owner,
		JobType:    jobType,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     types.JobStatusQueued,
		Stage:      "queued",
		Message:    "Queued",
		Payload:    datatypes.JSON(b),
		Result:     datatypes.JSON([]byte(`{}`)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.repo.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if s.notify != nil {
		s.notify.JobCreated(owner, job)
	}
	if isDBTransaction(dbc.Tx) {
		return job, nil
	}
	if err := s.Dispatch(dbc, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

type txCommitter interface {
	Commit() error
	Rollback() error
}

func isDBTransaction(db *gorm.DB) bool {
	if db == nil || db.Statement == nil || db.Statement.ConnPool == nil {
		return false
	}
	_, ok := db.Statement.ConnPool.(txCommitter)
	return ok
}

func (s *jobService) Dispatch(dbc dbctx.Context, jobID uuid.UUID) error {
	if jobID == uuid.Nil {
		return fmt.Errorf("missing job id")
	}
	if s.temporal == nil {
		return nil
	}
	ctx := ctxutil.Default(dbc.Ctx)
	err := s.startWorkflow(ctx, jobID)
	if err == nil {
		return nil
	}
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return nil
	}

	now := time.Now().UTC()
	repoCtx := dbctx.Context{Ctx: ctx, Tx: s.db}
	if uerr := s.repo.UpdateFields(repoCtx, jobID, map[string]interface{}{
		"status":        types.JobStatusFailed,
		"stage":         "dispatch",
		"message":       "",
		"error":         err.Error(),
		"last_error_at": now,
		"locked_at":     nil,
	}); uerr != nil {
		s.log.Warn("mark undispatched job failed", "job_id", jobID, "error", uerr)
	}
	if s.notify != nil {
		if job, found, gerr := s.repo.GetByID(repoCtx, jobID); gerr == nil && found {
			s.notify.JobFailed(job.Owner, job, "dispatch", err.Error())
		}
	}
	return fmt.Errorf("start temporal workflow: %w", err)
}

func (s *jobService) startWorkflow(ctx context.Context, jobID uuid.UUID) error {
	tq := strings.TrimSpace(s.taskQueue)
	if tq == "" {
		tq = "neuroscout"
	}
	opts := temporalsdkclient.StartWorkflowOptions{
		ID:                    jobID.String(),
		TaskQueue:             tq,
		WorkflowIDReusePolicy: enums.WORKFLOW_ID_REUSE_POLICY_REJECT_DUPLICATE,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    30 * time.Second,
			BackoffCoefficient: 1.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	_, err := s.temporal.ExecuteWorkflow(ctx, opts, JobWorkflowName)
	return err
}

func (s *jobService) GetByID(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	if jobID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing job id", types.ErrInvalidArgument)
	}
	job, found, err := s.repo.GetByID(dbc, jobID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("job %s: %w", jobID, types.ErrNotFound)
	}
	return job, nil
}

func (s *jobService) Latest(dbc dbctx.Context, entityType, entityID, jobType string) (*types.JobRun, bool, error) {
	return s.repo.LatestForEntity(dbc, entityType, entityID, jobType)
}

// Cancel stops a job owned by the requesting subject. Finished jobs are
// returned unchanged.
func (s *jobService) Cancel(dbc dbctx.Context, jobID uuid.UUID) (*types.JobRun, error) {
	subject := ctxutil.GetSubject(dbc.Ctx)
	if subject == "" {
		return nil, ErrUnauthorized
	}
	var updated *types.JobRun
	canceled := false
	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		job, err := s.GetByID(inner, jobID)
		if err != nil {
			return err
		}
		if job.Owner != "" && job.Owner != subject {
			return fmt.Errorf("job %s: %w", jobID, ErrForbidden)
		}
		updated = job
		switch job.Status {
		case types.JobStatusSucceeded, types.JobStatusFailed, types.JobStatusCanceled:
			return nil
		}
		now := time.Now().UTC()
		if err := s.repo.UpdateFields(inner, jobID, map[string]interface{}{
			"status":       types.JobStatusCanceled,
			"message":      "Canceled",
			"locked_at":    nil,
			"heartbeat_at": now,
		}); err != nil {
			return err
		}
		job.Status = types.JobStatusCanceled
		job.Message = "Canceled"
		job.LockedAt = nil
		job.HeartbeatAt = &now
		canceled = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	if canceled {
		if s.notify != nil {
			s.notify.JobCanceled(updated.Owner, updated)
		}
		if s.temporal != nil {
			if cerr := s.temporal.CancelWorkflow(ctxutil.Default(dbc.Ctx), jobID.String(), ""); cerr != nil {
				s.log.Debug("cancel workflow", "job_id", jobID, "error", cerr)
			}
		}
	}
	return updated, nil
}

package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// AnalysisEdit holds the fields a caller wants to change; nil means unchanged.
type AnalysisEdit struct {
	Name        *string         `json:"name"`
	Description *string         `json:"description"`
	Private     *bool           `json:"private"`
	Model       json.RawMessage `json:"model"`
}

func (e AnalysisEdit) contentChanged() bool {
	return e.Name != nil || e.Description != nil || len(e.Model) > 0
}

type CompileOutput struct {
	BundlePath string
	ObjectKey  string
}

// BundleLocation is where a compiled bundle can be fetched: a local file,
// an object storage URL, or both.
type BundleLocation struct {
	Path string
	URL  string
}

// ObjectURLer resolves stored object keys to download URLs.
type ObjectURLer interface {
	PublicURL(key string) string
}

type AnalysisService interface {
	Get(dbc dbctx.Context, hashID string) (*types.Analysis, error)
	// LoadSnapshot reads the analysis with its bindings. Failures carry the
	// deserialization phase.
	LoadSnapshot(dbc dbctx.Context, hashID string) (*types.Analysis, bundle.Snapshot, error)
	RequestCompile(dbc dbctx.Context, hashID string) (*types.Analysis, *types.JobRun, error)
	MarkEdited(dbc dbctx.Context, hashID string, edit AnalysisEdit) (*types.Analysis, error)
	// RecordCompileSuccess and RecordCompileFailure report false when taskID
	// was superseded by a newer compile request.
	RecordCompileSuccess(dbc dbctx.Context, hashID string, taskID string, out CompileOutput) (bool, error)
	RecordCompileFailure(dbc dbctx.Context, hashID string, taskID string, cause error) (bool, error)
	BundleLocation(dbc dbctx.Context, hashID string) (*BundleLocation, error)
}

type analysisService struct {
	db       *gorm.DB
	log      *logger.Logger
	analyses repos.AnalysisRepo
	datasets repos.DatasetRepo
	jobs     JobService
	objects  ObjectURLer
}

func NewAnalysisService(
	db *gorm.DB,
	baseLog *logger.Logger,
	analyses repos.AnalysisRepo,
	datasets repos.DatasetRepo,
	jobs JobService,
	objects ObjectURLer,
) AnalysisService {
	return &analysisService{
		db:       db,
		log:      baseLog.With("service", "AnalysisService"),
		analyses: analyses,
		datasets: datasets,
		jobs:     jobs,
		objects:  objects,
	}
}

func (s *analysisService) find(dbc dbctx.Context, hashID string, withBindings bool) (*types.Analysis, error) {
	a, found, err := s.analyses.FindByHashID(dbc, hashID, withBindings)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("analysis %q: %w", hashID, types.ErrNotFound)
	}
	return a, nil
}

func authorize(dbc dbctx.Context, a *types.Analysis) error {
	subject := ctxutil.GetSubject(dbc.Ctx)
	if subject == "" {
		return ErrUnauthorized
	}
	if a.Owner != "" && a.Owner != subject {
		return fmt.Errorf("analysis %q: %w", a.HashID, ErrForbidden)
	}
	return nil
}

func (s *analysisService) Get(dbc dbctx.Context, hashID string) (*types.Analysis, error) {
	return s.find(dbc, hashID, false)
}

func (s *analysisService) LoadSnapshot(dbc dbctx.Context, hashID string) (*types.Analysis, bundle.Snapshot, error) {
	a, err := s.find(dbc, hashID, true)
	if err != nil {
		return nil, bundle.Snapshot{}, bundle.Wrap(bundle.PhaseDeserialization, err)
	}
	ds, found, err := s.datasets.GetByID(dbc, a.DatasetID)
	if err != nil {
		return nil, bundle.Snapshot{}, bundle.Wrap(bundle.PhaseDeserialization, err)
	}
	if !found {
		return nil, bundle.Snapshot{}, bundle.Wrap(bundle.PhaseDeserialization, fmt.Errorf("dataset %s: %w", a.DatasetID, types.ErrNotFound))
	}
	snap, err := bundle.FromAnalysis(a, ds)
	if err != nil {
		return nil, bundle.Snapshot{}, bundle.Wrap(bundle.PhaseDeserialization, err)
	}
	return a, snap, nil
}

// RequestCompile moves the analysis to PENDING under a fresh task id and
// queues the compile job. A newer request supersedes a pending one.
func (s *analysisService) RequestCompile(dbc dbctx.Context, hashID string) (*types.Analysis, *types.JobRun, error) {
	var (
		a   *types.Analysis
		job *types.JobRun
	)
	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		var err error
		if a, err = s.find(inner, hashID, false); err != nil {
			return err
		}
		if err := authorize(inner, a); err != nil {
			return err
		}
		if err := a.CanCompile(); err != nil {
			return fmt.Errorf("analysis %q is %s: %w", hashID, a.Status, err)
		}
		taskID := uuid.NewString()
		now := time.Now().UTC()
		if err := s.analyses.UpdateFields(inner, a.ID, map[string]interface{}{
			"status":            types.AnalysisPending,
			"compile_task_id":   taskID,
			"compile_traceback": "",
			"compile_phase":     "",
			"submitted_at":      now,
		}); err != nil {
			return err
		}
		a.Status = types.AnalysisPending
		a.CompileTaskID = taskID
		a.CompileTraceback = ""
		a.CompilePhase = ""
		a.SubmittedAt = &now

		job, err = s.jobs.Enqueue(inner, ctxutil.GetSubject(dbc.Ctx), JobTypeAnalysisCompile, "analysis", a.HashID, map[string]any{
			"hash_id": a.HashID,
			"task_id": taskID,
		})
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	if dbc.Tx == nil {
		if err := s.jobs.Dispatch(dbc, job.ID); err != nil {
			return a, job, err
		}
	}
	s.log.Info("compile requested", "hash_id", a.HashID, "task_id", a.CompileTaskID, "job_id", job.ID)
	return a, job, nil
}

func (s *analysisService) MarkEdited(dbc dbctx.Context, hashID string, edit AnalysisEdit) (*types.Analysis, error) {
	var a *types.Analysis
	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		var err error
		if a, err = s.find(inner, hashID, false); err != nil {
			return err
		}
		if err := authorize(inner, a); err != nil {
			return err
		}
		updates := map[string]interface{}{}
		if edit.Private != nil {
			updates["private"] = *edit.Private
			a.Private = *edit.Private
		}
		if edit.contentChanged() {
			if err := a.CanEdit(); err != nil {
				return fmt.Errorf("analysis %q is %s: %w", hashID, a.Status, err)
			}
			if edit.Name != nil {
				updates["name"] = *edit.Name
				a.Name = *edit.Name
			}
			if edit.Description != nil {
				updates["description"] = *edit.Description
				a.Description = *edit.Description
			}
			if len(edit.Model) > 0 {
				if !json.Valid(edit.Model) {
					return fmt.Errorf("%w: model is not valid JSON", types.ErrInvalidArgument)
				}
				updates["model"] = datatypes.JSON(edit.Model)
				a.Model = datatypes.JSON(edit.Model)
			}
			updates["status"] = types.AnalysisDraft
			a.Status = types.AnalysisDraft
		}
		if len(updates) == 0 {
			return nil
		}
		return s.analyses.UpdateFields(inner, a.ID, updates)
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *analysisService) RecordCompileSuccess(dbc dbctx.Context, hashID string, taskID string, out CompileOutput) (bool, error) {
	return s.recordOutcome(dbc, hashID, taskID, func(a *types.Analysis) map[string]interface{} {
		now := time.Now().UTC()
		return map[string]interface{}{
			"status":            types.AnalysisPassed,
			"locked":            true,
			"bundle_path":       out.BundlePath,
			"bundle_object_key": out.ObjectKey,
			"compile_traceback": "",
			"compile_phase":     "",
			"compiled_at":       now,
		}
	})
}

func (s *analysisService) RecordCompileFailure(dbc dbctx.Context, hashID string, taskID string, cause error) (bool, error) {
	phase, _ := bundle.PhaseOf(cause)
	return s.recordOutcome(dbc, hashID, taskID, func(a *types.Analysis) map[string]interface{} {
		return map[string]interface{}{
			"status":            types.AnalysisFailed,
			"locked":            false,
			"compile_traceback": bundle.Traceback(cause),
			"compile_phase":     string(phase),
		}
	})
}

func (s *analysisService) recordOutcome(dbc dbctx.Context, hashID, taskID string, updates func(*types.Analysis) map[string]interface{}) (bool, error) {
	applied := false
	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		a, err := s.find(inner, hashID, false)
		if err != nil {
			return err
		}
		if a.CompileTaskID != taskID {
			s.log.Info("compile result superseded", "hash_id", hashID, "task_id", taskID, "current_task_id", a.CompileTaskID)
			return nil
		}
		if err := s.analyses.UpdateFields(inner, a.ID, updates(a)); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

func (s *analysisService) BundleLocation(dbc dbctx.Context, hashID string) (*BundleLocation, error) {
	a, err := s.find(dbc, hashID, false)
	if err != nil {
		return nil, err
	}
	if a.Status != types.AnalysisPassed {
		return nil, fmt.Errorf("analysis %q has no compiled bundle: %w", hashID, types.ErrNotFound)
	}
	loc := &BundleLocation{}
	if a.BundlePath != "" {
		if _, err := os.Stat(a.BundlePath); err == nil {
			loc.Path = a.BundlePath
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	if a.BundleObjectKey != "" && s.objects != nil {
		loc.URL = s.objects.PublicURL(a.BundleObjectKey)
	}
	if loc.Path == "" && loc.URL == "" {
		return nil, fmt.Errorf("bundle for %q: %w", hashID, types.ErrNotFound)
	}
	return loc, nil
}

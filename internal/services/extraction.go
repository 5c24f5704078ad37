package services

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type ExtractionRequest struct {
	Extractor   string      `json:"extractor"`
	StimulusIDs []uuid.UUID `json:"stimulus_ids"`
	// Splat explodes list-valued features into one feature per element.
	Splat bool `json:"splat"`
	Round *int `json:"round,omitempty"`
}

type ExtractionService interface {
	Request(dbc dbctx.Context, req ExtractionRequest) (*types.JobRun, error)
}

type extractionService struct {
	log   *logger.Logger
	jobs  JobService
	known map[string]bool
}

// NewExtractionService accepts requests for the named extractors only.
func NewExtractionService(baseLog *logger.Logger, jobs JobService, extractors []string) ExtractionService {
	known := make(map[string]bool, len(extractors))
	for _, n := range extractors {
		known[n] = true
	}
	return &extractionService{log: baseLog.With("service", "ExtractionService"), jobs: jobs, known: known}
}

func (s *extractionService) Request(dbc dbctx.Context, req ExtractionRequest) (*types.JobRun, error) {
	if !s.known[req.Extractor] {
		names := make([]string, 0, len(s.known))
		for n := range s.known {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("%w: unknown extractor %q (available: %s)", types.ErrInvalidArgument, req.Extractor, strings.Join(names, ", "))
	}
	if len(req.StimulusIDs) == 0 {
		return nil, fmt.Errorf("%w: stimulus_ids is empty", types.ErrInvalidArgument)
	}
	ids := make([]string, 0, len(req.StimulusIDs))
	for _, id := range req.StimulusIDs {
		ids = append(ids, id.String())
	}
	payload := map[string]any{
		"extractor":    req.Extractor,
		"stimulus_ids": ids,
		"splat":        req.Splat,
	}
	if req.Round != nil {
		payload["round"] = *req.Round
	}
	job, err := s.jobs.Enqueue(dbc, ctxutil.GetSubject(dbc.Ctx), JobTypeFeatureExtract, "extractor", req.Extractor, payload)
	if err != nil {
		return nil, err
	}
	s.log.Info("extraction requested", "extractor", req.Extractor, "stimuli", len(ids), "job_id", job.ID)
	return job, nil
}

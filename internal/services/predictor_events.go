package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type PredictorEventService interface {
	// Events materializes the predictors over runIDs, or every run when nil.
	Events(dbc dbctx.Context, predictorIDs []uuid.UUID, runIDs []uuid.UUID, withStimulus bool) ([]materialize.FlatEvent, error)
}

type predictorEventService struct {
	log     *logger.Logger
	mat     *materialize.Materializer
	cache   *EventCache
	metrics *observability.Metrics
}

func NewPredictorEventService(baseLog *logger.Logger, mat *materialize.Materializer, cache *EventCache, m *observability.Metrics) PredictorEventService {
	return &predictorEventService{
		log:     baseLog.With("service", "PredictorEventService"),
		mat:     mat,
		cache:   cache,
		metrics: m,
	}
}

func (s *predictorEventService) Events(dbc dbctx.Context, predictorIDs []uuid.UUID, runIDs []uuid.UUID, withStimulus bool) ([]materialize.FlatEvent, error) {
	if len(predictorIDs) == 0 {
		return nil, fmt.Errorf("%w: at least one predictor_id is required", types.ErrInvalidArgument)
	}
	load := func(ctx dbctx.Context) ([]materialize.FlatEvent, error) {
		evs, err := s.mat.Materialize(ctx, predictorIDs, materialize.Options{RunIDs: runIDs, IncludeStimulusTiming: withStimulus})
		if errors.Is(err, materialize.ErrUnknownRuns) {
			return nil, fmt.Errorf("%w: %v", types.ErrNotFound, err)
		}
		if err != nil {
			return nil, err
		}
		s.metrics.AddMaterialized("api", len(evs))
		return evs, nil
	}
	// Reads inside a caller's transaction may see uncommitted rows.
	if s.cache == nil || dbc.Tx != nil {
		return load(dbc)
	}
	key := EventsCacheKey(predictorIDs, runIDs, withStimulus)
	return s.cache.Get(dbc.Ctx, key, func(ctx context.Context) ([]materialize.FlatEvent, error) {
		return load(dbctx.Context{Ctx: ctx})
	})
}

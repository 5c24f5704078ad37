package extract

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/annotate"
	"github.com/yungbote/neuroscout-backend/internal/modules/bundle"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type Store interface {
	UpsertExtractedFeature(dbc dbctx.Context, f *types.ExtractedFeature) (*types.ExtractedFeature, bool, error)
	CreateExtractedEvents(dbc dbctx.Context, evs []*types.ExtractedEvent) error
	HasExtractedEvents(dbc dbctx.Context, efID, stimulusID uuid.UUID) (bool, error)
	FindPredictor(dbc dbctx.Context, datasetID uuid.UUID, name string, efID *uuid.UUID) (*types.Predictor, bool, error)
	CreatePredictor(dbc dbctx.Context, p *types.Predictor) error
}

type Invalidator interface {
	Invalidate(keys ...string)
}

type Result struct {
	Stimuli    int `json:"stimuli"`
	Features   int `json:"features_created"`
	Events     int `json:"events_created"`
	Predictors int `json:"predictors_created"`
	// Skipped counts (feature, stimulus) pairs that already had events.
	Skipped int `json:"skipped"`
}

type Service struct {
	db        *gorm.DB
	store     Store
	annotator *annotate.Annotator
	inv       Invalidator
	log       *logger.Logger
}

func NewService(db *gorm.DB, store Store, annotator *annotate.Annotator, inv Invalidator, baseLog *logger.Logger) *Service {
	if annotator == nil {
		annotator = annotate.New(nil)
	}
	return &Service{
		db:        db,
		store:     store,
		annotator: annotator,
		inv:       inv,
		log:       baseLog.With("service", "ExtractionService"),
	}
}

type batch struct {
	stim *types.Stimulus
	rows []annotate.Annotated
}

// ExtractAndStore runs ext over every stimulus, annotates the output and
// stores features, events and dataset predictors in one transaction.
// Nothing is stored if any stimulus fails to extract or annotate.
func (s *Service) ExtractAndStore(dbc dbctx.Context, stimuli []*types.Stimulus, ext Extractor, opts annotate.Options) (*Result, error) {
	info := Info(ext)
	batches := make([]batch, 0, len(stimuli))
	for _, stim := range stimuli {
		rows, err := ext.Extract(dbc.Ctx, stim)
		if err != nil {
			return nil, err
		}
		annotated, err := s.annotator.Annotate(info, rows, opts)
		if err != nil {
			return nil, bundle.Wrap(bundle.PhaseAnnotation, fmt.Errorf("stimulus %s: %w", stim.ID, err))
		}
		batches = append(batches, batch{stim: stim, rows: annotated})
	}

	res := &Result{Stimuli: len(batches)}
	err := dbc.DB(s.db).Transaction(func(tx *gorm.DB) error {
		inner := dbctx.Context{Ctx: dbc.Ctx, Tx: tx}
		features := map[string]*types.ExtractedFeature{}
		linked := map[[2]uuid.UUID]bool{}
		for _, b := range batches {
			existing := map[uuid.UUID]bool{}
			checked := map[uuid.UUID]bool{}
			var evs []*types.ExtractedEvent
			for _, a := range b.rows {
				f, ok := features[a.Feature.SHA1Hash]
				if !ok {
					stored, created, err := s.store.UpsertExtractedFeature(inner, featureRow(a.Feature))
					if err != nil {
						return fmt.Errorf("upsert feature %s: %w", a.Feature.FeatureName, err)
					}
					if created {
						res.Features++
					}
					f = stored
					features[a.Feature.SHA1Hash] = f
				}
				if !checked[f.ID] {
					checked[f.ID] = true
					has, err := s.store.HasExtractedEvents(inner, f.ID, b.stim.ID)
					if err != nil {
						return err
					}
					if has {
						existing[f.ID] = true
						res.Skipped++
					}
				}
				if existing[f.ID] {
					continue
				}
				evs = append(evs, &types.ExtractedEvent{
					Onset:      a.Event.Onset,
					Duration:   a.Event.Duration,
					Value:      a.Event.Value,
					ObjectID:   a.Event.ObjectID,
					EFID:       f.ID,
					StimulusID: b.stim.ID,
				})
				if b.stim.DatasetID != nil {
					key := [2]uuid.UUID{*b.stim.DatasetID, f.ID}
					if !linked[key] {
						linked[key] = true
						created, err := s.linkPredictor(inner, *b.stim.DatasetID, f)
						if err != nil {
							return err
						}
						if created {
							res.Predictors++
						}
					}
				}
			}
			if err := s.store.CreateExtractedEvents(inner, evs); err != nil {
				return fmt.Errorf("create extracted events: %w", err)
			}
			res.Events += len(evs)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.inv != nil && res.Events > 0 {
		s.inv.Invalidate(materialize.CacheKey)
	}
	s.log.Info("extraction stored",
		"extractor", info.Name,
		"stimuli", res.Stimuli,
		"features_created", res.Features,
		"events_created", res.Events,
		"predictors_created", res.Predictors,
	)
	return res, nil
}

// linkPredictor makes f available as a derived predictor of the dataset.
func (s *Service) linkPredictor(dbc dbctx.Context, datasetID uuid.UUID, f *types.ExtractedFeature) (bool, error) {
	efID := f.ID
	_, found, err := s.store.FindPredictor(dbc, datasetID, f.FeatureName, &efID)
	if err != nil || found {
		return false, err
	}
	p := &types.Predictor{
		Name:         f.FeatureName,
		OriginalName: f.OriginalName,
		DatasetID:    datasetID,
		EFID:         &efID,
		Source:       types.PredictorSourceExtracted,
		Description:  f.Description,
		Active:       f.Active,
	}
	if err := s.store.CreatePredictor(dbc, p); err != nil {
		return false, fmt.Errorf("create predictor %s: %w", f.FeatureName, err)
	}
	return true, nil
}

func featureRow(fa annotate.FeatureAttrs) *types.ExtractedFeature {
	return &types.ExtractedFeature{
		SHA1Hash:            fa.SHA1Hash,
		ExtractorName:       fa.ExtractorName,
		ExtractorParameters: fa.ExtractorParameters,
		ExtractorVersion:    fa.ExtractorVersion,
		FeatureName:         fa.FeatureName,
		OriginalName:        fa.OriginalName,
		Description:         fa.Description,
		Active:              fa.Active,
		Modality:            fa.Modality,
		ResampleFrequency:   fa.ResampleFrequency,
	}
}

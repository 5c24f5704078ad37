package events

import (
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// Store is the typed accessor over predictors, their stored events, extracted
// events and stimulus presentations. Filters are applied in SQL.
type Store interface {
	GetPredictors(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Predictor, error)
	GetPredictorEvents(dbc dbctx.Context, predictorIDs []uuid.UUID, runIDs []uuid.UUID) ([]*types.PredictorEvent, error)
	GetRunStimuli(dbc dbctx.Context, stimulusIDs []uuid.UUID, runIDs []uuid.UUID) ([]*types.RunStimulus, error)
	GetStimuli(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Stimulus, error)
	GetExtractedEventTimings(dbc dbctx.Context, featureIDs []uuid.UUID, runIDs []uuid.UUID, withStimulus bool) ([]types.ExtractedTiming, error)
	GetRuns(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Run, error)
	FindRun(dbc dbctx.Context, id uuid.UUID) (*types.Run, bool, error)
	FindStimulus(dbc dbctx.Context, id uuid.UUID) (*types.Stimulus, bool, error)
	FindPredictor(dbc dbctx.Context, datasetID uuid.UUID, name string, efID *uuid.UUID) (*types.Predictor, bool, error)

	CreatePredictor(dbc dbctx.Context, p *types.Predictor) error
	CreatePredictorWithEvents(dbc dbctx.Context, p *types.Predictor, evs []*types.PredictorEvent) error
	UpsertExtractedFeature(dbc dbctx.Context, f *types.ExtractedFeature) (*types.ExtractedFeature, bool, error)
	CreatePredictorEvents(dbc dbctx.Context, evs []*types.PredictorEvent) error
	CreateExtractedEvents(dbc dbctx.Context, evs []*types.ExtractedEvent) error
	HasExtractedEvents(dbc dbctx.Context, efID, stimulusID uuid.UUID) (bool, error)
	UpsertRunStimulus(dbc dbctx.Context, rs *types.RunStimulus) (*types.RunStimulus, error)
	CreateStimulus(dbc dbctx.Context, s *types.Stimulus) (*types.Stimulus, bool, error)
}

type store struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewStore(db *gorm.DB, baseLog *logger.Logger) Store {
	return &store{db: db, log: baseLog.With("repo", "EventStore")}
}

func (s *store) GetPredictors(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Predictor, error) {
	var out []*types.Predictor
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(s.db).
		Where("id IN ?", ids).
		Order("name ASC").
		Find(&out).Error
	return out, err
}

// GetPredictorEvents returns stored events of the given predictors. A nil
// runIDs slice means all runs; an empty non-nil slice matches nothing.
func (s *store) GetPredictorEvents(dbc dbctx.Context, predictorIDs []uuid.UUID, runIDs []uuid.UUID) ([]*types.PredictorEvent, error) {
	var out []*types.PredictorEvent
	if len(predictorIDs) == 0 || (runIDs != nil && len(runIDs) == 0) {
		return out, nil
	}
	q := dbc.DB(s.db).Where("predictor_id IN ?", predictorIDs)
	if runIDs != nil {
		q = q.Where("run_id IN ?", runIDs)
	}
	err := q.Order("predictor_id, run_id, onset").Find(&out).Error
	return out, err
}

func (s *store) GetRunStimuli(dbc dbctx.Context, stimulusIDs []uuid.UUID, runIDs []uuid.UUID) ([]*types.RunStimulus, error) {
	var out []*types.RunStimulus
	if len(stimulusIDs) == 0 || (runIDs != nil && len(runIDs) == 0) {
		return out, nil
	}
	q := dbc.DB(s.db).Where("stimulus_id IN ?", stimulusIDs)
	if runIDs != nil {
		q = q.Where("run_id IN ?", runIDs)
	}
	err := q.Order("run_id, onset").Find(&out).Error
	return out, err
}

func (s *store) GetStimuli(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Stimulus, error) {
	var out []*types.Stimulus
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(s.db).Where("id IN ?", ids).Find(&out).Error
	return out, err
}

// GetExtractedEventTimings joins extracted events to every presentation of
// their stimulus, optionally restricted to runIDs.
func (s *store) GetExtractedEventTimings(dbc dbctx.Context, featureIDs []uuid.UUID, runIDs []uuid.UUID, withStimulus bool) ([]types.ExtractedTiming, error) {
	var out []types.ExtractedTiming
	if len(featureIDs) == 0 || (runIDs != nil && len(runIDs) == 0) {
		return out, nil
	}
	cols := []string{
		"ee.ef_id AS ef_id",
		"ee.onset AS onset",
		"ee.duration AS duration",
		"ee.value AS value",
		"ee.object_id AS object_id",
		"ee.stimulus_id AS stimulus_id",
		"rs.run_id AS run_id",
		"rs.onset AS run_stimulus_onset",
		"rs.duration AS run_stimulus_duration",
	}
	q := dbc.DB(s.db).
		Table("extracted_event AS ee").
		Joins("JOIN run_stimulus AS rs ON rs.stimulus_id = ee.stimulus_id")
	if withStimulus {
		cols = append(cols, "st.path AS stimulus_path")
		q = q.Joins("LEFT JOIN stimulus AS st ON st.id = ee.stimulus_id")
	}
	q = q.Select(strings.Join(cols, ", ")).Where("ee.ef_id IN ?", featureIDs)
	if runIDs != nil {
		q = q.Where("rs.run_id IN ?", runIDs)
	}
	err := q.Order("ee.ef_id, rs.run_id, rs.onset, ee.onset").Scan(&out).Error
	return out, err
}

func (s *store) GetRuns(dbc dbctx.Context, ids []uuid.UUID) ([]*types.Run, error) {
	var out []*types.Run
	if len(ids) == 0 {
		return out, nil
	}
	err := dbc.DB(s.db).
		Preload("Task").
		Where("id IN ?", ids).
		Find(&out).Error
	return out, err
}

func (s *store) FindRun(dbc dbctx.Context, id uuid.UUID) (*types.Run, bool, error) {
	var r types.Run
	if id == uuid.Nil {
		return nil, false, nil
	}
	if err := dbc.DB(s.db).Preload("Task").Where("id = ?", id).Limit(1).Find(&r).Error; err != nil {
		return nil, false, err
	}
	if r.ID == uuid.Nil {
		return nil, false, nil
	}
	return &r, true, nil
}

func (s *store) FindStimulus(dbc dbctx.Context, id uuid.UUID) (*types.Stimulus, bool, error) {
	var st types.Stimulus
	if id == uuid.Nil {
		return nil, false, nil
	}
	if err := dbc.DB(s.db).Where("id = ?", id).Limit(1).Find(&st).Error; err != nil {
		return nil, false, err
	}
	if st.ID == uuid.Nil {
		return nil, false, nil
	}
	return &st, true, nil
}

func (s *store) FindPredictor(dbc dbctx.Context, datasetID uuid.UUID, name string, efID *uuid.UUID) (*types.Predictor, bool, error) {
	var p types.Predictor
	q := dbc.DB(s.db).Where("dataset_id = ? AND name = ?", datasetID, name)
	if efID != nil {
		q = q.Where("ef_id = ?", *efID)
	} else {
		q = q.Where("ef_id IS NULL")
	}
	if err := q.Limit(1).Find(&p).Error; err != nil {
		return nil, false, err
	}
	if p.ID == uuid.Nil {
		return nil, false, nil
	}
	return &p, true, nil
}

func (s *store) CreatePredictor(dbc dbctx.Context, p *types.Predictor) error {
	return dbc.DB(s.db).Create(p).Error
}

func (s *store) CreatePredictorWithEvents(dbc dbctx.Context, p *types.Predictor, evs []*types.PredictorEvent) error {
	return dbc.DB(s.db).Transaction(func(txx *gorm.DB) error {
		if err := txx.Create(p).Error; err != nil {
			return err
		}
		if len(evs) == 0 {
			return nil
		}
		for _, ev := range evs {
			ev.PredictorID = p.ID
		}
		return txx.CreateInBatches(evs, 500).Error
	})
}

// UpsertExtractedFeature inserts f unless a feature with the same hash exists.
// It returns the stored row and whether it was newly created.
func (s *store) UpsertExtractedFeature(dbc dbctx.Context, f *types.ExtractedFeature) (*types.ExtractedFeature, bool, error) {
	if f == nil || f.SHA1Hash == "" {
		return nil, false, types.ErrInvalidArgument
	}
	db := dbc.DB(s.db)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sha1_hash"}},
		DoNothing: true,
	}).Create(f)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected > 0 {
		return f, true, nil
	}
	var existing types.ExtractedFeature
	if err := db.Where("sha1_hash = ?", f.SHA1Hash).First(&existing).Error; err != nil {
		return nil, false, err
	}
	return &existing, false, nil
}

func (s *store) CreatePredictorEvents(dbc dbctx.Context, evs []*types.PredictorEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return dbc.DB(s.db).CreateInBatches(evs, 500).Error
}

func (s *store) HasExtractedEvents(dbc dbctx.Context, efID, stimulusID uuid.UUID) (bool, error) {
	var n int64
	err := dbc.DB(s.db).Model(&types.ExtractedEvent{}).
		Where("ef_id = ? AND stimulus_id = ?", efID, stimulusID).
		Limit(1).Count(&n).Error
	return n > 0, err
}

func (s *store) CreateExtractedEvents(dbc dbctx.Context, evs []*types.ExtractedEvent) error {
	if len(evs) == 0 {
		return nil
	}
	return dbc.DB(s.db).CreateInBatches(evs, 500).Error
}

// UpsertRunStimulus returns the existing presentation for (stimulus, run, onset)
// or creates it.
func (s *store) UpsertRunStimulus(dbc dbctx.Context, rs *types.RunStimulus) (*types.RunStimulus, error) {
	db := dbc.DB(s.db)
	find := func() (*types.RunStimulus, error) {
		var existing types.RunStimulus
		err := db.Where("stimulus_id = ? AND run_id = ? AND onset = ?", rs.StimulusID, rs.RunID, rs.Onset).
			Limit(1).Find(&existing).Error
		if err != nil || existing.ID == uuid.Nil {
			return nil, err
		}
		return &existing, nil
	}
	if existing, err := find(); err != nil || existing != nil {
		return existing, err
	}
	if err := db.Create(rs).Error; err != nil {
		if isUniqueViolation(err) {
			return find()
		}
		return nil, err
	}
	return rs, nil
}

// CreateStimulus is idempotent by content hash.
func (s *store) CreateStimulus(dbc dbctx.Context, st *types.Stimulus) (*types.Stimulus, bool, error) {
	db := dbc.DB(s.db)
	find := func() (*types.Stimulus, error) {
		var existing types.Stimulus
		err := db.Where("sha1_hash = ?", st.SHA1Hash).Limit(1).Find(&existing).Error
		if err != nil || existing.ID == uuid.Nil {
			return nil, err
		}
		return &existing, nil
	}
	if existing, err := find(); err != nil || existing != nil {
		return existing, false, err
	}
	if err := db.Create(st).Error; err != nil {
		if isUniqueViolation(err) {
			existing, ferr := find()
			return existing, false, ferr
		}
		return nil, false, err
	}
	return st, true, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

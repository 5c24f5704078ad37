package analysis

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type AnalysisRepo interface {
	Create(dbc dbctx.Context, a *types.Analysis) error
	FindByHashID(dbc dbctx.Context, hashID string, withBindings bool) (*types.Analysis, bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	ReplaceRuns(dbc dbctx.Context, a *types.Analysis, runs []types.Run) error
	ReplacePredictors(dbc dbctx.Context, a *types.Analysis, preds []types.Predictor) error
}

type analysisRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRepo {
	return &analysisRepo{db: db, log: baseLog.With("repo", "AnalysisRepo")}
}

func (r *analysisRepo) Create(dbc dbctx.Context, a *types.Analysis) error {
	return dbc.DB(r.db).Create(a).Error
}

// FindByHashID loads an analysis; withBindings also loads its runs (with
// tasks) and predictors ordered for deterministic snapshots.
func (r *analysisRepo) FindByHashID(dbc dbctx.Context, hashID string, withBindings bool) (*types.Analysis, bool, error) {
	if hashID == "" {
		return nil, false, nil
	}
	q := dbc.DB(r.db)
	if withBindings {
		q = q.
			Preload("Runs", func(db *gorm.DB) *gorm.DB {
				return db.Order("run.subject ASC, run.session ASC, run.number ASC")
			}).
			Preload("Runs.Task").
			Preload("Predictors", func(db *gorm.DB) *gorm.DB {
				return db.Order("predictor.name ASC")
			})
	}
	var a types.Analysis
	if err := q.Where("hash_id = ?", hashID).Limit(1).Find(&a).Error; err != nil {
		return nil, false, err
	}
	if a.ID == uuid.Nil {
		return nil, false, nil
	}
	return &a, true, nil
}

func (r *analysisRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.Analysis{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *analysisRepo) ReplaceRuns(dbc dbctx.Context, a *types.Analysis, runs []types.Run) error {
	return dbc.DB(r.db).Model(a).Association("Runs").Replace(runs)
}

func (r *analysisRepo) ReplacePredictors(dbc dbctx.Context, a *types.Analysis, preds []types.Predictor) error {
	return dbc.DB(r.db).Model(a).Association("Predictors").Replace(preds)
}

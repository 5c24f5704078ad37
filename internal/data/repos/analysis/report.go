package analysis

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type ReportRepo interface {
	Create(dbc dbctx.Context, rep *types.Report) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Report, bool, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type reportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewReportRepo(db *gorm.DB, baseLog *logger.Logger) ReportRepo {
	return &reportRepo{db: db, log: baseLog.With("repo", "ReportRepo")}
}

func (r *reportRepo) Create(dbc dbctx.Context, rep *types.Report) error {
	return dbc.DB(r.db).Create(rep).Error
}

func (r *reportRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Report, bool, error) {
	if id == uuid.Nil {
		return nil, false, nil
	}
	var rep types.Report
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&rep).Error; err != nil {
		return nil, false, err
	}
	if rep.ID == uuid.Nil {
		return nil, false, nil
	}
	return &rep, true, nil
}

func (r *reportRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil || len(updates) == 0 {
		return nil
	}
	return dbc.DB(r.db).
		Model(&types.Report{}).
		Where("id = ?", id).
		Updates(updates).Error
}

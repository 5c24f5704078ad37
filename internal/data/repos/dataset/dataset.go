package dataset

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

type DatasetRepo interface {
	Create(dbc dbctx.Context, d *types.Dataset) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Dataset, bool, error)
	CreateTask(dbc dbctx.Context, t *types.Task) error
	CreateRun(dbc dbctx.Context, r *types.Run) error
}

type datasetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewDatasetRepo(db *gorm.DB, baseLog *logger.Logger) DatasetRepo {
	return &datasetRepo{db: db, log: baseLog.With("repo", "DatasetRepo")}
}

func (r *datasetRepo) Create(dbc dbctx.Context, d *types.Dataset) error {
	return dbc.DB(r.db).Create(d).Error
}

func (r *datasetRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Dataset, bool, error) {
	if id == uuid.Nil {
		return nil, false, nil
	}
	var d types.Dataset
	if err := dbc.DB(r.db).Where("id = ?", id).Limit(1).Find(&d).Error; err != nil {
		return nil, false, err
	}
	if d.ID == uuid.Nil {
		return nil, false, nil
	}
	return &d, true, nil
}

func (r *datasetRepo) CreateTask(dbc dbctx.Context, t *types.Task) error {
	return dbc.DB(r.db).Create(t).Error
}

func (r *datasetRepo) CreateRun(dbc dbctx.Context, run *types.Run) error {
	return dbc.DB(r.db).Create(run).Error
}

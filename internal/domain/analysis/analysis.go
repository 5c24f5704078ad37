package analysis

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/domain/dataset"
	"github.com/yungbote/neuroscout-backend/internal/domain/predictor"
)

const (
	StatusDraft   = "DRAFT"
	StatusPending = "PENDING"
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
)

var (
	ErrLocked            = errors.New("analysis is locked")
	ErrInvalidTransition = errors.New("invalid analysis status transition")
)

type Analysis struct {
	ID               uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	HashID           string         `gorm:"column:hash_id;not null;uniqueIndex" json:"hash_id"`
	Name             string         `gorm:"column:name;not null" json:"name"`
	Description      string         `gorm:"column:description" json:"description,omitempty"`
	DatasetID        uuid.UUID      `gorm:"type:uuid;not null;index" json:"dataset_id"`
	Owner            string         `gorm:"column:owner;index" json:"owner,omitempty"`
	Model            datatypes.JSON `gorm:"column:model" json:"model,omitempty"`
	Status           string         `gorm:"column:status;not null;default:'DRAFT';index" json:"status"`
	Locked           bool           `gorm:"column:locked;not null;default:false" json:"locked"`
	Private          bool           `gorm:"column:private;not null" json:"private"`
	CompileTraceback string         `gorm:"column:compile_traceback" json:"compile_traceback,omitempty"`
	CompilePhase     string         `gorm:"column:compile_phase" json:"compile_phase,omitempty"`
	CompileTaskID    string         `gorm:"column:compile_task_id" json:"compile_task_id,omitempty"`
	BundlePath       string         `gorm:"column:bundle_path" json:"bundle_path,omitempty"`
	BundleObjectKey  string         `gorm:"column:bundle_object_key" json:"bundle_object_key,omitempty"`
	SubmittedAt      *time.Time     `gorm:"column:submitted_at" json:"submitted_at,omitempty"`
	CompiledAt       *time.Time     `gorm:"column:compiled_at" json:"compiled_at,omitempty"`
	CreatedAt        time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt        time.Time      `gorm:"not null" json:"updated_at"`

	Runs       []dataset.Run         `gorm:"many2many:analysis_run;" json:"runs,omitempty"`
	Predictors []predictor.Predictor `gorm:"many2many:analysis_predictor;" json:"predictors,omitempty"`
}

func (Analysis) TableName() string { return "analysis" }

func (a *Analysis) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = StatusDraft
	}
	return nil
}

// CanCompile reports whether a compile request may move the analysis to PENDING.
// PENDING is accepted so that a superseding request replaces the in-flight task.
func (a *Analysis) CanCompile() error {
	if a.Locked || a.Status == StatusPassed {
		return ErrLocked
	}
	switch a.Status {
	case StatusDraft, StatusFailed, StatusPending:
		return nil
	default:
		return ErrInvalidTransition
	}
}

// CanEdit reports whether content fields may change. Only visibility stays
// editable once the analysis has passed.
func (a *Analysis) CanEdit() error {
	if a.Locked || a.Status == StatusPassed {
		return ErrLocked
	}
	if a.Status == StatusPending {
		return ErrInvalidTransition
	}
	return nil
}

func (a *Analysis) RunIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a.Runs))
	for _, r := range a.Runs {
		out = append(out, r.ID)
	}
	return out
}

func (a *Analysis) PredictorIDs() []uuid.UUID {
	out := make([]uuid.UUID, 0, len(a.Predictors))
	for _, p := range a.Predictors {
		out = append(out, p.ID)
	}
	return out
}

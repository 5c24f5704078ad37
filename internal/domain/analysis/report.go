package analysis

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ReportPending = "PENDING"
	ReportOK      = "OK"
	ReportFailed  = "FAILED"
)

type ReportResult struct {
	DesignMatrix     []string `json:"design_matrix,omitempty"`
	DesignMatrixPlot []string `json:"design_matrix_plot,omitempty"`
	DesignMatrixCorr []string `json:"design_matrix_corrplot,omitempty"`
	Previews         []string `json:"previews,omitempty"`
}

type Report struct {
	ID             uuid.UUID                        `gorm:"type:uuid;primaryKey" json:"id"`
	AnalysisHashID string                           `gorm:"column:analysis_hash_id;not null;index" json:"analysis_id"`
	RunIDs         datatypes.JSONType[[]uuid.UUID]  `gorm:"column:run_ids" json:"run_ids"`
	SamplingRate   float64                          `gorm:"column:sampling_rate;not null;default:10" json:"sampling_rate"`
	Scale          bool                             `gorm:"column:scale;not null;default:false" json:"scale"`
	Status         string                           `gorm:"column:status;not null;default:'PENDING'" json:"status"`
	Result         datatypes.JSONType[ReportResult] `gorm:"column:result" json:"result"`
	Traceback      string                           `gorm:"column:traceback" json:"traceback,omitempty"`
	TaskID         string                           `gorm:"column:task_id" json:"task_id,omitempty"`
	GeneratedAt    time.Time                        `gorm:"not null" json:"generated_at"`
}

func (Report) TableName() string { return "report" }

func (r *Report) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	if r.Status == "" {
		r.Status = ReportPending
	}
	return nil
}

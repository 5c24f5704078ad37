package predictor

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Source tags recorded on Predictor.Source.
const (
	SourceCollection = "Collection"
	SourceEvents     = "events"
	SourceExtracted  = "extracted"
)

// Predictor is a named time-varying column of a dataset. A non-nil EFID
// makes it derived: its events are computed from ExtractedEvents on demand.
type Predictor struct {
	ID           uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Name         string     `gorm:"column:name;not null;index:idx_predictor_identity" json:"name"`
	OriginalName string     `gorm:"column:original_name" json:"original_name,omitempty"`
	DatasetID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_predictor_identity" json:"dataset_id"`
	EFID         *uuid.UUID `gorm:"column:ef_id;type:uuid;index:idx_predictor_identity" json:"ef_id,omitempty"`
	Source       string     `gorm:"column:source;not null;default:'events'" json:"source"`
	Description  string     `gorm:"column:description" json:"description,omitempty"`
	Active       bool       `gorm:"column:active;not null" json:"active"`
	Private      bool       `gorm:"column:private;not null;default:false" json:"private"`
	CreatedAt    time.Time  `gorm:"not null" json:"created_at"`
}

func (Predictor) TableName() string { return "predictor" }

func (p *Predictor) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *Predictor) Derived() bool { return p.EFID != nil && *p.EFID != uuid.Nil }

// PredictorEvent is a stored run-relative event of a raw predictor.
// A nil Duration lasts until the end of the linked stimulus presentation.
type PredictorEvent struct {
	ID          uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	Onset       float64    `gorm:"column:onset;not null" json:"onset"`
	Duration    *float64   `gorm:"column:duration" json:"duration"`
	Value       string     `gorm:"column:value;not null" json:"value"`
	ObjectID    *int       `gorm:"column:object_id" json:"object_id,omitempty"`
	RunID       uuid.UUID  `gorm:"type:uuid;not null;index" json:"run_id"`
	PredictorID uuid.UUID  `gorm:"type:uuid;not null;index" json:"predictor_id"`
	StimulusID  *uuid.UUID `gorm:"type:uuid;index" json:"stimulus_id,omitempty"`
}

func (PredictorEvent) TableName() string { return "predictor_event" }

func (e *PredictorEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

// PredictorRun caches per-run summary statistics of a predictor.
type PredictorRun struct {
	PredictorID uuid.UUID `gorm:"type:uuid;primaryKey" json:"predictor_id"`
	RunID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"run_id"`
	Mean        *float64  `gorm:"column:mean" json:"mean,omitempty"`
	Stdev       *float64  `gorm:"column:stdev" json:"stdev,omitempty"`
}

func (PredictorRun) TableName() string { return "predictor_run" }

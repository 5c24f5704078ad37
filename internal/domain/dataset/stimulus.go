package dataset

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Stimulus is a content-addressed media object. Converted stimuli point at
// their parent and record the converter that produced them.
type Stimulus struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	SHA1Hash            string         `gorm:"column:sha1_hash;not null;uniqueIndex" json:"sha1_hash"`
	DatasetID           *uuid.UUID     `gorm:"type:uuid;index" json:"dataset_id,omitempty"`
	Path                string         `gorm:"column:path" json:"path,omitempty"`
	Mimetype            string         `gorm:"column:mimetype" json:"mimetype,omitempty"`
	Content             string         `gorm:"column:content" json:"content,omitempty"`
	ParentID            *uuid.UUID     `gorm:"type:uuid;index" json:"parent_id,omitempty"`
	ConverterName       string         `gorm:"column:converter_name" json:"converter_name,omitempty"`
	ConverterParameters datatypes.JSON `gorm:"column:converter_parameters" json:"converter_parameters,omitempty"`
	Active              bool           `gorm:"column:active;not null" json:"active"`
	CreatedAt           time.Time      `gorm:"not null" json:"created_at"`
}

func (Stimulus) TableName() string { return "stimulus" }

func (s *Stimulus) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// RunStimulus records when a stimulus was presented within a run.
type RunStimulus struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	StimulusID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_run_stimulus_occurrence" json:"stimulus_id"`
	RunID      uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_run_stimulus_occurrence" json:"run_id"`
	Onset      float64   `gorm:"column:onset;not null;uniqueIndex:idx_run_stimulus_occurrence" json:"onset"`
	Duration   *float64  `gorm:"column:duration" json:"duration,omitempty"`
}

func (RunStimulus) TableName() string { return "run_stimulus" }

func (rs *RunStimulus) BeforeCreate(tx *gorm.DB) error {
	if rs.ID == uuid.Nil {
		rs.ID = uuid.New()
	}
	return nil
}

package predictor

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ExtractedFeature is one output of an extractor configured with fixed
// parameters. SHA1Hash is sha1(extractor_name + extractor_parameters + feature_name).
type ExtractedFeature struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	SHA1Hash            string    `gorm:"column:sha1_hash;not null;uniqueIndex" json:"sha1_hash"`
	ExtractorName       string    `gorm:"column:extractor_name;not null;index" json:"extractor_name"`
	ExtractorParameters string    `gorm:"column:extractor_parameters" json:"extractor_parameters"`
	ExtractorVersion    string    `gorm:"column:extractor_version" json:"extractor_version,omitempty"`
	FeatureName         string    `gorm:"column:feature_name;not null" json:"feature_name"`
	OriginalName        string    `gorm:"column:original_name" json:"original_name,omitempty"`
	Description         string    `gorm:"column:description" json:"description,omitempty"`
	Active              bool      `gorm:"column:active;not null" json:"active"`
	Modality            string    `gorm:"column:modality" json:"modality,omitempty"`
	ResampleFrequency   *float64  `gorm:"column:resample_frequency" json:"resample_frequency,omitempty"`
	CreatedAt           time.Time `gorm:"not null" json:"created_at"`
}

func (ExtractedFeature) TableName() string { return "extracted_feature" }

func (f *ExtractedFeature) BeforeCreate(tx *gorm.DB) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	return nil
}

// ExtractedEvent is stimulus-relative. Nil Onset and Duration cover the whole stimulus.
type ExtractedEvent struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Onset      *float64  `gorm:"column:onset" json:"onset"`
	Duration   *float64  `gorm:"column:duration" json:"duration"`
	Value      string    `gorm:"column:value;not null" json:"value"`
	ObjectID   *int      `gorm:"column:object_id" json:"object_id,omitempty"`
	EFID       uuid.UUID `gorm:"column:ef_id;type:uuid;not null;index" json:"ef_id"`
	StimulusID uuid.UUID `gorm:"type:uuid;not null;index" json:"stimulus_id"`
}

func (ExtractedEvent) TableName() string { return "extracted_event" }

func (e *ExtractedEvent) BeforeCreate(tx *gorm.DB) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	return nil
}

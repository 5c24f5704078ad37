package predictor

import "github.com/google/uuid"

// ExtractedTiming is one ExtractedEvent joined to one presentation of its
// stimulus within a run. It is read-only and never persisted.
type ExtractedTiming struct {
	EFID                uuid.UUID `gorm:"column:ef_id"`
	Onset               *float64  `gorm:"column:onset"`
	Duration            *float64  `gorm:"column:duration"`
	Value               string    `gorm:"column:value"`
	ObjectID            *int      `gorm:"column:object_id"`
	StimulusID          uuid.UUID `gorm:"column:stimulus_id"`
	RunID               uuid.UUID `gorm:"column:run_id"`
	RunStimulusOnset    float64   `gorm:"column:run_stimulus_onset"`
	RunStimulusDuration *float64  `gorm:"column:run_stimulus_duration"`
	StimulusPath        string    `gorm:"column:stimulus_path"`
}

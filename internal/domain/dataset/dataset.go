package dataset

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type Dataset struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Name           string    `gorm:"column:name;not null;uniqueIndex" json:"name"`
	Summary        string    `gorm:"column:summary" json:"summary,omitempty"`
	DatasetAddress string    `gorm:"column:dataset_address" json:"dataset_address,omitempty"`
	PreprocAddress string    `gorm:"column:preproc_address" json:"preproc_address,omitempty"`
	Active         bool      `gorm:"column:active;not null" json:"active"`
	CreatedAt      time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt      time.Time `gorm:"not null" json:"updated_at"`
}

func (Dataset) TableName() string { return "dataset" }

func (d *Dataset) BeforeCreate(tx *gorm.DB) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	return nil
}

// Task is one experimental paradigm of a dataset. TR is the repetition time in seconds.
type Task struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DatasetID uuid.UUID `gorm:"type:uuid;not null;index;uniqueIndex:idx_task_dataset_name" json:"dataset_id"`
	Name      string    `gorm:"column:name;not null;uniqueIndex:idx_task_dataset_name" json:"name"`
	TR        float64   `gorm:"column:tr" json:"TR"`
	Summary   string    `gorm:"column:summary" json:"summary,omitempty"`
}

func (Task) TableName() string { return "task" }

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

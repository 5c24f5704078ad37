package dataset

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Run is one scan identified by (subject, session, number, task, dataset).
// Duration is the total scan length in seconds and the last-resort event duration.
type Run struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	DatasetID   uuid.UUID `gorm:"type:uuid;not null;index" json:"dataset_id"`
	TaskID      uuid.UUID `gorm:"type:uuid;not null;index" json:"task_id"`
	Subject     string    `gorm:"column:subject;not null;index" json:"subject"`
	Session     string    `gorm:"column:session" json:"session,omitempty"`
	Number      *int      `gorm:"column:number" json:"number,omitempty"`
	Acquisition string    `gorm:"column:acquisition" json:"acquisition,omitempty"`
	Duration    *float64  `gorm:"column:duration" json:"duration,omitempty"`
	FuncPath    string    `gorm:"column:func_path" json:"func_path,omitempty"`
	MaskPath    string    `gorm:"column:mask_path" json:"mask_path,omitempty"`

	Task *Task `gorm:"foreignKey:TaskID" json:"task,omitempty"`
}

func (Run) TableName() string { return "run" }

func (r *Run) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

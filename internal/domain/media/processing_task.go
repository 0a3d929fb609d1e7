package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	TaskPreprocess = "preprocess"
	TaskAnalyze    = "analyze"
	TaskReport     = "report"
	TaskExport     = "export"
)

const (
	TaskQueued    = "queued"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// ProcessingTask tracks one stage execution. Media stages key on MediaID, report and export on ChildID.
type ProcessingTask struct {
	ID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MediaID *uuid.UUID `gorm:"type:uuid;index" json:"media_id,omitempty"`
	ChildID *uuid.UUID `gorm:"type:uuid;index" json:"child_id,omitempty"`
	JobID   *uuid.UUID `gorm:"type:uuid;index" json:"job_id,omitempty"`

	Kind         string         `gorm:"column:kind;not null;index" json:"kind"`
	Status       string         `gorm:"column:status;not null;index" json:"status"`
	Attempts     int            `gorm:"column:attempts;not null;default:0" json:"attempts"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	Result       datatypes.JSON `gorm:"column:result;type:jsonb" json:"result,omitempty"`

	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at,omitempty"`
	CompletedAt *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (ProcessingTask) TableName() string { return "processing_task" }

func (t *ProcessingTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Status == "" {
		t.Status = TaskQueued
	}
	return nil
}

func (t *ProcessingTask) Terminal() bool {
	return t != nil && (t.Status == TaskCompleted || t.Status == TaskFailed)
}

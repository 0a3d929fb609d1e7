package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	KindVideo = "video"
	KindImage = "image"
)

const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

type MediaItem struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID   uuid.UUID `gorm:"type:uuid;not null;index" json:"family_id"`
	UploaderID uuid.UUID `gorm:"type:uuid;index" json:"uploader_id"`

	Kind             string `gorm:"column:kind;not null" json:"kind"`
	StorageKey       string `gorm:"column:storage_key;not null" json:"storage_key"`
	OriginalFilename string `gorm:"column:original_filename" json:"original_filename"`
	FileSize         int64  `gorm:"column:file_size" json:"file_size"`

	DurationSeconds *float64   `gorm:"column:duration_seconds" json:"duration_seconds,omitempty"`
	CapturedAt      *time.Time `gorm:"column:captured_at" json:"captured_at,omitempty"`
	UploadedAt      time.Time  `gorm:"column:uploaded_at;not null;index" json:"uploaded_at"`

	// Mutated only by the pipeline stages and reanalyze.
	Status   string         `gorm:"column:status;not null;index" json:"status"`
	Metadata datatypes.JSON `gorm:"column:metadata;type:jsonb" json:"metadata,omitempty"`

	Subjects []MediaSubject `gorm:"foreignKey:MediaID" json:"subjects,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (MediaItem) TableName() string { return "media_item" }

func (m *MediaItem) BeforeCreate(tx *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = StatusPending
	}
	if m.UploadedAt.IsZero() {
		m.UploadedAt = time.Now().UTC()
	}
	return nil
}

func (m *MediaItem) IsVideo() bool { return m != nil && m.Kind == KindVideo }

// PrimaryChildID is the earliest linked subject, or nil when none is linked.
func (m *MediaItem) PrimaryChildID() *uuid.UUID {
	if m == nil || len(m.Subjects) == 0 {
		return nil
	}
	best := m.Subjects[0]
	for _, s := range m.Subjects[1:] {
		if s.Position < best.Position {
			best = s
		}
	}
	id := best.ChildID
	return &id
}

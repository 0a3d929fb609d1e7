package media

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// MediaSubject links a MediaItem to a child shown in it. Position keeps link order.
type MediaSubject struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MediaID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_media_subject" json:"media_id"`
	ChildID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_media_subject;index" json:"child_id"`
	Position int       `gorm:"column:position;not null;default:0" json:"position"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (MediaSubject) TableName() string { return "media_subject" }

func (s *MediaSubject) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

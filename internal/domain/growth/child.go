package growth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Child is the subject identity media and analyses are attributed to.
type Child struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	FamilyID  uuid.UUID `gorm:"type:uuid;not null;index" json:"family_id"`
	Name      string    `gorm:"column:name;not null" json:"name"`
	BirthDate time.Time `gorm:"column:birth_date;not null" json:"birth_date"`
	Gender    string    `gorm:"column:gender" json:"gender,omitempty"`
	AvatarURL string    `gorm:"column:avatar_url" json:"avatar_url,omitempty"`

	CreatedAt time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Child) TableName() string { return "child" }

func (c *Child) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// AgeMonths is the whole-month age at the given month. Day of month is ignored.
func (c *Child) AgeMonths(at time.Time) int {
	if c == nil || c.BirthDate.IsZero() {
		return 0
	}
	months := (at.Year()-c.BirthDate.Year())*12 + int(at.Month()) - int(c.BirthDate.Month())
	if months < 0 {
		return 0
	}
	return months
}

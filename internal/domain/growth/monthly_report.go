package growth

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const monthKeyLayout = "2006-01-02"

// MonthlyReport is unique per (child, month).
type MonthlyReport struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ChildID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_report_child_month" json:"child_id"`
	// First day of the month, YYYY-MM-01.
	ReportMonth string `gorm:"column:report_month;type:varchar(10);not null;uniqueIndex:idx_report_child_month" json:"report_month"`

	RadarData   datatypes.JSON `gorm:"column:radar_data;type:jsonb" json:"radar_data"`
	SparkCards  datatypes.JSON `gorm:"column:spark_cards;type:jsonb" json:"spark_cards"`
	Summary     string         `gorm:"column:summary" json:"summary"`
	Narrative   string         `gorm:"column:narrative" json:"narrative,omitempty"`
	ChartKey    string         `gorm:"column:chart_key" json:"chart_key,omitempty"`
	GeneratedAt time.Time      `gorm:"column:generated_at;not null" json:"generated_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (MonthlyReport) TableName() string { return "monthly_report" }

func (r *MonthlyReport) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.GeneratedAt.IsZero() {
		r.GeneratedAt = time.Now().UTC()
	}
	return nil
}

// MonthStart normalizes t to 00:00 UTC on the first day of its month.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// MonthKey formats the month containing t as YYYY-MM-01.
func MonthKey(t time.Time) string { return MonthStart(t).Format(monthKeyLayout) }

// ParseMonth accepts YYYY-MM or YYYY-MM-DD and returns the month start.
func ParseMonth(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01", monthKeyLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return MonthStart(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid month %q (want YYYY-MM)", s)
}

package growth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const FocusMetricPrefix = "focus_"

// MetricInitiative scores, in [0,1], how often the child acted without prompting.
const MetricInitiative = "initiative"

// InitiativeWindow caps how many initiative measurements a trend returns.
const InitiativeWindow = 90

const (
	TalentLogic    = "logic"
	TalentSpatial  = "spatial"
	TalentLanguage = "language"
	TalentMotor    = "motor"
)

// Talents lists the spark-tracked talents in display order.
var Talents = []string{TalentLogic, TalentSpatial, TalentLanguage, TalentMotor}

func FocusMetricType(talent string) string { return FocusMetricPrefix + talent }

// GrowthMetric is append-only; one row per measurement event.
type GrowthMetric struct {
	ID            uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ChildID       uuid.UUID  `gorm:"type:uuid;not null;index:idx_metric_child_type" json:"child_id"`
	MetricType    string     `gorm:"column:metric_type;not null;index:idx_metric_child_type" json:"metric_type"`
	Value         float64    `gorm:"column:value;not null" json:"value"`
	MeasuredAt    time.Time  `gorm:"column:measured_at;not null;index" json:"measured_at"`
	SourceMediaID *uuid.UUID `gorm:"type:uuid;index" json:"source_media_id,omitempty"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

// InitiativePoint is one initiative measurement as shown on the trend chart.
type InitiativePoint struct {
	Date                   string  `json:"date"`
	InitiativeScore        float64 `json:"initiative_score"`
	IndependentActionCount int     `json:"independent_action_count"`
}

func (GrowthMetric) TableName() string { return "growth_metric" }

func (g *GrowthMetric) BeforeCreate(tx *gorm.DB) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.MeasuredAt.IsZero() {
		g.MeasuredAt = time.Now().UTC()
	}
	return nil
}

package media

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	AnalysisBehavior  = "behavior"
	AnalysisEmotion   = "emotion"
	AnalysisCognition = "cognition"
	AnalysisAutonomy  = "autonomy"
	AnalysisFace      = "face"
)

const ModelVersion = "v1.0"

// AnalysisRecord is append-only. Duplicates per (media, kind) are tolerated.
type AnalysisRecord struct {
	ID      uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	MediaID uuid.UUID  `gorm:"type:uuid;not null;index" json:"media_id"`
	ChildID *uuid.UUID `gorm:"type:uuid;index" json:"child_id,omitempty"`

	Kind         string         `gorm:"column:kind;not null;index" json:"kind"`
	Payload      datatypes.JSON `gorm:"column:payload;type:jsonb" json:"payload"`
	Confidence   float64        `gorm:"column:confidence" json:"confidence"`
	ModelVersion string         `gorm:"column:model_version" json:"model_version"`
	AnalyzedAt   time.Time      `gorm:"column:analyzed_at;not null;index" json:"analyzed_at"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
}

func (AnalysisRecord) TableName() string { return "analysis_record" }

func (r *AnalysisRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.AnalyzedAt.IsZero() {
		r.AnalyzedAt = time.Now().UTC()
	}
	if r.ModelVersion == "" {
		r.ModelVersion = ModelVersion
	}
	return nil
}

// DecodePayload unmarshals the payload into out. An empty payload leaves out untouched.
func (r *AnalysisRecord) DecodePayload(out any) error {
	if r == nil || len(r.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(r.Payload, out)
}

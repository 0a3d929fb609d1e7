package growth

import (
	"encoding/json"
	"math"
)

type InterestScores struct {
	Sport    float64 `json:"sport"`
	Music    float64 `json:"music"`
	Art      float64 `json:"art"`
	Learning float64 `json:"learning"`
	Social   float64 `json:"social"`
}

type TalentScores struct {
	Logic    float64 `json:"logic"`
	Spatial  float64 `json:"spatial"`
	Language float64 `json:"language"`
	Motor    float64 `json:"motor"`
}

type PsychologyScores struct {
	Empathy    float64 `json:"empathy"`
	Resilience float64 `json:"resilience"`
	Confidence float64 `json:"confidence"`
}

// RadarData is the fixed-shape monthly score profile. Every score is in [0, 1].
type RadarData struct {
	Interest   InterestScores   `json:"interest"`
	Talent     TalentScores     `json:"talent"`
	Psychology PsychologyScores `json:"psychology"`
}

// SparkCard is a sustained high-focus signal for one talent.
type SparkCard struct {
	Talent         string  `json:"talent"`
	TalentName     string  `json:"talent_name"`
	Confidence     float64 `json:"confidence"`
	MonthsDetected int     `json:"months_detected"`
	Suggestion     string  `json:"suggestion"`
}

// RadarDimension is one row of the flattened radar used for display.
type RadarDimension struct {
	Category  string  `json:"category"`
	Dimension string  `json:"dimension"`
	Label     string  `json:"label"`
	Score     float64 `json:"score"`
}

var TalentLabels = map[string]string{
	TalentLogic:    "逻辑推理",
	TalentSpatial:  "空间想象",
	TalentLanguage: "语言表达",
	TalentMotor:    "运动协调",
}

// Flatten lists every dimension in display order with the score scaled to 0..100 (one decimal).
func (r RadarData) Flatten() []RadarDimension {
	row := func(cat, dim, label string, v float64) RadarDimension {
		return RadarDimension{Category: cat, Dimension: dim, Label: label, Score: math.Round(v*1000) / 10}
	}
	return []RadarDimension{
		row("interest", "sport", "运动", r.Interest.Sport),
		row("interest", "music", "音乐", r.Interest.Music),
		row("interest", "art", "艺术", r.Interest.Art),
		row("interest", "learning", "学习", r.Interest.Learning),
		row("interest", "social", "社交", r.Interest.Social),
		row("talent", TalentLogic, TalentLabels[TalentLogic], r.Talent.Logic),
		row("talent", TalentSpatial, TalentLabels[TalentSpatial], r.Talent.Spatial),
		row("talent", TalentLanguage, TalentLabels[TalentLanguage], r.Talent.Language),
		row("talent", TalentMotor, TalentLabels[TalentMotor], r.Talent.Motor),
		row("psychology", "empathy", "同理心", r.Psychology.Empathy),
		row("psychology", "resilience", "抗挫力", r.Psychology.Resilience),
		row("psychology", "confidence", "自信心", r.Psychology.Confidence),
	}
}

// Radar decodes the stored radar payload. Missing data yields the zero profile.
func (r *MonthlyReport) Radar() (RadarData, error) {
	var out RadarData
	if r == nil || len(r.RadarData) == 0 {
		return out, nil
	}
	err := json.Unmarshal(r.RadarData, &out)
	return out, err
}

func (r *MonthlyReport) Sparks() ([]SparkCard, error) {
	out := []SparkCard{}
	if r == nil || len(r.SparkCards) == 0 {
		return out, nil
	}
	err := json.Unmarshal(r.SparkCards, &out)
	return out, err
}

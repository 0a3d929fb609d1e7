package steps

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// positiveEmotions count toward psychology.confidence.
var positiveEmotions = map[string]bool{"happy": true, "calm": true, "excited": true}

// resilienceSaturation is the emotion-record count at which resilience reaches 1.
const resilienceSaturation = 30.0

type RadarDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
}

type RadarInput struct {
	ChildID uuid.UUID
	// Month is any instant inside the target month.
	Month time.Time
}

type RadarOutput struct {
	Radar      growth.RadarData `json:"radar"`
	MediaCount int              `json:"media_count"`
}

// ComputeRadar scores one child's month from the analysis records of media uploaded in
// [month start, next month start). A month without media yields the zero profile.
func ComputeRadar(ctx context.Context, deps RadarDeps, in RadarInput) (RadarOutput, error) {
	out := RadarOutput{}
	if deps.DB == nil || deps.Media == nil || deps.Analyses == nil {
		return out, fmt.Errorf("radar: missing deps")
	}
	dbc := dbctx.Context{Ctx: ctx}
	from := growth.MonthStart(in.Month)
	to := from.AddDate(0, 1, 0)

	items, err := deps.Media.ListByChildUploadedBetween(dbc, in.ChildID, from, to)
	if err != nil {
		return out, fmt.Errorf("radar: list media: %w", err)
	}
	out.MediaCount = len(items)
	if len(items) == 0 {
		return out, nil
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, m := range items {
		ids = append(ids, m.ID)
	}
	records, err := deps.Analyses.ListByMediaIDs(dbc, ids, media.AnalysisBehavior, media.AnalysisCognition, media.AnalysisEmotion)
	if err != nil {
		return out, fmt.Errorf("radar: list analyses: %w", err)
	}
	out.Radar = AggregateRadar(logger.OrNop(deps.Log), records)
	return out, nil
}

type behaviorPayload struct {
	Activities []struct {
		Type string `json:"type"`
	} `json:"activities"`
}

type cognitionPayload struct {
	VocabularyRichness float64 `json:"vocabulary_richness"`
	SentenceComplexity float64 `json:"sentence_complexity"`
}

type emotionPayload struct {
	Dominant string `json:"dominant"`
}

// AggregateRadar is a pure function of the records and their order. Records whose
// payload does not decode are skipped. Spatial, motor and empathy are never scored here.
func AggregateRadar(log *logger.Logger, records []*types.AnalysisRecord) growth.RadarData {
	var (
		r          growth.RadarData
		tally      = map[string]int{}
		total      int
		cognition  int
		richness   float64
		complexity float64
		emotions   int
		positive   int
	)
	for _, rec := range records {
		switch rec.Kind {
		case media.AnalysisBehavior:
			var p behaviorPayload
			if err := rec.DecodePayload(&p); err != nil {
				log.Warn("Skipping malformed behavior record", "record_id", rec.ID, "error", err)
				continue
			}
			for _, a := range p.Activities {
				t := a.Type
				if t == "" {
					t = "unknown"
				}
				tally[t]++
				total++
			}
		case media.AnalysisCognition:
			var p cognitionPayload
			if err := rec.DecodePayload(&p); err != nil {
				log.Warn("Skipping malformed cognition record", "record_id", rec.ID, "error", err)
				continue
			}
			cognition++
			richness += p.VocabularyRichness
			complexity += p.SentenceComplexity
		case media.AnalysisEmotion:
			var p emotionPayload
			if err := rec.DecodePayload(&p); err != nil {
				log.Warn("Skipping malformed emotion record", "record_id", rec.ID, "error", err)
				continue
			}
			emotions++
			if positiveEmotions[p.Dominant] {
				positive++
			}
		}
	}

	denom := float64(max(total, 1))
	r.Interest = growth.InterestScores{
		Sport:    float64(tally["sport"]) / denom,
		Music:    float64(tally["music"]) / denom,
		Art:      float64(tally["art"]) / denom,
		Learning: float64(tally["learning"]) / denom,
		Social:   float64(tally["social"]) / denom,
	}
	if cognition > 0 {
		n := float64(cognition)
		r.Talent.Language = math.Min(richness/n, 1.0)
		r.Talent.Logic = math.Min(complexity/n/5.0, 1.0)
	}
	if emotions > 0 {
		r.Psychology.Confidence = float64(positive) / float64(emotions)
		r.Psychology.Resilience = math.Min(float64(emotions)/resilienceSaturation, 1.0)
	}
	return r
}

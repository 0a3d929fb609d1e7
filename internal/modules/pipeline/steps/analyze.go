package steps

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/modules/insight"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/localmedia"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

type AnalyzeDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Metrics  repos.GrowthMetricRepo
	Store    objectstore.Store
	Insights Insights
	WorkRoot string
}

type AnalyzeInput struct {
	MediaID      uuid.UUID
	Intermediate Intermediate
	// RetainOnFailure keeps the handed-over keyframes and leaves the item's status alone
	// when the run fails, so a later attempt can start over.
	RetainOnFailure bool
}

type AnalyzeOutput struct {
	BehaviorRecordID uuid.UUID `json:"behavior_record_id"`
	EmotionRecordID  uuid.UUID `json:"emotion_record_id"`
	FocusMetrics     int       `json:"focus_metrics"`
}

// activityTalent maps behavior activity types onto the talents whose focus they evidence.
var activityTalent = map[string]string{
	"learning": growth.TalentLogic,
	"art":      growth.TalentSpatial,
	"social":   growth.TalentLanguage,
	"sport":    growth.TalentMotor,
}

// Analyze runs behavior and emotion extraction over the preprocessed keyframes and finalizes the item.
// The work area and any persisted keyframes are removed on every exit path unless RetainOnFailure is set.
func Analyze(ctx context.Context, deps AnalyzeDeps, in AnalyzeInput) (out AnalyzeOutput, err error) {
	if deps.DB == nil || deps.Media == nil || deps.Analyses == nil || deps.Insights == nil {
		return out, fmt.Errorf("analyze: missing deps")
	}
	if in.MediaID == uuid.Nil {
		return out, apierr.Invalid("analyze: missing media_id")
	}
	ctx, span := startSpan(ctx, "pipeline.analyze", in.MediaID)
	defer span.End()

	log := logger.OrNop(deps.Log).With("step", "analyze", "media_id", in.MediaID.String())
	dbc := dbctx.Context{Ctx: ctx}

	var rematerialized *localmedia.WorkArea
	defer func() {
		_ = rematerialized.Cleanup()
		if err != nil && in.RetainOnFailure {
			return
		}
		if cerr := Release(context.WithoutCancel(ctx), deps.Store, deps.WorkRoot, in.Intermediate); cerr != nil {
			log.Warn("Failed to remove work area", "error", cerr)
		}
	}()

	item, err := deps.Media.GetByID(dbc, in.MediaID)
	if err != nil {
		return out, err
	}
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		if in.RetainOnFailure {
			return
		}
		if uerr := deps.Media.UpdateStatus(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, item.ID, media.StatusFailed); uerr != nil {
			log.Warn("Failed to mark media failed", "error", uerr)
		}
	}()

	paths, rematerialized, err := resolveKeyframes(ctx, deps, item.ID, in.Intermediate)
	if err != nil {
		return out, err
	}

	var (
		behavior insight.BehaviorResult
		emotion  insight.EmotionResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		behavior = deps.Insights.Behavior(gctx, paths)
		return nil
	})
	g.Go(func() error {
		emotion = deps.Insights.Emotion(gctx, paths, in.Intermediate.Transcription.Text)
		return nil
	})
	if err = g.Wait(); err != nil {
		return out, err
	}
	if err = ctx.Err(); err != nil {
		return out, err
	}

	childID := item.PrimaryChildID()
	behaviorPayload, err := jsonPayload(behavior)
	if err != nil {
		return out, err
	}
	emotionPayload, err := jsonPayload(emotion)
	if err != nil {
		return out, err
	}
	behaviorRec := &types.AnalysisRecord{
		MediaID:    item.ID,
		ChildID:    childID,
		Kind:       media.AnalysisBehavior,
		Payload:    behaviorPayload,
		Confidence: ConfidenceBehavior,
	}
	emotionRec := &types.AnalysisRecord{
		MediaID:    item.ID,
		ChildID:    childID,
		Kind:       media.AnalysisEmotion,
		Payload:    emotionPayload,
		Confidence: ConfidenceEmotion,
	}

	var metrics []*types.GrowthMetric
	if childID != nil && deps.Metrics != nil {
		metrics = FocusMetrics(*childID, item.ID, time.Now().UTC(), behavior)
	}

	err = dbc.Transaction(deps.DB, func(tx dbctx.Context) error {
		if err := deps.Analyses.Create(tx, behaviorRec, emotionRec); err != nil {
			return err
		}
		if len(metrics) > 0 {
			if err := deps.Metrics.Create(tx, metrics...); err != nil {
				return err
			}
		}
		return deps.Media.UpdateStatus(tx, item.ID, media.StatusCompleted)
	})
	if err != nil {
		return out, fmt.Errorf("analyze: persist: %w", err)
	}

	out = AnalyzeOutput{
		BehaviorRecordID: behaviorRec.ID,
		EmotionRecordID:  emotionRec.ID,
		FocusMetrics:     len(metrics),
	}
	log.Info("Analyzed media",
		"keyframes", len(paths),
		"dominant_emotion", emotion.Dominant,
		"activities", len(behavior.Activities),
	)
	return out, nil
}

// resolveKeyframes prefers the local files preprocessing left behind and otherwise
// downloads the persisted copies into a fresh work area, which the caller must clean up.
func resolveKeyframes(ctx context.Context, deps AnalyzeDeps, mediaID uuid.UUID, im Intermediate) ([]string, *localmedia.WorkArea, error) {
	paths := im.KeyframePaths()
	if len(paths) == 0 {
		return nil, nil, fmt.Errorf("analyze: no keyframes for media %s", mediaID)
	}
	if allExist(paths) {
		return paths, nil, nil
	}
	if deps.Store == nil || len(im.KeyframeKeys) != len(paths) {
		return nil, nil, fmt.Errorf("analyze: keyframes for media %s are not available locally", mediaID)
	}

	work, err := localmedia.NewWorkArea(deps.WorkRoot, mediaID.String()+"_analyze")
	if err != nil {
		return nil, nil, err
	}
	local := make([]string, 0, len(im.KeyframeKeys))
	for _, key := range im.KeyframeKeys {
		b, err := deps.Store.Get(ctx, key)
		if err != nil {
			_ = work.Cleanup()
			return nil, nil, fmt.Errorf("analyze: fetch keyframe %s: %w", key, err)
		}
		p, err := work.WriteFile(filepath.Join("keyframes", filepath.Base(key)), b)
		if err != nil {
			_ = work.Cleanup()
			return nil, nil, err
		}
		local = append(local, p)
	}
	return local, work, nil
}

func allExist(paths []string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// FocusMetrics turns a behavior result into one focus_<talent> measurement per evidenced talent.
// Each value sums confidence times duration share over the talent's activities, clamped to 1.
func FocusMetrics(childID, mediaID uuid.UUID, at time.Time, behavior insight.BehaviorResult) []*types.GrowthMetric {
	sums := map[string]float64{}
	for _, a := range behavior.Activities {
		talent, ok := activityTalent[a.Type]
		if !ok {
			continue
		}
		sums[talent] += a.Confidence * a.DurationPct
	}
	var out []*types.GrowthMetric
	for _, talent := range growth.Talents {
		v, ok := sums[talent]
		if !ok {
			continue
		}
		src := mediaID
		out = append(out, &types.GrowthMetric{
			ChildID:       childID,
			MetricType:    growth.FocusMetricType(talent),
			Value:         math.Max(0, math.Min(v, 1)),
			MeasuredAt:    at,
			SourceMediaID: &src,
		})
	}
	return out
}

package steps

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/facematch"
	"github.com/yungbote/lifeprint-backend/internal/platform/gcp"
	"github.com/yungbote/lifeprint-backend/internal/platform/localmedia"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

type PreprocessDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Store    objectstore.Store
	Tools    MediaTools

	// Speech and Faces are optional; a nil collaborator skips its step.
	Speech Transcriber
	Faces  FaceMatcher

	WorkRoot      string
	Language      string
	FaceThreshold float64
}

type PreprocessInput struct {
	MediaID uuid.UUID
	// PersistKeyframes copies keyframes to object storage so analysis can run on another host.
	// The local work area is then removed before returning.
	PersistKeyframes bool
	// LeaveStatusOnFailure leaves the item's status to the caller when the run fails.
	LeaveStatusOnFailure bool
}

type PreprocessOutput = Intermediate

// Preprocess extracts keyframes, transcribes speech, and matches faces for one media item.
// On success the work area is handed to the caller unless keyframes were persisted. On failure
// it is removed and the item is marked failed unless LeaveStatusOnFailure is set.
func Preprocess(ctx context.Context, deps PreprocessDeps, in PreprocessInput) (out PreprocessOutput, err error) {
	if deps.DB == nil || deps.Media == nil || deps.Analyses == nil || deps.Store == nil || deps.Tools == nil {
		return out, fmt.Errorf("preprocess: missing deps")
	}
	if in.MediaID == uuid.Nil {
		return out, apierr.Invalid("preprocess: missing media_id")
	}
	ctx, span := startSpan(ctx, "pipeline.preprocess", in.MediaID)
	defer span.End()

	log := logger.OrNop(deps.Log).With("step", "preprocess", "media_id", in.MediaID.String())
	dbc := dbctx.Context{Ctx: ctx}

	item, err := deps.Media.GetByID(dbc, in.MediaID)
	if err != nil {
		return out, err
	}
	if err := deps.Media.UpdateStatus(dbc, item.ID, media.StatusProcessing); err != nil {
		return out, err
	}

	var work *localmedia.WorkArea
	var storedKeys []string
	defer func() {
		if err == nil {
			return
		}
		span.RecordError(err)
		bg := context.WithoutCancel(ctx)
		if !in.LeaveStatusOnFailure {
			if uerr := deps.Media.UpdateStatus(dbctx.Context{Ctx: bg}, item.ID, media.StatusFailed); uerr != nil {
				log.Warn("Failed to mark media failed", "error", uerr)
			}
		}
		for _, k := range storedKeys {
			_ = deps.Store.Delete(bg, k)
		}
		if cerr := work.Cleanup(); cerr != nil {
			log.Warn("Failed to remove work area", "error", cerr)
		}
	}()

	work, err = localmedia.NewWorkArea(deps.WorkRoot, item.ID.String())
	if err != nil {
		return out, err
	}

	data, err := deps.Store.Get(ctx, item.StorageKey)
	if err != nil {
		return out, fmt.Errorf("preprocess: fetch asset %s: %w", item.StorageKey, err)
	}
	src, err := work.WriteFile(sourceName(item), data)
	if err != nil {
		return out, err
	}

	keyframes, err := extractKeyframes(ctx, deps, item, src, work)
	if err != nil {
		return out, err
	}

	tr := gcp.Transcription{Language: deps.Language, Segments: []gcp.Segment{}}
	if item.IsVideo() && deps.Speech != nil {
		got, err := transcribe(ctx, deps, src, work)
		if err != nil {
			return out, err
		}
		if got != nil {
			tr = *got
		}
	}

	childID := item.PrimaryChildID()
	var records []*types.AnalysisRecord

	if text := strings.TrimSpace(tr.Text); item.IsVideo() && text != "" {
		m := AnalyzeSpeech(text, tr.Segments)
		payload, err := jsonPayload(map[string]any{
			"transcription":       text,
			"vocabulary_richness": m.VocabularyRichness,
			"sentence_complexity": m.SentenceComplexity,
			"word_count":          m.WordCount,
			"unique_word_count":   m.UniqueWordCount,
			"avg_segment_length":  m.AvgSegmentLength,
			"total_duration_sec":  m.TotalDurationSec,
		})
		if err != nil {
			return out, err
		}
		records = append(records, &types.AnalysisRecord{
			MediaID:    item.ID,
			ChildID:    childID,
			Kind:       media.AnalysisCognition,
			Payload:    payload,
			Confidence: ConfidenceCognition,
		})
	}

	faceRecords, err := matchFaces(ctx, deps, item, keyframes)
	if err != nil {
		return out, err
	}
	records = append(records, faceRecords...)

	if in.PersistKeyframes {
		for _, kf := range keyframes {
			b, err := os.ReadFile(kf.ImagePath)
			if err != nil {
				return out, fmt.Errorf("preprocess: read keyframe: %w", err)
			}
			key := keyframeKey(item.ID, kf.ImagePath)
			if _, err := deps.Store.Put(ctx, key, b, contentTypeOf(kf.ImagePath)); err != nil {
				return out, fmt.Errorf("preprocess: persist keyframe: %w", err)
			}
			storedKeys = append(storedKeys, key)
		}
	}

	if len(records) > 0 {
		err = dbc.Transaction(deps.DB, func(tx dbctx.Context) error {
			return deps.Analyses.Create(tx, records...)
		})
		if err != nil {
			return out, fmt.Errorf("preprocess: persist records: %w", err)
		}
	}

	out = Intermediate{
		MediaID:       item.ID,
		Keyframes:     keyframes,
		KeyframeKeys:  storedKeys,
		Transcription: tr,
		WorkDir:       work.Dir,
	}
	if in.PersistKeyframes {
		// Analysis rematerializes keyframes from storage wherever it runs.
		if cerr := work.Cleanup(); cerr != nil {
			log.Warn("Failed to remove work area", "error", cerr)
		}
		out.WorkDir = ""
	}
	log.Info("Preprocessed media",
		"keyframes", len(keyframes),
		"transcript_chars", len([]rune(tr.Text)),
		"records", len(records),
	)
	return out, nil
}

func contentTypeOf(p string) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(p))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func sourceName(item *types.MediaItem) string {
	ext := strings.ToLower(filepath.Ext(item.OriginalFilename))
	if ext == "" {
		ext = strings.ToLower(path.Ext(item.StorageKey))
	}
	return "source" + ext
}

func extractKeyframes(ctx context.Context, deps PreprocessDeps, item *types.MediaItem, src string, work *localmedia.WorkArea) ([]localmedia.Keyframe, error) {
	if !item.IsVideo() {
		return []localmedia.Keyframe{{ImagePath: src}}, nil
	}
	kfs, err := deps.Tools.ExtractKeyframes(ctx, src, work.Path("keyframes"))
	if err != nil {
		return nil, fmt.Errorf("preprocess: keyframes: %w", err)
	}
	if len(kfs) == 0 {
		return nil, fmt.Errorf("preprocess: no keyframes extracted")
	}
	return kfs, nil
}

// transcribe returns nil for videos without an audio track.
func transcribe(ctx context.Context, deps PreprocessDeps, src string, work *localmedia.WorkArea) (*gcp.Transcription, error) {
	audio, err := deps.Tools.ExtractAudio(ctx, src, work.Path("audio.wav"))
	if errors.Is(err, localmedia.ErrNoAudio) {
		logger.OrNop(deps.Log).Debug("Video has no audio track", "path", src)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("preprocess: audio: %w", err)
	}
	tr, err := deps.Speech.Transcribe(ctx, audio, deps.Language)
	if err != nil {
		return nil, fmt.Errorf("preprocess: transcribe: %w", err)
	}
	if tr == nil {
		tr = &gcp.Transcription{Language: deps.Language}
	}
	if tr.Segments == nil {
		tr.Segments = []gcp.Segment{}
	}
	return tr, nil
}

func matchFaces(ctx context.Context, deps PreprocessDeps, item *types.MediaItem, keyframes []localmedia.Keyframe) ([]*types.AnalysisRecord, error) {
	if deps.Faces == nil {
		return nil, nil
	}
	threshold := deps.FaceThreshold
	if threshold <= 0 {
		threshold = facematch.DefaultThreshold
	}
	var out []*types.AnalysisRecord
	for _, kf := range keyframes {
		img, err := os.ReadFile(kf.ImagePath)
		if err != nil {
			return nil, fmt.Errorf("preprocess: read keyframe: %w", err)
		}
		ids, err := deps.Faces.Match(ctx, img, threshold)
		if err != nil {
			return nil, fmt.Errorf("preprocess: face match: %w", err)
		}
		if len(ids) == 0 {
			continue
		}
		matched := make([]string, 0, len(ids))
		for _, id := range ids {
			matched = append(matched, id.String())
		}
		payload, err := jsonPayload(map[string]any{
			"keyframe":         filepath.Base(kf.ImagePath),
			"matched_children": matched,
		})
		if err != nil {
			return nil, err
		}
		first := ids[0]
		out = append(out, &types.AnalysisRecord{
			MediaID:    item.ID,
			ChildID:    &first,
			Kind:       media.AnalysisFace,
			Payload:    payload,
			Confidence: ConfidenceFace,
		})
	}
	return out, nil
}

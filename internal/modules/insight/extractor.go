package insight

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/platform/llm"
	"github.com/yungbote/lifeprint-backend/internal/platform/localmedia"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

const (
	MaxBehaviorFrames = 8
	MaxEmotionFrames  = 4
	maxImageDim       = 1024
)

// Extractor turns keyframes and report inputs into model-authored insight.
// None of its methods return errors: failures degrade to the documented fallbacks.
type Extractor struct {
	log    *logger.Logger
	client llm.Client
	// loadImage reads one keyframe for upload.
	loadImage func(path string) ([]byte, error)
}

func NewExtractor(log *logger.Logger, client llm.Client) *Extractor {
	return &Extractor{
		log:    logger.OrNop(log).With("service", "InsightExtractor"),
		client: client,
		loadImage: func(path string) ([]byte, error) {
			return localmedia.DownscaleJPEG(path, maxImageDim)
		},
	}
}

// StripFence removes a surrounding Markdown code fence: the opening line and
// everything from the last closing fence on.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	_, rest, ok := strings.Cut(s, "\n")
	if !ok {
		return ""
	}
	if i := strings.LastIndex(rest, "```"); i >= 0 {
		rest = rest[:i]
	}
	return strings.TrimSpace(rest)
}

func (e *Extractor) images(paths []string, limit int) ([]llm.Image, error) {
	if len(paths) > limit {
		paths = paths[:limit]
	}
	out := make([]llm.Image, 0, len(paths))
	for _, p := range paths {
		data, err := e.loadImage(p)
		if errors.Is(err, image.ErrFormat) {
			e.logger().Warn("Skipping keyframe in unsupported image format", "path", filepath.Base(p), "error", err)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load keyframe %s: %w", p, err)
		}
		out = append(out, llm.Image{MediaType: "image/jpeg", Data: data})
	}
	if len(out) == 0 && len(paths) > 0 {
		return nil, fmt.Errorf("no decodable keyframes among %d", len(paths))
	}
	return out, nil
}

func (e *Extractor) visionJSON(ctx context.Context, prompt string, paths []string, limit int, out any) error {
	if e == nil || e.client == nil {
		return fmt.Errorf("insight client not configured")
	}
	imgs, err := e.images(paths, limit)
	if err != nil {
		return err
	}
	raw, err := e.client.CompleteVision(ctx, prompt, imgs, "")
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(StripFence(raw)), out)
}

// Behavior classifies activities over at most the first MaxBehaviorFrames keyframes.
func (e *Extractor) Behavior(ctx context.Context, keyframes []string) BehaviorResult {
	var out BehaviorResult
	if err := e.visionJSON(ctx, behaviorPrompt, keyframes, MaxBehaviorFrames, &out); err != nil {
		e.logger().Warn("Behavior extraction fell back", "error", err)
		return FallbackBehavior()
	}
	if out.Activities == nil {
		out.Activities = []Activity{}
	}
	return out
}

// Emotion reads the dominant emotion over at most the first MaxEmotionFrames
// keyframes, using the transcript as a hint.
func (e *Extractor) Emotion(ctx context.Context, keyframes []string, transcript string) EmotionResult {
	var out EmotionResult
	if err := e.visionJSON(ctx, emotionPrompt(transcript), keyframes, MaxEmotionFrames, &out); err != nil {
		e.logger().Warn("Emotion extraction fell back", "error", err)
		return FallbackEmotion()
	}
	if out.Scores == nil {
		out.Scores = map[string]float64{}
	}
	return out
}

// Narrative writes the five-section monthly story.
func (e *Extractor) Narrative(ctx context.Context, in NarrativeInput) string {
	if e == nil || e.client == nil {
		return FallbackNarrative(in.ChildName)
	}
	out, err := e.client.Complete(ctx, narrativePrompt(in), "")
	if err != nil {
		e.logger().Warn("Narrative generation fell back", "error", err)
		return FallbackNarrative(in.ChildName)
	}
	return out
}

// Summary writes the short parent-facing summary.
func (e *Extractor) Summary(ctx context.Context, radar growth.RadarData, sparks []growth.SparkCard) string {
	if e == nil || e.client == nil {
		return FallbackSummary
	}
	out, err := e.client.Complete(ctx, summaryPrompt(radar, sparks), "")
	if err != nil {
		e.logger().Warn("Summary generation fell back", "error", err)
		return FallbackSummary
	}
	return out
}

func (e *Extractor) logger() *logger.Logger {
	if e == nil {
		return logger.Nop()
	}
	return logger.OrNop(e.log)
}

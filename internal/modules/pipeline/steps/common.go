package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/lifeprint-backend/internal/modules/insight"
	"github.com/yungbote/lifeprint-backend/internal/platform/gcp"
	"github.com/yungbote/lifeprint-backend/internal/platform/localmedia"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

const (
	// Fixed confidences stored per record kind.
	ConfidenceCognition = 0.85
	ConfidenceFace      = 0.9
	ConfidenceBehavior  = 0.8
	ConfidenceEmotion   = 0.75
)

// Transcriber turns a mono 16 kHz wav into timed text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string, language string) (*gcp.Transcription, error)
}

// FaceMatcher returns the enrolled identities found in an image.
type FaceMatcher interface {
	Match(ctx context.Context, image []byte, threshold float64) ([]uuid.UUID, error)
}

// MediaTools is the keyframe and audio side of localmedia.Tools.
type MediaTools interface {
	ExtractKeyframes(ctx context.Context, videoPath string, outDir string) ([]localmedia.Keyframe, error)
	ExtractAudio(ctx context.Context, videoPath string, outPath string) (string, error)
}

// Insights extracts behavior and emotion from keyframes. Implementations never fail; they fall back.
type Insights interface {
	Behavior(ctx context.Context, keyframes []string) insight.BehaviorResult
	Emotion(ctx context.Context, keyframes []string, transcript string) insight.EmotionResult
}

// Intermediate is what preprocessing hands to deep analysis. It travels in job payloads.
type Intermediate struct {
	MediaID   uuid.UUID             `json:"media_id"`
	Keyframes []localmedia.Keyframe `json:"keyframes"`
	// KeyframeKeys parallels Keyframes when keyframes were persisted to object storage.
	KeyframeKeys  []string          `json:"keyframe_keys,omitempty"`
	Transcription gcp.Transcription `json:"transcription"`
	// WorkDir is the preprocess work area when analysis is expected on the same host.
	WorkDir string `json:"work_dir,omitempty"`
}

func (r Intermediate) KeyframePaths() []string {
	out := make([]string, 0, len(r.Keyframes))
	for _, k := range r.Keyframes {
		out = append(out, k.ImagePath)
	}
	return out
}

// Release removes the work area and the persisted keyframes of r. A nil store skips the
// keyframes. The work area is only removed when it is a work area of workRoot.
func Release(ctx context.Context, store objectstore.Store, workRoot string, r Intermediate) error {
	if store != nil {
		for _, k := range r.KeyframeKeys {
			_ = store.Delete(ctx, k)
		}
	}
	if shared, ok := localmedia.OpenWorkArea(workRoot, r.WorkDir); ok {
		return shared.Cleanup()
	}
	return nil
}

// WorkPrefix is where a media item's transient keyframes live in object storage.
func WorkPrefix(mediaID uuid.UUID) string {
	return fmt.Sprintf("work/%s/keyframes/", mediaID)
}

func keyframeKey(mediaID uuid.UUID, imagePath string) string {
	return WorkPrefix(mediaID) + path.Base(imagePath)
}

func jsonPayload(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func startSpan(ctx context.Context, name string, mediaID uuid.UUID) (context.Context, trace.Span) {
	return otel.Tracer("lifeprint/pipeline").Start(ctx, name,
		trace.WithAttributes(attribute.String("media.id", mediaID.String())))
}

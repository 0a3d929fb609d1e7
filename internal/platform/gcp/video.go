package gcp

import (
	"context"
	"fmt"
	"sort"
	"time"

	videointelligence "cloud.google.com/go/videointelligence/apiv1"
	vipb "cloud.google.com/go/videointelligence/apiv1/videointelligencepb"

	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// Shot is one continuous camera take.
type Shot struct {
	StartSec float64 `json:"start_sec"`
	EndSec   float64 `json:"end_sec"`
}

// MidSec is the representative timestamp for the shot.
func (s Shot) MidSec() float64 { return s.StartSec + (s.EndSec-s.StartSec)/2 }

type ShotDetector struct {
	log        *logger.Logger
	client     *videointelligence.Client
	maxRetries int
}

func NewShotDetector(log *logger.Logger) (*ShotDetector, error) {
	c, err := videointelligence.NewClient(context.Background(), ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("videointelligence client: %w", err)
	}
	return &ShotDetector{
		log:        logger.OrNop(log).With("service", "gcp.ShotDetector"),
		client:     c,
		maxRetries: 4,
	}, nil
}

func (s *ShotDetector) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// DetectShots runs SHOT_CHANGE_DETECTION over inline video bytes.
func (s *ShotDetector) DetectShots(ctx context.Context, video []byte) ([]Shot, error) {
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 15*time.Minute)
	defer cancel()

	req := &vipb.AnnotateVideoRequest{
		InputContent: video,
		Features:     []vipb.Feature{vipb.Feature_SHOT_CHANGE_DETECTION},
	}
	resp, err := retryRPC(ctx, s.maxRetries, func() (*vipb.AnnotateVideoResponse, error) {
		op, err := s.client.AnnotateVideo(ctx, req)
		if err != nil {
			return nil, err
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("videointelligence AnnotateVideo: %w", err)
	}
	if resp == nil || len(resp.AnnotationResults) == 0 || resp.AnnotationResults[0] == nil {
		return nil, nil
	}
	shots := parseShots(resp.AnnotationResults[0].ShotAnnotations)
	s.log.Debug("Shots detected", "count", len(shots))
	return shots, nil
}

func parseShots(ann []*vipb.VideoSegment) []Shot {
	out := make([]Shot, 0, len(ann))
	for _, sh := range ann {
		if sh == nil {
			continue
		}
		out = append(out, Shot{
			StartSec: durToSec(sh.StartTimeOffset),
			EndSec:   durToSec(sh.EndTimeOffset),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartSec < out[j].StartSec })
	return out
}

package gcp

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"

	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/facematch"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// FaceDetector runs FACE_DETECTION and turns landmark geometry into
// comparable vectors.
type FaceDetector struct {
	log        *logger.Logger
	client     *vision.ImageAnnotatorClient
	maxRetries int
	maxResults int32
}

var _ facematch.Detector = (*FaceDetector)(nil)

func NewFaceDetector(log *logger.Logger) (*FaceDetector, error) {
	c, err := vision.NewImageAnnotatorClient(context.Background(), ClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &FaceDetector{
		log:        logger.OrNop(log).With("service", "gcp.FaceDetector"),
		client:     c,
		maxRetries: 3,
		maxResults: 20,
	}, nil
}

func (d *FaceDetector) Close() error {
	if d == nil || d.client == nil {
		return nil
	}
	return d.client.Close()
}

func (d *FaceDetector) DetectFaces(ctx context.Context, img []byte) ([]facematch.Face, error) {
	if len(img) == 0 {
		return nil, nil
	}
	ctx = ctxutil.Default(ctx)
	ctx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{Requests: []*visionpb.AnnotateImageRequest{{
		Image:    &visionpb.Image{Content: img},
		Features: []*visionpb.Feature{{Type: visionpb.Feature_FACE_DETECTION, MaxResults: d.maxResults}},
	}}}
	resp, err := retryRPC(ctx, d.maxRetries, func() (*visionpb.BatchAnnotateImagesResponse, error) {
		return d.client.BatchAnnotateImages(ctx, req)
	})
	if err != nil {
		return nil, fmt.Errorf("vision BatchAnnotateImages: %w", err)
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return nil, nil
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return nil, fmt.Errorf("vision annotate error: %s", r0.Error.Message)
	}
	return facesFromAnnotations(r0.FaceAnnotations), nil
}

func facesFromAnnotations(anns []*visionpb.FaceAnnotation) []facematch.Face {
	out := make([]facematch.Face, 0, len(anns))
	for _, fa := range anns {
		if fa == nil {
			continue
		}
		minX, minY, maxX, maxY, ok := polyBounds(fa.FdBoundingPoly)
		if !ok {
			minX, minY, maxX, maxY, ok = polyBounds(fa.BoundingPoly)
		}
		if !ok {
			continue
		}
		vec := landmarkVector(fa.Landmarks, minX, minY, maxX, maxY)
		if len(vec) == 0 {
			continue
		}
		out = append(out, facematch.Face{
			Vector: vec,
			Area:   (maxX - minX) * (maxY - minY),
			Score:  float64(fa.DetectionConfidence),
		})
	}
	return out
}

func polyBounds(p *visionpb.BoundingPoly) (minX, minY, maxX, maxY float64, ok bool) {
	if p == nil || len(p.Vertices) == 0 {
		return 0, 0, 0, 0, false
	}
	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	for _, v := range p.Vertices {
		if v == nil {
			continue
		}
		x, y := float64(v.X), float64(v.Y)
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	if maxX <= minX || maxY <= minY {
		return 0, 0, 0, 0, false
	}
	return minX, minY, maxX, maxY, true
}

// landmarkVector centers each landmark on the box and scales by its size,
// ordered by landmark type so vectors from different images line up.
func landmarkVector(lms []*visionpb.FaceAnnotation_Landmark, minX, minY, maxX, maxY float64) []float64 {
	sorted := make([]*visionpb.FaceAnnotation_Landmark, 0, len(lms))
	for _, lm := range lms {
		if lm != nil && lm.Position != nil {
			sorted = append(sorted, lm)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Type < sorted[j].Type })

	w, h := maxX-minX, maxY-minY
	cx, cy := minX+w/2, minY+h/2
	out := make([]float64, 0, len(sorted)*3)
	for _, lm := range sorted {
		p := lm.Position
		out = append(out,
			(float64(p.X)-cx)/w,
			(float64(p.Y)-cy)/h,
			float64(p.Z)/w,
		)
	}
	return out
}

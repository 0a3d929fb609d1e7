package facematch

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

const DefaultThreshold = 0.4

// Face is one detected face. Area is the bounding box area in pixels.
type Face struct {
	Vector []float64 `json:"-"`
	Area   float64   `json:"area"`
	Score  float64   `json:"score"`
}

type Detector interface {
	DetectFaces(ctx context.Context, image []byte) ([]Face, error)
}

var ErrNoDetector = errors.New("face detector not configured")

// Matcher holds the enrolled identity vectors for the process.
// The detector is built on first use by the supplied factory.
type Matcher struct {
	log     *logger.Logger
	factory func() (Detector, error)

	initMu   sync.Mutex
	detector Detector
	ready    bool

	mu       sync.RWMutex
	enrolled map[uuid.UUID][]float64
	order    []uuid.UUID
}

func NewMatcher(log *logger.Logger, factory func() (Detector, error)) *Matcher {
	return &Matcher{
		log:      logger.OrNop(log).With("service", "FaceMatcher"),
		factory:  factory,
		enrolled: map[uuid.UUID][]float64{},
	}
}

func (m *Matcher) ensureDetector() (Detector, error) {
	m.initMu.Lock()
	defer m.initMu.Unlock()
	if m.ready {
		return m.detector, nil
	}
	if m.factory == nil {
		return nil, ErrNoDetector
	}
	d, err := m.factory()
	if err != nil {
		return nil, fmt.Errorf("init face detector: %w", err)
	}
	m.detector = d
	m.ready = true
	m.log.Info("Face detector initialized")
	return d, nil
}

// Enrolled reports how many identities are registered.
func (m *Matcher) Enrolled() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.enrolled)
}

// Register keeps the largest face in image as the identity's vector.
// It returns false when no face is found.
func (m *Matcher) Register(ctx context.Context, identity uuid.UUID, image []byte) (bool, error) {
	d, err := m.ensureDetector()
	if err != nil {
		return false, err
	}
	faces, err := d.DetectFaces(ctx, image)
	if err != nil {
		return false, fmt.Errorf("detect faces: %w", err)
	}
	if len(faces) == 0 {
		return false, nil
	}
	largest := faces[0]
	for _, f := range faces[1:] {
		if f.Area > largest.Area {
			largest = f
		}
	}
	m.mu.Lock()
	if _, ok := m.enrolled[identity]; !ok {
		m.order = append(m.order, identity)
	}
	m.enrolled[identity] = append([]float64(nil), largest.Vector...)
	m.mu.Unlock()
	m.log.Info("Face registered", "child_id", identity.String())
	return true, nil
}

// Match returns the distinct enrolled identities whose cosine similarity to
// any detected face is at least threshold, best match first.
func (m *Matcher) Match(ctx context.Context, image []byte, threshold float64) ([]uuid.UUID, error) {
	m.mu.RLock()
	empty := len(m.enrolled) == 0
	m.mu.RUnlock()
	if empty {
		return nil, nil
	}
	d, err := m.ensureDetector()
	if err != nil {
		return nil, err
	}
	faces, err := d.DetectFaces(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("detect faces: %w", err)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	best := map[uuid.UUID]float64{}
	for _, f := range faces {
		for _, id := range m.order {
			sim := Cosine(f.Vector, m.enrolled[id])
			if sim < threshold {
				continue
			}
			if prev, ok := best[id]; !ok || sim > prev {
				best[id] = sim
			}
		}
	}
	out := make([]uuid.UUID, 0, len(best))
	for id := range best {
		out = append(out, id)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if best[out[i]] != best[out[j]] {
			return best[out[i]] > best[out[j]]
		}
		return out[i].String() < out[j].String()
	})
	return out, nil
}

// Cosine returns 0 for mismatched or zero-length vectors.
func Cosine(a, b []float64) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

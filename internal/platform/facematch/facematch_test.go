package facematch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDetector struct {
	byImage map[string][]Face
	err     error
}

func (f *fakeDetector) DetectFaces(_ context.Context, image []byte) ([]Face, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byImage[string(image)], nil
}

func TestRegisterKeepsLargestFace(t *testing.T) {
	det := &fakeDetector{byImage: map[string][]Face{
		"enroll": {
			{Vector: []float64{0, 1}, Area: 10},
			{Vector: []float64{1, 0}, Area: 50},
		},
		"scene": {{Vector: []float64{1, 0.05}, Area: 20}},
	}}
	m := NewMatcher(nil, func() (Detector, error) { return det, nil })
	child := uuid.New()

	ok, err := m.Register(context.Background(), child, []byte("enroll"))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := m.Match(context.Background(), []byte("scene"), DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{child}, got)
}

func TestRegisterWithoutFace(t *testing.T) {
	m := NewMatcher(nil, func() (Detector, error) { return &fakeDetector{}, nil })
	ok, err := m.Register(context.Background(), uuid.New(), []byte("blank"))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Enrolled())
}

func TestMatchOrdersBySimilarityAndDedupes(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	det := &fakeDetector{byImage: map[string][]Face{
		"a":     {{Vector: []float64{1, 0, 0}, Area: 1}},
		"b":     {{Vector: []float64{0, 1, 0}, Area: 1}},
		"group": {{Vector: []float64{0.2, 1, 0}}, {Vector: []float64{1, 0.6, 0}}, {Vector: []float64{0.1, 1, 0}}},
		"other": {{Vector: []float64{0, 0, 1}}},
	}}
	m := NewMatcher(nil, func() (Detector, error) { return det, nil })
	_, err := m.Register(context.Background(), a, []byte("a"))
	require.NoError(t, err)
	_, err = m.Register(context.Background(), b, []byte("b"))
	require.NoError(t, err)

	got, err := m.Match(context.Background(), []byte("group"), DefaultThreshold)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{b, a}, got)

	got, err = m.Match(context.Background(), []byte("other"), DefaultThreshold)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMatchWithEmptyRegistrySkipsDetector(t *testing.T) {
	var calls int32
	m := NewMatcher(nil, func() (Detector, error) {
		atomic.AddInt32(&calls, 1)
		return &fakeDetector{}, nil
	})
	got, err := m.Match(context.Background(), []byte("x"), DefaultThreshold)
	require.NoError(t, err)
	assert.Nil(t, got)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestDetectorInitIsOnce(t *testing.T) {
	var calls int32
	m := NewMatcher(nil, func() (Detector, error) {
		atomic.AddInt32(&calls, 1)
		return &fakeDetector{byImage: map[string][]Face{"x": {{Vector: []float64{1}, Area: 1}}}}, nil
	})
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = m.Register(context.Background(), uuid.New(), []byte("x"))
		}()
	}
	for i := 0; i < 8; i++ {
		<-done
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 8, m.Enrolled())
}

func TestDetectorInitFailureIsRetried(t *testing.T) {
	var calls int32
	m := NewMatcher(nil, func() (Detector, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("boom")
		}
		return &fakeDetector{}, nil
	})
	_, err := m.Register(context.Background(), uuid.New(), nil)
	require.Error(t, err)
	_, err = m.Register(context.Background(), uuid.New(), nil)
	require.NoError(t, err)
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.Equal(t, 0.0, Cosine([]float64{1}, []float64{1, 2}))
	assert.Equal(t, 0.0, Cosine([]float64{0, 0}, []float64{1, 2}))
}

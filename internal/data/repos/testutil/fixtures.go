package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
)

func SeedChild(tb testing.TB, ctx context.Context, tx *gorm.DB, name string, birth time.Time) *types.Child {
	tb.Helper()
	c := &types.Child{
		FamilyID:  uuid.New(),
		Name:      name,
		BirthDate: birth.UTC(),
		Gender:    "female",
	}
	if err := tx.WithContext(ctx).Create(c).Error; err != nil {
		tb.Fatalf("seed child: %v", err)
	}
	return c
}

// SeedMedia creates a media item uploaded at the given time and links it to children in order.
func SeedMedia(tb testing.TB, ctx context.Context, tx *gorm.DB, kind string, uploadedAt time.Time, children ...uuid.UUID) *types.MediaItem {
	tb.Helper()
	id := uuid.New()
	m := &types.MediaItem{
		ID:               id,
		FamilyID:         uuid.New(),
		Kind:             kind,
		StorageKey:       "uploads/test/" + id.String() + "/clip.mp4",
		OriginalFilename: "clip.mp4",
		UploadedAt:       uploadedAt.UTC(),
		Status:           mediadomain.StatusPending,
	}
	if err := tx.WithContext(ctx).Omit("Subjects").Create(m).Error; err != nil {
		tb.Fatalf("seed media: %v", err)
	}
	for i, cid := range children {
		s := types.MediaSubject{MediaID: m.ID, ChildID: cid, Position: i}
		if err := tx.WithContext(ctx).Create(&s).Error; err != nil {
			tb.Fatalf("seed media subject: %v", err)
		}
		m.Subjects = append(m.Subjects, s)
	}
	return m
}

func SeedAnalysis(tb testing.TB, ctx context.Context, tx *gorm.DB, mediaID uuid.UUID, childID *uuid.UUID, kind string, payload string) *types.AnalysisRecord {
	tb.Helper()
	r := &types.AnalysisRecord{
		MediaID:    mediaID,
		ChildID:    childID,
		Kind:       kind,
		Payload:    datatypes.JSON([]byte(payload)),
		Confidence: 0.8,
	}
	if err := tx.WithContext(ctx).Create(r).Error; err != nil {
		tb.Fatalf("seed analysis: %v", err)
	}
	return r
}

func SeedMetric(tb testing.TB, ctx context.Context, tx *gorm.DB, childID uuid.UUID, metricType string, value float64, at time.Time) *types.GrowthMetric {
	tb.Helper()
	g := &types.GrowthMetric{
		ChildID:    childID,
		MetricType: metricType,
		Value:      value,
		MeasuredAt: at.UTC(),
	}
	if err := tx.WithContext(ctx).Create(g).Error; err != nil {
		tb.Fatalf("seed metric: %v", err)
	}
	return g
}

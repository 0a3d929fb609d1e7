package growth

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type MetricFilter struct {
	MetricType string
	From       *time.Time
	To         *time.Time
}

type GrowthMetricRepo interface {
	Create(dbc dbctx.Context, metrics ...*types.GrowthMetric) error
	// ListRecentByTypes returns up to limit rows, newest first.
	ListRecentByTypes(dbc dbctx.Context, childID uuid.UUID, metricTypes []string, limit int) ([]*types.GrowthMetric, error)
	List(dbc dbctx.Context, childID uuid.UUID, f MetricFilter) ([]*types.GrowthMetric, error)
}

type growthMetricRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewGrowthMetricRepo(db *gorm.DB, baseLog *logger.Logger) GrowthMetricRepo {
	return &growthMetricRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "GrowthMetricRepo"),
	}
}

func (r *growthMetricRepo) Create(dbc dbctx.Context, metrics ...*types.GrowthMetric) error {
	if len(metrics) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&metrics).Error
}

func (r *growthMetricRepo) ListRecentByTypes(dbc dbctx.Context, childID uuid.UUID, metricTypes []string, limit int) ([]*types.GrowthMetric, error) {
	var out []*types.GrowthMetric
	if len(metricTypes) == 0 {
		return out, nil
	}
	q := dbc.DB(r.db).
		Where("child_id = ? AND metric_type IN ?", childID, metricTypes).
		Order("measured_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

func (r *growthMetricRepo) List(dbc dbctx.Context, childID uuid.UUID, f MetricFilter) ([]*types.GrowthMetric, error) {
	var out []*types.GrowthMetric
	q := dbc.DB(r.db).Where("child_id = ?", childID)
	if f.MetricType != "" {
		q = q.Where("metric_type = ?", f.MetricType)
	}
	if f.From != nil {
		q = q.Where("measured_at >= ?", f.From.UTC())
	}
	if f.To != nil {
		q = q.Where("measured_at < ?", f.To.UTC())
	}
	err := q.Order("measured_at ASC, id ASC").Find(&out).Error
	return out, err
}

package steps

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
)

type MetricsDeps struct {
	Children repos.ChildRepo
	Metrics  repos.GrowthMetricRepo
}

type RecordMetricInput struct {
	ChildID       uuid.UUID
	MetricType    string
	Value         float64
	MeasuredAt    time.Time
	SourceMediaID *uuid.UUID
}

func RecordMetric(ctx context.Context, deps MetricsDeps, in RecordMetricInput) (*types.GrowthMetric, error) {
	if deps.Children == nil || deps.Metrics == nil {
		return nil, fmt.Errorf("record_metric: missing deps")
	}
	metricType := strings.TrimSpace(in.MetricType)
	if metricType == "" {
		return nil, apierr.Invalid("metric_type required")
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := deps.Children.GetByID(dbc, in.ChildID); err != nil {
		return nil, err
	}
	measuredAt := in.MeasuredAt
	if measuredAt.IsZero() {
		measuredAt = time.Now()
	}
	m := &types.GrowthMetric{
		ChildID:       in.ChildID,
		MetricType:    metricType,
		Value:         in.Value,
		MeasuredAt:    measuredAt.UTC(),
		SourceMediaID: in.SourceMediaID,
	}
	if err := deps.Metrics.Create(dbc, m); err != nil {
		return nil, err
	}
	return m, nil
}

func ListMetrics(ctx context.Context, deps MetricsDeps, childID uuid.UUID, filter repos.MetricFilter) ([]*types.GrowthMetric, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("list_metrics: missing deps")
	}
	return deps.Metrics.List(dbctx.Context{Ctx: ctx}, childID, filter)
}

// Initiative returns the newest initiative measurements, newest first. The action
// count is the score on a ten-action scale.
func Initiative(ctx context.Context, deps MetricsDeps, childID uuid.UUID) ([]growth.InitiativePoint, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("initiative: missing deps")
	}
	rows, err := deps.Metrics.ListRecentByTypes(dbctx.Context{Ctx: ctx}, childID, []string{growth.MetricInitiative}, growth.InitiativeWindow)
	if err != nil {
		return nil, err
	}
	out := make([]growth.InitiativePoint, 0, len(rows))
	for _, m := range rows {
		out = append(out, growth.InitiativePoint{
			Date:                   m.MeasuredAt.UTC().Format(time.DateOnly),
			InitiativeScore:        m.Value,
			IndependentActionCount: int(m.Value * 10),
		})
	}
	return out, nil
}

package steps

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
)

const (
	// SparkWindow is how many recent focus rows are examined.
	SparkWindow = 120
	// SparkThreshold is the value a focus row must reach to count as high focus.
	SparkThreshold = 0.7
	// SparkMinRows is the number of high-focus rows a talent needs for a card.
	SparkMinRows = 3
)

type SparkDeps struct {
	Metrics repos.GrowthMetricRepo
}

// DetectSparks reads the child's most recent focus metrics and derives spark cards from them.
func DetectSparks(ctx context.Context, deps SparkDeps, childID uuid.UUID) ([]growth.SparkCard, error) {
	if deps.Metrics == nil {
		return nil, fmt.Errorf("spark: missing deps")
	}
	metricTypes := make([]string, 0, len(growth.Talents))
	for _, t := range growth.Talents {
		metricTypes = append(metricTypes, growth.FocusMetricType(t))
	}
	rows, err := deps.Metrics.ListRecentByTypes(dbctx.Context{Ctx: ctx}, childID, metricTypes, SparkWindow)
	if err != nil {
		return nil, fmt.Errorf("spark: list metrics: %w", err)
	}
	return SparkCards(rows), nil
}

// SparkCards groups rows by focus type. A group yields a card when at least SparkMinRows
// rows reach SparkThreshold; its confidence is the mean over every row of the group.
// Cards come out in talent display order.
func SparkCards(rows []*types.GrowthMetric) []growth.SparkCard {
	groups := map[string][]float64{}
	for _, m := range rows {
		if m == nil || !strings.HasPrefix(m.MetricType, growth.FocusMetricPrefix) {
			continue
		}
		talent := strings.TrimPrefix(m.MetricType, growth.FocusMetricPrefix)
		groups[talent] = append(groups[talent], m.Value)
	}

	out := []growth.SparkCard{}
	for _, talent := range growth.Talents {
		values, ok := groups[talent]
		if !ok {
			continue
		}
		high := 0
		sum := 0.0
		for _, v := range values {
			sum += v
			if v >= SparkThreshold {
				high++
			}
		}
		if high < SparkMinRows {
			continue
		}
		name := growth.TalentLabels[talent]
		out = append(out, growth.SparkCard{
			Talent:         talent,
			TalentName:     name,
			Confidence:     math.Round(sum/float64(len(values))*100) / 100,
			MonthsDetected: high,
			Suggestion:     SparkSuggestion(name),
		})
	}
	return out
}

func SparkSuggestion(talentName string) string {
	return fmt.Sprintf("孩子在%s方面表现出持续的高专注度，建议提供更多相关的学习和探索机会。", talentName)
}

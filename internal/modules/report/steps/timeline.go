package steps

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
)

// maxTimelineMonths bounds one timeline request.
const maxTimelineMonths = 120

type TimelineDeps struct {
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Reports  repos.MonthlyReportRepo
}

type TimelineInput struct {
	ChildID uuid.UUID
	// From and To are inclusive months.
	From time.Time
	To   time.Time
}

type TimelineMonth struct {
	Month      string         `json:"month"`
	MediaCount int            `json:"media_count"`
	Analyses   map[string]int `json:"analyses"`
	HasReport  bool           `json:"has_report"`
}

// Timeline counts media and analysis records per upload month, oldest first.
func Timeline(ctx context.Context, deps TimelineDeps, in TimelineInput) ([]TimelineMonth, error) {
	if deps.Media == nil || deps.Analyses == nil || deps.Reports == nil {
		return nil, fmt.Errorf("timeline: missing deps")
	}
	from := growth.MonthStart(in.From)
	to := growth.MonthStart(in.To)
	if to.Before(from) {
		return nil, apierr.Invalid("timeline: from %s is after to %s", growth.MonthKey(from), growth.MonthKey(to))
	}

	var months []TimelineMonth
	index := map[string]int{}
	for m := from; !m.After(to); m = m.AddDate(0, 1, 0) {
		if len(months) == maxTimelineMonths {
			return nil, apierr.Invalid("timeline: range exceeds %d months", maxTimelineMonths)
		}
		key := growth.MonthKey(m)
		index[key] = len(months)
		months = append(months, TimelineMonth{Month: key, Analyses: map[string]int{}})
	}

	dbc := dbctx.Context{Ctx: ctx}
	items, err := deps.Media.ListByChildUploadedBetween(dbc, in.ChildID, from, to.AddDate(0, 1, 0))
	if err != nil {
		return nil, err
	}
	monthOf := map[uuid.UUID]string{}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		key := growth.MonthKey(it.UploadedAt)
		monthOf[it.ID] = key
		ids = append(ids, it.ID)
		months[index[key]].MediaCount++
	}

	records, err := deps.Analyses.ListByMediaIDs(dbc, ids)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		months[index[monthOf[r.MediaID]]].Analyses[r.Kind]++
	}

	reports, err := deps.Reports.ListByChild(dbc, in.ChildID)
	if err != nil {
		return nil, err
	}
	for _, r := range reports {
		if i, ok := index[r.ReportMonth]; ok {
			months[i].HasReport = true
		}
	}
	return months, nil
}

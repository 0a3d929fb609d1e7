package domain

import (
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
)

type (
	MediaItem      = media.MediaItem
	MediaSubject   = media.MediaSubject
	AnalysisRecord = media.AnalysisRecord
	ProcessingTask = media.ProcessingTask

	Child         = growth.Child
	GrowthMetric  = growth.GrowthMetric
	MonthlyReport = growth.MonthlyReport

	JobRun = jobs.JobRun
)

// Models lists every persisted entity in migration order.
func Models() []any {
	return []any{
		&Child{},
		&MediaItem{},
		&MediaSubject{},
		&AnalysisRecord{},
		&ProcessingTask{},
		&GrowthMetric{},
		&MonthlyReport{},
		&JobRun{},
	}
}

package repos

import (
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos/growth"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/jobs"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type MediaItemRepo = media.MediaItemRepo
type AnalysisRecordRepo = media.AnalysisRecordRepo
type ProcessingTaskRepo = media.ProcessingTaskRepo

type ChildRepo = growth.ChildRepo
type GrowthMetricRepo = growth.GrowthMetricRepo
type MonthlyReportRepo = growth.MonthlyReportRepo
type MetricFilter = growth.MetricFilter

type JobRunRepo = jobs.JobRunRepo

// Set bundles every repository over one database handle.
type Set struct {
	Media    MediaItemRepo
	Analyses AnalysisRecordRepo
	Tasks    ProcessingTaskRepo
	Children ChildRepo
	Metrics  GrowthMetricRepo
	Reports  MonthlyReportRepo
	Jobs     JobRunRepo
}

func NewSet(db *gorm.DB, log *logger.Logger) Set {
	return Set{
		Media:    media.NewMediaItemRepo(db, log),
		Analyses: media.NewAnalysisRecordRepo(db, log),
		Tasks:    media.NewProcessingTaskRepo(db, log),
		Children: growth.NewChildRepo(db, log),
		Metrics:  growth.NewGrowthMetricRepo(db, log),
		Reports:  growth.NewMonthlyReportRepo(db, log),
		Jobs:     jobs.NewJobRunRepo(db, log),
	}
}

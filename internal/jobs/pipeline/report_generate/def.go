package report_generate

import (
	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Pipeline struct {
	log     *logger.Logger
	reports report.Usecases
	tracker stagetask.Tracker
}

func New(baseLog *logger.Logger, reports report.Usecases, tasks repos.ProcessingTaskRepo) *Pipeline {
	log := logger.OrNop(baseLog).With("job", stagetask.JobReportGenerate)
	return &Pipeline{
		log:     log,
		reports: reports,
		tracker: stagetask.Tracker{Tasks: tasks, Log: log},
	}
}

func (p *Pipeline) Type() string { return stagetask.JobReportGenerate }

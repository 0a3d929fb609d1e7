package report_batch

import (
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Pipeline struct {
	log      *logger.Logger
	reports  report.Usecases
	tracker  stagetask.Tracker
	dispatch dispatch.Dispatcher
}

func New(baseLog *logger.Logger, reports report.Usecases, d dispatch.Dispatcher) *Pipeline {
	log := logger.OrNop(baseLog).With("job", stagetask.JobReportBatch)
	return &Pipeline{
		log:      log,
		reports:  reports,
		tracker:  stagetask.Tracker{Log: log},
		dispatch: d,
	}
}

func (p *Pipeline) Type() string { return stagetask.JobReportBatch }

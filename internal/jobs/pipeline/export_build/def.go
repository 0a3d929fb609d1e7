package export_build

import (
	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Pipeline struct {
	log     *logger.Logger
	exports export.Usecases
	tracker stagetask.Tracker
}

func New(baseLog *logger.Logger, exports export.Usecases, tasks repos.ProcessingTaskRepo) *Pipeline {
	log := logger.OrNop(baseLog).With("job", stagetask.JobExportBuild)
	return &Pipeline{
		log:     log,
		exports: exports,
		tracker: stagetask.Tracker{Tasks: tasks, Log: log},
	}
}

func (p *Pipeline) Type() string { return stagetask.JobExportBuild }

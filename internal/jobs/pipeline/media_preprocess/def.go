package media_preprocess

import (
	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Pipeline struct {
	log      *logger.Logger
	stages   pipeline.Usecases
	tasks    repos.ProcessingTaskRepo
	tracker  stagetask.Tracker
	dispatch dispatch.Dispatcher
}

func New(
	baseLog *logger.Logger,
	stages pipeline.Usecases,
	tasks repos.ProcessingTaskRepo,
	media repos.MediaItemRepo,
	d dispatch.Dispatcher,
) *Pipeline {
	log := logger.OrNop(baseLog).With("job", stagetask.JobMediaPreprocess)
	return &Pipeline{
		log:      log,
		stages:   stages,
		tasks:    tasks,
		tracker:  stagetask.Tracker{Tasks: tasks, Media: media, Log: log},
		dispatch: d,
	}
}

func (p *Pipeline) Type() string { return stagetask.JobMediaPreprocess }

package media_analyze

import (
	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Pipeline struct {
	log     *logger.Logger
	stages  pipeline.Usecases
	tracker stagetask.Tracker
}

func New(baseLog *logger.Logger, stages pipeline.Usecases, tasks repos.ProcessingTaskRepo, media repos.MediaItemRepo) *Pipeline {
	log := logger.OrNop(baseLog).With("job", stagetask.JobMediaAnalyze)
	return &Pipeline{
		log:     log,
		stages:  stages,
		tracker: stagetask.Tracker{Tasks: tasks, Media: media, Log: log},
	}
}

func (p *Pipeline) Type() string { return stagetask.JobMediaAnalyze }

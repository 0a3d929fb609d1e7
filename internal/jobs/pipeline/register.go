package pipelines

import (
	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/export_build"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/media_analyze"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/media_preprocess"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/report_batch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/report_generate"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Deps struct {
	Log      *logger.Logger
	Repos    repos.Set
	Stages   pipeline.Usecases
	Reports  report.Usecases
	Exports  export.Usecases
	Dispatch dispatch.Dispatcher
}

// Register adds every stage handler to reg. Handlers that chain stages dispatch through deps.Dispatch.
func Register(reg *jobrt.Registry, deps Deps) error {
	handlers := []jobrt.Handler{
		media_preprocess.New(deps.Log, deps.Stages, deps.Repos.Tasks, deps.Repos.Media, deps.Dispatch),
		media_analyze.New(deps.Log, deps.Stages, deps.Repos.Tasks, deps.Repos.Media),
		report_generate.New(deps.Log, deps.Reports, deps.Repos.Tasks),
		report_batch.New(deps.Log, deps.Reports, deps.Dispatch),
		export_build.New(deps.Log, deps.Exports, deps.Repos.Tasks),
	}
	for _, h := range handlers {
		if err := reg.Register(h); err != nil {
			return err
		}
	}
	return nil
}

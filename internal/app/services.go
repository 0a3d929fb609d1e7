package app

import (
	"fmt"

	temporalsdkclient "go.temporal.io/sdk/client"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	pipelines "github.com/yungbote/lifeprint-backend/internal/jobs/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/jobs/policy"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/jobs/schedule"
	"github.com/yungbote/lifeprint-backend/internal/jobs/worker"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/modules/insight"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	reportsteps "github.com/yungbote/lifeprint-backend/internal/modules/report/steps"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/services"
	"github.com/yungbote/lifeprint-backend/internal/temporalx"
	"github.com/yungbote/lifeprint-backend/internal/temporalx/jobrun"
	"github.com/yungbote/lifeprint-backend/internal/temporalx/temporalworker"
)

type Services struct {
	Media   services.MediaService
	Reports services.ReportService
	Exports services.ExportService
	Faces   services.FaceService
	Jobs    services.JobService

	Stages    pipeline.Usecases
	Reporting report.Usecases
	Exporting export.Usecases

	Registry  *jobrt.Registry
	Inline    *dispatch.Inline
	Dispatch  dispatch.Dispatcher
	Worker    *worker.Worker
	Temporal  *temporalworker.Runner
	Scheduler *schedule.Scheduler

	temporalClient temporalsdkclient.Client
}

func wireUsecases(db *gorm.DB, log *logger.Logger, cfg Config, set repos.Set, clients *Clients) Services {
	extractor := insight.NewExtractor(log, clients.LLM)

	stagesDeps := pipeline.UsecasesDeps{
		DB:            db,
		Log:           log,
		Media:         set.Media,
		Analyses:      set.Analyses,
		Metrics:       set.Metrics,
		Store:         clients.Store,
		Tools:         clients.Tools,
		Insights:      extractor,
		WorkRoot:      cfg.WorkRoot,
		Language:      cfg.TranscribeLanguage,
		FaceThreshold: cfg.FaceMatchThreshold,
	}
	// nil pointers must stay nil interfaces so the stages skip them
	if clients.Speech != nil {
		stagesDeps.Speech = clients.Speech
	}
	if clients.Faces != nil {
		stagesDeps.Faces = clients.Faces
	}

	charts, err := reportsteps.NewChartRenderer(cfg.ChartFontPath)
	if err != nil {
		log.Warn("Radar chart renderer unavailable; reports are stored without charts", "error", err)
	}

	return Services{
		Stages: pipeline.New(stagesDeps),
		Reporting: report.New(report.UsecasesDeps{
			DB:       db,
			Log:      log,
			Children: set.Children,
			Media:    set.Media,
			Analyses: set.Analyses,
			Metrics:  set.Metrics,
			Reports:  set.Reports,
			Writer:   extractor,
			Locker:   clients.Locker,
			Store:    clients.Store,
			Charts:   charts,
		}),
		Exporting: export.New(export.UsecasesDeps{
			DB:       db,
			Log:      log,
			Children: set.Children,
			Media:    set.Media,
			Analyses: set.Analyses,
			Reports:  set.Reports,
			Tasks:    set.Tasks,
			Store:    clients.Store,
			URLTTL:   cfg.ExportURLTTL,
		}),
	}
}

func wireServices(db *gorm.DB, log *logger.Logger, cfg Config, role Role, set repos.Set, clients *Clients) (Services, error) {
	log.Info("Wiring services...")
	svcs := wireUsecases(db, log, cfg, set, clients)

	policies, err := policy.Load(cfg.JobPolicyPath)
	if err != nil {
		return Services{}, err
	}
	svcs.Registry = jobrt.NewRegistry()
	svcs.Inline = &dispatch.Inline{
		DB:       db,
		Log:      log,
		Registry: svcs.Registry,
		Policies: policies,
		Async:    role != RoleCLI,
	}

	var queue *dispatch.Queue
	mode := cfg.JobExecutionMode
	if role == RoleCLI {
		mode = dispatch.ModeInline
	}
	if mode == dispatch.ModeAsync || mode == dispatch.ModeTemporal {
		queue = &dispatch.Queue{Jobs: set.Jobs, Log: log, Policies: policies}
	}
	if mode == dispatch.ModeTemporal {
		tcfg := temporalx.LoadConfig()
		tc, err := temporalx.NewClient(tcfg, log)
		if err != nil {
			return Services{}, fmt.Errorf("init temporal client: %w", err)
		}
		if tc != nil {
			svcs.temporalClient = tc
			queue.Workflows = jobrun.Starter{Client: tc, TaskQueue: tcfg.TaskQueue}
			if role != RoleCLI {
				runner, err := temporalworker.NewRunner(log, tcfg, tc, db, set.Jobs, svcs.Registry, cfg.WorkerConcurrency)
				if err != nil {
					tc.Close()
					return Services{}, fmt.Errorf("init temporal worker: %w", err)
				}
				svcs.Temporal = runner
			}
		}
	}
	if queue != nil {
		svcs.Dispatch = queue
	} else {
		svcs.Dispatch = dispatch.Resolve(mode, svcs.Inline, nil, log)
	}

	if err := pipelines.Register(svcs.Registry, pipelines.Deps{
		Log:      log,
		Repos:    set,
		Stages:   svcs.Stages,
		Reports:  svcs.Reporting,
		Exports:  svcs.Exporting,
		Dispatch: svcs.Dispatch,
	}); err != nil {
		return Services{}, fmt.Errorf("register job handlers: %w", err)
	}

	if queue != nil && role != RoleCLI {
		svcs.Worker = worker.NewWorker(db, log, set.Jobs, svcs.Registry, worker.Options{
			Concurrency:  cfg.WorkerConcurrency,
			PollInterval: cfg.WorkerPoll,
			OnAbandoned:  stagetask.Tracker{Tasks: set.Tasks, Media: set.Media, Log: log}.Abandoned,
		})
	}
	if role == RoleServe {
		sched, err := schedule.New(log, svcs.Dispatch, cfg.ReportBatchCron, cfg.ReportTimezone)
		if err != nil {
			return Services{}, err
		}
		svcs.Scheduler = sched
	}

	svcs.Media = services.NewMediaService(db, log, set, clients.Store, svcs.Dispatch)
	svcs.Reports = services.NewReportService(log, svcs.Reporting, clients.Store, svcs.Dispatch, cfg.ChartURLTTL)
	svcs.Exports = services.NewExportService(log, svcs.Exporting, svcs.Dispatch)
	var registry services.FaceRegistry
	if clients.Faces != nil {
		registry = clients.Faces
	}
	svcs.Faces = services.NewFaceService(log, set.Children, registry)
	svcs.Jobs = services.NewJobService(log, set.Jobs)

	log.Info("Job handlers registered", "mode", svcs.Dispatch.Mode(), "types", svcs.Registry.Types())
	return svcs, nil
}

package export

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/modules/export/steps"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Children repos.ChildRepo
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Reports  repos.MonthlyReportRepo
	Tasks    repos.ProcessingTaskRepo

	Store  objectstore.Store
	URLTTL time.Duration
}

type Usecases struct {
	deps UsecasesDeps
}

func New(deps UsecasesDeps) Usecases { return Usecases{deps: deps} }

func (u Usecases) WithLog(log *logger.Logger) Usecases {
	u.deps.Log = log
	return u
}

type (
	BuildInput  = steps.BuildInput
	BuildOutput = steps.BuildOutput
	Status      = steps.Status
)

// Request creates the export task; enqueue dispatches it to export_build.
func (u Usecases) Request(ctx context.Context, childID uuid.UUID, enqueue func(context.Context, *types.ProcessingTask) error) (*types.ProcessingTask, error) {
	return steps.Request(ctx, steps.RequestDeps{
		DB:       u.deps.DB,
		Log:      u.deps.Log,
		Children: u.deps.Children,
		Tasks:    u.deps.Tasks,
		Enqueue:  enqueue,
	}, steps.RequestInput{ChildID: childID})
}

func (u Usecases) Build(ctx context.Context, in BuildInput) (BuildOutput, error) {
	return steps.Build(ctx, steps.BuildDeps{
		Log:      u.deps.Log,
		Children: u.deps.Children,
		Media:    u.deps.Media,
		Analyses: u.deps.Analyses,
		Reports:  u.deps.Reports,
		Tasks:    u.deps.Tasks,
		Store:    u.deps.Store,
	}, in)
}

func (u Usecases) Status(ctx context.Context, exportID uuid.UUID) (Status, error) {
	return steps.GetStatus(ctx, steps.StatusDeps{Tasks: u.deps.Tasks}, exportID)
}

func (u Usecases) DownloadURL(ctx context.Context, exportID uuid.UUID) (string, error) {
	return steps.DownloadURL(ctx, steps.DownloadDeps{Tasks: u.deps.Tasks, Store: u.deps.Store, TTL: u.deps.URLTTL}, exportID)
}

package report

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/modules/report/steps"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
	"github.com/yungbote/lifeprint-backend/internal/platform/redisx"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Children repos.ChildRepo
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Metrics  repos.GrowthMetricRepo
	Reports  repos.MonthlyReportRepo

	Writer steps.NarrativeWriter
	Locker redisx.Locker
	Store  objectstore.Store
	Charts *steps.ChartRenderer
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
	AssembleInput  = steps.AssembleInput
	AssembleOutput = steps.AssembleOutput

	BatchInput   = steps.BatchInput
	BatchOutput  = steps.BatchOutput
	BatchFailure = steps.BatchFailure

	RadarInput  = steps.RadarInput
	RadarOutput = steps.RadarOutput

	TimelineInput = steps.TimelineInput
	TimelineMonth = steps.TimelineMonth

	RecordMetricInput = steps.RecordMetricInput
)

func (u Usecases) Generate(ctx context.Context, in AssembleInput) (AssembleOutput, error) {
	return steps.Assemble(ctx, steps.AssembleDeps{
		DB:       u.deps.DB,
		Log:      u.deps.Log,
		Children: u.deps.Children,
		Media:    u.deps.Media,
		Analyses: u.deps.Analyses,
		Metrics:  u.deps.Metrics,
		Reports:  u.deps.Reports,
		Writer:   u.deps.Writer,
		Locker:   u.deps.Locker,
		Store:    u.deps.Store,
		Charts:   u.deps.Charts,
	}, in)
}

// GenerateBatch runs per-child generation in-process. enqueue, when non-nil, replaces it
// so each child becomes its own retryable job.
func (u Usecases) GenerateBatch(ctx context.Context, in BatchInput, enqueue func(ctx context.Context, childID uuid.UUID, month time.Time) error) (BatchOutput, error) {
	gen := enqueue
	if gen == nil {
		gen = func(ctx context.Context, childID uuid.UUID, month time.Time) error {
			_, err := u.Generate(ctx, AssembleInput{ChildID: childID, Month: month})
			return err
		}
	}
	return steps.GenerateBatch(ctx, steps.BatchDeps{
		Log:      u.deps.Log,
		Children: u.deps.Children,
		Generate: gen,
	}, in)
}

func (u Usecases) ComputeRadar(ctx context.Context, in RadarInput) (RadarOutput, error) {
	return steps.ComputeRadar(ctx, steps.RadarDeps{
		DB:       u.deps.DB,
		Log:      u.deps.Log,
		Media:    u.deps.Media,
		Analyses: u.deps.Analyses,
	}, in)
}

func (u Usecases) DetectSparks(ctx context.Context, childID uuid.UUID) ([]growth.SparkCard, error) {
	return steps.DetectSparks(ctx, steps.SparkDeps{Metrics: u.deps.Metrics}, childID)
}

func (u Usecases) Get(ctx context.Context, childID uuid.UUID, month time.Time) (*types.MonthlyReport, error) {
	return u.deps.Reports.Get(dbctx.Context{Ctx: ctx}, childID, growth.MonthKey(month))
}

func (u Usecases) List(ctx context.Context, childID uuid.UUID) ([]*types.MonthlyReport, error) {
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := u.deps.Children.GetByID(dbc, childID); err != nil {
		return nil, err
	}
	return u.deps.Reports.ListByChild(dbc, childID)
}

func (u Usecases) Timeline(ctx context.Context, in TimelineInput) ([]TimelineMonth, error) {
	if _, err := u.deps.Children.GetByID(dbctx.Context{Ctx: ctx}, in.ChildID); err != nil {
		return nil, err
	}
	return steps.Timeline(ctx, steps.TimelineDeps{
		Media:    u.deps.Media,
		Analyses: u.deps.Analyses,
		Reports:  u.deps.Reports,
	}, in)
}

func (u Usecases) RecordMetric(ctx context.Context, in RecordMetricInput) (*types.GrowthMetric, error) {
	return steps.RecordMetric(ctx, steps.MetricsDeps{Children: u.deps.Children, Metrics: u.deps.Metrics}, in)
}

func (u Usecases) ListMetrics(ctx context.Context, childID uuid.UUID, filter repos.MetricFilter) ([]*types.GrowthMetric, error) {
	if _, err := u.deps.Children.GetByID(dbctx.Context{Ctx: ctx}, childID); err != nil {
		return nil, err
	}
	return steps.ListMetrics(ctx, steps.MetricsDeps{Children: u.deps.Children, Metrics: u.deps.Metrics}, childID, filter)
}

func (u Usecases) Initiative(ctx context.Context, childID uuid.UUID) ([]growth.InitiativePoint, error) {
	if _, err := u.deps.Children.GetByID(dbctx.Context{Ctx: ctx}, childID); err != nil {
		return nil, err
	}
	return steps.Initiative(ctx, steps.MetricsDeps{Children: u.deps.Children, Metrics: u.deps.Metrics}, childID)
}

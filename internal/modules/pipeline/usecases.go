package pipeline

import (
	"context"

	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline/steps"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

type UsecasesDeps struct {
	DB  *gorm.DB
	Log *logger.Logger

	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Metrics  repos.GrowthMetricRepo

	Store    objectstore.Store
	Tools    steps.MediaTools
	Speech   steps.Transcriber
	Faces    steps.FaceMatcher
	Insights steps.Insights

	WorkRoot      string
	Language      string
	FaceThreshold float64
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
	Intermediate = steps.Intermediate

	PreprocessInput  = steps.PreprocessInput
	PreprocessOutput = steps.PreprocessOutput

	AnalyzeInput  = steps.AnalyzeInput
	AnalyzeOutput = steps.AnalyzeOutput
)

func (u Usecases) Preprocess(ctx context.Context, in PreprocessInput) (PreprocessOutput, error) {
	return steps.Preprocess(ctx, steps.PreprocessDeps{
		DB:            u.deps.DB,
		Log:           u.deps.Log,
		Media:         u.deps.Media,
		Analyses:      u.deps.Analyses,
		Store:         u.deps.Store,
		Tools:         u.deps.Tools,
		Speech:        u.deps.Speech,
		Faces:         u.deps.Faces,
		WorkRoot:      u.deps.WorkRoot,
		Language:      u.deps.Language,
		FaceThreshold: u.deps.FaceThreshold,
	}, in)
}

func (u Usecases) Analyze(ctx context.Context, in AnalyzeInput) (AnalyzeOutput, error) {
	return steps.Analyze(ctx, steps.AnalyzeDeps{
		DB:       u.deps.DB,
		Log:      u.deps.Log,
		Media:    u.deps.Media,
		Analyses: u.deps.Analyses,
		Metrics:  u.deps.Metrics,
		Store:    u.deps.Store,
		Insights: u.deps.Insights,
		WorkRoot: u.deps.WorkRoot,
	}, in)
}

// Release removes the work area and persisted keyframes a preprocess run handed over.
func (u Usecases) Release(ctx context.Context, im Intermediate) error {
	return steps.Release(ctx, u.deps.Store, u.deps.WorkRoot, im)
}

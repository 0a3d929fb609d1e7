package services

import (
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

// ReportView is a stored report with its radar flattened for display.
type ReportView struct {
	Report   *types.MonthlyReport    `json:"report"`
	Radar    []growth.RadarDimension `json:"radar"`
	Sparks   []growth.SparkCard      `json:"spark_cards"`
	ChartURL string                  `json:"chart_url,omitempty"`
}

type GenerateResult struct {
	Report     *ReportView `json:"report,omitempty"`
	Created    bool        `json:"created"`
	InProgress bool        `json:"in_progress"`
}

type ReportService interface {
	Generate(dbc dbctx.Context, childID uuid.UUID, month time.Time) (*GenerateResult, error)
	Get(dbc dbctx.Context, childID uuid.UUID, month time.Time) (*ReportView, error)
	List(dbc dbctx.Context, childID uuid.UUID) ([]*types.MonthlyReport, error)
	Timeline(dbc dbctx.Context, childID uuid.UUID, from, to time.Time) ([]report.TimelineMonth, error)
	Metrics(dbc dbctx.Context, childID uuid.UUID, metricType string) ([]*types.GrowthMetric, error)
	RecordMetric(dbc dbctx.Context, in report.RecordMetricInput) (*types.GrowthMetric, error)
	Sparks(dbc dbctx.Context, childID uuid.UUID) ([]growth.SparkCard, error)
	Initiative(dbc dbctx.Context, childID uuid.UUID) ([]growth.InitiativePoint, error)
	// Batch dispatches report generation for every child. A zero month means the current one.
	Batch(dbc dbctx.Context, month time.Time) (*types.JobRun, error)
}

type reportService struct {
	log      *logger.Logger
	reports  report.Usecases
	store    objectstore.Store
	dispatch dispatch.Dispatcher
	chartTTL time.Duration
}

func NewReportService(
	baseLog *logger.Logger,
	reports report.Usecases,
	store objectstore.Store,
	d dispatch.Dispatcher,
	chartTTL time.Duration,
) ReportService {
	if chartTTL <= 0 {
		chartTTL = time.Hour
	}
	log := logger.OrNop(baseLog).With("service", "ReportService")
	return &reportService{
		log:      log,
		reports:  reports.WithLog(log),
		store:    store,
		dispatch: d,
		chartTTL: chartTTL,
	}
}

func (s *reportService) Generate(dbc dbctx.Context, childID uuid.UUID, month time.Time) (*GenerateResult, error) {
	out, err := s.reports.Generate(dbc.Ctx, report.AssembleInput{ChildID: childID, Month: month})
	if err != nil {
		return nil, err
	}
	res := &GenerateResult{Created: out.Created, InProgress: out.InProgress}
	if out.Report != nil {
		res.Report = s.view(dbc, out.Report)
	}
	return res, nil
}

func (s *reportService) Get(dbc dbctx.Context, childID uuid.UUID, month time.Time) (*ReportView, error) {
	r, err := s.reports.Get(dbc.Ctx, childID, month)
	if err != nil {
		return nil, err
	}
	return s.view(dbc, r), nil
}

func (s *reportService) List(dbc dbctx.Context, childID uuid.UUID) ([]*types.MonthlyReport, error) {
	return s.reports.List(dbc.Ctx, childID)
}

func (s *reportService) Timeline(dbc dbctx.Context, childID uuid.UUID, from, to time.Time) ([]report.TimelineMonth, error) {
	return s.reports.Timeline(dbc.Ctx, report.TimelineInput{ChildID: childID, From: from, To: to})
}

func (s *reportService) Metrics(dbc dbctx.Context, childID uuid.UUID, metricType string) ([]*types.GrowthMetric, error) {
	return s.reports.ListMetrics(dbc.Ctx, childID, repos.MetricFilter{MetricType: metricType})
}

func (s *reportService) RecordMetric(dbc dbctx.Context, in report.RecordMetricInput) (*types.GrowthMetric, error) {
	return s.reports.RecordMetric(dbc.Ctx, in)
}

func (s *reportService) Sparks(dbc dbctx.Context, childID uuid.UUID) ([]growth.SparkCard, error) {
	return s.reports.DetectSparks(dbc.Ctx, childID)
}

func (s *reportService) Initiative(dbc dbctx.Context, childID uuid.UUID) ([]growth.InitiativePoint, error) {
	return s.reports.Initiative(dbc.Ctx, childID)
}

func (s *reportService) Batch(dbc dbctx.Context, month time.Time) (*types.JobRun, error) {
	payload := map[string]any{}
	if !month.IsZero() {
		payload["month"] = growth.MonthKey(month)
	}
	job, err := s.dispatch.Dispatch(dbc.Ctx, dispatch.Request{
		JobType:    stagetask.JobReportBatch,
		EntityType: "report",
		Payload:    payload,
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("Report batch dispatched", "job_id", job.ID.String(), "month", payload["month"])
	return job, nil
}

// view decodes the stored radar and sparks. Undecodable payloads are logged and shown empty.
func (s *reportService) view(dbc dbctx.Context, r *types.MonthlyReport) *ReportView {
	log := s.log.With("child_id", r.ChildID.String(), "report_month", r.ReportMonth)
	v := &ReportView{Report: r, Sparks: []growth.SparkCard{}}
	radar, err := r.Radar()
	if err != nil {
		log.Warn("Stored radar undecodable", "error", err)
	}
	v.Radar = radar.Flatten()
	if sparks, err := r.Sparks(); err != nil {
		log.Warn("Stored spark cards undecodable", "error", err)
	} else {
		v.Sparks = sparks
	}
	if r.ChartKey != "" && s.store != nil {
		if url, err := s.store.Presign(dbc.Ctx, r.ChartKey, s.chartTTL); err != nil {
			log.Warn("Chart link unavailable", "chart_key", r.ChartKey, "error", err)
		} else {
			v.ChartURL = url
		}
	}
	return v
}

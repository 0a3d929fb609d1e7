package steps

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/modules/insight"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
	"github.com/yungbote/lifeprint-backend/internal/platform/redisx"
)

const defaultLockTTL = 10 * time.Minute

// NarrativeWriter produces the long narrative and the short summary. Implementations fall back instead of failing.
type NarrativeWriter interface {
	Narrative(ctx context.Context, in insight.NarrativeInput) string
	Summary(ctx context.Context, radar growth.RadarData, sparks []growth.SparkCard) string
}

type AssembleDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Children repos.ChildRepo
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Metrics  repos.GrowthMetricRepo
	Reports  repos.MonthlyReportRepo
	Writer   NarrativeWriter

	// Locker serializes generation of one (child, month) across instances. Optional.
	Locker  redisx.Locker
	LockTTL time.Duration

	// Store and Charts are optional; both are needed to render the radar chart.
	Store  objectstore.Store
	Charts *ChartRenderer

	Now func() time.Time
}

type AssembleInput struct {
	ChildID uuid.UUID
	// Month defaults to the current month.
	Month time.Time
}

type AssembleOutput struct {
	Report *types.MonthlyReport
	// Created is false when the report already existed or another worker holds the generation lock.
	Created bool
	// InProgress is true when another worker holds the generation lock.
	InProgress bool
}

// Assemble builds and persists the monthly report for one child. It is a no-op when
// the report already exists, and a lost insert race resolves to the winner's row.
func Assemble(ctx context.Context, deps AssembleDeps, in AssembleInput) (AssembleOutput, error) {
	out := AssembleOutput{}
	if deps.DB == nil || deps.Children == nil || deps.Media == nil || deps.Analyses == nil || deps.Metrics == nil || deps.Reports == nil {
		return out, fmt.Errorf("report_assemble: missing deps")
	}
	if in.ChildID == uuid.Nil {
		return out, apierr.Invalid("report_assemble: missing child_id")
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	month := in.Month
	if month.IsZero() {
		month = now()
	}
	monthStart := growth.MonthStart(month)
	monthKey := growth.MonthKey(monthStart)

	ctx, span := otel.Tracer("lifeprint/report").Start(ctx, "report.generate", trace.WithAttributes(
		attribute.String("child.id", in.ChildID.String()),
		attribute.String("report.month", monthKey),
	))
	defer span.End()

	log := logger.OrNop(deps.Log).With("step", "report_assemble", "child_id", in.ChildID.String(), "month", monthKey)
	dbc := dbctx.Context{Ctx: ctx}

	child, err := deps.Children.GetByID(dbc, in.ChildID)
	if err != nil {
		return out, err
	}

	if existing, ok, err := existingReport(dbc, deps.Reports, child.ID, monthKey); err != nil {
		return out, err
	} else if ok {
		log.Info("Report already exists, skipping")
		out.Report = existing
		return out, nil
	}

	if deps.Locker != nil {
		ttl := deps.LockTTL
		if ttl <= 0 {
			ttl = defaultLockTTL
		}
		release, ok, err := deps.Locker.Acquire(ctx, "report:"+child.ID.String()+":"+monthKey, ttl)
		if err != nil {
			return out, fmt.Errorf("report_assemble: lock: %w", err)
		}
		if !ok {
			log.Info("Report generation already in progress elsewhere")
			out.InProgress = true
			return out, nil
		}
		defer release()

		if existing, ok, err := existingReport(dbc, deps.Reports, child.ID, monthKey); err != nil {
			return out, err
		} else if ok {
			out.Report = existing
			return out, nil
		}
	}

	radar, err := ComputeRadar(ctx, RadarDeps{DB: deps.DB, Log: deps.Log, Media: deps.Media, Analyses: deps.Analyses}, RadarInput{ChildID: child.ID, Month: monthStart})
	if err != nil {
		return out, err
	}
	sparks, err := DetectSparks(ctx, SparkDeps{Metrics: deps.Metrics}, child.ID)
	if err != nil {
		return out, err
	}

	narrative := insight.FallbackNarrative(child.Name)
	summary := insight.FallbackSummary
	if deps.Writer != nil {
		narrative = deps.Writer.Narrative(ctx, insight.NarrativeInput{
			ChildName:       child.Name,
			AgeMonths:       child.AgeMonths(monthStart),
			Radar:           radar.Radar,
			Sparks:          sparks,
			BehaviorSummary: []map[string]any{},
			EmotionSummary:  map[string]any{},
		})
		summary = deps.Writer.Summary(ctx, radar.Radar, sparks)
	}

	radarJSON, err := json.Marshal(radar.Radar)
	if err != nil {
		return out, err
	}
	sparksJSON, err := json.Marshal(sparks)
	if err != nil {
		return out, err
	}

	report := &types.MonthlyReport{
		ChildID:     child.ID,
		ReportMonth: monthKey,
		RadarData:   datatypes.JSON(radarJSON),
		SparkCards:  datatypes.JSON(sparksJSON),
		Summary:     summary,
		Narrative:   narrative,
		ChartKey:    renderChart(ctx, deps, log, child, monthKey, radar.Radar),
		GeneratedAt: now().UTC(),
	}

	err = dbc.Transaction(deps.DB, func(tx dbctx.Context) error {
		return deps.Reports.Create(tx, report)
	})
	if errors.Is(err, apierr.ErrConflict) {
		log.Info("Lost report insert race, keeping existing row")
		existing, gerr := deps.Reports.Get(dbc, child.ID, monthKey)
		if gerr != nil {
			return out, gerr
		}
		out.Report = existing
		return out, nil
	}
	if err != nil {
		span.RecordError(err)
		return out, fmt.Errorf("report_assemble: persist: %w", err)
	}

	log.Info("Report generated",
		"media", radar.MediaCount,
		"spark_cards", len(sparks),
	)
	out.Report = report
	out.Created = true
	return out, nil
}

func existingReport(dbc dbctx.Context, reports repos.MonthlyReportRepo, childID uuid.UUID, monthKey string) (*types.MonthlyReport, bool, error) {
	ok, err := reports.Exists(dbc, childID, monthKey)
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := reports.Get(dbc, childID, monthKey)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// renderChart stores the radar chart and returns its key. Failures are logged and yield "".
func renderChart(ctx context.Context, deps AssembleDeps, log *logger.Logger, child *types.Child, monthKey string, radar growth.RadarData) string {
	if deps.Charts == nil || deps.Store == nil {
		return ""
	}
	png, err := deps.Charts.Render(radar, fmt.Sprintf("%s %s", child.Name, monthKey[:7]))
	if err != nil {
		log.Warn("Radar chart render failed", "error", err)
		return ""
	}
	key := ChartKey(child.ID, monthKey)
	if _, err := deps.Store.Put(ctx, key, png, "image/png"); err != nil {
		log.Warn("Radar chart upload failed", "key", key, "error", err)
		return ""
	}
	return key
}

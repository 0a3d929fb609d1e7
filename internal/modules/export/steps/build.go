package steps

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/datatypes"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

const ContentTypeZip = "application/zip"

type BuildDeps struct {
	Log      *logger.Logger
	Children repos.ChildRepo
	Media    repos.MediaItemRepo
	Analyses repos.AnalysisRecordRepo
	Reports  repos.MonthlyReportRepo
	Tasks    repos.ProcessingTaskRepo
	Store    objectstore.Store
	Now      func() time.Time
}

type BuildInput struct {
	// ExportID is the export ProcessingTask id.
	ExportID uuid.UUID
}

type BuildOutput struct {
	Key     string `json:"key"`
	Size    int64  `json:"size"`
	Media   int    `json:"media"`
	Skipped int    `json:"skipped,omitempty"`
	Reports int    `json:"reports"`
}

// Key is where an export archive is stored.
func Key(childID, exportID uuid.UUID) string {
	return fmt.Sprintf("exports/%s/%s.zip", childID, exportID)
}

// Build gathers everything recorded for the export's child into one zip archive, stores
// it, and writes the key and size into the task result. Media that cannot be fetched is
// logged and left out.
func Build(ctx context.Context, deps BuildDeps, in BuildInput) (BuildOutput, error) {
	out := BuildOutput{}
	if deps.Children == nil || deps.Media == nil || deps.Analyses == nil || deps.Reports == nil || deps.Tasks == nil || deps.Store == nil {
		return out, fmt.Errorf("export_build: missing deps")
	}
	if in.ExportID == uuid.Nil {
		return out, apierr.Invalid("export_build: missing export_id")
	}
	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}

	ctx, span := otel.Tracer("lifeprint/export").Start(ctx, "export.build", trace.WithAttributes(
		attribute.String("export.id", in.ExportID.String()),
	))
	defer span.End()

	dbc := dbctx.Context{Ctx: ctx}
	task, err := deps.Tasks.GetByID(dbc, in.ExportID)
	if err != nil {
		return out, err
	}
	if task.Kind != media.TaskExport || task.ChildID == nil {
		return out, apierr.Invalid("export_build: task %s is not an export", task.ID)
	}
	log := logger.OrNop(deps.Log).With("step", "export_build", "export_id", task.ID.String(), "child_id", task.ChildID.String())

	child, err := deps.Children.GetByID(dbc, *task.ChildID)
	if err != nil {
		return out, err
	}
	items, err := deps.Media.ListByChild(dbc, child.ID)
	if err != nil {
		return out, fmt.Errorf("export_build: list media: %w", err)
	}
	ids := make([]uuid.UUID, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
	}
	records, err := deps.Analyses.ListByMediaIDs(dbc, ids)
	if err != nil {
		return out, fmt.Errorf("export_build: list analyses: %w", err)
	}
	reports, err := deps.Reports.ListByChild(dbc, child.ID)
	if err != nil {
		return out, fmt.Errorf("export_build: list reports: %w", err)
	}

	var buf bytes.Buffer
	a := &archive{zw: zip.NewWriter(&buf), names: map[string]int{}}

	if err := a.writeJSON("child_info.json", childInfo{
		Name:       child.Name,
		BirthDate:  child.BirthDate.Format("2006-01-02"),
		Gender:     child.Gender,
		ExportDate: now().UTC().Format(time.RFC3339),
	}); err != nil {
		return out, err
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		data, err := deps.Store.Get(ctx, it.StorageKey)
		if err != nil {
			log.Warn("Skipping media asset", "media_id", it.ID.String(), "key", it.StorageKey, "error", err)
			out.Skipped++
			continue
		}
		if err := a.writeFile(a.unique("media/"+mediaName(it)), data); err != nil {
			return out, err
		}
		out.Media++
	}

	entries := make([]analysisEntry, 0, len(records))
	for _, r := range records {
		entries = append(entries, analysisEntry{
			MediaID:    r.MediaID,
			Type:       r.Kind,
			Result:     orEmpty(r.Payload, "null"),
			AnalyzedAt: r.AnalyzedAt.UTC().Format(time.RFC3339),
		})
	}
	if err := a.writeJSON("analyses.json", entries); err != nil {
		return out, err
	}

	for _, r := range reports {
		if err := a.writeJSON("reports/"+r.ReportMonth+".json", reportEntry{
			Month:      r.ReportMonth,
			Summary:    r.Summary,
			RadarData:  orEmpty(r.RadarData, "{}"),
			SparkCards: orEmpty(r.SparkCards, "[]"),
			Narrative:  r.Narrative,
		}); err != nil {
			return out, err
		}
		out.Reports++
		if r.ChartKey == "" {
			continue
		}
		png, err := deps.Store.Get(ctx, r.ChartKey)
		if err != nil {
			log.Warn("Skipping report chart", "month", r.ReportMonth, "key", r.ChartKey, "error", err)
			continue
		}
		if err := a.writeFile("reports/"+r.ReportMonth+".png", png); err != nil {
			return out, err
		}
	}

	if err := a.zw.Close(); err != nil {
		return out, fmt.Errorf("export_build: close archive: %w", err)
	}

	out.Key = Key(child.ID, task.ID)
	out.Size = int64(buf.Len())
	if _, err := deps.Store.Put(ctx, out.Key, buf.Bytes(), ContentTypeZip); err != nil {
		span.RecordError(err)
		return out, fmt.Errorf("export_build: upload: %w", err)
	}
	result, err := json.Marshal(map[string]any{"key": out.Key, "size": out.Size})
	if err != nil {
		return out, err
	}
	if err := deps.Tasks.UpdateFields(dbc, task.ID, map[string]interface{}{"result": datatypes.JSON(result)}); err != nil {
		return out, fmt.Errorf("export_build: record result: %w", err)
	}

	span.SetAttributes(attribute.Int64("export.size", out.Size))
	log.Info("Export built",
		"key", out.Key,
		"size", out.Size,
		"media", out.Media,
		"skipped", out.Skipped,
		"reports", out.Reports,
	)
	return out, nil
}

type childInfo struct {
	Name       string `json:"name"`
	BirthDate  string `json:"birth_date"`
	Gender     string `json:"gender"`
	ExportDate string `json:"export_date"`
}

type analysisEntry struct {
	MediaID    uuid.UUID       `json:"media_id"`
	Type       string          `json:"type"`
	Result     json.RawMessage `json:"result"`
	AnalyzedAt string          `json:"analyzed_at"`
}

type reportEntry struct {
	Month      string          `json:"month"`
	Summary    string          `json:"summary"`
	RadarData  json.RawMessage `json:"radar_data"`
	SparkCards json.RawMessage `json:"spark_cards"`
	Narrative  string          `json:"narrative"`
}

type archive struct {
	zw    *zip.Writer
	names map[string]int
}

func (a *archive) writeFile(name string, data []byte) error {
	w, err := a.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return fmt.Errorf("export_build: add %s: %w", name, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("export_build: write %s: %w", name, err)
	}
	return nil
}

func (a *archive) writeJSON(name string, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("export_build: encode %s: %w", name, err)
	}
	return a.writeFile(name, b)
}

// unique appends _2, _3, ... before the extension when name was already used.
func (a *archive) unique(name string) string {
	a.names[name]++
	n := a.names[name]
	if n == 1 {
		return name
	}
	ext := path.Ext(name)
	candidate := fmt.Sprintf("%s_%d%s", strings.TrimSuffix(name, ext), n, ext)
	if _, taken := a.names[candidate]; taken {
		return a.unique(candidate)
	}
	a.names[candidate] = 1
	return candidate
}

func mediaName(it *types.MediaItem) string {
	name := path.Base(strings.ReplaceAll(it.OriginalFilename, "\\", "/"))
	if name == "" || name == "." || name == "/" {
		name = it.ID.String() + path.Ext(it.StorageKey)
	}
	return name
}

func orEmpty(raw datatypes.JSON, fallback string) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage(fallback)
	}
	return json.RawMessage(raw)
}

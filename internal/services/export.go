package services

import (
	"context"

	"github.com/google/uuid"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type ExportService interface {
	Request(dbc dbctx.Context, childID uuid.UUID) (*types.ProcessingTask, error)
	Status(dbc dbctx.Context, exportID uuid.UUID) (export.Status, error)
	DownloadURL(dbc dbctx.Context, exportID uuid.UUID) (string, error)
}

type exportService struct {
	log      *logger.Logger
	exports  export.Usecases
	dispatch dispatch.Dispatcher
}

func NewExportService(baseLog *logger.Logger, exports export.Usecases, d dispatch.Dispatcher) ExportService {
	log := logger.OrNop(baseLog).With("service", "ExportService")
	return &exportService{log: log, exports: exports.WithLog(log), dispatch: d}
}

func (s *exportService) Request(dbc dbctx.Context, childID uuid.UUID) (*types.ProcessingTask, error) {
	task, err := s.exports.Request(dbc.Ctx, childID, s.enqueue)
	if err != nil {
		return nil, err
	}
	s.log.Info("Export requested", "child_id", childID.String(), "export_id", task.ID.String())
	return task, nil
}

func (s *exportService) enqueue(ctx context.Context, task *types.ProcessingTask) error {
	_, err := s.dispatch.Dispatch(ctx, dispatch.Request{
		JobType:    stagetask.JobExportBuild,
		EntityType: "export",
		EntityID:   task.ID,
		Payload:    map[string]any{"export_id": task.ID.String()},
	})
	return err
}

func (s *exportService) Status(dbc dbctx.Context, exportID uuid.UUID) (export.Status, error) {
	return s.exports.Status(dbc.Ctx, exportID)
}

func (s *exportService) DownloadURL(dbc dbctx.Context, exportID uuid.UUID) (string, error) {
	return s.exports.DownloadURL(dbc.Ctx, exportID)
}

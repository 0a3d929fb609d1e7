package steps

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
	"github.com/yungbote/lifeprint-backend/internal/platform/objectstore"
)

// DefaultURLTTL is how long a download link stays valid when no TTL is configured.
const DefaultURLTTL = time.Hour

type RequestDeps struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Children repos.ChildRepo
	Tasks    repos.ProcessingTaskRepo
	// Enqueue hands the persisted task to the export_build stage.
	Enqueue func(ctx context.Context, task *types.ProcessingTask) error
}

type RequestInput struct {
	ChildID uuid.UUID
}

// Request persists a queued export task for the child and dispatches it. If dispatch fails
// the task is marked failed so status callers never see a row that will not progress.
func Request(ctx context.Context, deps RequestDeps, in RequestInput) (*types.ProcessingTask, error) {
	if deps.DB == nil || deps.Children == nil || deps.Tasks == nil || deps.Enqueue == nil {
		return nil, fmt.Errorf("export_request: missing deps")
	}
	if in.ChildID == uuid.Nil {
		return nil, apierr.Invalid("export_request: missing child_id")
	}
	dbc := dbctx.Context{Ctx: ctx}
	if _, err := deps.Children.GetByID(dbc, in.ChildID); err != nil {
		return nil, err
	}

	childID := in.ChildID
	task := &types.ProcessingTask{
		ChildID: &childID,
		Kind:    media.TaskExport,
		Status:  media.TaskQueued,
	}
	if err := dbc.Transaction(deps.DB, func(tx dbctx.Context) error {
		return deps.Tasks.Create(tx, task)
	}); err != nil {
		return nil, fmt.Errorf("export_request: create task: %w", err)
	}

	if err := deps.Enqueue(ctx, task); err != nil {
		logger.OrNop(deps.Log).Warn("Export dispatch failed", "export_id", task.ID.String(), "error", err)
		_ = deps.Tasks.UpdateFields(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, task.ID, map[string]interface{}{
			"status":        media.TaskFailed,
			"error_message": err.Error(),
		})
		return nil, fmt.Errorf("export_request: dispatch: %w", err)
	}
	return task, nil
}

type StatusDeps struct {
	Tasks repos.ProcessingTaskRepo
}

// Status is the persisted state of one export.
type Status struct {
	ExportID    uuid.UUID  `json:"export_id"`
	ChildID     uuid.UUID  `json:"child_id"`
	Status      string     `json:"status"`
	Attempts    int        `json:"attempts"`
	Error       string     `json:"error,omitempty"`
	Key         string     `json:"key,omitempty"`
	Size        int64      `json:"size,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func GetStatus(ctx context.Context, deps StatusDeps, exportID uuid.UUID) (Status, error) {
	if deps.Tasks == nil {
		return Status{}, fmt.Errorf("export_status: missing deps")
	}
	task, err := exportTask(ctx, deps.Tasks, exportID)
	if err != nil {
		return Status{}, err
	}
	st := Status{
		ExportID:    task.ID,
		ChildID:     *task.ChildID,
		Status:      task.Status,
		Attempts:    task.Attempts,
		Error:       task.ErrorMessage,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
	if len(task.Result) > 0 {
		var res struct {
			Key  string `json:"key"`
			Size int64  `json:"size"`
		}
		if err := json.Unmarshal(task.Result, &res); err != nil {
			return Status{}, fmt.Errorf("export_status: decode result: %w", err)
		}
		st.Key, st.Size = res.Key, res.Size
	}
	return st, nil
}

type DownloadDeps struct {
	Tasks repos.ProcessingTaskRepo
	Store objectstore.Store
	TTL   time.Duration
}

// DownloadURL presigns the archive of a completed export.
func DownloadURL(ctx context.Context, deps DownloadDeps, exportID uuid.UUID) (string, error) {
	if deps.Tasks == nil || deps.Store == nil {
		return "", fmt.Errorf("export_download: missing deps")
	}
	st, err := GetStatus(ctx, StatusDeps{Tasks: deps.Tasks}, exportID)
	if err != nil {
		return "", err
	}
	if st.Status != media.TaskCompleted || st.Key == "" {
		return "", fmt.Errorf("export %s is %s: %w", exportID, st.Status, apierr.ErrConflict)
	}
	ttl := deps.TTL
	if ttl <= 0 {
		ttl = DefaultURLTTL
	}
	return deps.Store.Presign(ctx, st.Key, ttl)
}

func exportTask(ctx context.Context, tasks repos.ProcessingTaskRepo, id uuid.UUID) (*types.ProcessingTask, error) {
	task, err := tasks.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return nil, err
	}
	if task.Kind != media.TaskExport || task.ChildID == nil {
		return nil, apierr.NotFound("export", id)
	}
	return task, nil
}

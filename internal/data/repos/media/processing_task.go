package media

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type ProcessingTaskRepo interface {
	Create(dbc dbctx.Context, task *types.ProcessingTask) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ProcessingTask, error)
	// GetLatestForMedia returns nil, nil when no row exists.
	GetLatestForMedia(dbc dbctx.Context, mediaID uuid.UUID, kind string) (*types.ProcessingTask, error)
	ListByMedia(dbc dbctx.Context, mediaID uuid.UUID) ([]*types.ProcessingTask, error)
	ListByChild(dbc dbctx.Context, childID uuid.UUID, kind string) ([]*types.ProcessingTask, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	// ResetForMedia puts the (media, kind) row back to queued, creating it when missing.
	ResetForMedia(dbc dbctx.Context, mediaID uuid.UUID, kind string) (*types.ProcessingTask, error)
}

type processingTaskRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProcessingTaskRepo(db *gorm.DB, baseLog *logger.Logger) ProcessingTaskRepo {
	return &processingTaskRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "ProcessingTaskRepo"),
	}
}

func (r *processingTaskRepo) Create(dbc dbctx.Context, task *types.ProcessingTask) error {
	return dbc.DB(r.db).Create(task).Error
}

func (r *processingTaskRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.ProcessingTask, error) {
	var t types.ProcessingTask
	err := dbc.DB(r.db).Where("id = ?", id).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("task", id)
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *processingTaskRepo) GetLatestForMedia(dbc dbctx.Context, mediaID uuid.UUID, kind string) (*types.ProcessingTask, error) {
	var rows []*types.ProcessingTask
	err := dbc.DB(r.db).
		Where("media_id = ? AND kind = ?", mediaID, kind).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0], nil
}

func (r *processingTaskRepo) ListByMedia(dbc dbctx.Context, mediaID uuid.UUID) ([]*types.ProcessingTask, error) {
	var out []*types.ProcessingTask
	err := dbc.DB(r.db).
		Where("media_id = ?", mediaID).
		Order("created_at ASC").
		Find(&out).Error
	return out, err
}

func (r *processingTaskRepo) ListByChild(dbc dbctx.Context, childID uuid.UUID, kind string) ([]*types.ProcessingTask, error) {
	var out []*types.ProcessingTask
	q := dbc.DB(r.db).Where("child_id = ?", childID)
	if kind != "" {
		q = q.Where("kind = ?", kind)
	}
	err := q.Order("created_at DESC").Find(&out).Error
	return out, err
}

func (r *processingTaskRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return dbc.DB(r.db).
		Model(&types.ProcessingTask{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *processingTaskRepo) ResetForMedia(dbc dbctx.Context, mediaID uuid.UUID, kind string) (*types.ProcessingTask, error) {
	var out *types.ProcessingTask
	err := dbc.Transaction(r.db, func(tx dbctx.Context) error {
		existing, err := r.GetLatestForMedia(tx, mediaID, kind)
		if err != nil {
			return err
		}
		if existing == nil {
			mid := mediaID
			out = &types.ProcessingTask{MediaID: &mid, Kind: kind, Status: mediadomain.TaskQueued}
			return r.Create(tx, out)
		}
		if err := r.UpdateFields(tx, existing.ID, map[string]interface{}{
			"status":        mediadomain.TaskQueued,
			"attempts":      0,
			"error_message": "",
			"started_at":    nil,
			"completed_at":  nil,
		}); err != nil {
			return err
		}
		existing.Status = mediadomain.TaskQueued
		existing.Attempts = 0
		existing.ErrorMessage = ""
		existing.StartedAt = nil
		existing.CompletedAt = nil
		out = existing
		return nil
	})
	return out, err
}

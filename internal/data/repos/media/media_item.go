package media

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type MediaItemRepo interface {
	Create(dbc dbctx.Context, item *types.MediaItem, childIDs []uuid.UUID) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MediaItem, error)
	UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error
	ListByChild(dbc dbctx.Context, childID uuid.UUID) ([]*types.MediaItem, error)
	ListByChildUploadedBetween(dbc dbctx.Context, childID uuid.UUID, from, to time.Time) ([]*types.MediaItem, error)
	Delete(dbc dbctx.Context, id uuid.UUID) error
}

type mediaItemRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMediaItemRepo(db *gorm.DB, baseLog *logger.Logger) MediaItemRepo {
	return &mediaItemRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "MediaItemRepo"),
	}
}

func (r *mediaItemRepo) Create(dbc dbctx.Context, item *types.MediaItem, childIDs []uuid.UUID) error {
	if item == nil {
		return apierr.Invalid("media item required")
	}
	return dbc.Transaction(r.db, func(tx dbctx.Context) error {
		if err := tx.DB(r.db).Omit("Subjects").Create(item).Error; err != nil {
			return err
		}
		seen := map[uuid.UUID]bool{}
		subjects := make([]types.MediaSubject, 0, len(childIDs))
		for _, cid := range childIDs {
			if cid == uuid.Nil || seen[cid] {
				continue
			}
			seen[cid] = true
			subjects = append(subjects, types.MediaSubject{MediaID: item.ID, ChildID: cid, Position: len(subjects)})
		}
		if len(subjects) > 0 {
			if err := tx.DB(r.db).Create(&subjects).Error; err != nil {
				return err
			}
		}
		item.Subjects = subjects
		return nil
	})
}

func (r *mediaItemRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.MediaItem, error) {
	var item types.MediaItem
	err := dbc.DB(r.db).
		Preload("Subjects", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ?", id).
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("media", id)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *mediaItemRepo) UpdateStatus(dbc dbctx.Context, id uuid.UUID, status string) error {
	res := dbc.DB(r.db).
		Model(&types.MediaItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().UTC(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apierr.NotFound("media", id)
	}
	return nil
}

func (r *mediaItemRepo) ListByChild(dbc dbctx.Context, childID uuid.UUID) ([]*types.MediaItem, error) {
	var out []*types.MediaItem
	err := dbc.DB(r.db).
		Joins("JOIN media_subject ON media_subject.media_id = media_item.id").
		Where("media_subject.child_id = ?", childID).
		Order("media_item.uploaded_at ASC, media_item.id ASC").
		Find(&out).Error
	return out, err
}

// ListByChildUploadedBetween returns media uploaded in [from, to).
func (r *mediaItemRepo) ListByChildUploadedBetween(dbc dbctx.Context, childID uuid.UUID, from, to time.Time) ([]*types.MediaItem, error) {
	var out []*types.MediaItem
	err := dbc.DB(r.db).
		Joins("JOIN media_subject ON media_subject.media_id = media_item.id").
		Where("media_subject.child_id = ?", childID).
		Where("media_item.uploaded_at >= ? AND media_item.uploaded_at < ?", from.UTC(), to.UTC()).
		Order("media_item.uploaded_at ASC, media_item.id ASC").
		Find(&out).Error
	return out, err
}

func (r *mediaItemRepo) Delete(dbc dbctx.Context, id uuid.UUID) error {
	return dbc.Transaction(r.db, func(tx dbctx.Context) error {
		if err := tx.DB(r.db).Where("media_id = ?", id).Delete(&types.MediaSubject{}).Error; err != nil {
			return err
		}
		res := tx.DB(r.db).Where("id = ?", id).Delete(&types.MediaItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return apierr.NotFound("media", id)
		}
		return nil
	})
}

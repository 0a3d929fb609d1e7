package growth

import (
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type ChildRepo interface {
	Create(dbc dbctx.Context, child *types.Child) error
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Child, error)
	ListAll(dbc dbctx.Context) ([]*types.Child, error)
	ListByFamily(dbc dbctx.Context, familyID uuid.UUID) ([]*types.Child, error)
}

type childRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChildRepo(db *gorm.DB, baseLog *logger.Logger) ChildRepo {
	return &childRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "ChildRepo"),
	}
}

func (r *childRepo) Create(dbc dbctx.Context, child *types.Child) error {
	return dbc.DB(r.db).Create(child).Error
}

func (r *childRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.Child, error) {
	var c types.Child
	err := dbc.DB(r.db).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("child", id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *childRepo) ListAll(dbc dbctx.Context) ([]*types.Child, error) {
	var out []*types.Child
	err := dbc.DB(r.db).Order("created_at ASC, id ASC").Find(&out).Error
	return out, err
}

func (r *childRepo) ListByFamily(dbc dbctx.Context, familyID uuid.UUID) ([]*types.Child, error) {
	var out []*types.Child
	err := dbc.DB(r.db).Where("family_id = ?", familyID).Order("created_at ASC").Find(&out).Error
	return out, err
}

package media

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type AnalysisRecordRepo interface {
	Create(dbc dbctx.Context, records ...*types.AnalysisRecord) error
	ListByMedia(dbc dbctx.Context, mediaID uuid.UUID) ([]*types.AnalysisRecord, error)
	ListByMediaIDs(dbc dbctx.Context, mediaIDs []uuid.UUID, kinds ...string) ([]*types.AnalysisRecord, error)
}

type analysisRecordRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAnalysisRecordRepo(db *gorm.DB, baseLog *logger.Logger) AnalysisRecordRepo {
	return &analysisRecordRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "AnalysisRecordRepo"),
	}
}

func (r *analysisRecordRepo) Create(dbc dbctx.Context, records ...*types.AnalysisRecord) error {
	if len(records) == 0 {
		return nil
	}
	return dbc.DB(r.db).Create(&records).Error
}

func (r *analysisRecordRepo) ListByMedia(dbc dbctx.Context, mediaID uuid.UUID) ([]*types.AnalysisRecord, error) {
	return r.ListByMediaIDs(dbc, []uuid.UUID{mediaID})
}

// ListByMediaIDs orders by (analyzed_at, id) so aggregations see a stable sequence.
func (r *analysisRecordRepo) ListByMediaIDs(dbc dbctx.Context, mediaIDs []uuid.UUID, kinds ...string) ([]*types.AnalysisRecord, error) {
	var out []*types.AnalysisRecord
	if len(mediaIDs) == 0 {
		return out, nil
	}
	q := dbc.DB(r.db).Where("media_id IN ?", mediaIDs)
	if len(kinds) > 0 {
		q = q.Where("kind IN ?", kinds)
	}
	err := q.Order("analyzed_at ASC, id ASC").Find(&out).Error
	return out, err
}

package growth

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/db"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type MonthlyReportRepo interface {
	// Create returns an error wrapping apierr.ErrConflict when the (child, month) row already exists.
	Create(dbc dbctx.Context, report *types.MonthlyReport) error
	Exists(dbc dbctx.Context, childID uuid.UUID, month string) (bool, error)
	Get(dbc dbctx.Context, childID uuid.UUID, month string) (*types.MonthlyReport, error)
	ListByChild(dbc dbctx.Context, childID uuid.UUID) ([]*types.MonthlyReport, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
}

type monthlyReportRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewMonthlyReportRepo(db *gorm.DB, baseLog *logger.Logger) MonthlyReportRepo {
	return &monthlyReportRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "MonthlyReportRepo"),
	}
}

func (r *monthlyReportRepo) Create(dbc dbctx.Context, report *types.MonthlyReport) error {
	err := dbc.DB(r.db).Create(report).Error
	if db.IsUniqueViolation(err) {
		return fmt.Errorf("report %s/%s: %w", report.ChildID, report.ReportMonth, apierr.ErrConflict)
	}
	return err
}

func (r *monthlyReportRepo) Exists(dbc dbctx.Context, childID uuid.UUID, month string) (bool, error) {
	var n int64
	err := dbc.DB(r.db).
		Model(&types.MonthlyReport{}).
		Where("child_id = ? AND report_month = ?", childID, month).
		Count(&n).Error
	return n > 0, err
}

func (r *monthlyReportRepo) Get(dbc dbctx.Context, childID uuid.UUID, month string) (*types.MonthlyReport, error) {
	var out types.MonthlyReport
	err := dbc.DB(r.db).
		Where("child_id = ? AND report_month = ?", childID, month).
		First(&out).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("report", childID.String()+"/"+month)
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *monthlyReportRepo) ListByChild(dbc dbctx.Context, childID uuid.UUID) ([]*types.MonthlyReport, error) {
	var out []*types.MonthlyReport
	err := dbc.DB(r.db).
		Where("child_id = ?", childID).
		Order("report_month ASC").
		Find(&out).Error
	return out, err
}

func (r *monthlyReportRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	return dbc.DB(r.db).
		Model(&types.MonthlyReport{}).
		Where("id = ?", id).
		Updates(updates).Error
}

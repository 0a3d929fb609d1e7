package jobs

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// ErrAbandoned is recorded on jobs whose worker went away during the final attempt.
var ErrAbandoned = errors.New("worker stopped heartbeating on the final attempt")

type JobRunRepo interface {
	Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	GetLatestByEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error)
	ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.JobRun, error)
	// ClaimByID marks one job running if it is runnable now; nil, nil otherwise.
	ClaimByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error)
	// FailAbandoned fails running jobs that stopped heartbeating on their last attempt
	// and returns them.
	FailAbandoned(dbc dbctx.Context, staleRunning time.Duration) ([]*types.JobRun, error)
	UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error
	UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error)
	Heartbeat(dbc dbctx.Context, id uuid.UUID) error
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: logger.OrNop(baseLog).With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(dbc dbctx.Context, jobs []*types.JobRun) ([]*types.JobRun, error) {
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	if err := dbc.DB(r.db).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	var job types.JobRun
	err := dbc.DB(r.db).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.NotFound("job", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *jobRunRepo) GetLatestByEntity(dbc dbctx.Context, entityType string, entityID uuid.UUID, jobType string) (*types.JobRun, error) {
	if entityID == uuid.Nil || entityType == "" || jobType == "" {
		return nil, nil
	}
	var rows []*types.JobRun
	err := dbc.DB(r.db).
		Where("entity_type = ? AND entity_id = ? AND job_type = ?", entityType, entityID, jobType).
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

// runnable matches queued jobs and failed jobs with attempts left, once their run_after
// has passed. With a non-zero stale cutoff it also matches running jobs whose worker
// stopped heartbeating before the cutoff.
func runnable(q *gorm.DB, now, staleCutoff time.Time) *gorm.DB {
	due := "(run_after IS NULL OR run_after <= ?)"
	cond := q.Where("status = ? AND "+due, jobdomain.StatusQueued, now).
		Or("status = ? AND attempts < max_attempts AND "+due, jobdomain.StatusFailed, now)
	if !staleCutoff.IsZero() {
		cond = cond.Or("status = ? AND attempts < max_attempts AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
			jobdomain.StatusRunning, staleCutoff)
	}
	return cond
}

func claimUpdates(now time.Time) map[string]interface{} {
	return map[string]interface{}{
		"status":       jobdomain.StatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
		"updated_at":   now,
	}
}

// ClaimNextRunnable locks and starts the oldest runnable job, including running jobs
// idle for longer than staleRunning. Returns nil, nil when the queue is empty.
func (r *jobRunRepo) ClaimNextRunnable(dbc dbctx.Context, staleRunning time.Duration) (*types.JobRun, error) {
	now := time.Now().UTC()
	var claimed *types.JobRun
	err := dbc.Transaction(r.db, func(tx dbctx.Context) error {
		db := tx.DB(r.db)
		var job types.JobRun
		err := db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(runnable(db.Session(&gorm.Session{NewDB: true}), now, now.Add(-staleRunning))).
			Order("created_at ASC").
			First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := db.Model(&types.JobRun{}).Where("id = ?", job.ID).Updates(claimUpdates(now)).Error; err != nil {
			return err
		}
		job.Status = jobdomain.StatusRunning
		job.Attempts++
		job.LockedAt = &now
		job.HeartbeatAt = &now
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) ClaimByID(dbc dbctx.Context, id uuid.UUID) (*types.JobRun, error) {
	now := time.Now().UTC()
	db := dbc.DB(r.db)
	res := db.Model(&types.JobRun{}).
		Where("id = ?", id).
		Where(runnable(db.Session(&gorm.Session{NewDB: true}), now, time.Time{})).
		Updates(claimUpdates(now))
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.GetByID(dbc, id)
}

func (r *jobRunRepo) FailAbandoned(dbc dbctx.Context, staleRunning time.Duration) ([]*types.JobRun, error) {
	if staleRunning <= 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	var rows []*types.JobRun
	err := dbc.Transaction(r.db, func(tx dbctx.Context) error {
		db := tx.DB(r.db)
		err := db.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ? AND attempts >= max_attempts AND heartbeat_at IS NOT NULL AND heartbeat_at < ?",
				jobdomain.StatusRunning, now.Add(-staleRunning)).
			Order("created_at ASC").
			Find(&rows).Error
		if err != nil || len(rows) == 0 {
			return err
		}
		ids := make([]uuid.UUID, 0, len(rows))
		for _, job := range rows {
			ids = append(ids, job.ID)
		}
		return db.Model(&types.JobRun{}).Where("id IN ? AND status = ?", ids, jobdomain.StatusRunning).Updates(map[string]interface{}{
			"status":        jobdomain.StatusFailed,
			"error":         ErrAbandoned.Error(),
			"last_error_at": now,
			"locked_at":     nil,
			"updated_at":    now,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	for _, job := range rows {
		job.Status = jobdomain.StatusFailed
		job.Error = ErrAbandoned.Error()
		job.LastErrorAt = &now
		job.LockedAt = nil
	}
	if len(rows) > 0 {
		r.log.Warn("Failed abandoned jobs", "count", len(rows))
	}
	return rows, nil
}

func stamped(updates map[string]interface{}) map[string]interface{} {
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now().UTC()
	}
	return updates
}

func (r *jobRunRepo) UpdateFields(dbc dbctx.Context, id uuid.UUID, updates map[string]interface{}) error {
	if id == uuid.Nil {
		return nil
	}
	return dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id).Updates(stamped(updates)).Error
}

func (r *jobRunRepo) UpdateFieldsUnlessStatus(dbc dbctx.Context, id uuid.UUID, disallowedStatuses []string, updates map[string]interface{}) (bool, error) {
	if id == uuid.Nil {
		return false, nil
	}
	q := dbc.DB(r.db).Model(&types.JobRun{}).Where("id = ?", id)
	if len(disallowedStatuses) > 0 {
		q = q.Where("status NOT IN ?", disallowedStatuses)
	}
	res := q.Updates(stamped(updates))
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *jobRunRepo) Heartbeat(dbc dbctx.Context, id uuid.UUID) error {
	return r.UpdateFields(dbc, id, map[string]interface{}{"heartbeat_at": time.Now().UTC()})
}

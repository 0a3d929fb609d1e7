package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/jobs/policy"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// WorkflowStarter starts the durable workflow that drives one job_run.
type WorkflowStarter interface {
	StartJob(ctx context.Context, jobID uuid.UUID) error
}

// Queue persists a job_run row for the polling worker, or for a workflow when Workflows is set.
type Queue struct {
	Jobs      repos.JobRunRepo
	Log       *logger.Logger
	Policies  policy.Policies
	Workflows WorkflowStarter
}

func (q *Queue) Mode() string {
	if q.Workflows != nil {
		return ModeTemporal
	}
	return ModeAsync
}

// Dispatch inserts the job_run row. A workflow that fails to start leaves the row queued
// for a polling worker.
func (q *Queue) Dispatch(ctx context.Context, req Request) (*types.JobRun, error) {
	if q.Jobs == nil {
		return nil, fmt.Errorf("dispatch: queue not configured")
	}
	dbc := dbctx.Context{Ctx: ctx}
	job, err := newJob(ctx, q.Policies, req)
	if err != nil {
		return nil, err
	}
	if _, err := q.Jobs.Create(dbc, []*types.JobRun{job}); err != nil {
		return nil, fmt.Errorf("dispatch: enqueue %s: %w", req.JobType, err)
	}
	log := logger.OrNop(q.Log)
	log.Debug("Job enqueued", "job_id", job.ID.String(), "job_type", job.JobType)
	if q.Workflows != nil {
		if err := q.Workflows.StartJob(ctx, job.ID); err != nil {
			log.Warn("Workflow start failed; job left for polling worker", "job_id", job.ID.String(), "error", err)
		}
	}
	return job, nil
}

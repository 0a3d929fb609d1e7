package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     repos.JobRunRepo
	Registry *jobrt.Registry

	// HeartbeatEvery defaults to 10s.
	HeartbeatEvery time.Duration
}

/*
Tick claims the job and runs one attempt through the registry.
A job that is not claimable (terminal, waiting out its retry delay, or held by
another executor) is reported as it stands without running anything.
*/
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}
	dbc := dbctx.Context{Ctx: ctx}

	job, err := a.Jobs.ClaimByID(dbc, id)
	if err != nil {
		return res, err
	}
	if job == nil {
		cur, err := a.Jobs.GetByID(dbc, id)
		if err != nil {
			return res, err
		}
		return fill(res, cur), nil
	}

	stop := a.startHeartbeat(ctx, id)
	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Log)
	_ = a.Registry.Execute(jc)
	stop()

	res = fill(res, jc.Job)
	res.Ran = true
	return res, nil
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Attempts = job.Attempts
	res.MaxAttempts = job.MaxAttempts
	res.Error = job.Error
	res.RunAfter = job.RunAfter
	return res
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	every := a.HeartbeatEvery
	if every <= 0 {
		every = 10 * time.Second
	}
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				activity.RecordHeartbeat(ctx)
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID)
			}
		}
	}()
	return func() { close(done) }
}

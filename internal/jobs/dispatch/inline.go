package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	"github.com/yungbote/lifeprint-backend/internal/jobs/policy"
	"github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

// Inline runs handlers in-process with an in-memory job row. Retries follow the job
// type's policy and wait out its delay between attempts.
type Inline struct {
	DB       *gorm.DB
	Log      *logger.Logger
	Registry *runtime.Registry
	Policies policy.Policies
	// Async runs the job on a detached goroutine and returns at once.
	Async bool
	// Sleep waits between attempts; defaults to a timer honoring ctx.
	Sleep func(ctx context.Context, d time.Duration) error

	wg sync.WaitGroup
}

func (d *Inline) Mode() string { return ModeInline }

// Dispatch returns the job as it stands when Dispatch returns: terminal in sync mode,
// queued in async mode.
func (d *Inline) Dispatch(ctx context.Context, req Request) (*types.JobRun, error) {
	job, err := newJob(ctx, d.Policies, req)
	if err != nil {
		return nil, err
	}
	job.ID = uuid.New()
	job.Status = jobdomain.StatusQueued
	job.Stage = "queued"
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	if d.Async {
		snapshot := *job
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.run(ctxutil.Detach(ctx), job)
		}()
		return &snapshot, nil
	}
	d.run(ctx, job)
	return job, nil
}

// Wait blocks until every async job started so far has finished.
func (d *Inline) Wait() { d.wg.Wait() }

func (d *Inline) run(ctx context.Context, job *types.JobRun) {
	sleep := d.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	for {
		job.Attempts++
		job.Status = jobdomain.StatusRunning
		jc := runtime.NewContext(ctx, d.DB, job, nil, d.Log)
		if err := d.Registry.Execute(jc); err == nil || job.Exhausted() {
			return
		}
		if err := sleep(ctx, time.Duration(job.RetryDelay)*time.Second); err != nil {
			jc.Log.Warn("Inline retry abandoned", "error", err)
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

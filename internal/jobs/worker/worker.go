package worker

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

type Options struct {
	Concurrency  int
	PollInterval time.Duration
	// StaleRunning is how long a running job may go without a heartbeat before it is reclaimed.
	StaleRunning time.Duration
	// OnAbandoned is called for each job failed because its worker stopped heartbeating
	// on the final attempt.
	OnAbandoned func(jc *runtime.Context)
}

// Worker claims queued job_run rows and executes them through the registry.
type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *runtime.Registry
	opts     Options
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *runtime.Registry, opts Options) *Worker {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.StaleRunning <= 0 {
		opts.StaleRunning = 30 * time.Minute
	}
	return &Worker{
		db:       db,
		log:      logger.OrNop(baseLog).With("component", "JobWorker"),
		repo:     repo,
		registry: registry,
		opts:     opts,
	}
}

// Start launches the pool and returns immediately. The returned func waits for the
// loops to exit after ctx is canceled.
func (w *Worker) Start(ctx context.Context) (wait func()) {
	w.log.Info("Starting job worker pool", "concurrency", w.opts.Concurrency, "job_types", w.registry.Types())
	var wg sync.WaitGroup
	for i := 0; i < w.opts.Concurrency; i++ {
		wg.Add(1)
		workerID := i + 1
		go func() {
			defer wg.Done()
			w.runLoop(ctx, workerID)
		}()
	}
	return wg.Wait
}

func (w *Worker) runLoop(ctx context.Context, workerID int) {
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info("Worker loop stopped", "worker_id", workerID)
			return
		case <-ticker.C:
			if err := w.FailAbandoned(ctx); err != nil {
				w.log.Warn("FailAbandoned failed", "worker_id", workerID, "error", err)
			}
			// Drain everything runnable before sleeping again.
			for ctx.Err() == nil {
				ran, err := w.RunOnce(ctx)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "worker_id", workerID, "error", err)
					break
				}
				if !ran {
					break
				}
			}
		}
	}
}

// RunOnce claims and executes at most one job. It reports whether a job was claimed.
// Handler failures are recorded on the job row, not returned.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.repo.ClaimNextRunnable(dbctx.Context{Ctx: ctx}, w.opts.StaleRunning)
	if err != nil {
		return false, err
	}
	if job == nil {
		return false, nil
	}
	jc := runtime.NewContext(ctx, w.db, job, w.repo, w.log)
	stop := w.heartbeat(ctx, jc)
	_ = w.registry.Execute(jc)
	stop()
	return true, nil
}

// FailAbandoned fails stale running jobs that have no attempts left, since
// ClaimNextRunnable will never reclaim them, and reports each to OnAbandoned.
func (w *Worker) FailAbandoned(ctx context.Context) error {
	jobs, err := w.repo.FailAbandoned(dbctx.Context{Ctx: ctx}, w.opts.StaleRunning)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		w.log.Warn("Job abandoned on final attempt", "job_id", job.ID.String(), "job_type", job.JobType, "attempts", job.Attempts)
		if w.opts.OnAbandoned != nil {
			w.opts.OnAbandoned(runtime.NewContext(ctx, w.db, job, w.repo, w.log))
		}
	}
	return nil
}

func (w *Worker) heartbeat(ctx context.Context, jc *runtime.Context) func() {
	done := make(chan struct{})
	interval := w.opts.StaleRunning / 3
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				_ = w.repo.Heartbeat(dbctx.Context{Ctx: ctx}, jc.Job.ID)
			}
		}
	}()
	return func() { close(done) }
}

package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
)

const (
	defaultPollInterval  = 5 * time.Second
	maxSleep             = 15 * time.Minute
	continueTickLimit    = 500
	continueHistoryLimit = 10000
)

// Workflow drives one job_run, keyed by the workflow id, until it is terminal.
// Retry delays come from the job row, so activity retries only cover infrastructure errors.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return fmt.Errorf("jobrun: missing job_id")
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Hour,
		HeartbeatTimeout:    time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    5,
		},
	})

	for ticks := 1; ; ticks++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case jobdomain.StatusSucceeded, jobdomain.StatusCanceled:
			return nil
		case jobdomain.StatusFailed:
			if out.Exhausted() {
				return temporal.NewNonRetryableApplicationError(
					fmt.Sprintf("job failed (stage=%s): %s", out.Stage, out.Error), "JobFailed", nil)
			}
		}

		if err := workflow.Sleep(ctx, nextWait(ctx, out.RunAfter)); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, ticks) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func nextWait(ctx workflow.Context, runAfter *time.Time) time.Duration {
	if runAfter == nil || runAfter.IsZero() {
		return defaultPollInterval
	}
	d := runAfter.Sub(workflow.Now(ctx))
	if d <= 0 {
		return time.Second
	}
	if d > maxSleep {
		return maxSleep
	}
	return d
}

func shouldContinueAsNew(ctx workflow.Context, ticks int) bool {
	if ticks >= continueTickLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}

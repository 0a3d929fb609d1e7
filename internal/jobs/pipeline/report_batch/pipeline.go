package report_batch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var month time.Time
	if s := jc.PayloadString("month"); s != "" {
		m, err := growth.ParseMonth(s)
		if err != nil {
			err = apierr.Invalid("report_batch: %v", err)
			jc.Fail("validate", err, true)
			return err
		}
		month = m
	}

	return p.tracker.Run(jc, stagetask.Ref{Stage: "report_batch"}, func() (any, error) {
		out, err := p.reports.WithLog(jc.Log).GenerateBatch(jc.Ctx, report.BatchInput{Month: month}, p.enqueue)
		if err != nil {
			return nil, err
		}
		return out, nil
	})
}

// enqueue schedules one child's report as its own retryable job. Inline dispatch has
// already run it, so its failure is reported back to the batch.
func (p *Pipeline) enqueue(ctx context.Context, childID uuid.UUID, month time.Time) error {
	payload := map[string]any{"child_id": childID.String()}
	if !month.IsZero() {
		payload["month"] = growth.MonthKey(month)
	}
	job, err := p.dispatch.Dispatch(ctx, dispatch.Request{
		JobType:    stagetask.JobReportGenerate,
		EntityType: "child",
		EntityID:   childID,
		Payload:    payload,
	})
	if err != nil {
		return err
	}
	if job != nil && job.Status == jobdomain.StatusFailed {
		return errors.New(job.Error)
	}
	return nil
}

package report_generate

import (
	"time"

	"github.com/yungbote/lifeprint-backend/internal/domain/growth"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/modules/report"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	childID, ok := jc.PayloadUUID("child_id")
	if !ok {
		err := apierr.Invalid("report_generate: missing child_id")
		jc.Fail("validate", err, true)
		return err
	}
	var month time.Time
	if s := jc.PayloadString("month"); s != "" {
		m, err := growth.ParseMonth(s)
		if err != nil {
			err = apierr.Invalid("report_generate: %v", err)
			jc.Fail("validate", err, true)
			return err
		}
		month = m
	}
	taskID, _ := jc.PayloadUUID("task_id")

	return p.tracker.Run(jc, stagetask.Ref{TaskID: taskID, Stage: "report"}, func() (any, error) {
		out, err := p.reports.WithLog(jc.Log).Generate(jc.Ctx, report.AssembleInput{ChildID: childID, Month: month})
		if err != nil {
			return nil, err
		}
		res := map[string]any{
			"child_id":    childID.String(),
			"created":     out.Created,
			"in_progress": out.InProgress,
		}
		if out.Report != nil {
			res["report_id"] = out.Report.ID.String()
			res["month"] = out.Report.ReportMonth
		}
		return res, nil
	})
}

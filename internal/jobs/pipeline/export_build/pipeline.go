package export_build

import (
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/modules/export"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	exportID, ok := jc.PayloadUUID("export_id")
	if !ok {
		err := apierr.Invalid("export_build: missing export_id")
		jc.Fail("validate", err, true)
		return err
	}

	return p.tracker.Run(jc, stagetask.Ref{TaskID: exportID, Stage: "export"}, func() (any, error) {
		out, err := p.exports.WithLog(jc.Log).Build(jc.Ctx, export.BuildInput{ExportID: exportID})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"export_id": exportID.String(),
			"key":       out.Key,
			"size":      out.Size,
			"media":     out.Media,
			"skipped":   out.Skipped,
			"reports":   out.Reports,
		}, nil
	})
}

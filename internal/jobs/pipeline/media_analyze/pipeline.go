package media_analyze

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
)

type payload struct {
	MediaID      uuid.UUID             `json:"media_id"`
	TaskID       uuid.UUID             `json:"task_id"`
	Intermediate pipeline.Intermediate `json:"intermediate"`
}

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	var in payload
	if err := jc.DecodePayload(&in); err != nil {
		err = apierr.Invalid("media_analyze: decode payload: %v", err)
		jc.Fail("validate", err, true)
		return err
	}
	if in.MediaID == uuid.Nil {
		err := apierr.Invalid("media_analyze: missing media_id")
		jc.Fail("validate", err, true)
		return err
	}
	if in.Intermediate.MediaID == uuid.Nil {
		in.Intermediate.MediaID = in.MediaID
	}

	return p.tracker.Run(jc, stagetask.Ref{TaskID: in.TaskID, MediaID: in.MediaID, Stage: "analyze"}, func() (any, error) {
		// Earlier attempts keep the keyframes so the next one can start over.
		retain := !jc.FinalAttempt()
		out, err := p.stages.WithLog(jc.Log).Analyze(jc.Ctx, pipeline.AnalyzeInput{
			MediaID:         in.MediaID,
			Intermediate:    in.Intermediate,
			RetainOnFailure: retain,
		})
		if err != nil {
			if retain && stagetask.Permanent(err) {
				if rerr := p.stages.Release(context.WithoutCancel(jc.Ctx), in.Intermediate); rerr != nil {
					p.log.Warn("Failed to release intermediate", "media_id", in.MediaID.String(), "error", rerr)
				}
			}
			return nil, fmt.Errorf("media_analyze: %w", err)
		}
		return out, nil
	})
}

package media_preprocess

import (
	"context"

	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
	"github.com/yungbote/lifeprint-backend/internal/jobs/dispatch"
	"github.com/yungbote/lifeprint-backend/internal/jobs/pipeline/stagetask"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/modules/pipeline"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
)

func (p *Pipeline) Run(jc *jobrt.Context) error {
	if jc == nil || jc.Job == nil {
		return nil
	}
	mediaID, ok := jc.PayloadUUID("media_id")
	if !ok {
		err := apierr.Invalid("media_preprocess: missing media_id")
		jc.Fail("validate", err, true)
		return err
	}
	taskID, _ := jc.PayloadUUID("task_id")

	var out pipeline.Intermediate
	err := p.tracker.Run(jc, stagetask.Ref{TaskID: taskID, MediaID: mediaID, Stage: "preprocess"}, func() (any, error) {
		var err error
		out, err = p.stages.WithLog(jc.Log).Preprocess(jc.Ctx, pipeline.PreprocessInput{
			MediaID: mediaID,
			// Queued analysis may be claimed on another host.
			PersistKeyframes: p.dispatch.Mode() != dispatch.ModeInline,
			// The tracker settles the item's status once retries are exhausted.
			LeaveStatusOnFailure: !jc.FinalAttempt(),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"media_id":            mediaID.String(),
			"keyframes":           len(out.Keyframes),
			"persisted":           len(out.KeyframeKeys),
			"transcript_segments": len(out.Transcription.Segments),
		}, nil
	})
	if err != nil {
		return err
	}
	p.chain(jc.Ctx, jc, out)
	return nil
}

// chain hands the intermediate result to media_analyze. A failed hand-off fails the
// analyze task and the item and releases the intermediate.
func (p *Pipeline) chain(ctx context.Context, jc *jobrt.Context, out pipeline.Intermediate) {
	log := jc.Log.With("media_id", out.MediaID.String())
	task, err := p.tasks.ResetForMedia(dbctx.Context{Ctx: ctx}, out.MediaID, mediadomain.TaskAnalyze)
	if err != nil {
		log.Error("Failed to queue analyze task", "error", err)
		p.tracker.MarkFailed(ctx, stagetask.Ref{MediaID: out.MediaID, Stage: "analyze"}, err)
		p.release(ctx, out)
		return
	}
	_, err = p.dispatch.Dispatch(ctx, dispatch.Request{
		JobType:    stagetask.JobMediaAnalyze,
		EntityType: "media",
		EntityID:   out.MediaID,
		Payload: map[string]any{
			"media_id":     out.MediaID.String(),
			"task_id":      task.ID.String(),
			"intermediate": out,
		},
	})
	if err != nil {
		log.Error("Failed to dispatch media_analyze", "error", err)
		p.tracker.MarkFailed(ctx, stagetask.Ref{TaskID: task.ID, MediaID: out.MediaID, Stage: "analyze"}, err)
		p.release(ctx, out)
	}
}

func (p *Pipeline) release(ctx context.Context, out pipeline.Intermediate) {
	if err := p.stages.Release(context.WithoutCancel(ctx), out); err != nil {
		p.log.Warn("Failed to release intermediate", "media_id", out.MediaID.String(), "error", err)
	}
}

package stagetask

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	mediadomain "github.com/yungbote/lifeprint-backend/internal/domain/media"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

const (
	JobMediaPreprocess = "media_preprocess"
	JobMediaAnalyze    = "media_analyze"
	JobReportGenerate  = "report_generate"
	JobReportBatch     = "report_batch"
	JobExportBuild     = "export_build"
)

// Ref names the rows a stage run reports into. Zero ids are skipped.
type Ref struct {
	TaskID  uuid.UUID
	MediaID uuid.UUID
	Stage   string
}

// Tracker mirrors a job attempt onto its ProcessingTask and MediaItem rows.
type Tracker struct {
	Tasks repos.ProcessingTaskRepo
	Media repos.MediaItemRepo
	Log   *logger.Logger
}

// Permanent reports whether err would fail again on retry.
func Permanent(err error) bool {
	return errors.Is(err, apierr.ErrNotFound) || errors.Is(err, apierr.ErrInvalidArgument)
}

/*
Run executes body as one attempt of the stage named by ref.
Task transitions:
	- queued -> running (attempts+1, started_at) before body
	- running -> completed (completed_at) when body succeeds
	- running -> queued with error_message while attempts remain
	- running -> failed with error_message on the last attempt or a permanent error;
	  the media item is marked failed too
The job row follows through jc. The body's error is returned so inline dispatch can retry.
*/
func (t Tracker) Run(jc *jobrt.Context, ref Ref, body func() (any, error)) error {
	log := logger.OrNop(t.Log).With("stage", ref.Stage)
	if ref.TaskID != uuid.Nil {
		log = log.With("task_id", ref.TaskID.String())
	}
	if ref.MediaID != uuid.Nil {
		log = log.With("media_id", ref.MediaID.String())
	}
	dbc := dbctx.Context{Ctx: context.WithoutCancel(jc.Ctx)}

	t.task(dbc, log, ref, map[string]interface{}{
		"status":        mediadomain.TaskRunning,
		"attempts":      gorm.Expr("attempts + ?", 1),
		"started_at":    time.Now().UTC(),
		"error_message": "",
		"job_id":        jobID(jc),
	})
	jc.Progress(ref.Stage, 5)

	result, err := body()
	if err == nil {
		t.task(dbc, log, ref, map[string]interface{}{
			"status":       mediadomain.TaskCompleted,
			"completed_at": time.Now().UTC(),
		})
		jc.Succeed("done", result)
		return nil
	}

	permanent := Permanent(err)
	if permanent || jc.FinalAttempt() {
		log.Warn("Stage failed", "error", err, "attempt", jc.Attempt(), "permanent", permanent)
		t.task(dbc, log, ref, map[string]interface{}{
			"status":        mediadomain.TaskFailed,
			"error_message": err.Error(),
			"completed_at":  time.Now().UTC(),
		})
		t.mediaStatus(dbc, log, ref.MediaID, mediadomain.StatusFailed)
	} else {
		log.Info("Stage failed, will retry", "error", err, "attempt", jc.Attempt())
		t.task(dbc, log, ref, map[string]interface{}{
			"status":        mediadomain.TaskQueued,
			"error_message": err.Error(),
		})
		t.mediaStatus(dbc, log, ref.MediaID, mediadomain.StatusProcessing)
	}
	jc.Fail(ref.Stage, err, permanent)
	return err
}

// MarkFailed fails the task and its media item outside a job attempt.
func (t Tracker) MarkFailed(ctx context.Context, ref Ref, err error) {
	log := logger.OrNop(t.Log).With("stage", ref.Stage)
	dbc := dbctx.Context{Ctx: context.WithoutCancel(ctx)}
	t.task(dbc, log, ref, map[string]interface{}{
		"status":        mediadomain.TaskFailed,
		"error_message": err.Error(),
		"completed_at":  time.Now().UTC(),
	})
	t.mediaStatus(dbc, log, ref.MediaID, mediadomain.StatusFailed)
}

// Abandoned fails the task and media item named in the payload of a job that lost its
// worker on the final attempt.
func (t Tracker) Abandoned(jc *jobrt.Context) {
	if jc == nil || jc.Job == nil {
		return
	}
	taskID, _ := jc.PayloadUUID("task_id")
	mediaID, _ := jc.PayloadUUID("media_id")
	if taskID == uuid.Nil && mediaID == uuid.Nil {
		return
	}
	cause := jc.Job.Error
	if cause == "" {
		cause = "job abandoned"
	}
	logger.OrNop(t.Log).Warn("Job abandoned on final attempt", "job_id", jc.Job.ID.String(), "job_type", jc.Job.JobType)
	t.MarkFailed(jc.Ctx, Ref{TaskID: taskID, MediaID: mediaID, Stage: jc.Job.JobType}, errors.New(cause))
}

func (t Tracker) task(dbc dbctx.Context, log *logger.Logger, ref Ref, updates map[string]interface{}) {
	if t.Tasks == nil || ref.TaskID == uuid.Nil {
		return
	}
	if updates["job_id"] == nil {
		delete(updates, "job_id")
	}
	if err := t.Tasks.UpdateFields(dbc, ref.TaskID, updates); err != nil {
		log.Warn("Failed to update processing task", "error", err)
	}
}

func (t Tracker) mediaStatus(dbc dbctx.Context, log *logger.Logger, mediaID uuid.UUID, status string) {
	if t.Media == nil || mediaID == uuid.Nil {
		return
	}
	if err := t.Media.UpdateStatus(dbc, mediaID, status); err != nil && !errors.Is(err, apierr.ErrNotFound) {
		log.Warn("Failed to update media status", "status", status, "error", err)
	}
}

func jobID(jc *jobrt.Context) any {
	if jc.Job == nil || jc.Job.ID == uuid.Nil {
		return nil
	}
	return jc.Job.ID
}

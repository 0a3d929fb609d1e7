package runtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

/*
Context is the execution handle for a single job run.
It wraps:
	- The request-scoped context.Context (timeouts, cancellation),
	- The DB handle used by the stage bodies,
	- The job_run row (persisted in queue mode, in-memory in inline mode),
	- And the only sanctioned ways to report progress or terminate execution.
Stage bodies never touch job_run directly. They go through this object.
When Repo is nil the transitions only update the in-memory row.
*/
type Context struct {
	Ctx  context.Context
	DB   *gorm.DB
	Job  *types.JobRun
	Repo repos.JobRunRepo
	Log  *logger.Logger

	payload map[string]any
}

/*
NewContext constructs a runtime.Context for a claimed job execution.
It eagerly decodes the job payload JSON so handlers can access inputs via Payload()/PayloadUUID().
A payload decode failure is non-fatal here; handlers validate required fields.
*/
func NewContext(ctx context.Context, db *gorm.DB, job *types.JobRun, repo repos.JobRunRepo, log *logger.Logger) *Context {
	c := &Context{
		Ctx:  ctx,
		DB:   db,
		Job:  job,
		Repo: repo,
		Log:  logger.OrNop(log),
	}
	if job != nil {
		c.Log = c.Log.With("job_id", job.ID.String(), "job_type", job.JobType, "attempt", job.Attempts)
	}
	_ = c.decodePayload()
	c.applyTraceData()
	return c
}

func (c *Context) decodePayload() error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		c.payload = map[string]any{}
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(c.Job.Payload, &m); err != nil {
		c.payload = map[string]any{}
		return err
	}
	c.payload = m
	return nil
}

func (c *Context) applyTraceData() {
	if c == nil || c.Ctx == nil {
		return
	}
	td := ctxutil.TraceDataFrom(c.payload)
	if td == nil {
		return
	}
	c.Ctx = ctxutil.WithTraceData(c.Ctx, td)
	c.Log = c.Log.With(td.Fields()...)
}

// Payload never returns nil.
func (c *Context) Payload() map[string]any {
	if c.payload == nil {
		c.payload = map[string]any{}
	}
	return c.payload
}

func (c *Context) PayloadString(key string) string {
	v, ok := c.Payload()[key]
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

/*
PayloadUUID reads a payload field by key and attempts to parse it as a UUID.
Returns:
	- (uuid, true) if key exists and parses cleanly as a non-empty UUID string
	- (uuid.Nil, false) if missing, nil, or not parseable
*/
func (c *Context) PayloadUUID(key string) (uuid.UUID, bool) {
	s := c.PayloadString(key)
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, false
	}
	return id, true
}

// DecodePayload unmarshals the raw payload into out.
func (c *Context) DecodePayload(out any) error {
	if c.Job == nil || len(c.Job.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(c.Job.Payload, out)
}

// Attempt is the 1-based number of the current run.
func (c *Context) Attempt() int {
	if c.Job == nil || c.Job.Attempts < 1 {
		return 1
	}
	return c.Job.Attempts
}

// FinalAttempt reports whether a failure now exhausts the job.
func (c *Context) FinalAttempt() bool {
	return c.Job == nil || c.Attempt() >= c.Job.MaxAttempts
}

func (c *Context) persist(updates map[string]interface{}) bool {
	if c.Repo == nil || c.Job == nil || c.Job.ID == uuid.Nil {
		return true
	}
	ctx := c.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	ok, err := c.Repo.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: context.WithoutCancel(ctx)}, c.Job.ID, []string{jobdomain.StatusCanceled}, updates)
	if err != nil {
		c.Log.Warn("Failed to update job_run", "error", err)
		return false
	}
	return ok
}

/*
Progress records a non-terminal stage change and heartbeat.
Canceled jobs are not overwritten.
*/
func (c *Context) Progress(stage string, pct int) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	if !c.persist(map[string]interface{}{
		"stage":        stage,
		"progress":     pct,
		"heartbeat_at": now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Stage = stage
		c.Job.Progress = pct
		c.Job.HeartbeatAt = &now
	}
}

/*
Fail records a failed run.
What it does:
	- Sets status=failed, stage=<stage>, error=<err>, last_error_at=now
	- Schedules the next attempt after RetryDelay when attempts remain
	- Clears locked_at so other workers won't treat it as in-progress
A permanent failure also raises attempts to max_attempts so nothing claims the row again.
*/
func (c *Context) Fail(stage string, err error, permanent bool) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	updates := map[string]interface{}{
		"status":        jobdomain.StatusFailed,
		"stage":         stage,
		"error":         msg,
		"last_error_at": now,
		"locked_at":     nil,
	}
	var runAfter *time.Time
	if c.Job != nil {
		if permanent && c.Job.Attempts < c.Job.MaxAttempts {
			updates["max_attempts"] = c.Job.Attempts
		}
		if !permanent && !c.FinalAttempt() {
			t := now.Add(time.Duration(c.Job.RetryDelay) * time.Second)
			runAfter = &t
			updates["run_after"] = t
		}
	}
	if !c.persist(updates) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobdomain.StatusFailed
		c.Job.Stage = stage
		c.Job.Error = msg
		c.Job.LastErrorAt = &now
		c.Job.LockedAt = nil
		c.Job.RunAfter = runAfter
		if permanent && c.Job.Attempts < c.Job.MaxAttempts {
			c.Job.MaxAttempts = c.Job.Attempts
		}
	}
}

/*
Succeed marks the job run terminally succeeded and persists a result payload.
Canceled jobs are not overwritten.
*/
func (c *Context) Succeed(finalStage string, result any) {
	if c == nil {
		return
	}
	now := time.Now().UTC()
	var res datatypes.JSON
	if result != nil {
		b, _ := json.Marshal(result)
		res = datatypes.JSON(b)
	}
	if !c.persist(map[string]interface{}{
		"status":       jobdomain.StatusSucceeded,
		"stage":        finalStage,
		"progress":     100,
		"error":        "",
		"result":       res,
		"locked_at":    nil,
		"heartbeat_at": now,
	}) {
		return
	}
	if c.Job != nil {
		c.Job.Status = jobdomain.StatusSucceeded
		c.Job.Stage = finalStage
		c.Job.Progress = 100
		c.Job.Error = ""
		c.Job.Result = res
		c.Job.LockedAt = nil
		c.Job.HeartbeatAt = &now
	}
}

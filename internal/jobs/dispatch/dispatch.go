package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/lifeprint-backend/internal/domain"
	"github.com/yungbote/lifeprint-backend/internal/jobs/policy"
	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/logger"
)

const (
	ModeInline   = "inline"
	ModeAsync    = "async"
	ModeTemporal = "temporal"
)

// Request describes one stage execution to schedule.
type Request struct {
	JobType    string
	EntityType string
	EntityID   uuid.UUID
	Payload    map[string]any
}

// Dispatcher schedules stage executions. Both implementations run the same registered handlers.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request) (*types.JobRun, error)
	Mode() string
}

// newJob builds the job_run row for req with the retry policy of its job type. Trace data
// on ctx is copied into the payload so the job's logs join the request's.
func newJob(ctx context.Context, policies policy.Policies, req Request) (*types.JobRun, error) {
	if strings.TrimSpace(req.JobType) == "" {
		return nil, fmt.Errorf("dispatch: missing job_type")
	}
	payload := make(map[string]any, len(req.Payload)+2)
	for k, v := range req.Payload {
		payload[k] = v
	}
	ctxutil.GetTraceData(ctx).WriteTo(payload)
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("dispatch: encode payload: %w", err)
	}
	p := policies.For(req.JobType)
	job := &types.JobRun{
		JobType:     req.JobType,
		EntityType:  req.EntityType,
		MaxAttempts: p.MaxAttempts(),
		RetryDelay:  int(p.RetryDelay.Seconds()),
		Payload:     datatypes.JSON(raw),
	}
	if req.EntityID != uuid.Nil {
		id := req.EntityID
		job.EntityID = &id
	}
	return job, nil
}

// Resolve picks the dispatcher for mode. Queue-backed modes fall back to inline when the
// queue is not available.
func Resolve(mode string, inline *Inline, queue *Queue, log *logger.Logger) Dispatcher {
	log = logger.OrNop(log)
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case ModeAsync, ModeTemporal:
		if queue != nil {
			return queue
		}
		log.Warn("Queue dispatcher unavailable; running jobs inline", "mode", mode)
	case "", ModeInline:
	default:
		log.Warn("Unknown JOB_EXECUTION_MODE; running jobs inline", "mode", mode)
	}
	return inline
}

// Persisted reports whether d stores job_run rows that can be looked up later.
func Persisted(d Dispatcher) bool { return d != nil && d.Mode() != ModeInline }

package dispatch

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/testutil"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	"github.com/yungbote/lifeprint-backend/internal/jobs/policy"
	"github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/jobs/worker"
	"github.com/yungbote/lifeprint-backend/internal/platform/apierr"
	"github.com/yungbote/lifeprint-backend/internal/platform/ctxutil"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
)

type funcHandler struct {
	typ string
	fn  func(jc *runtime.Context) error
}

func (h funcHandler) Type() string                 { return h.typ }
func (h funcHandler) Run(jc *runtime.Context) error { return h.fn(jc) }

func testPolicies(t *testing.T) policy.Policies {
	t.Helper()
	p, err := policy.Parse([]byte(`
jobs:
  flaky:
    max_retries: 2
    retry_delay: 5s
  once:
    max_retries: 0
`))
	require.NoError(t, err)
	return p
}

func noSleep(slept *[]time.Duration) func(context.Context, time.Duration) error {
	return func(_ context.Context, d time.Duration) error {
		*slept = append(*slept, d)
		return nil
	}
}

func TestInlineRetriesUntilSuccess(t *testing.T) {
	reg := runtime.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(jc *runtime.Context) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		id, ok := jc.PayloadUUID("media_id")
		require.True(t, ok)
		jc.Succeed("done", map[string]any{"media_id": id.String()})
		return nil
	}}))

	var slept []time.Duration
	d := &Inline{Registry: reg, Policies: testPolicies(t), Log: testutil.Logger(t), Sleep: noSleep(&slept)}
	job, err := d.Dispatch(context.Background(), Request{JobType: "flaky", Payload: map[string]any{"media_id": uuid.New().String()}})
	require.NoError(t, err)

	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, jobdomain.StatusSucceeded, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, slept)
}

func TestInlineStopsWhenExhausted(t *testing.T) {
	reg := runtime.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(jc *runtime.Context) error {
		calls.Add(1)
		return errors.New("always")
	}}))
	var slept []time.Duration
	d := &Inline{Registry: reg, Policies: testPolicies(t), Sleep: noSleep(&slept)}
	job, err := d.Dispatch(context.Background(), Request{JobType: "flaky"})
	require.NoError(t, err)
	assert.EqualValues(t, 3, calls.Load())
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	assert.Equal(t, "always", job.Error)
	assert.True(t, job.Exhausted())
}

func TestInlinePermanentFailureDoesNotRetry(t *testing.T) {
	reg := runtime.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(jc *runtime.Context) error {
		calls.Add(1)
		err := apierr.NotFound("media", uuid.Nil)
		jc.Fail("load", err, true)
		return err
	}}))
	var slept []time.Duration
	d := &Inline{Registry: reg, Policies: testPolicies(t), Sleep: noSleep(&slept)}
	job, err := d.Dispatch(context.Background(), Request{JobType: "flaky"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, calls.Load())
	assert.Empty(t, slept)
	assert.True(t, job.Exhausted())
}

func TestInlinePanicAndMissingHandler(t *testing.T) {
	reg := runtime.NewRegistry()
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(*runtime.Context) error { panic("boom") }}))
	d := &Inline{Registry: reg, Policies: testPolicies(t)}

	job, err := d.Dispatch(context.Background(), Request{JobType: "flaky"})
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	assert.Equal(t, "panic", job.Stage)
	assert.Equal(t, 1, job.Attempts)

	job, err = d.Dispatch(context.Background(), Request{JobType: "unknown"})
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusFailed, job.Status)
	assert.Equal(t, "dispatch", job.Stage)

	_, err = d.Dispatch(context.Background(), Request{})
	assert.Error(t, err)
}

func TestInlineAsyncCarriesTraceData(t *testing.T) {
	reg := runtime.NewRegistry()
	got := make(chan *ctxutil.TraceData, 1)
	require.NoError(t, reg.Register(funcHandler{typ: "once", fn: func(jc *runtime.Context) error {
		got <- ctxutil.GetTraceData(jc.Ctx)
		return nil
	}}))
	d := &Inline{Registry: reg, Policies: testPolicies(t), Async: true}

	ctx, cancel := context.WithCancel(ctxutil.WithTraceData(context.Background(), &ctxutil.TraceData{TraceID: "t-1", RequestID: "r-1"}))
	job, err := d.Dispatch(ctx, Request{JobType: "once"})
	cancel()
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusQueued, job.Status)

	d.Wait()
	td := <-got
	require.NotNil(t, td)
	assert.Equal(t, "t-1", td.TraceID)
	assert.Equal(t, "r-1", td.RequestID)
}

func TestQueueDispatchAndWorker(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	ctx := context.Background()

	reg := runtime.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(jc *runtime.Context) error {
		if calls.Add(1) == 1 {
			return errors.New("first try fails")
		}
		jc.Succeed("done", map[string]any{"ok": true})
		return nil
	}}))

	q := &Queue{Jobs: set.Jobs, Policies: testPolicies(t), Log: testutil.Logger(t)}
	assert.Equal(t, ModeAsync, q.Mode())
	job, err := q.Dispatch(ctx, Request{JobType: "flaky", EntityType: "media", EntityID: uuid.New()})
	require.NoError(t, err)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, 5, job.RetryDelay)

	w := worker.NewWorker(db, testutil.Logger(t), set.Jobs, reg, worker.Options{})
	ran, err := w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	stored, err := set.Jobs.GetByID(dbctx.Background(ctx), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusFailed, stored.Status)
	require.NotNil(t, stored.RunAfter)
	assert.True(t, stored.RunAfter.After(time.Now()))

	// Not runnable until the retry delay passes.
	ran, err = w.RunOnce(ctx)
	require.NoError(t, err)
	assert.False(t, ran)

	require.NoError(t, set.Jobs.UpdateFields(dbctx.Background(ctx), job.ID, map[string]interface{}{"run_after": time.Now().Add(-time.Second)}))
	ran, err = w.RunOnce(ctx)
	require.NoError(t, err)
	require.True(t, ran)

	stored, err = set.Jobs.GetByID(dbctx.Background(ctx), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusSucceeded, stored.Status)
	assert.Equal(t, 2, stored.Attempts)
	assert.JSONEq(t, `{"ok":true}`, string(stored.Result))
}

type recordingStarter struct{ started []uuid.UUID }

func (s *recordingStarter) StartJob(_ context.Context, id uuid.UUID) error {
	s.started = append(s.started, id)
	return errors.New("temporal down")
}

func TestQueueStartsWorkflow(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	starter := &recordingStarter{}
	q := &Queue{Jobs: set.Jobs, Policies: testPolicies(t), Workflows: starter}
	assert.Equal(t, ModeTemporal, q.Mode())

	job, err := q.Dispatch(context.Background(), Request{JobType: "once"})
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{job.ID}, starter.started)

	stored, err := set.Jobs.GetByID(dbctx.Background(context.Background()), job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobdomain.StatusQueued, stored.Status)
}

func TestResolve(t *testing.T) {
	inline := &Inline{}
	queue := &Queue{}
	assert.Same(t, inline, Resolve("inline", inline, queue, nil))
	assert.Same(t, queue, Resolve("async", inline, queue, nil))
	assert.Same(t, queue, Resolve("TEMPORAL", inline, queue, nil))
	assert.Same(t, inline, Resolve("async", inline, nil, nil))
	assert.Same(t, inline, Resolve("bogus", inline, queue, nil))
}

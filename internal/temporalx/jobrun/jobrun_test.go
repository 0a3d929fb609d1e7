package jobrun

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/yungbote/lifeprint-backend/internal/data/repos"
	"github.com/yungbote/lifeprint-backend/internal/data/repos/testutil"
	types "github.com/yungbote/lifeprint-backend/internal/domain"
	jobdomain "github.com/yungbote/lifeprint-backend/internal/domain/jobs"
	jobrt "github.com/yungbote/lifeprint-backend/internal/jobs/runtime"
	"github.com/yungbote/lifeprint-backend/internal/platform/dbctx"
)

type funcHandler struct {
	typ string
	fn  func(jc *jobrt.Context) error
}

func (h funcHandler) Type() string                { return h.typ }
func (h funcHandler) Run(jc *jobrt.Context) error { return h.fn(jc) }

func newWorkflowEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})
	env.RegisterActivityWithOptions((&Activities{}).Tick, activity.RegisterOptions{Name: ActivityTick})
	return env
}

func TestWorkflowWaitsOutRetryDelay(t *testing.T) {
	env := newWorkflowEnv(t)
	runAfter := env.Now().Add(2 * time.Minute)
	env.OnActivity(ActivityTick, mock.Anything, mock.Anything).
		Return(TickResult{Status: jobdomain.StatusFailed, Attempts: 1, MaxAttempts: 3, RunAfter: &runAfter, Ran: true}, nil).Once()
	env.OnActivity(ActivityTick, mock.Anything, mock.Anything).
		Return(TickResult{Status: jobdomain.StatusSucceeded, Attempts: 2, MaxAttempts: 3, Ran: true}, nil).Once()

	env.ExecuteWorkflow(WorkflowName)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestWorkflowFailsWhenExhausted(t *testing.T) {
	env := newWorkflowEnv(t)
	env.OnActivity(ActivityTick, mock.Anything, mock.Anything).
		Return(TickResult{Status: jobdomain.StatusFailed, Stage: "export", Error: "disk full", Attempts: 3, MaxAttempts: 3, Ran: true}, nil).Once()

	env.ExecuteWorkflow(WorkflowName)
	require.True(t, env.IsWorkflowCompleted())
	err := env.GetWorkflowError()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
}

func TestWorkflowPollsWhileHeldElsewhere(t *testing.T) {
	env := newWorkflowEnv(t)
	env.OnActivity(ActivityTick, mock.Anything, mock.Anything).
		Return(TickResult{Status: jobdomain.StatusRunning, Attempts: 1, MaxAttempts: 2}, nil).Twice()
	env.OnActivity(ActivityTick, mock.Anything, mock.Anything).
		Return(TickResult{Status: jobdomain.StatusCanceled, Attempts: 1, MaxAttempts: 2}, nil).Once()

	env.ExecuteWorkflow(WorkflowName)
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func seedJob(t *testing.T, set repos.Set, jobType string) *types.JobRun {
	t.Helper()
	job := &types.JobRun{JobType: jobType, Status: jobdomain.StatusQueued, Stage: "queued", MaxAttempts: 2, RetryDelay: 60}
	_, err := set.Jobs.Create(dbctx.Background(context.Background()), []*types.JobRun{job})
	require.NoError(t, err)
	return job
}

func TestTickRunsClaimableJobOnce(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	reg := jobrt.NewRegistry()
	var calls atomic.Int32
	require.NoError(t, reg.Register(funcHandler{typ: "echo", fn: func(jc *jobrt.Context) error {
		calls.Add(1)
		jc.Succeed("done", map[string]any{"ok": true})
		return nil
	}}))
	acts := &Activities{Log: testutil.Logger(t), DB: db, Jobs: set.Jobs, Registry: reg}
	job := seedJob(t, set, "echo")

	res, err := acts.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, jobdomain.StatusSucceeded, res.Status)
	assert.Equal(t, 1, res.Attempts)

	res, err = acts.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.Equal(t, jobdomain.StatusSucceeded, res.Status)
	assert.EqualValues(t, 1, calls.Load())
}

func TestTickSchedulesRetry(t *testing.T) {
	db := testutil.DB(t)
	set := repos.NewSet(db, testutil.Logger(t))
	reg := jobrt.NewRegistry()
	require.NoError(t, reg.Register(funcHandler{typ: "flaky", fn: func(*jobrt.Context) error {
		return errors.New("upstream timeout")
	}}))
	acts := &Activities{DB: db, Jobs: set.Jobs, Registry: reg}
	job := seedJob(t, set, "flaky")

	res, err := acts.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.True(t, res.Ran)
	assert.Equal(t, jobdomain.StatusFailed, res.Status)
	assert.False(t, res.Exhausted())
	require.NotNil(t, res.RunAfter)
	assert.True(t, res.RunAfter.After(time.Now()))

	// Still inside the retry delay.
	res, err = acts.Tick(context.Background(), job.ID.String())
	require.NoError(t, err)
	assert.False(t, res.Ran)
	assert.Equal(t, 1, res.Attempts)
}

func TestTickRejectsBadInput(t *testing.T) {
	_, err := (&Activities{}).Tick(context.Background(), "x")
	assert.Error(t, err)

	db := testutil.DB(t)
	set := repos.NewSet(db, nil)
	acts := &Activities{DB: db, Jobs: set.Jobs, Registry: jobrt.NewRegistry()}
	_, err = acts.Tick(context.Background(), "not-a-uuid")
	assert.Error(t, err)
}

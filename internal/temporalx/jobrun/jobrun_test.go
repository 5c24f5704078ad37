package jobrun

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
)

// scriptedTicks returns the given results in order, repeating the last one.
func scriptedTicks(results ...TickResult) (func(context.Context, string) (TickResult, error), *int) {
	calls := 0
	return func(_ context.Context, jobID string) (TickResult, error) {
		r := results[len(results)-1]
		if calls < len(results) {
			r = results[calls]
		}
		calls++
		r.JobID = jobID
		return r, nil
	}, &calls
}

func runWorkflow(t *testing.T, tick func(context.Context, string) (TickResult, error)) error {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterActivityWithOptions(tick, activity.RegisterOptions{Name: ActivityTick})
	env.SetStartWorkflowOptions(temporalsdkclient.StartWorkflowOptions{ID: "7d1f0e0a-4f59-4b47-9a53-0f0d3c8f1b2e"})
	env.ExecuteWorkflow(Workflow)
	require.True(t, env.IsWorkflowCompleted())
	return env.GetWorkflowError()
}

func TestWorkflowPollsUntilSucceeded(t *testing.T) {
	tick, calls := scriptedTicks(
		TickResult{Status: types.JobStatusRunning},
		TickResult{Status: types.JobStatusRunning},
		TickResult{Status: types.JobStatusSucceeded},
	)
	require.NoError(t, runWorkflow(t, tick))
	require.Equal(t, 3, *calls)
}

func TestWorkflowFailures(t *testing.T) {
	tick, _ := scriptedTicks(TickResult{Status: types.JobStatusFailed, Stage: "building", Error: "boom"})
	err := runWorkflow(t, tick)
	require.Error(t, err)
	var appErr *temporal.ApplicationError
	require.True(t, errors.As(err, &appErr))
	require.False(t, appErr.NonRetryable())

	tick, _ = scriptedTicks(TickResult{Status: types.JobStatusFailed, Stage: "deserialization", Final: true})
	err = runWorkflow(t, tick)
	require.True(t, errors.As(err, &appErr))
	require.True(t, appErr.NonRetryable())
}

type fixedHandler struct{ fail bool }

func (fixedHandler) Type() string { return "probe" }
func (h fixedHandler) Run(jc *jobrt.Context) error {
	if h.fail {
		jc.Abort("validate", errors.New("bad input"))
		return nil
	}
	jc.Succeed("done", nil)
	return nil
}

func TestTickRunsJobOnce(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	reg := jobrt.NewRegistry()
	require.NoError(t, reg.Register(fixedHandler{}))
	acts := &Activities{Log: log, DB: db, Jobs: repo, Registry: reg}

	ctx := context.Background()
	jobs, err := repo.Create(dbctx.New(ctx), []*types.JobRun{{JobType: "probe", Status: types.JobStatusQueued, Stage: "queued"}})
	require.NoError(t, err)

	res, err := acts.Tick(ctx, jobs[0].ID.String())
	require.NoError(t, err)
	require.Equal(t, types.JobStatusSucceeded, res.Status)

	// A replayed tick sees the terminal row and does not run again.
	res, err = acts.Tick(ctx, jobs[0].ID.String())
	require.NoError(t, err)
	require.Equal(t, types.JobStatusSucceeded, res.Status)
	got, _, err := repo.GetByID(dbctx.New(ctx), jobs[0].ID)
	require.NoError(t, err)
	require.Equal(t, 1, got.Attempts)

	_, err = acts.Tick(ctx, "not-a-uuid")
	require.Error(t, err)
}

func TestTickReportsFinalFailure(t *testing.T) {
	db := testutil.DB(t)
	log := testutil.Logger(t)
	repo := repos.NewJobRunRepo(db, log)
	reg := jobrt.NewRegistry()
	require.NoError(t, reg.Register(fixedHandler{fail: true}))
	acts := &Activities{Log: log, DB: db, Jobs: repo, Registry: reg}

	ctx := context.Background()
	jobs, err := repo.Create(dbctx.New(ctx), []*types.JobRun{{JobType: "probe", Status: types.JobStatusQueued, Stage: "queued"}})
	require.NoError(t, err)

	res, err := acts.Tick(ctx, jobs[0].ID.String())
	require.NoError(t, err)
	require.Equal(t, types.JobStatusFailed, res.Status)
	require.True(t, res.Final)
	require.Equal(t, "bad input", res.Error)
}

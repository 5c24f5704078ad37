package jobrun

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
)

const (
	pollInterval         = 2 * time.Second
	continueTickLimit    = 2000
	continueHistoryLimit = 15000
)

// Workflow drives one job_run row, identified by the workflow id, until it
// reaches a terminal status. A failed job fails the workflow so the start
// policy retries it, unless the failure is final.
func Workflow(ctx workflow.Context) error {
	jobID := strings.TrimSpace(workflow.GetInfo(ctx).WorkflowExecution.ID)
	if jobID == "" {
		return temporal.NewNonRetryableApplicationError("jobrun: missing job_id", "InvalidJob", nil)
	}

	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 24 * time.Hour,
		HeartbeatTimeout:    30 * time.Second,
		// Retries happen at the workflow level.
		RetryPolicy: &temporal.RetryPolicy{MaximumAttempts: 1},
	})

	for ticks := 1; ; ticks++ {
		var out TickResult
		if err := workflow.ExecuteActivity(ctx, ActivityTick, jobID).Get(ctx, &out); err != nil {
			return err
		}

		switch out.Status {
		case types.JobStatusSucceeded, types.JobStatusCanceled:
			return nil
		case types.JobStatusFailed:
			msg := fmt.Sprintf("job failed (stage=%s): %s", out.Stage, out.Error)
			if out.Final {
				return temporal.NewNonRetryableApplicationError(msg, "JobFailed", nil)
			}
			return temporal.NewApplicationError(msg, "JobFailed")
		}

		if err := workflow.Sleep(ctx, pollInterval); err != nil {
			return err
		}
		if shouldContinueAsNew(ctx, ticks) {
			return workflow.NewContinueAsNewError(ctx, Workflow)
		}
	}
}

func shouldContinueAsNew(ctx workflow.Context, ticks int) bool {
	if ticks >= continueTickLimit {
		return true
	}
	info := workflow.GetInfo(ctx)
	return info != nil && info.GetCurrentHistoryLength() >= continueHistoryLimit
}

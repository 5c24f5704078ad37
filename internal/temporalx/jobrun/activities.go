package jobrun

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.temporal.io/sdk/activity"
	"gorm.io/gorm"

	"github.com/yungbote/neuroscout-backend/internal/data/repos"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	jobrt "github.com/yungbote/neuroscout-backend/internal/jobs/runtime"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type Activities struct {
	Log      *logger.Logger
	DB       *gorm.DB
	Jobs     repos.JobRunRepo
	Registry *jobrt.Registry
	Notify   services.JobNotifier
	Metrics  *observability.Metrics
}

// Tick runs the job once unless it is already terminal, and reports the
// status it ended in.
func (a *Activities) Tick(ctx context.Context, jobID string) (TickResult, error) {
	res := TickResult{JobID: strings.TrimSpace(jobID)}
	if a == nil || a.DB == nil || a.Jobs == nil || a.Registry == nil {
		return res, fmt.Errorf("jobrun: activity not configured")
	}
	id, err := uuid.Parse(res.JobID)
	if err != nil || id == uuid.Nil {
		return res, fmt.Errorf("jobrun: invalid job_id %q", jobID)
	}

	job, found, err := a.Jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return res, err
	}
	if !found {
		return res, fmt.Errorf("jobrun: job %s not found", id)
	}

	switch {
	case job.Terminal():
		a.renotify(job)
		return fill(res, job), nil
	case job.Status == types.JobStatusFailed && job.Attempts >= jobrt.MaxAttempts:
		a.renotify(job)
		return fill(res, job), nil
	}

	stopHB := a.startHeartbeat(ctx, id)
	defer stopHB()

	now := time.Now().UTC()
	ok, err := a.Jobs.UpdateFieldsUnlessStatus(dbctx.Context{Ctx: ctx}, id, []string{types.JobStatusCanceled}, map[string]interface{}{
		"status":       types.JobStatusRunning,
		"attempts":     gorm.Expr("attempts + 1"),
		"locked_at":    now,
		"heartbeat_at": now,
	})
	if err != nil {
		return res, err
	}
	if !ok {
		// Canceled between the read and the claim.
		job.Status = types.JobStatusCanceled
		return fill(res, job), nil
	}
	job.Status = types.JobStatusRunning
	job.Attempts++
	job.LockedAt = &now
	job.HeartbeatAt = &now

	jc := jobrt.NewContext(ctx, a.DB, job, a.Jobs, a.Notify)
	jobrt.Execute(jc, a.Registry, a.Log, a.Metrics)

	updated, found, err := a.Jobs.GetByID(dbctx.Context{Ctx: ctx}, id)
	if err != nil {
		return res, err
	}
	if !found {
		return res, fmt.Errorf("jobrun: job %s vanished", id)
	}
	return fill(res, updated), nil
}

func fill(res TickResult, job *types.JobRun) TickResult {
	res.Status = job.Status
	res.Stage = job.Stage
	res.Progress = job.Progress
	res.Message = job.Message
	res.Error = job.Error
	res.Final = job.Status == types.JobStatusFailed && job.Attempts >= jobrt.MaxAttempts
	return res
}

// renotify repeats the terminal event for subscribers that reconnected
// after the original was sent.
func (a *Activities) renotify(job *types.JobRun) {
	if a.Notify == nil || job.Owner == "" {
		return
	}
	switch job.Status {
	case types.JobStatusSucceeded:
		a.Notify.JobDone(job.Owner, job)
	case types.JobStatusFailed:
		a.Notify.JobFailed(job.Owner, job, job.Stage, job.Error)
	case types.JobStatusCanceled:
		a.Notify.JobCanceled(job.Owner, job)
	}
}

func (a *Activities) startHeartbeat(ctx context.Context, jobID uuid.UUID) func() {
	done := make(chan struct{})
	inActivity := activity.IsActivity(ctx)
	go func() {
		temporalHB := time.NewTicker(10 * time.Second)
		defer temporalHB.Stop()
		dbHB := time.NewTicker(30 * time.Second)
		defer dbHB.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-temporalHB.C:
				if inActivity {
					activity.RecordHeartbeat(ctx)
				}
			case <-dbHB.C:
				_ = a.Jobs.Heartbeat(dbctx.Context{Ctx: ctx}, jobID)
			}
		}
	}()
	return func() { close(done) }
}

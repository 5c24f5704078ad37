package runtime

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

// Execute runs the registered handler for a job that is already marked
// running. A missing handler fails the job at "dispatch" and a panic at
// "panic". A handler that returns nil but leaves the job running is treated
// as succeeded, keeping whatever result it stored.
func Execute(jc *Context, reg *Registry, log *logger.Logger, metrics *observability.Metrics) {
	job := jc.Job
	start := time.Now()
	defer func() {
		metrics.ObserveJob(job.JobType, job.Status, time.Since(start))
	}()

	h, ok := reg.Get(job.JobType)
	if !ok {
		jc.Abort("dispatch", fmt.Errorf("no handler registered for job_type=%s", job.JobType))
		return
	}

	returnedNil := false
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error("job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				observability.CaptureFailure("job_"+job.JobType, fmt.Errorf("panic: %v", r), map[string]string{"job_id": job.ID.String()})
				jc.Fail("panic", fmt.Errorf("panic: unexpected error"))
			}
		}()
		if err := h.Run(jc); err != nil {
			jc.Fail("run", err)
			return
		}
		returnedNil = true
	}()

	if !returnedNil || jc.Repo == nil {
		return
	}
	current, found, err := jc.Repo.GetByID(jc.DBC(), job.ID)
	if err != nil || !found || current.Status != types.JobStatusRunning {
		if found {
			job.Status = current.Status
		}
		return
	}
	log.Warn("job handler returned nil without terminal status; marking succeeded", "job_id", job.ID, "job_type", job.JobType, "stage", current.Stage)
	finalStage := "done"
	if s := strings.TrimSpace(current.Stage); s != "" && s != types.JobStatusQueued && s != types.JobStatusRunning {
		finalStage = s
	}
	var result any
	if raw := strings.TrimSpace(string(current.Result)); raw != "" && raw != "null" {
		result = json.RawMessage(current.Result)
	}
	jc.Succeed(finalStage, result)
}

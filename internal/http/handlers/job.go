package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/neuroscout-backend/internal/http/response"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type JobHandler struct {
	log  *logger.Logger
	jobs services.JobService
	hub  *realtime.Hub
}

func NewJobHandler(log *logger.Logger, jobs services.JobService, hub *realtime.Hub) *JobHandler {
	return &JobHandler{log: log.With("handler", "JobHandler"), jobs: jobs, hub: hub}
}

// GET /api/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, err := pathUUID(c, "id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	job, err := h.jobs.GetByID(requestDBC(c), jobID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// DELETE /api/jobs/:id
func (h *JobHandler) CancelJob(c *gin.Context) {
	jobID, err := pathUUID(c, "id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	job, err := h.jobs.Cancel(requestDBC(c), jobID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/jobs/:id/events
//
// Streams the job's progress events. The current job state is sent first so
// late subscribers do not miss a finished job.
func (h *JobHandler) StreamJob(c *gin.Context) {
	jobID, err := pathUUID(c, "id")
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	job, err := h.jobs.GetByID(requestDBC(c), jobID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	client := h.hub.NewClient(ctxutil.GetSubject(c.Request.Context()))
	h.hub.AddChannel(client, realtime.JobChannel(job.ID.String()))
	client.Outbound <- realtime.Message{
		Channel: realtime.JobChannel(job.ID.String()),
		Event:   realtime.EventJobProgress,
		Data:    map[string]any{"job_id": job.ID, "job": job},
	}
	if job.Terminal() {
		// Nothing further will be published; flush the snapshot and end.
		h.hub.CloseClient(client)
	}
	h.log.Debug("job stream opened", "job_id", job.ID, "client_id", client.ID)
	h.hub.ServeHTTP(c.Writer, c.Request, client)
}

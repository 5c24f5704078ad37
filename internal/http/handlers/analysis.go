package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/http/response"
	"github.com/yungbote/neuroscout-backend/internal/platform/apierr"
	"github.com/yungbote/neuroscout-backend/internal/platform/ctxutil"
	"github.com/yungbote/neuroscout-backend/internal/services"
)

type AnalysisHandler struct {
	analyses services.AnalysisService
	reports  services.ReportService
	jobs     services.JobService
}

// NewAnalysisHandler wires the analysis routes. jobs may be nil, in which case
// status responses omit the latest compile job.
func NewAnalysisHandler(analyses services.AnalysisService, reports services.ReportService, jobs services.JobService) *AnalysisHandler {
	return &AnalysisHandler{analyses: analyses, reports: reports, jobs: jobs}
}

type analysisStatus struct {
	HashID           string     `json:"hash_id"`
	Status           string     `json:"status"`
	Locked           bool       `json:"locked"`
	CompileTraceback string     `json:"compile_traceback,omitempty"`
	CompilePhase     string     `json:"compile_phase,omitempty"`
	CompileTaskID    string     `json:"compile_task_id,omitempty"`
	SubmittedAt      *time.Time `json:"submitted_at,omitempty"`
	CompiledAt       *time.Time `json:"compiled_at,omitempty"`
	CompileJob       *jobBrief  `json:"compile_job,omitempty"`
}

type jobBrief struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Stage    string `json:"stage"`
	Progress int    `json:"progress"`
}

func statusOf(a *types.Analysis) analysisStatus {
	return analysisStatus{
		HashID:           a.HashID,
		Status:           a.Status,
		Locked:           a.Locked,
		CompileTraceback: a.CompileTraceback,
		CompilePhase:     a.CompilePhase,
		CompileTaskID:    a.CompileTaskID,
		SubmittedAt:      a.SubmittedAt,
		CompiledAt:       a.CompiledAt,
	}
}

// visible hides private analyses from everyone but their owner.
func visible(c *gin.Context, a *types.Analysis) bool {
	if !a.Private || a.Owner == "" {
		return true
	}
	return ctxutil.GetSubject(c.Request.Context()) == a.Owner
}

// POST /api/analyses/:id/compile
func (h *AnalysisHandler) Compile(c *gin.Context) {
	a, job, err := h.analyses.RequestCompile(requestDBC(c), c.Param("id"))
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"analysis": statusOf(a), "job": job})
}

// GET /api/analyses/:id/status
func (h *AnalysisHandler) Status(c *gin.Context) {
	a, err := h.analyses.Get(requestDBC(c), c.Param("id"))
	if err == nil && !visible(c, a) {
		err = fmt.Errorf("analysis %q: %w", c.Param("id"), types.ErrNotFound)
	}
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	st := statusOf(a)
	if h.jobs != nil {
		job, found, err := h.jobs.Latest(requestDBC(c), "analysis", a.HashID, services.JobTypeAnalysisCompile)
		if err != nil {
			response.RespondErr(c, err)
			return
		}
		if found {
			st.CompileJob = &jobBrief{ID: job.ID.String(), Status: job.Status, Stage: job.Stage, Progress: job.Progress}
		}
	}
	response.RespondOK(c, st)
}

// PATCH /api/analyses/:id
func (h *AnalysisHandler) Edit(c *gin.Context) {
	var edit services.AnalysisEdit
	if err := c.ShouldBindJSON(&edit); err != nil {
		response.RespondErr(c, apierr.BadRequest("invalid_body", err))
		return
	}
	a, err := h.analyses.MarkEdited(requestDBC(c), c.Param("id"), edit)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondOK(c, gin.H{"analysis": a})
}

// GET /api/analyses/:id/bundle
func (h *AnalysisHandler) Bundle(c *gin.Context) {
	hashID := c.Param("id")
	a, err := h.analyses.Get(requestDBC(c), hashID)
	if err == nil && !visible(c, a) {
		err = fmt.Errorf("analysis %q: %w", hashID, types.ErrNotFound)
	}
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	loc, err := h.analyses.BundleLocation(requestDBC(c), hashID)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	if loc.Path != "" {
		c.FileAttachment(loc.Path, hashID+".tar.gz")
		return
	}
	c.Redirect(http.StatusFound, loc.URL)
}

// POST /api/analyses/:id/report
func (h *AnalysisHandler) Report(c *gin.Context) {
	var req services.ReportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.RespondErr(c, apierr.BadRequest("invalid_body", err))
			return
		}
	}
	rep, job, err := h.reports.RequestReport(requestDBC(c), c.Param("id"), req)
	if err != nil {
		response.RespondErr(c, err)
		return
	}
	response.RespondAccepted(c, gin.H{"report": rep, "job": job})
}

package jobrun

import "github.com/yungbote/neuroscout-backend/internal/services"

const (
	WorkflowName = services.JobWorkflowName
	ActivityTick = "job_run_tick"
)

type TickResult struct {
	JobID    string `json:"job_id"`
	Status   string `json:"status"`
	Stage    string `json:"stage,omitempty"`
	Progress int    `json:"progress,omitempty"`
	Message  string `json:"message,omitempty"`
	Error    string `json:"error,omitempty"`
	// Final is set on failures that must not be retried.
	Final bool `json:"final,omitempty"`
}

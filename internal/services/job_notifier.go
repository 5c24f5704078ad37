package services

import (
	"context"
	"time"

	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
	"github.com/yungbote/neuroscout-backend/internal/realtime/bus"
)

type JobNotifier interface {
	JobCreated(owner string, job *types.JobRun)
	JobProgress(owner string, job *types.JobRun, stage string, progress int, message string)
	JobFailed(owner string, job *types.JobRun, stage string, errorMessage string)
	JobDone(owner string, job *types.JobRun)
	JobCanceled(owner string, job *types.JobRun)
}

type jobNotifier struct {
	log    *logger.Logger
	hub    *realtime.Hub
	bus    bus.Bus
	origin string
}

// NewJobNotifier broadcasts job events to local stream subscribers and
// publishes them for the other instances. Either hub or b may be nil.
func NewJobNotifier(baseLog *logger.Logger, hub *realtime.Hub, b bus.Bus, origin string) JobNotifier {
	return &jobNotifier{log: baseLog.With("service", "JobNotifier"), hub: hub, bus: b, origin: origin}
}

func (n *jobNotifier) JobCreated(owner string, job *types.JobRun) {
	n.emit(owner, job, realtime.EventJobCreated, map[string]any{"job": job})
}

func (n *jobNotifier) JobProgress(owner string, job *types.JobRun, stage string, progress int, message string) {
	n.emit(owner, job, realtime.EventJobProgress, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"progress": progress,
		"message":  message,
		"job":      job,
	})
}

func (n *jobNotifier) JobFailed(owner string, job *types.JobRun, stage string, errorMessage string) {
	n.emit(owner, job, realtime.EventJobFailed, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"stage":    stage,
		"error":    errorMessage,
		"job":      job,
	})
}

func (n *jobNotifier) JobDone(owner string, job *types.JobRun) {
	n.emit(owner, job, realtime.EventJobDone, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}

func (n *jobNotifier) JobCanceled(owner string, job *types.JobRun) {
	n.emit(owner, job, realtime.EventJobCanceled, map[string]any{
		"job_id":   job.ID,
		"job_type": job.JobType,
		"job":      job,
	})
}

func (n *jobNotifier) emit(owner string, job *types.JobRun, event realtime.Event, data map[string]any) {
	if job == nil {
		return
	}
	channels := []string{realtime.JobChannel(job.ID.String())}
	if owner != "" {
		channels = append(channels, realtime.OwnerChannel(owner))
	}
	for _, ch := range channels {
		msg := realtime.Message{Channel: ch, Event: event, Data: data, Origin: n.origin}
		if n.hub != nil {
			n.hub.Broadcast(msg)
		}
		if n.bus != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := n.bus.Publish(ctx, msg); err != nil {
				n.log.Warn("publish job event failed", "job_id", job.ID, "event", event, "error", err)
			}
			cancel()
		}
	}
}

// RelayJobEvents rebroadcasts job events published by other instances to
// this instance's stream subscribers.
func RelayJobEvents(ctx context.Context, b bus.Bus, hub *realtime.Hub, origin string) error {
	if b == nil || hub == nil {
		return nil
	}
	return b.StartForwarder(ctx, func(m realtime.Message) {
		if m.Event == realtime.EventInvalidate || m.Origin == origin || m.Channel == "" {
			return
		}
		hub.Broadcast(m)
	})
}

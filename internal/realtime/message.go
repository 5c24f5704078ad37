package realtime

type Event string

const (
	EventJobCreated  Event = "JobCreated"
	EventJobProgress Event = "JobProgress"
	EventJobFailed   Event = "JobFailed"
	EventJobDone     Event = "JobDone"
	EventJobCanceled Event = "JobCanceled"

	// EventInvalidate carries cache keys to drop on every instance.
	EventInvalidate Event = "CacheInvalidate"
)

// Message is both the SSE frame sent to clients and the payload relayed
// between instances over the bus.
type Message struct {
	Channel string   `json:"channel"`
	Event   Event    `json:"event"`
	Data    any      `json:"data,omitempty"`
	Keys    []string `json:"keys,omitempty"`
	// Origin identifies the publishing instance so it can skip its own echo.
	Origin string `json:"origin,omitempty"`
}

// JobChannel is the channel job events for id are broadcast on.
func JobChannel(id string) string { return "job:" + id }

// OwnerChannel carries every job event of one token subject.
func OwnerChannel(owner string) string { return "owner:" + owner }

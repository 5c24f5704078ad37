package realtime

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
)

func mustTestLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	t.Cleanup(log.Sync)
	return log
}

func recvMessage(t *testing.T, ch <-chan Message, timeout time.Duration) Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(timeout):
		t.Fatalf("timed out waiting for message")
	}
	return Message{}
}

func TestHubOrderingAndReconnect(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	channel := JobChannel("42")

	clientA := hub.NewClient("alice")
	hub.AddChannel(clientA, channel)

	hub.Broadcast(Message{Channel: channel, Event: EventJobCreated})
	hub.Broadcast(Message{Channel: channel, Event: EventJobProgress, Data: map[string]any{"progress": 50}})

	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventJobCreated {
		t.Fatalf("first event: want=%s got=%s", EventJobCreated, got.Event)
	}
	if got := recvMessage(t, clientA.Outbound, time.Second); got.Event != EventJobProgress {
		t.Fatalf("second event: want=%s got=%s", EventJobProgress, got.Event)
	}

	hub.CloseClient(clientA)
	if _, ok := <-clientA.Outbound; ok {
		t.Fatalf("outbound should be closed after CloseClient")
	}
	hub.CloseClient(clientA)
	if n := hub.Subscribers(channel); n != 0 {
		t.Fatalf("subscribers after close: want=0 got=%d", n)
	}

	clientB := hub.NewClient("alice")
	hub.AddChannel(clientB, channel)
	hub.Broadcast(Message{Channel: channel, Event: EventJobDone})
	if got := recvMessage(t, clientB.Outbound, time.Second); got.Event != EventJobDone {
		t.Fatalf("reconnect event: want=%s got=%s", EventJobDone, got.Event)
	}
}

func TestHubIgnoresOtherChannels(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	c := hub.NewClient("")
	hub.AddChannel(c, JobChannel("1"))
	hub.AddChannel(c, "  ")

	hub.Broadcast(Message{Channel: JobChannel("2"), Event: EventJobDone})
	hub.Broadcast(Message{Event: EventJobDone})
	select {
	case msg := <-c.Outbound:
		t.Fatalf("unexpected message %+v", msg)
	case <-time.After(50 * time.Millisecond):
	}
	if len(c.Channels) != 1 {
		t.Fatalf("blank channel should not subscribe, got %v", c.Channels)
	}
}

func TestServeHTTPStreamsEvents(t *testing.T) {
	hub := NewHub(mustTestLogger(t))
	c := hub.NewClient("")
	hub.AddChannel(c, JobChannel("7"))

	req := httptest.NewRequest("GET", "/api/jobs/7/events", nil)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		hub.ServeHTTP(rec, req, c)
		close(done)
	}()

	hub.Broadcast(Message{Channel: JobChannel("7"), Event: EventJobFailed, Data: "boom"})
	// Buffered messages are still delivered after the channel closes.
	hub.CloseClient(c)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("stream did not end after CloseClient")
	}

	body := rec.Body.String()
	if !strings.Contains(body, "event: JobFailed\n") || !strings.Contains(body, `"data":"boom"`) {
		t.Fatalf("unexpected stream body %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Fatalf("content type: %q", rec.Header().Get("Content-Type"))
	}
}

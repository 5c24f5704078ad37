package bus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
)

func waitMessage(t *testing.T, ch <-chan realtime.Message) realtime.Message {
	t.Helper()
	select {
	case m := <-ch:
		return m
	case <-time.After(3 * time.Second):
		t.Fatalf("timed out waiting for bus message")
	}
	return realtime.Message{}
}

func TestLocalBusFanOut(t *testing.T) {
	b := NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan realtime.Message, 4)
	if err := b.StartForwarder(ctx, func(m realtime.Message) { got <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	if err := b.Publish(ctx, realtime.Message{Event: realtime.EventInvalidate, Keys: []string{"predictor_events"}}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	m := waitMessage(t, got)
	if m.Event != realtime.EventInvalidate || len(m.Keys) != 1 {
		t.Fatalf("unexpected message %+v", m)
	}

	if err := b.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := b.Publish(ctx, realtime.Message{}); err == nil {
		t.Fatalf("publish after close should fail")
	}
}

func TestNewWithoutAddrIsLocal(t *testing.T) {
	b, err := New(logger.NewNop(), "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, ok := b.(*localBus); !ok {
		t.Fatalf("expected local bus, got %T", b)
	}
}

func TestRedisOptionsAcceptsURL(t *testing.T) {
	opts, err := redisOptions("redis://:pw@cache:6380/2")
	if err != nil {
		t.Fatalf("redisOptions: %v", err)
	}
	if opts.Addr != "cache:6380" || opts.DB != 2 || opts.Password != "pw" {
		t.Fatalf("unexpected options %+v", opts)
	}
	if opts.DialTimeout != dialTimeout {
		t.Fatalf("dial timeout: want=%v got=%v", dialTimeout, opts.DialTimeout)
	}

	opts, err = redisOptions("localhost:6379")
	if err != nil || opts.Addr != "localhost:6379" {
		t.Fatalf("plain addr: %+v %v", opts, err)
	}
}

func TestRedisBusRoundTrip(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	b, err := NewRedisBus(logger.NewNop(), addr, "neuroscout:test:"+time.Now().Format("150405.000"))
	if err != nil {
		t.Fatalf("NewRedisBus: %v", err)
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan realtime.Message, 1)
	if err := b.StartForwarder(ctx, func(m realtime.Message) { got <- m }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	if err := b.Publish(ctx, realtime.Message{Event: realtime.EventJobDone, Channel: realtime.JobChannel("1"), Origin: "a"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	m := waitMessage(t, got)
	if m.Origin != "a" || m.Channel != "job:1" {
		t.Fatalf("unexpected message %+v", m)
	}
}

package bus

import (
	"context"
	"strings"

	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
)

// Bus relays messages between service instances.
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	// StartForwarder registers onMsg and returns; delivery stops with ctx.
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}

// New returns a redis bus when addr is set, otherwise an in-process bus.
func New(log *logger.Logger, addr, channel string) (Bus, error) {
	if strings.TrimSpace(addr) == "" {
		return NewLocalBus(), nil
	}
	return NewRedisBus(log, addr, channel)
}

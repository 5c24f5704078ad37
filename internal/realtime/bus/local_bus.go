package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/yungbote/neuroscout-backend/internal/realtime"
)

// localBus delivers messages to forwarders in the same process. It backs
// single-instance deployments where REDIS_ADDR is unset.
type localBus struct {
	mu     sync.RWMutex
	subs   map[int]func(realtime.Message)
	next   int
	closed bool
}

func NewLocalBus() Bus {
	return &localBus{subs: map[int]func(realtime.Message){}}
}

func (b *localBus) Publish(_ context.Context, msg realtime.Message) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}
	for _, fn := range b.subs {
		fn(msg)
	}
	return nil
}

func (b *localBus) StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error {
	if onMsg == nil {
		return fmt.Errorf("onMsg callback required")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("bus closed")
	}
	id := b.next
	b.next++
	b.subs[id] = onMsg
	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}()
	return nil
}

func (b *localBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.subs = map[int]func(realtime.Message){}
	return nil
}

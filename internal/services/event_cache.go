package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/observability"
	"github.com/yungbote/neuroscout-backend/internal/platform/logger"
	"github.com/yungbote/neuroscout-backend/internal/realtime"
	"github.com/yungbote/neuroscout-backend/internal/realtime/bus"
)

const cacheKeySep = "|"

// EventCache holds materialized events keyed by request. Invalidating a key
// drops it and every key under "<key>|". Cached slices are shared between
// callers and must not be modified.
type EventCache struct {
	log     *logger.Logger
	items   *gocache.Cache
	group   singleflight.Group
	gen     atomic.Uint64
	bus     bus.Bus
	origin  string
	metrics *observability.Metrics
}

func NewEventCache(baseLog *logger.Logger, ttl time.Duration, b bus.Bus, origin string, m *observability.Metrics) *EventCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &EventCache{
		log:     baseLog.With("service", "EventCache"),
		items:   gocache.New(ttl, 2*ttl),
		bus:     b,
		origin:  origin,
		metrics: m,
	}
}

// EventsCacheKey identifies a materialization request. Nil runIDs (every
// run) and an empty filter produce different keys.
func EventsCacheKey(predictorIDs, runIDs []uuid.UUID, withStimulus bool) string {
	h := sha1.New()
	h.Write([]byte(joinSorted(predictorIDs)))
	h.Write([]byte{';'})
	if runIDs == nil {
		h.Write([]byte("*"))
	} else {
		h.Write([]byte(joinSorted(runIDs)))
	}
	fmt.Fprintf(h, ";stim=%t", withStimulus)
	return materialize.CacheKey + cacheKeySep + hex.EncodeToString(h.Sum(nil))
}

func joinSorted(ids []uuid.UUID) string {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	sort.Strings(s)
	return strings.Join(s, ",")
}

// Get returns the cached events for key or loads them once for all
// concurrent callers.
func (c *EventCache) Get(ctx context.Context, key string, load func(context.Context) ([]materialize.FlatEvent, error)) ([]materialize.FlatEvent, error) {
	if v, ok := c.items.Get(key); ok {
		c.metrics.IncCacheLookup("hit")
		return v.([]materialize.FlatEvent), nil
	}
	v, err, shared := c.group.Do(key, func() (any, error) {
		gen := c.gen.Load()
		evs, err := load(ctx)
		if err != nil {
			return nil, err
		}
		// An invalidation during the load means evs may be stale.
		if c.gen.Load() == gen {
			c.items.SetDefault(key, evs)
		}
		return evs, nil
	})
	if shared {
		c.metrics.IncCacheLookup("shared")
	} else {
		c.metrics.IncCacheLookup("miss")
	}
	if err != nil {
		return nil, err
	}
	return v.([]materialize.FlatEvent), nil
}

// Invalidate drops keys here and on every instance reachable over the bus.
func (c *EventCache) Invalidate(keys ...string) {
	if len(keys) == 0 {
		return
	}
	c.invalidateLocal(keys...)
	if c.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.bus.Publish(ctx, realtime.Message{Event: realtime.EventInvalidate, Keys: keys, Origin: c.origin}); err != nil {
		c.log.Warn("publish cache invalidation failed", "keys", keys, "error", err)
	}
}

func (c *EventCache) invalidateLocal(keys ...string) {
	c.gen.Add(1)
	dropped := 0
	for k := range c.items.Items() {
		for _, key := range keys {
			if k == key || strings.HasPrefix(k, key+cacheKeySep) {
				c.items.Delete(k)
				dropped++
				break
			}
		}
	}
	c.log.Debug("event cache invalidated", "keys", keys, "dropped", dropped)
}

func (c *EventCache) Len() int { return c.items.ItemCount() }

// StartForwarder applies invalidations published by other instances.
func (c *EventCache) StartForwarder(ctx context.Context) error {
	if c.bus == nil {
		return nil
	}
	return c.bus.StartForwarder(ctx, func(m realtime.Message) {
		if m.Event != realtime.EventInvalidate || m.Origin == c.origin {
			return
		}
		c.invalidateLocal(m.Keys...)
	})
}

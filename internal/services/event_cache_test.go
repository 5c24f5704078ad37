package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/neuroscout-backend/internal/data/repos/events"
	"github.com/yungbote/neuroscout-backend/internal/data/repos/testutil"
	types "github.com/yungbote/neuroscout-backend/internal/domain"
	"github.com/yungbote/neuroscout-backend/internal/modules/materialize"
	"github.com/yungbote/neuroscout-backend/internal/platform/dbctx"
	"github.com/yungbote/neuroscout-backend/internal/realtime/bus"
)

func TestEventsCacheKey(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	require.Equal(t, EventsCacheKey([]uuid.UUID{a, b}, nil, false), EventsCacheKey([]uuid.UUID{b, a}, nil, false))
	require.NotEqual(t, EventsCacheKey([]uuid.UUID{a}, nil, false), EventsCacheKey([]uuid.UUID{a}, []uuid.UUID{}, false))
	require.NotEqual(t, EventsCacheKey([]uuid.UUID{a}, nil, false), EventsCacheKey([]uuid.UUID{a}, nil, true))
	require.Regexp(t, `^predictor_events\|[0-9a-f]{40}$`, EventsCacheKey([]uuid.UUID{a}, nil, false))
}

func TestEventCacheLoadsOnceAndInvalidatesAcrossInstances(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := bus.NewLocalBus()
	log := testutil.Logger(t)
	first := NewEventCache(log, time.Minute, b, "instance-a", nil)
	second := NewEventCache(log, time.Minute, b, "instance-b", nil)
	require.NoError(t, first.StartForwarder(ctx))
	require.NoError(t, second.StartForwarder(ctx))

	var loads atomic.Int32
	release := make(chan struct{})
	load := func(context.Context) ([]materialize.FlatEvent, error) {
		loads.Add(1)
		<-release
		return []materialize.FlatEvent{{Onset: 1, Value: "x"}}, nil
	}
	key := materialize.CacheKey + "|abc"

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			evs, err := first.Get(ctx, key, load)
			assert.NoError(t, err)
			assert.Len(t, evs, 1)
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()
	require.GreaterOrEqual(t, loads.Load(), int32(1))
	require.Equal(t, 1, first.Len())
	before := loads.Load()
	_, err := first.Get(ctx, key, load)
	require.NoError(t, err)
	require.Equal(t, before, loads.Load(), "cached key must not reload")

	_, err = second.Get(ctx, key, func(context.Context) ([]materialize.FlatEvent, error) { return nil, nil })
	require.NoError(t, err)
	require.Equal(t, 1, second.Len())

	second.Invalidate(materialize.CacheKey)
	require.Zero(t, first.Len(), "remote invalidation drops prefixed keys")
	require.Zero(t, second.Len())
}

func TestEventCacheSkipsStaleStore(t *testing.T) {
	c := NewEventCache(testutil.Logger(t), time.Minute, nil, "solo", nil)
	_, err := c.Get(context.Background(), "predictor_events|k", func(context.Context) ([]materialize.FlatEvent, error) {
		c.Invalidate(materialize.CacheKey)
		return []materialize.FlatEvent{{Value: "stale"}}, nil
	})
	require.NoError(t, err)
	require.Zero(t, c.Len())

	_, err = c.Get(context.Background(), "predictor_events|k", func(context.Context) ([]materialize.FlatEvent, error) {
		return nil, errors.New("db down")
	})
	require.ErrorContains(t, err, "db down")
	require.Zero(t, c.Len())
}

func TestPredictorEventServiceCachesUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	db := testutil.DB(t)
	log := testutil.Logger(t)
	ds := testutil.SeedDataset(t, ctx, db, "life")
	task := testutil.SeedTask(t, ctx, db, ds.ID, "life", 2)
	run := testutil.SeedRun(t, ctx, db, task, "01", 1, 30)
	pred := testutil.SeedPredictor(t, ctx, db, ds.ID, "rt", nil)
	require.NoError(t, db.Create(&types.PredictorEvent{Onset: 2, Duration: testutil.PtrFloat(1), Value: "0.5", RunID: run.ID, PredictorID: pred.ID}).Error)

	cache := NewEventCache(log, time.Minute, nil, "solo", nil)
	svc := NewPredictorEventService(log, materialize.New(events.NewStore(db, log)), cache, nil)

	_, err := svc.Events(dbctx.New(ctx), nil, nil, false)
	require.ErrorIs(t, err, types.ErrInvalidArgument)

	evs, err := svc.Events(dbctx.New(ctx), []uuid.UUID{pred.ID}, nil, false)
	require.NoError(t, err)
	require.Len(t, evs, 1)

	require.NoError(t, db.Create(&types.PredictorEvent{Onset: 8, Value: "0.9", RunID: run.ID, PredictorID: pred.ID}).Error)
	evs, err = svc.Events(dbctx.New(ctx), []uuid.UUID{pred.ID}, nil, false)
	require.NoError(t, err)
	require.Len(t, evs, 1, "served from cache")

	cache.Invalidate(materialize.CacheKey)
	evs, err = svc.Events(dbctx.New(ctx), []uuid.UUID{pred.ID}, nil, false)
	require.NoError(t, err)
	require.Len(t, evs, 2)

	_, err = svc.Events(dbctx.New(ctx), []uuid.UUID{pred.ID}, []uuid.UUID{uuid.New()}, false)
	require.ErrorIs(t, err, types.ErrNotFound)
}

package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestBus(t *testing.T) (*EventBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	bus := NewEventBusWithClient(rdb, zap.NewNop())
	reader := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { reader.Close() })
	return bus, reader
}

func TestEventBusPublish(t *testing.T) {
	bus, reader := newTestBus(t)
	defer bus.Close()
	ctx := context.Background()

	require.NoError(t, bus.Publish(ctx, &Event{Type: EventRequest, Skill: "device_control", Success: true}))

	entries, err := reader.XRange(ctx, EventStream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, EventRequest, entries[0].Values["type"])
	assert.Contains(t, entries[0].Values["data"], `"skill":"device_control"`)
}

func TestEventBusEmitFlushesOnClose(t *testing.T) {
	bus, reader := newTestBus(t)
	bus.Start(context.Background())

	for i := 0; i < 5; i++ {
		bus.Emit(&Event{Type: EventBreaker, Skill: "lights"})
	}
	require.NoError(t, bus.Close())

	n, err := reader.XLen(context.Background(), EventStream).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Zero(t, bus.Dropped())
}

func TestEventBusFlushesAfterShutdownSignal(t *testing.T) {
	bus, reader := newTestBus(t)
	ctx, cancel := context.WithCancel(context.Background())
	bus.Start(ctx)

	bus.Emit(&Event{Type: EventRequest, Skill: "device_control"})
	cancel()
	// The worker may already be gone; these sit in the queue until Close.
	bus.Emit(&Event{Type: EventRequest, Skill: "information_request"})
	bus.Emit(&Event{Type: EventBreaker, Skill: "device_control"})
	require.NoError(t, bus.Close())

	n, err := reader.XLen(context.Background(), EventStream).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
}

func TestEventBusSubscribe(t *testing.T) {
	bus, _ := newTestBus(t)
	defer bus.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, bus.Publish(ctx, &Event{Type: EventReload, Detail: "2 skills, 0 errors"}))
	require.NoError(t, bus.Publish(ctx, &Event{Type: EventRequest, Skill: "fallback"}))

	ch := bus.Subscribe(ctx, "0")
	var got []*Event
	for e := range ch {
		got = append(got, e)
		if len(got) == 2 {
			cancel()
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, EventReload, got[0].Type)
	assert.Equal(t, "fallback", got[1].Skill)
	assert.NotEmpty(t, got[0].ID)
}

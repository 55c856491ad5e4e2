package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aescanero/grantflow/pkg/domain"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newBus(t *testing.T) (*StreamsEventBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	bus, err := NewStreamsEventBus(client, "workers", "worker-1", zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = bus.Close() })
	return bus, client
}

func TestStreamsEventBus_PublishSubscribe(t *testing.T) {
	bus, client := newBus(t)
	ctx := context.Background()

	event := domain.Event{
		ID:        "evt-1",
		Type:      domain.EventThreadInterrupted,
		ThreadID:  "user-1::rfp-42::proposal",
		NodeID:    "humanReview",
		Timestamp: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, bus.Publish(ctx, domain.TopicThreadEvents, event))

	n, err := client.XLen(ctx, "grantflow:events:thread.events").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var mu sync.Mutex
	var got []domain.Event
	require.NoError(t, bus.Subscribe(ctx, domain.TopicThreadEvents, func(_ context.Context, e domain.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, e)
		return nil
	}))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 3*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, event, got[0])
	mu.Unlock()

	assert.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "grantflow:events:thread.events", "workers").Result()
		return err == nil && pending.Count == 0
	}, 3*time.Second, 10*time.Millisecond)
}

func TestStreamsEventBus_SubscribeTwiceSharesGroup(t *testing.T) {
	bus, _ := newBus(t)
	ctx := context.Background()
	noop := func(context.Context, domain.Event) error { return nil }

	require.NoError(t, bus.Subscribe(ctx, domain.TopicThreadCommands, noop))
	require.NoError(t, bus.Subscribe(ctx, domain.TopicThreadCommands, noop))
	require.NoError(t, bus.Unsubscribe(ctx, domain.TopicThreadCommands))
}

func TestNewStreamsEventBus_RequiresConsumer(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "", zap.NewNop())
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

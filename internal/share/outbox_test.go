package share

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newOutboxClient(t *testing.T) *redis.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client
}

func TestOutboxEnqueueAndDrain(t *testing.T) {
	client := newOutboxClient(t)
	// A nil NATS connection makes Publish a no-op, which is enough to
	// exercise the queue mechanics.
	outbox := NewOutbox(client, NewPublisher(nil, "track"), nil)
	ctx := context.Background()

	require.NoError(t, outbox.Enqueue(ctx, "share-1", "location update", map[string]any{"current_lat": 1.0}))
	require.NoError(t, outbox.Enqueue(ctx, "share-1", "order done", nil))

	pending, err := client.LLen(ctx, outboxKey).Result()
	require.NoError(t, err)
	require.EqualValues(t, 2, pending)

	require.NoError(t, outbox.drainOnce(ctx))

	pending, err = client.LLen(ctx, outboxKey).Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, pending)
}

func TestOutboxDropsCorruptEntries(t *testing.T) {
	client := newOutboxClient(t)
	outbox := NewOutbox(client, NewPublisher(nil, "track"), nil)
	ctx := context.Background()

	require.NoError(t, client.RPush(ctx, outboxKey, "not json").Err())
	require.NoError(t, outbox.Enqueue(ctx, "share-1", "order update", map[string]any{"uuid": "order-1"}))

	require.NoError(t, outbox.drainOnce(ctx))

	pending, err := client.LLen(ctx, outboxKey).Result()
	require.NoError(t, err)
	require.EqualValues(t, 0, pending)
}

func TestOutboxRunStopsWithContext(t *testing.T) {
	client := newOutboxClient(t)
	outbox := NewOutbox(client, NewPublisher(nil, "track"), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := outbox.Run(ctx, 10*time.Millisecond)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

package counter

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRedisClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 15})
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("redis not available at %s: %v", addr, err)
	}
	client.Del(context.Background(), billingCountersKey)
	t.Cleanup(func() {
		client.Del(context.Background(), billingCountersKey)
		_ = client.Close()
	})
	return client
}

func TestRedisCountersIncrAndSnapshot(t *testing.T) {
	client := testRedisClient(t)
	counters := NewRedisCounters(client, logrus.New())
	ctx := context.Background()

	counters.Incr(ctx, WebhookReceived)
	counters.Incr(ctx, WebhookReceived)
	counters.Incr(ctx, ClaimGranted)

	snap, err := counters.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), snap[WebhookReceived])
	assert.Equal(t, int64(1), snap[ClaimGranted])
	assert.NotContains(t, snap, ClaimConflict)
}

func TestRedisCountersIncrSurvivesCanceledContext(t *testing.T) {
	client := testRedisClient(t)
	counters := NewRedisCounters(client, logrus.New())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	counters.Incr(ctx, ClaimConflict)

	snap, err := counters.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap[ClaimConflict])
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Incr(context.Background(), WebhookReceived)
}

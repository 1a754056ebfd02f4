package counter

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/cache"
)

var billingCountersKey = cache.Key("billing", "counters")

// Billing counter names.
const (
	WebhookReceived   = "webhook_received"
	WebhookDuplicate  = "webhook_duplicate"
	WebhookUnverified = "webhook_unverified"
	WebhookRejected   = "webhook_rejected"
	ClaimGranted      = "claim_granted"
	ClaimConflict     = "claim_conflict"
	ClaimRateLimited  = "claim_rate_limited"
	ClaimNoCandidate  = "claim_no_candidate"
)

// Recorder increments named counters. Implementations are best effort.
type Recorder interface {
	Incr(ctx context.Context, name string)
}

// Nop discards increments.
type Nop struct{}

func (Nop) Incr(context.Context, string) {}

// RedisCounters keeps billing counters in one Redis hash.
type RedisCounters struct {
	client *redis.Client
	log    logrus.FieldLogger
}

func NewRedisCounters(client *redis.Client, log logrus.FieldLogger) *RedisCounters {
	return &RedisCounters{client: client, log: log}
}

// Incr increments name by one. Failures are logged at debug and dropped;
// counters never affect request outcomes.
func (c *RedisCounters) Incr(ctx context.Context, name string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 500*time.Millisecond)
	defer cancel()
	if err := c.client.HIncrBy(ctx, billingCountersKey, name, 1).Err(); err != nil {
		c.log.WithError(err).WithField("counter", name).Debug("counter increment failed")
	}
}

// Snapshot returns all counters.
func (c *RedisCounters) Snapshot(ctx context.Context) (map[string]int64, error) {
	data, err := c.client.HGetAll(ctx, billingCountersKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(data))
	for k, v := range data {
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}

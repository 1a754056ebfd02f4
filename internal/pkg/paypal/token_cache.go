package paypal

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/cache"
)

const tokenLockTTL = 10 * time.Second

var (
	tokenCacheKey = cache.Key("paypal", "access_token")
	tokenLockKey  = cache.Key("lock", "paypal", "access_token")
)

// TokenCache stores the OAuth access token between requests.
type TokenCache interface {
	Get(ctx context.Context) (string, bool, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
}

// RefreshLocker serializes token refreshes across processes. A nil release
// with a nil error means the lock is held elsewhere.
type RefreshLocker interface {
	Obtain(ctx context.Context) (release func(), err error)
}

// MemoryTokenCache keeps the token in process memory.
type MemoryTokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
	now       func() time.Time
}

func NewMemoryTokenCache() *MemoryTokenCache {
	return &MemoryTokenCache{now: time.Now}
}

func (m *MemoryTokenCache) Get(_ context.Context) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == "" || !m.now().Before(m.expiresAt) {
		return "", false, nil
	}
	return m.token, true, nil
}

func (m *MemoryTokenCache) Set(_ context.Context, token string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	m.expiresAt = m.now().Add(ttl)
	return nil
}

// RedisTokenCache shares the token between instances and guards refreshes
// with a redislock lock.
type RedisTokenCache struct {
	client *redis.Client
	locker *redislock.Client
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{client: client, locker: redislock.New(client)}
}

func (r *RedisTokenCache) Get(ctx context.Context) (string, bool, error) {
	val, err := r.client.Get(ctx, tokenCacheKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, val != "", nil
}

func (r *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	return r.client.Set(ctx, tokenCacheKey, token, ttl).Err()
}

func (r *RedisTokenCache) Obtain(ctx context.Context) (func(), error) {
	lock, err := r.locker.Obtain(ctx, tokenLockKey, tokenLockTTL, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(100*time.Millisecond), 20),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = lock.Release(releaseCtx)
	}, nil
}

// FallbackTokenCache reads and writes the primary cache and keeps a memory
// copy for when the primary fails.
type FallbackTokenCache struct {
	primary TokenCache
	memory  *MemoryTokenCache
}

func NewFallbackTokenCache(primary TokenCache) *FallbackTokenCache {
	return &FallbackTokenCache{primary: primary, memory: NewMemoryTokenCache()}
}

func (f *FallbackTokenCache) Get(ctx context.Context) (string, bool, error) {
	if token, ok, err := f.primary.Get(ctx); err == nil {
		if ok {
			return token, true, nil
		}
		return "", false, nil
	}
	return f.memory.Get(ctx)
}

func (f *FallbackTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	_ = f.memory.Set(ctx, token, ttl)
	if err := f.primary.Set(ctx, token, ttl); err != nil {
		return err
	}
	return nil
}

func (f *FallbackTokenCache) Obtain(ctx context.Context) (func(), error) {
	if locker, ok := f.primary.(RefreshLocker); ok {
		return locker.Obtain(ctx)
	}
	return func() {}, nil
}

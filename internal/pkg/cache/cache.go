package cache

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/config"
)

const pingTimeout = 3 * time.Second

// NewClient connects to the Redis/Dragonfly cache. An unreachable server is
// logged, not fatal: every cache consumer degrades without it.
func NewClient(ctx context.Context, cfg config.CacheConfig, log logrus.FieldLogger) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(cfg.Host, cfg.Port),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  pingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.WithError(err).WithField("addr", client.Options().Addr).Warn("could not connect to cache")
	} else {
		log.WithField("addr", client.Options().Addr).Infof("connected to cache: %s", pong)
	}
	return client
}

// Key joins key parts with ':' the way all cache keys are laid out.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// Reachable pings the client with a short deadline.
func Reachable(ctx context.Context, client *redis.Client) error {
	if client == nil {
		return fmt.Errorf("cache client not configured")
	}
	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return client.Ping(pingCtx).Err()
}

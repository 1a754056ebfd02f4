package session

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/config"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/usercontext"
)

const (
	cookieName = "session_id"
	expiration = time.Hour * 24
)

// NewSessionStore creates a session store backed by Redis. Sessions use their
// own database so they never collide with cache keys.
func NewSessionStore(cfg config.CacheConfig, secureCookie bool) *session.Store {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}
	storage := redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: cfg.SessionDB,
		Reset:    false,
	})
	return newStore(storage, secureCookie)
}

// NewMemorySessionStore keeps sessions in process memory.
func NewMemorySessionStore() *session.Store {
	return newStore(nil, false)
}

func newStore(storage fiber.Storage, secureCookie bool) *session.Store {
	cfg := session.Config{
		CookieHTTPOnly: true,
		CookieSecure:   secureCookie,
		CookieSameSite: "Lax",
		Expiration:     expiration,
		KeyLookup:      "cookie:" + cookieName,
	}
	if storage != nil {
		cfg.Storage = storage
	}
	return session.New(cfg)
}

// Login binds the session to userID. The session id is rotated first.
func Login(store *session.Store, c *fiber.Ctx, userID uint, email string) error {
	sess, err := store.Get(c)
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if err := sess.Regenerate(); err != nil {
		return fmt.Errorf("failed to rotate session: %w", err)
	}
	sess.Set(usercontext.KeyUserID, userID)
	sess.Set(usercontext.KeyEmail, email)
	return sess.Save()
}

package middleware

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/constants"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/usercontext"
)

// EntitlementLookup reports whether an account has pro. *accounts.Service
// implements it.
type EntitlementLookup interface {
	IsPro(ctx context.Context, userID uint) (bool, error)
}

// UserContextMiddleware sets up the user context for every request from the
// session. Session or lookup failures leave the request anonymous or free.
func UserContextMiddleware(store *session.Store, entitlements EntitlementLookup, log logrus.FieldLogger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		// Webhooks carry no session cookie.
		if c.Path() == constants.PayPalWebhookRoute {
			return c.Next()
		}
		sess, err := store.Get(c)
		if err != nil {
			log.WithError(err).Debug("session unavailable; treating request as anonymous")
			c.Locals(usercontext.LocalsKey, usercontext.UserContext{})
			return c.Next()
		}

		userID, ok := sess.Get(usercontext.KeyUserID).(uint)
		if !ok || userID == 0 {
			c.Locals(usercontext.LocalsKey, usercontext.UserContext{})
			return c.Next()
		}
		email, _ := sess.Get(usercontext.KeyEmail).(string)

		userCtx := usercontext.UserContext{
			UserID:     userID,
			Email:      email,
			IsLoggedIn: true,
		}
		if entitlements != nil {
			ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
			pro, err := entitlements.IsPro(ctx, userID)
			cancel()
			if err != nil {
				log.WithError(err).WithField("user_id", userID).Warn("could not load entitlement")
			}
			userCtx.IsPro = pro
		}
		c.Locals(usercontext.LocalsKey, userCtx)
		return c.Next()
	}
}

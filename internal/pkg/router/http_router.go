package router

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/monitor"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/constants"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/middleware"
)

type HttpRouter struct {
	deps Dependencies
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(h.deps.Sessions, h.deps.Entitlements, h.deps.Log))

	app.Post(constants.PayPalWebhookRoute, h.deps.Billing.HandlePayPalWebhook)
	app.Get(constants.HealthRoute, h.handleHealth)

	if h.deps.Metrics.Password == "" {
		h.deps.Log.Warn("METRICS_PASSWORD not set; metrics routes disabled")
		return
	}
	auth := basicauth.New(basicauth.Config{
		Users: map[string]string{h.deps.Metrics.User: h.deps.Metrics.Password},
	})
	app.Get(constants.MetricsRoute, auth, monitor.New())
	app.Get(constants.BillingStatsRoute, auth, h.deps.Billing.HandleBillingStats)
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	if h.deps.Health == nil {
		return c.JSON(fiber.Map{"status": "ok"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()
	if err := h.deps.Health(ctx); err != nil {
		h.deps.Log.WithError(err).Warn("health check failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

func NewHttpRouter(deps Dependencies) *HttpRouter {
	return &HttpRouter{deps: deps}
}

package router

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/app/controllers"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/config"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/middleware"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the wired components the routes dispatch to.
type Dependencies struct {
	Billing      *controllers.BillingController
	Sessions     *session.Store
	Entitlements middleware.EntitlementLookup
	Metrics      config.MetricsConfig
	// Health reports whether the service can serve requests.
	Health func(ctx context.Context) error
	Log    logrus.FieldLogger
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// HttpRouter installs the UserContext middleware the API routes rely on,
	// so it goes first.
	setup(app, NewHttpRouter(deps), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}

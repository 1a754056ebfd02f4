package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/constants"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/middleware"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        30,
		Expiration: time.Minute,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"success": false,
				"message": "Too many requests. Please slow down.",
			})
		},
	}))

	bc := h.deps.Billing
	api.Post(constants.BillingVerifyRoute, middleware.RequireAPISessionAuth, bc.HandleVerifyPayment)
	api.Post(constants.BillingRedeemRoute, bc.HandleRedeemPayment)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}

package controllers

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/sirupsen/logrus"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/billing"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/logging"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/paypal"
	isession "github.com/ManuelReschke/ProUnlock/internal/pkg/session"
	"github.com/ManuelReschke/ProUnlock/internal/pkg/usercontext"
)

const (
	webhookTimeout = 15 * time.Second
	claimTimeout   = 10 * time.Second
	statsTimeout   = 5 * time.Second

	logModule = "billing_controller"
)

// WebhookIngestor records webhook deliveries. *billing.Ingestor implements it.
type WebhookIngestor interface {
	Ingest(ctx context.Context, d billing.WebhookDelivery) (billing.IngestResult, error)
}

// ClaimService runs the claim flows. *billing.Service implements it.
type ClaimService interface {
	Verify(ctx context.Context, req billing.VerifyRequest) (*billing.ClaimResult, error)
	Redeem(ctx context.Context, req billing.RedeemRequest) (*billing.ClaimResult, error)
}

// CounterSnapshot reads the billing counters. *counter.RedisCounters implements it.
type CounterSnapshot interface {
	Snapshot(ctx context.Context) (map[string]int64, error)
}

type BillingController struct {
	ingestor WebhookIngestor
	claims   ClaimService
	counters CounterSnapshot
	sessions *session.Store
	log      logrus.FieldLogger
}

func NewBillingController(ingestor WebhookIngestor, claims ClaimService, counters CounterSnapshot, sessions *session.Store, log logrus.FieldLogger) *BillingController {
	return &BillingController{
		ingestor: ingestor,
		claims:   claims,
		counters: counters,
		sessions: sessions,
		log:      log,
	}
}

type verifyPaymentBody struct {
	PayerEmail string `json:"payerEmail" form:"payerEmail"`
}

type redeemPaymentBody struct {
	PayPalEmail  string `json:"paypalEmail" form:"paypalEmail"`
	AccountEmail string `json:"accountEmail" form:"accountEmail"`
	Password     string `json:"password" form:"password"`
}

// HandlePayPalWebhook ingests one PayPal delivery. PayPal retries anything
// that is not 2xx, so only failures worth retrying return 5xx.
func (bc *BillingController) HandlePayPalWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	headers := paypal.HeadersFrom(func(key string) string { return c.Get(key) })
	log := bc.log.WithFields(logrus.Fields{
		"request_id":      requestID(c),
		"transmission_id": headers.TransmissionID,
	})

	ctx, cancel := context.WithTimeout(c.UserContext(), webhookTimeout)
	defer cancel()

	res, err := bc.ingestor.Ingest(ctx, billing.WebhookDelivery{Body: rawBody, Headers: headers})
	switch {
	case err == nil:
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": res.Duplicate, "verified": res.Verified})
	case errors.Is(err, billing.ErrConfiguration):
		logging.LogError(log, logModule, "HandlePayPalWebhook", "paypal webhook received but verification is not configured", nil, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_not_configured"})
	case errors.Is(err, billing.ErrMalformedPayload):
		log.WithError(err).Warn("paypal webhook payload rejected")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	case errors.Is(err, billing.ErrSignatureInvalid):
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	case errors.Is(err, billing.ErrVerificationUnavailable):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "verification_unavailable"})
	default:
		logging.LogError(log, logModule, "HandlePayPalWebhook", "paypal webhook could not be stored", logrus.Fields{"event_id": res.EventID}, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_persist_failed"})
	}
}

// HandleVerifyPayment unlocks pro on the logged-in account.
func (bc *BillingController) HandleVerifyPayment(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"success": false, "message": billing.MessageLoginRequired})
	}
	var body verifyPaymentBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid request body"})
	}
	log := bc.log.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"client_ip":  GetClientIP(c),
		"user_id":    userCtx.UserID,
		"flow":       "verify",
	})

	ctx, cancel := context.WithTimeout(c.UserContext(), claimTimeout)
	defer cancel()

	res, err := bc.claims.Verify(ctx, billing.VerifyRequest{UserID: userCtx.UserID, PayerEmail: body.PayerEmail})
	if err != nil {
		return bc.claimError(c, log, "HandleVerifyPayment", err)
	}
	msg := billing.MessageVerified
	if res.AlreadyPro {
		msg = billing.MessageAlreadyPro
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "message": msg, "isPro": true})
}

// HandleRedeemPayment creates a pro account from a payment and logs it in.
func (bc *BillingController) HandleRedeemPayment(c *fiber.Ctx) error {
	var body redeemPaymentBody
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "message": "invalid request body"})
	}
	log := bc.log.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"client_ip":  GetClientIP(c),
		"flow":       "redeem",
	})

	ctx, cancel := context.WithTimeout(c.UserContext(), claimTimeout)
	defer cancel()

	res, err := bc.claims.Redeem(ctx, billing.RedeemRequest{
		PayPalEmail:  body.PayPalEmail,
		AccountEmail: body.AccountEmail,
		Password:     body.Password,
	})
	if err != nil {
		return bc.claimError(c, log, "HandleRedeemPayment", err)
	}

	msg := billing.MessageRedeemed
	if bc.sessions == nil {
		msg = billing.MessageRedeemedLogin
	} else if err := isession.Login(bc.sessions, c, res.UserID, billing.NormalizeEmail(body.AccountEmail)); err != nil {
		log.WithError(err).WithField("user_id", res.UserID).Warn("account redeemed but session login failed")
		msg = billing.MessageRedeemedLogin
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"success": true, "message": msg})
}

// HandleBillingStats returns the billing counters.
func (bc *BillingController) HandleBillingStats(c *fiber.Ctx) error {
	if bc.counters == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), statsTimeout)
	defer cancel()

	snapshot, err := bc.counters.Snapshot(ctx)
	if err != nil {
		bc.log.WithError(err).Warn("billing counters unavailable")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "counters_unavailable"})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"counters": snapshot})
}

func (bc *BillingController) claimError(c *fiber.Ctx, log logrus.FieldLogger, handler string, err error) error {
	status, msg := billing.UserOutcome(err)
	switch status {
	case http.StatusInternalServerError:
		logging.LogError(log, logModule, handler, "claim failed", nil, err)
	case http.StatusTooManyRequests:
		var rl *billing.RateLimitError
		if errors.As(err, &rl) {
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
	default:
		log.WithError(err).Info("claim rejected")
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "message": msg})
}

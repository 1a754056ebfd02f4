package billing

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ManuelReschke/ProUnlock/internal/pkg/paypal"
)

// Event types that represent a completed payment.
const (
	EventTypePaymentCaptureCompleted = "PAYMENT.CAPTURE.COMPLETED"
	EventTypeCheckoutOrderCompleted  = "CHECKOUT.ORDER.COMPLETED"
	EventTypePaymentSaleCompleted    = "PAYMENT.SALE.COMPLETED"
)

// AcceptedEventTypes are the event types a claim can be matched against.
var AcceptedEventTypes = []string{
	EventTypePaymentCaptureCompleted,
	EventTypeCheckoutOrderCompleted,
	EventTypePaymentSaleCompleted,
}

// CandidateScanLimit bounds how many recent events a claim looks at.
const CandidateScanLimit = 10

type VerifyMode string

const (
	VerifyModeStrict     VerifyMode = "strict"
	VerifyModePermissive VerifyMode = "permissive"
)

// ClaimPolicy holds the thresholds applied to claims.
type ClaimPolicy struct {
	MinAmount decimal.Decimal
	// Currency is the expected ISO code; empty accepts any currency.
	Currency     string
	VerifyWindow time.Duration
	RedeemWindow time.Duration
	Cooldown     time.Duration
}

func DefaultClaimPolicy() ClaimPolicy {
	return ClaimPolicy{
		MinAmount:    decimal.RequireFromString("2.99"),
		Currency:     "USD",
		VerifyWindow: 24 * time.Hour,
		RedeemWindow: 48 * time.Hour,
		Cooldown:     time.Minute,
	}
}

// Money is an amount in a currency. Currency is empty when the payload did
// not state one.
type Money struct {
	Value    decimal.Decimal
	Currency string
}

// WebhookDelivery is one inbound webhook request.
type WebhookDelivery struct {
	Body    []byte
	Headers paypal.WebhookHeaders
}

// IngestResult reports what happened to a delivery.
type IngestResult struct {
	EventID   string
	EventType string
	Duplicate bool
	Verified  bool
}

// Claimant identifies who is attempting a claim for rate limiting.
type Claimant struct {
	UserID     uint
	PayerEmail string
}

// NormalizeEmail trims and case-folds an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func normalizeCurrency(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

package constants

// Route constants
const (
	PayPalWebhookRoute = "/webhooks/paypal"
	APIRoute           = "/api"
	// Relative to APIRoute
	BillingVerifyRoute = "/billing/verify"
	BillingRedeemRoute = "/billing/redeem"
	BillingStatsRoute  = "/metrics/billing"
	MetricsRoute       = "/metrics"
	HealthRoute        = "/healthz"
)

package constants

// Static route constants
const (
	HealthRoute  = "/healthz"
	MetricsRoute = "/metrics"

	BillingRoute = "/billing"

	PricingRoute        = "/pricing"
	CreatePurchaseRoute = "/create-purchase"
	AccountRoute        = "/me"
	WebhookRoute        = "/webhook"
	// Kept for deployments that registered the provider-prefixed path.
	TributeWebhookRoute = "/tribute/webhook"

	AdminRefundRoute       = "/purchases/:id/refund"
	AdminRevenueStatsRoute = "/stats/revenue"
)

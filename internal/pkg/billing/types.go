package billing

// CreatePurchaseInput is the normalized input for purchase creation.
// Identity is verified by the caller; the service trusts TGUserID.
type CreatePurchaseInput struct {
	TGUserID    int64
	ProductCode string
	Quantity    int
}

// CreatePurchaseResult is returned to the client after a purchase row
// exists and a provider payment link was obtained.
type CreatePurchaseResult struct {
	PurchaseID  string
	PaymentURL  string
	TotalAmount int64
	Currency    string
	// Reused is set when an existing pending purchase for the same user
	// and product was returned instead of a new row.
	Reused bool
}

// PaidEvent is the provider-agnostic shape of a successful charge
// notification, extracted from a verified webhook payload.
type PaidEvent struct {
	ProviderProductID int64
	TGUserID          int64
	ChargeID          string
	Amount            int64
	Currency          string
	RawPayloadJSON    string
}

// WebhookEventInput is the normalized input for webhook event persistence.
type WebhookEventInput struct {
	Provider        string
	ProviderEventID string
	EventType       string
	PayloadJSON     string
	SignatureValid  bool
}
